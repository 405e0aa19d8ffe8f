package session

import (
	"context"

	"github.com/ingestlab/telecorpus/pkg/metrics"
)

// eventStream is the bounded live-event channel spec.md §4.B describes:
// "bounded (default 1024); if full, the session drops the oldest
// non-critical event and increments a dropped_events counter." Go
// channels have no native drop-oldest semantics, so publish does a
// non-blocking send and, on a full channel, pops one item before
// retrying — the standard pattern for bounded-with-eviction queues.
type eventStream struct {
	ch      chan Event
	metric  *metrics.Metrics
}

func newEventStream(capacity int, m *metrics.Metrics) *eventStream {
	return &eventStream{ch: make(chan Event, capacity), metric: m}
}

func (s *eventStream) publish(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
		if s.metric != nil {
			s.metric.DroppedEvents.Add(context.Background(), 1)
		}
	default:
	}

	select {
	case s.ch <- ev:
	default:
		// Another publisher raced us and refilled the channel; the event
		// is dropped rather than spin-retrying, since live events are not
		// ordered across dialogs anyway (spec.md §5).
		if s.metric != nil {
			s.metric.DroppedEvents.Add(context.Background(), 1)
		}
	}
}
