// Package eventbus implements the Event Bus (spec.md §4.J): in-process
// publish-subscribe fanning persisted records out to subscribers over
// string-named channels, plus per-dialog specializations of those
// channels.
//
// Grounded on spec.md §4.J's own description (the teacher has no
// equivalent in-process bus; mautrix-telegram pushes events straight to
// Matrix rooms) for the pub/sub core, and on the teacher's
// cmd/mautrix-telegram/legacyprovisioning.go websocket-upgrade and
// close-handling shape for the transport in ws.go. Subscriber ids use
// github.com/google/uuid, already a pack dependency.
package eventbus

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is what a subscriber receives. Topic is the Event Bus channel
// name (e.g. "new_message"); DialogID is 0 when the event has no single
// owning dialog.
type Event struct {
	Topic    string
	DialogID int64
	Payload  any
}

type backpressure int

const (
	// dropOldest discards the oldest buffered event to make room for the
	// newest one: "drop oldest for messages/detections" (spec.md §4.J).
	dropOldest backpressure = iota
	// block makes Publish wait for buffer space: "block for backfill"
	// (spec.md §4.J) — this is one of the suspension points spec.md §5
	// calls out ("any event publish (bounded channel may block)").
	block
)

func backpressureFor(topic string) backpressure {
	switch topic {
	case "backfill_progress", "backfill":
		return block
	default:
		return dropOldest
	}
}

type subscriber struct {
	id   uuid.UUID
	ch   chan Event
	pol  backpressure
	mu   sync.Mutex
}

func (s *subscriber) deliver(ev Event) {
	if s.pol == block {
		s.ch <- ev
		return
	}

	// drop-oldest: try a direct send first; if the buffer is full, make
	// room by discarding one pending event and retry once. Best effort
	// under concurrent delivery from multiple publishers.
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Bus is the concrete Publisher consumed by pkg/listener, pkg/backfill,
// pkg/media, and pkg/enrichment.
type Bus struct {
	log        zerolog.Logger
	bufferSize int

	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]*subscriber
}

func New(log zerolog.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		log:        log.With().Str("component", "eventbus").Logger(),
		bufferSize: bufferSize,
		subs:       make(map[string]map[uuid.UUID]*subscriber),
	}
}

// Publish fans payload out to every subscriber of topic, and, when
// dialogID is non-zero, to every subscriber of topic's per-dialog
// specialization too. Ordering is per-channel FIFO; there is no
// cross-channel ordering guarantee (spec.md §4.J).
func (b *Bus) Publish(topic string, dialogID int64, payload any) {
	ev := Event{Topic: topic, DialogID: dialogID, Payload: payload}

	b.mu.RLock()
	recipients := append([]*subscriber(nil), subsFor(b.subs[topic])...)
	if dialogID != 0 {
		recipients = append(recipients, subsFor(b.subs[dialogChannel(topic, dialogID)])...)
	}
	b.mu.RUnlock()

	for _, s := range recipients {
		s.deliver(ev)
	}
}

func subsFor(m map[uuid.UUID]*subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func dialogChannel(topic string, dialogID int64) string {
	return topic + ":" + strconv.FormatInt(dialogID, 10)
}

// Subscribe opens a bounded stream on channel. channel is either a bare
// topic name ("messages", "new_detection", "backfill_progress", ...) or
// a per-dialog specialization in "topic:dialogID" form — see
// Bus.DialogChannel. The returned unsubscribe func is idempotent.
func (b *Bus) Subscribe(channel string) (<-chan Event, func()) {
	id := uuid.New()
	s := &subscriber{
		id:  id,
		ch:  make(chan Event, b.bufferSize),
		pol: backpressureFor(baseTopic(channel)),
	}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uuid.UUID]*subscriber)
	}
	b.subs[channel][id] = s
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsubscribe
}

// DialogChannel returns the per-dialog specialization of topic, for
// callers that want to Subscribe to one dialog's events only.
func (b *Bus) DialogChannel(topic string, dialogID int64) string {
	return dialogChannel(topic, dialogID)
}

// baseTopic strips a "topic:dialogID" channel back down to its topic,
// so a per-dialog subscription gets the same backpressure policy as the
// channel it specializes.
func baseTopic(channel string) string {
	for i := 0; i < len(channel); i++ {
		if channel[i] == ':' {
			return channel[:i]
		}
	}
	return channel
}
