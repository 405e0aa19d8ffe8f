package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueuePrefersInteractiveOverLowerClasses(t *testing.T) {
	q := newPriorityQueue(4)
	ctx := context.Background()

	var order []string
	mk := func(name string) *queuedJob {
		return &queuedJob{run: func(ctx context.Context) error { order = append(order, name); return nil }}
	}

	enrich := mk("enrichment")
	enrich.priority = PriorityEnrichment
	backfill := mk("backfill")
	backfill.priority = PriorityBackfill
	live := mk("live")
	live.priority = PriorityLive
	interactive := mk("interactive")
	interactive.priority = PriorityInteractive

	require.NoError(t, q.submit(ctx, enrich))
	require.NoError(t, q.submit(ctx, backfill))
	require.NoError(t, q.submit(ctx, live))
	require.NoError(t, q.submit(ctx, interactive))

	for i := 0; i < 4; i++ {
		j, err := q.next(ctx)
		require.NoError(t, err)
		require.NoError(t, j.run(ctx))
	}

	assert.Equal(t, []string{"interactive", "live", "backfill", "enrichment"}, order)
}

func TestPriorityQueueFIFOWithinClass(t *testing.T) {
	q := newPriorityQueue(4)
	ctx := context.Background()

	var order []int
	for i := 0; i < 3; i++ {
		n := i
		require.NoError(t, q.submit(ctx, &queuedJob{
			priority: PriorityBackfill,
			run:      func(ctx context.Context) error { order = append(order, n); return nil },
		}))
	}
	for i := 0; i < 3; i++ {
		j, err := q.next(ctx)
		require.NoError(t, err)
		require.NoError(t, j.run(ctx))
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPriorityQueueNextRespectsCancellation(t *testing.T) {
	q := newPriorityQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventStreamDropsOldestWhenFull(t *testing.T) {
	s := newEventStream(2, nil)
	s.publish(Event{Kind: EventNewMessage, MessageID: 1})
	s.publish(Event{Kind: EventNewMessage, MessageID: 2})
	s.publish(Event{Kind: EventNewMessage, MessageID: 3})

	first := <-s.ch
	second := <-s.ch
	assert.Equal(t, 2, first.MessageID)
	assert.Equal(t, 3, second.MessageID)
}

func TestRateBudgetModes(t *testing.T) {
	rps, burst := ratesFor(RateAggressive)
	assert.Greater(t, rps, 10.0)
	assert.Greater(t, burst, 20)

	rps, burst = ratesFor(RateConservative)
	assert.Less(t, rps, 10.0)
	assert.Less(t, burst, 20)
}
