package enrichment

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelismDefaultsWhenUnset(t *testing.T) {
	s := &Schedulers{}
	assert.Equal(t, 4, s.parallelism())
}

func TestBatchSizeDefaultsWhenUnset(t *testing.T) {
	s := &Schedulers{}
	assert.Equal(t, 200, s.batchSize())
}

func TestForEachVisitsEveryItemExactlyOnce(t *testing.T) {
	s := &Schedulers{}
	items := []int{1, 2, 3, 4, 5}
	var count atomic.Int64
	forEach(s, context.Background(), items, func(ctx context.Context, item int) {
		count.Add(1)
	})
	assert.EqualValues(t, len(items), count.Load())
}

func TestForEachRespectsCancelledContext(t *testing.T) {
	s := &Schedulers{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var count atomic.Int64
	forEach(s, ctx, []int{1, 2, 3}, func(ctx context.Context, item int) {
		count.Add(1)
	})
	assert.LessOrEqual(t, count.Load(), int64(3))
}
