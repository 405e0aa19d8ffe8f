package media

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ingestlab/telecorpus/pkg/config"
)

// RetryService periodically rescans media_file rows stuck at
// processing_status ∈ {pending, failed} and re-enqueues them, per
// spec.md §4.G's retry/backoff requirement. Grounded on
// pkg/connector's absence of an equivalent and on the pack's
// internal/cron.Scheduler (zkoranges-go-claw) for the ticker-driven
// scan-and-dispatch shape, adapted from its cron-expression scheduling
// to a plain fixed interval since config.MediaConfig carries a
// time.Duration, not a cron expression.
type RetryService struct {
	pipeline *Pipeline
	log      zerolog.Logger

	interval    time.Duration
	batchSize   int
	maxAttempts int
	sem         *semaphore.Weighted

	wg sync.WaitGroup
}

func NewRetryService(p *Pipeline, log zerolog.Logger, cfg config.MediaConfig) *RetryService {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.RetryBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	slots := int64(cfg.RetryParallelSlots)
	if slots <= 0 {
		slots = 4
	}
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryService{
		pipeline:    p,
		log:         log.With().Str("component", "media_retry").Logger(),
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		sem:         semaphore.NewWeighted(slots),
	}
}

func (r *RetryService) Run(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.scan(ctx)
			}
		}
	}()
}

func (r *RetryService) Wait() {
	r.wg.Wait()
}

func (r *RetryService) scan(ctx context.Context) {
	pending, err := r.pipeline.store.Media.ListPending(ctx, r.batchSize)
	if err != nil {
		r.log.Err(err).Msg("listing pending media for retry")
	}
	failed, err := r.pipeline.store.Media.ListFailedForRetry(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		r.log.Err(err).Msg("listing failed media for retry")
	}

	var wg sync.WaitGroup
	dispatch := func(mediaFileID int64) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)
			r.log.Debug().Int64("media_file_id", mediaFileID).Msg("retrying media download")
			r.pipeline.Enqueue(mediaFileID, MediaPriorityBackfill)
		}()
	}
	for _, row := range pending {
		dispatch(row.ID)
	}
	for _, row := range failed {
		dispatch(row.ID)
	}
	wg.Wait()
}

// MediaPriorityBackfill mirrors pkg/backfill's low-priority constant so
// retried items don't preempt live traffic.
const MediaPriorityBackfill = 0
