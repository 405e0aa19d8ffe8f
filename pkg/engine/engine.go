// Package engine wires every component spec.md §4 describes into one
// running process (spec.md §9 design note: "construct a root Engine
// holding owned references; nothing is a package-level singleton").
// cmd/ingestd is a thin flag/signal wrapper around this package.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/api"
	"github.com/ingestlab/telecorpus/pkg/backfill"
	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/enrichment"
	"github.com/ingestlab/telecorpus/pkg/eventbus"
	"github.com/ingestlab/telecorpus/pkg/extractor"
	"github.com/ingestlab/telecorpus/pkg/invite"
	"github.com/ingestlab/telecorpus/pkg/listener"
	"github.com/ingestlab/telecorpus/pkg/media"
	"github.com/ingestlab/telecorpus/pkg/metrics"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/registry"
	"github.com/ingestlab/telecorpus/pkg/rpc"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// Engine owns every long-lived collaborator in the system. One is
// constructed per process.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	Store      *store.Store
	Metrics    *metrics.Metrics
	Sessions   *session.Manager
	Registry   *registry.Registry
	Extractor  *extractor.Registry
	Bus        *eventbus.Bus
	Listener   *listener.Listener
	Media      *media.Pipeline
	MediaRetry *media.RetryService
	Backfill   *backfill.Coordinator
	Enrichment *enrichment.Schedulers
	Resolver   *invite.Resolver
	AutoJoiner *invite.AutoJoiner
	API        *api.API

	cancel context.CancelFunc
}

// New constructs every collaborator and wires them together, but starts
// nothing — call Run to bring the system up.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Engine, error) {
	st, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns,
		dbutil.ZeroLogger(log.With().Str("db_section", "telecorpus").Logger()))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	st.BatchSize = cfg.Database.NormalizedBatchSize()

	met, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	bus := eventbus.New(log, cfg.EventBus.NormalizedBufferSize())
	reg := registry.New(st.Dialogs)

	ex := extractor.New(st, log, cfg.Detection)
	if err := ex.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading detectors: %w", err)
	}

	sessions := session.NewManager(st, met, log, cfg, rpc.New)

	mediaPipeline := media.New(st, sessions, bus, log, cfg.Media)
	mediaRetry := media.NewRetryService(mediaPipeline, log, cfg.Media)
	lst := listener.New(st, ex, bus, mediaPipeline, log)

	bf := backfill.New(sessions, reg, st, ex, bus, mediaPipeline, log,
		cfg.Backfill.NormalizedPageSize(), cfg.Backfill.NormalizedConcurrencyPerAccount())

	sched := enrichment.New(st, sessions, bus, log, cfg.Enrichment)

	resolver := invite.NewResolver(st, log)
	autojoiner := invite.NewAutoJoiner(st, sessions, reg, sched, bf, log, cfg.AutoJoin)

	cmdAPI, err := api.New(st, sessions, reg, resolver, autojoiner, sched, bf, bus, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing command api: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		log:        log.With().Str("component", "engine").Logger(),
		Store:      st,
		Metrics:    met,
		Sessions:   sessions,
		Registry:   reg,
		Extractor:  ex,
		Bus:        bus,
		Listener:   lst,
		Media:      mediaPipeline,
		MediaRetry: mediaRetry,
		Backfill:   bf,
		Enrichment: sched,
		Resolver:   resolver,
		AutoJoiner: autojoiner,
		API:        cmdAPI,
	}
	return e, nil
}

// Run starts every worker and blocks until ctx is cancelled, then follows
// spec.md §5's shutdown sequence: cancel workers → flush in-flight DB
// batches → close sessions → exit.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	e.Sessions.OnSessionStart(func(sess *session.Session) {
		go e.Listener.Run(ctx, sess)
	})

	if err := e.Sessions.StartAll(ctx); err != nil {
		return fmt.Errorf("starting sessions: %w", err)
	}

	go e.Media.Run(ctx)
	go e.MediaRetry.Run(ctx)
	go e.Enrichment.Run(ctx)

	if err := e.resumeInterruptedBackfills(ctx); err != nil {
		e.log.Err(err).Msg("resuming interrupted backfills")
	}

	<-ctx.Done()
	return e.shutdown()
}

// Stop triggers the shutdown sequence from outside by cancelling the
// context Run waits on.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// resumeInterruptedBackfills restarts the Backfill Coordinator for every
// dialog this process finds stuck at status=backfilling, e.g. after an
// unclean restart — the Registry's in-progress marker is run-scoped and
// starts empty every process, so without this a crash mid-backfill would
// silently abandon the dialog at that status forever.
func (e *Engine) resumeInterruptedBackfills(ctx context.Context) error {
	accounts, err := e.Store.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	var dialogs []*store.DialogRow
	for _, a := range accounts {
		rows, err := e.Registry.ListByAccount(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("listing dialogs of account %d: %w", a.ID, err)
		}
		dialogs = append(dialogs, rows...)
	}
	for _, d := range dialogs {
		if d.Status != model.DialogBackfilling {
			continue
		}
		started, err := e.Registry.StartBackfill(ctx, d.ID)
		if err != nil {
			e.log.Err(err).Int64("dialog_id", d.ID).Msg("resuming backfill")
			continue
		}
		if started {
			if err := e.Backfill.Start(ctx, d.ID); err != nil {
				e.log.Err(err).Int64("dialog_id", d.ID).Msg("restarting backfill coordinator")
			}
		}
	}
	return nil
}

// shutdown runs after Run's context is cancelled: every worker goroutine
// has already observed ctx.Done(); this waits for in-flight work to
// drain before closing sessions, per spec.md §5.
func (e *Engine) shutdown() error {
	shutdownCtx := context.Background()
	e.Media.Wait()
	e.Enrichment.Wait()
	e.Sessions.StopAll(shutdownCtx)
	return nil
}
