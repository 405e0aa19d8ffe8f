// Package session implements the Session Manager (spec.md §4.B): one
// actor per Account that owns the account's single upstream connection,
// serializes every call to it through a priority queue, and tracks the
// account's auth/rate-limit state machine. Nothing outside this package
// talks to pkg/rpc.Client directly once a session exists.
package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/metrics"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/retry"
	"github.com/ingestlab/telecorpus/pkg/rpc"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// State is the Session's lifecycle state, mirroring spec.md §4.B's
// transition diagram.
type State string

const (
	StateNew              State = "new"
	StateCodeRequired      State = "code_required"
	StatePasswordRequired State = "password_required"
	StateActive           State = "active"
	StateFloodWait        State = "flood_wait"
	StateBanned           State = "banned"
	StateError            State = "error"
)

// Event is one live-update delivered on a Session's subscription channel
// (spec.md §4.B: new message, edit, deletion, participant update).
type Event struct {
	Kind             EventKind
	DialogUpstreamID int64
	Message          rpc.Message
	MessageID        int
	Participant      rpc.Participant
	Left             bool
}

type EventKind string

const (
	EventNewMessage        EventKind = "new_message"
	EventMessageEdit       EventKind = "message_edit"
	EventMessageDelete     EventKind = "message_delete"
	EventParticipantUpdate EventKind = "participant_update"
)

// RetryPolicy is the pkg/retry.Policy applied to every queued call.
type RetryPolicy = retry.Policy

// Session is one account's actor: auth state, rate budget, priority
// queue, and live-event fan-out. Exactly one goroutine (run) ever calls
// into the wrapped rpc.Client, satisfying spec.md §5's "each Account
// corresponds to exactly one session actor" requirement.
type Session struct {
	AccountID int64
	Phone     string

	client rpc.Client
	db     *store.AccountQuery
	metric *metrics.Metrics
	log    zerolog.Logger

	retryPolicy retry.Policy
	budget      *rateBudget
	queue       *priorityQueue

	events *eventStream

	mu          sync.RWMutex
	state       State
	lastError   string
	floodUntil  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Config carries everything New needs beyond the rpc.Client itself.
type Config struct {
	AccountID   int64
	Phone       string
	RateMode    RateLimitMode
	RetryPolicy retry.Policy
	QueueDepth  int // per-priority-class buffer; 0 uses a sane default
	EventBuffer int // default 1024 per spec.md §4.B
}

// New constructs a Session in StateNew. Call Run to start its dispatcher
// goroutine before submitting any work.
func New(client rpc.Client, db *store.AccountQuery, m *metrics.Metrics, log zerolog.Logger, cfg Config) *Session {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	return &Session{
		AccountID:   cfg.AccountID,
		Phone:       cfg.Phone,
		client:      client,
		db:          db,
		metric:      m,
		log:         log.With().Int64("account_id", cfg.AccountID).Logger(),
		retryPolicy: cfg.RetryPolicy,
		budget:      newRateBudget(cfg.RateMode),
		queue:       newPriorityQueue(cfg.QueueDepth),
		events:      newEventStream(cfg.EventBuffer, m),
		state:       StateNew,
	}
}

// Run starts the dispatcher goroutine and wires the rpc.Client's live
// callbacks into the Session's bounded event stream. It returns once the
// dispatcher has started; call the returned stop func (or cancel ctx) to
// shut it down, per spec.md §5's "cancel all workers" shutdown step.
func (s *Session) Run(ctx context.Context) (stop func()) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.client.OnNewMessage(func(dialogUpstreamID int64, msg rpc.Message) {
		s.events.publish(Event{Kind: EventNewMessage, DialogUpstreamID: dialogUpstreamID, Message: msg})
	})
	s.client.OnMessageEdit(func(dialogUpstreamID int64, msg rpc.Message) {
		s.events.publish(Event{Kind: EventMessageEdit, DialogUpstreamID: dialogUpstreamID, Message: msg})
	})
	s.client.OnMessageDelete(func(dialogUpstreamID int64, messageID int) {
		s.events.publish(Event{Kind: EventMessageDelete, DialogUpstreamID: dialogUpstreamID, MessageID: messageID})
	})
	s.client.OnParticipantUpdate(func(dialogUpstreamID int64, p rpc.Participant, left bool) {
		s.events.publish(Event{Kind: EventParticipantUpdate, DialogUpstreamID: dialogUpstreamID, Participant: p, Left: left})
	})

	go s.dispatch(runCtx)
	return func() {
		cancel()
		<-s.done
	}
}

// Events returns the Session's bounded live-event channel (spec.md §4.B).
func (s *Session) Events() <-chan Event {
	return s.events.ch
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(ctx context.Context, state State, lastErr string, floodUntil time.Time) {
	s.mu.Lock()
	s.state = state
	s.lastError = lastErr
	s.floodUntil = floodUntil
	s.mu.Unlock()

	var status model.AccountStatus
	switch state {
	case StateNew:
		status = model.AccountNew
	case StateCodeRequired:
		status = model.AccountCodeRequired
	case StatePasswordRequired:
		status = model.AccountPasswordRequired
	case StateActive:
		status = model.AccountActive
	case StateFloodWait:
		status = model.AccountFloodWait
	case StateBanned:
		status = model.AccountBanned
	case StateError:
		status = model.AccountError
	}
	var floodSQL sql.NullTime
	if !floodUntil.IsZero() {
		floodSQL = sql.NullTime{Time: floodUntil, Valid: true}
	}
	if s.db != nil {
		if err := s.db.SetStatus(ctx, s.AccountID, status, lastErr, floodSQL); err != nil {
			s.log.Err(err).Msg("failed to persist account status transition")
		}
	}
}

// applyErr inspects a classified error and drives the state machine: a
// RateLimitError moves to flood_wait, a SessionBannedError is terminal, an
// AuthRequiredError moves to error, and everything else is left to the
// caller (the retry wrapper already absorbed temporary/rate_limit cases
// inside Enqueue).
func (s *Session) applyErr(ctx context.Context, err error) {
	if err == nil {
		return
	}
	category, after := retry.Classify(err)
	switch category {
	case retry.CategoryRateLimit:
		s.setState(ctx, StateFloodWait, err.Error(), time.Now().Add(after))
	case retry.CategoryPermanent:
		var banned *retry.SessionBannedError
		if errors.As(err, &banned) {
			s.setState(ctx, StateBanned, err.Error(), time.Time{})
			return
		}
		s.setState(ctx, StateError, err.Error(), time.Time{})
	}
}

func (s *Session) Connect(ctx context.Context) (rpc.AuthResult, error) {
	return s.callInteractive(ctx, func(ctx context.Context) (rpc.AuthResult, error) {
		res, err := s.client.Connect(ctx, s.Phone)
		if err != nil {
			return res, err
		}
		s.transitionFromAuthStep(ctx, res.Step)
		return res, nil
	})
}

func (s *Session) SubmitCode(ctx context.Context, code string) (rpc.AuthResult, error) {
	return s.callInteractive(ctx, func(ctx context.Context) (rpc.AuthResult, error) {
		res, err := s.client.SubmitCode(ctx, code)
		if err != nil {
			return res, err
		}
		s.transitionFromAuthStep(ctx, res.Step)
		return res, nil
	})
}

func (s *Session) SubmitPassword(ctx context.Context, password string) (rpc.AuthResult, error) {
	return s.callInteractive(ctx, func(ctx context.Context) (rpc.AuthResult, error) {
		res, err := s.client.SubmitPassword(ctx, password)
		if err != nil {
			return res, err
		}
		s.transitionFromAuthStep(ctx, res.Step)
		return res, nil
	})
}

func (s *Session) transitionFromAuthStep(ctx context.Context, step rpc.AuthStep) {
	switch step {
	case rpc.AuthStepCodeRequired:
		s.setState(ctx, StateCodeRequired, "", time.Time{})
	case rpc.AuthStepPasswordRequired:
		s.setState(ctx, StatePasswordRequired, "", time.Time{})
	case rpc.AuthStepComplete:
		s.setState(ctx, StateActive, "", time.Time{})
		if blob, err := s.client.SessionBlob(); err == nil && s.db != nil {
			if err := s.db.SaveSession(ctx, s.AccountID, blob); err != nil {
				s.log.Err(err).Msg("failed to persist session blob")
			}
		}
	}
}

func (s *Session) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ListDialogs, IterHistory, DownloadMedia, GetEntity, IterParticipants,
// IterProfilePhotos, and IterStories each enqueue through the session's
// priority queue at the named class and run through the retry wrapper,
// per spec.md §4.B/§4.C.

func (s *Session) ListDialogs(ctx context.Context, class Priority) ([]rpc.Entity, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) ([]rpc.Entity, error) {
		return s.client.ListDialogs(ctx)
	})
}

func (s *Session) IterHistory(ctx context.Context, class Priority, dialogUpstreamID int64, fromID, pageSize int) (rpc.HistoryPage, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) (rpc.HistoryPage, error) {
		return s.client.IterHistory(ctx, dialogUpstreamID, fromID, pageSize)
	})
}

func (s *Session) DownloadMedia(ctx context.Context, class Priority, ref rpc.MessageRef) (rpc.DownloadedMedia, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) (rpc.DownloadedMedia, error) {
		return s.client.DownloadMedia(ctx, ref)
	})
}

func (s *Session) GetEntity(ctx context.Context, class Priority, upstreamID int64) (rpc.Entity, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) (rpc.Entity, error) {
		return s.client.GetEntity(ctx, upstreamID)
	})
}

func (s *Session) IterParticipants(ctx context.Context, class Priority, dialogUpstreamID int64, offset, limit int) ([]rpc.Participant, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) ([]rpc.Participant, error) {
		return s.client.IterParticipants(ctx, dialogUpstreamID, offset, limit)
	})
}

func (s *Session) IterProfilePhotos(ctx context.Context, class Priority, userUpstreamID int64, offset, limit int) ([]rpc.ProfilePhoto, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) ([]rpc.ProfilePhoto, error) {
		return s.client.IterProfilePhotos(ctx, userUpstreamID, offset, limit)
	})
}

func (s *Session) IterStories(ctx context.Context, class Priority, userUpstreamID int64) ([]rpc.Story, error) {
	return enqueue(ctx, s, class, func(ctx context.Context) ([]rpc.Story, error) {
		return s.client.IterStories(ctx, userUpstreamID)
	})
}

func (s *Session) ResolveInvite(ctx context.Context, hash string) (rpc.InvitePreview, error) {
	return enqueue(ctx, s, PriorityInteractive, func(ctx context.Context) (rpc.InvitePreview, error) {
		return s.client.ResolveInvite(ctx, hash)
	})
}

func (s *Session) JoinInvite(ctx context.Context, hash string) (rpc.JoinResult, error) {
	return enqueue(ctx, s, PriorityInteractive, func(ctx context.Context) (rpc.JoinResult, error) {
		return s.client.JoinInvite(ctx, hash)
	})
}

// callInteractive runs fn at PriorityInteractive, which preempts every
// queued lower-priority job (spec.md §4.B: "Interactive preempts"). It
// is a thin, AuthResult-typed wrapper over the generic enqueue free
// function for the three auth calls above, which all share that return
// type; callers with a different return type (ResolveInvite, JoinInvite)
// call enqueue directly, since a method cannot carry its own type
// parameter.
func (s *Session) callInteractive(ctx context.Context, fn func(ctx context.Context) (rpc.AuthResult, error)) (rpc.AuthResult, error) {
	return enqueue(ctx, s, PriorityInteractive, fn)
}

// enqueue submits fn at the given priority, waits for a rate-budget
// token, runs it through the retry wrapper, and applies any resulting
// state transition. It is a free function (not a method) so it can be
// generic over fn's return type — Go methods cannot carry their own type
// parameters.
func enqueue[T any](ctx context.Context, s *Session, class Priority, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	resultC := make(chan jobResult[T], 1)
	job := &queuedJob{
		priority: class,
		run: func(ctx context.Context) error {
			if err := s.budget.wait(ctx); err != nil {
				resultC <- jobResult[T]{err: err}
				return nil
			}
			result := retry.Do(ctx, s.retryPolicy, fn)
			if result.Err != nil {
				s.applyErr(ctx, result.Err)
			}
			resultC <- jobResult[T]{value: result.Value, err: result.Err}
			return nil
		},
	}
	if err := s.queue.submit(ctx, job); err != nil {
		return zero, err
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-resultC:
		return r.value, r.err
	}
}

type jobResult[T any] struct {
	value T
	err   error
}

func (s *Session) dispatch(ctx context.Context) {
	defer close(s.done)
	for {
		job, err := s.queue.next(ctx)
		if err != nil {
			return
		}
		if err := job.run(ctx); err != nil {
			s.log.Err(err).Msg("session job failed unexpectedly")
		}
	}
}
