package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/metrics"
	"github.com/ingestlab/telecorpus/pkg/retry"
	"github.com/ingestlab/telecorpus/pkg/rpc"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// ClientFactory builds the rpc.Client for one account; pkg/engine supplies
// rpc.New bound to the account's proxy/session blob, and tests supply a
// fake.
type ClientFactory func(ctx context.Context, cfg rpc.Config) rpc.Client

// Manager owns every account's Session, keyed by AccountID, and is the
// single place pkg/registry/pkg/backfill/pkg/enrichment reach for a
// session handle. It holds no package-level state — one Manager is
// constructed by pkg/engine and passed by reference (spec.md §9 design
// note).
type Manager struct {
	store      *store.Store
	metric     *metrics.Metrics
	log        zerolog.Logger
	cfg        config.Config
	newClient  ClientFactory

	mu       sync.RWMutex
	sessions map[int64]*Session
	stops    map[int64]func()

	onStart func(*Session)
}

// OnSessionStart registers fn to run once for every Session this Manager
// starts from here on (both StartAll at boot and any later Start call,
// e.g. from the Command API's connect_account). pkg/engine uses this to
// attach a Live Listener to each session without Manager needing to know
// what a Listener is.
func (m *Manager) OnSessionStart(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

func NewManager(st *store.Store, m *metrics.Metrics, log zerolog.Logger, cfg config.Config, factory ClientFactory) *Manager {
	return &Manager{
		store:     st,
		metric:    m,
		log:       log.With().Str("component", "session_manager").Logger(),
		cfg:       cfg,
		newClient: factory,
		sessions:  make(map[int64]*Session),
		stops:     make(map[int64]func()),
	}
}

// StartAll constructs and runs a Session for every persisted Account,
// restoring its session blob when present, per spec.md §5's startup
// ordering (sessions come up before schedulers or the backfill
// coordinator begin enqueuing work against them).
func (m *Manager) StartAll(ctx context.Context) error {
	accounts, err := m.store.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for _, a := range accounts {
		if _, err := m.Start(ctx, a.Account.ID, a.Account.Phone, a.Account.SessionBlob); err != nil {
			m.log.Err(err).Int64("account_id", a.Account.ID).Msg("failed to start session")
		}
	}
	return nil
}

// Start constructs one account's Session, restores sessionBlob if
// non-empty, and starts its dispatcher. It is idempotent: calling it
// again for an already-running account returns the existing Session.
func (m *Manager) Start(ctx context.Context, accountID int64, phone string, sessionBlob []byte) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[accountID]; ok {
		return existing, nil
	}

	client := m.newClient(ctx, rpc.Config{
		APIID:          m.cfg.Telegram.APIID,
		APIHash:        m.cfg.Telegram.APIHash,
		DeviceModel:    m.cfg.Telegram.DeviceModel,
		SystemVersion:  m.cfg.Telegram.SystemVersion,
		AppVersion:     m.cfg.Telegram.AppVersion,
		SystemLangCode: m.cfg.Telegram.SystemLangCode,
		LangCode:       m.cfg.Telegram.LangCode,
		PingTimeout:    m.cfg.RPC.Timeout,
	})
	if len(sessionBlob) > 0 {
		if err := client.RestoreSession(sessionBlob); err != nil {
			return nil, fmt.Errorf("restoring session blob for account %d: %w", accountID, err)
		}
	}

	sess := New(client, m.store.Accounts, m.metric, m.log, Config{
		AccountID: accountID,
		Phone:     phone,
		RateMode:  RateLimitMode(m.cfg.RPC.RateLimitMode),
		RetryPolicy: retry.Policy{
			MaxAttempts: m.cfg.RPC.RetryMaxAttempts,
			BaseDelay:   m.cfg.RPC.RetryDelayBase,
			Jitter:      m.cfg.RPC.RetryJitter,
		},
	})
	stop := sess.Run(ctx)
	m.sessions[accountID] = sess
	m.stops[accountID] = stop
	if m.onStart != nil {
		m.onStart(sess)
	}
	return sess, nil
}

func (m *Manager) Get(accountID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[accountID]
	return s, ok
}

func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Stop shuts down one account's session; its rpc.Client disconnects and
// its dispatcher goroutine exits once any in-flight call completes,
// matching spec.md §5's "in-flight upstream calls are allowed to
// complete" cancellation contract.
func (m *Manager) Stop(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	sess, ok := m.sessions[accountID]
	stop := m.stops[accountID]
	delete(m.sessions, accountID)
	delete(m.stops, accountID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if stop != nil {
		stop()
	}
	return sess.Disconnect(ctx)
}

// StopAll shuts down every session, the first step of spec.md §5's
// shutdown sequence ("cancel all workers → flush in-flight DB batches →
// close sessions → exit").
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			m.log.Err(err).Int64("account_id", id).Msg("error stopping session")
		}
	}
}
