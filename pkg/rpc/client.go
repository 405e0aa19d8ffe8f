package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"go.mau.fi/zerozap"
	"go.uber.org/zap"

	"github.com/ingestlab/telecorpus/pkg/retry"
)

// Config carries the per-account connection parameters pkg/session
// supplies when constructing a gotdClient, grounded on the teacher's
// TelegramConfig (API ID/hash, device info, proxy).
type Config struct {
	APIID   int
	APIHash string

	DeviceModel    string
	SystemVersion  string
	AppVersion     string
	SystemLangCode string
	LangCode       string

	Proxy *ProxyConfig

	PingTimeout  time.Duration
	PingInterval time.Duration
}

type ProxyConfig struct {
	Type string
	Host string
	Port int
	User string
	Pass string
}

// memSessionStorage is an in-process session.Storage backed by a byte
// slice, the simplest possible CustomSessionStorage implementation for
// gotd's telegram.Options — the teacher uses a database-backed
// implementation (UserLoginSession.Load/Save); this engine persists the
// same blob through Account.SessionBlob via pkg/store instead, so no
// database dependency belongs inside this package.
type memSessionStorage struct {
	mu   sync.Mutex
	data []byte
}

func (s *memSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return s.data, nil
}

func (s *memSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}

// gotdClient is the concrete Client (spec.md §6.2) backed by
// github.com/gotd/td, constructed the way the teacher's NewTelegramClient
// builds a *telegram.Client: a zerozap-wrapped zerolog sink, an update
// dispatcher registered before construction, and a background Run loop
// started via the bg-connect technique from gotd/contrib.
type gotdClient struct {
	cfg     Config
	log     zerolog.Logger
	session *memSessionStorage

	client         *telegram.Client
	updatesManager *updates.Manager
	dispatcher     tg.UpdateDispatcher
	peers          *peerCache

	runCancel context.CancelFunc
	runClosed <-chan struct{}

	onNewMessage         func(int64, Message)
	onMessageEdit        func(int64, Message)
	onMessageDelete      func(int64, int)
	onParticipantUpdate  func(int64, Participant, bool)

	authPhone string
	authHash  string
}

// New constructs an unconnected Client for one account. ctx is only used
// to derive the construction-time logger.
func New(ctx context.Context, cfg Config) Client {
	log := zerolog.Ctx(ctx).With().Str("component", "rpc_client").Logger()
	c := &gotdClient{
		cfg:     cfg,
		log:     log,
		session: &memSessionStorage{},
		peers:   newPeerCache(),
	}

	c.dispatcher = tg.NewUpdateDispatcher()
	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return c.handleNewMessage(u.Message)
	})
	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return c.handleNewMessage(u.Message)
	})
	c.dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		return c.handleEditMessage(u.Message)
	})
	c.dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		return c.handleEditMessage(u.Message)
	})
	c.dispatcher.OnDeleteMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteMessages) error {
		c.handleDeleteMessages(0, u.Messages)
		return nil
	})
	c.dispatcher.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		c.handleDeleteMessages(u.ChannelID, u.Messages)
		return nil
	})
	c.dispatcher.OnChatParticipant(func(ctx context.Context, e tg.Entities, u *tg.UpdateChatParticipant) error {
		return c.handleChatParticipant(u)
	})
	c.dispatcher.OnChannelParticipant(func(ctx context.Context, e tg.Entities, u *tg.UpdateChannelParticipant) error {
		return c.handleChannelParticipant(u)
	})

	c.updatesManager = updates.New(updates.Config{
		Handler: c.dispatcher,
		Logger:  zap.New(zerozap.New(log)).Named("gaps"),
	})

	zaplog := zap.New(zerozap.New(log))
	opts := telegram.Options{
		CustomSessionStorage: c.session,
		Logger:               zaplog,
		UpdateHandler:        c.updatesManager,
		Device: telegram.DeviceConfig{
			DeviceModel:    cfg.DeviceModel,
			SystemVersion:  cfg.SystemVersion,
			AppVersion:     cfg.AppVersion,
			SystemLangCode: cfg.SystemLangCode,
			LangCode:       cfg.LangCode,
		},
	}
	if cfg.PingTimeout > 0 {
		opts.PingTimeout = cfg.PingTimeout
	}
	if cfg.PingInterval > 0 {
		opts.PingInterval = cfg.PingInterval
	}
	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, opts)
	return c
}

func (c *gotdClient) RestoreSession(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	return c.session.StoreSession(context.Background(), blob)
}

func (c *gotdClient) SessionBlob() ([]byte, error) {
	return c.session.LoadSession(context.Background())
}

// connectBackground blocks until the client's transport is up, using the
// technique from github.com/gotd/contrib/bg — grounded on the teacher's
// connectTelegramClient in pkg/connector/client.go.
func (c *gotdClient) connectBackground(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	errC := make(chan error, 1)
	initDone := make(chan struct{})
	closeC := make(chan struct{})
	go func() {
		defer close(errC)
		defer close(closeC)
		errC <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(initDone)
			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		})
	}()

	select {
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("context cancelled before init done: %w", ctx.Err())
	case err := <-errC:
		cancel()
		return fmt.Errorf("client connection failed to start: %w", err)
	case <-initDone:
	}
	c.runCancel = cancel
	c.runClosed = closeC
	return nil
}

func (c *gotdClient) Connect(ctx context.Context, phone string) (AuthResult, error) {
	c.authPhone = phone
	if err := c.connectBackground(ctx); err != nil {
		return AuthResult{}, classifyConnectErr(err)
	}

	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return AuthResult{}, classifyRPCErr(err)
	}
	if status.Authorized {
		self, err := c.client.Self(ctx)
		if err != nil {
			return AuthResult{}, classifyRPCErr(err)
		}
		return AuthResult{Step: AuthStepComplete, SelfID: self.ID}, nil
	}

	sentCode, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return AuthResult{}, classifyRPCErr(err)
	}
	switch s := sentCode.(type) {
	case *tg.AuthSentCode:
		c.authHash = s.PhoneCodeHash
		return AuthResult{Step: AuthStepCodeRequired}, nil
	case *tg.AuthSentCodeSuccess:
		if a, ok := s.Authorization.(*tg.AuthAuthorization); ok {
			return AuthResult{Step: AuthStepComplete, SelfID: a.User.GetID()}, nil
		}
		return AuthResult{}, &retry.PermanentError{Cause: fmt.Errorf("unexpected authorization type %T", s.Authorization)}
	default:
		return AuthResult{}, &retry.PermanentError{Cause: fmt.Errorf("unexpected sent code type %T", sentCode)}
	}
}

func (c *gotdClient) SubmitCode(ctx context.Context, code string) (AuthResult, error) {
	authorization, err := c.client.Auth().SignIn(ctx, c.authPhone, code, c.authHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return AuthResult{Step: AuthStepPasswordRequired}, nil
	} else if err != nil {
		return AuthResult{}, classifyAuthErr(err)
	}
	return AuthResult{Step: AuthStepComplete, SelfID: authorization.User.GetID()}, nil
}

func (c *gotdClient) SubmitPassword(ctx context.Context, password string) (AuthResult, error) {
	authorization, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return AuthResult{}, classifyAuthErr(err)
	}
	return AuthResult{Step: AuthStepComplete, SelfID: authorization.User.GetID()}, nil
}

func (c *gotdClient) Disconnect(ctx context.Context) error {
	if c.runCancel == nil {
		return nil
	}
	c.runCancel()
	select {
	case <-c.runClosed:
	case <-time.After(10 * time.Second):
	}
	return nil
}

// classifyAuthErr recognizes the invalid-code/invalid-password case
// spec.md §7's Invalid2FAError names, falling back to the generic RPC
// classifier for everything else (e.g. FLOOD_WAIT during auth).
func classifyAuthErr(err error) error {
	if rpcErr, ok := tgerr.As(err); ok {
		switch rpcErr.Type {
		case "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED", "PASSWORD_HASH_INVALID":
			return &retry.Invalid2FAError{}
		}
	}
	return classifyRPCErr(err)
}

func classifyConnectErr(err error) error {
	return &retry.TemporaryError{Cause: err}
}

// classifyRPCErr maps a gotd/td error into one of spec.md §7's
// ClassifiedError kinds: FLOOD_WAIT becomes RateLimitError with its
// server-given delay, USER_DEACTIVATED_BAN/USER_DEACTIVATED become
// SessionBannedError (checked before the 401 test, since they carry code
// 401), any other auth.IsUnauthorized error becomes AuthRequiredError, a
// code-500 RPC error is temporary, any other RPC error is treated as
// permanent so the retry wrapper doesn't loop forever on e.g.
// CHANNEL_PRIVATE, and a non-RPC error is temporary.
func classifyRPCErr(err error) error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := tgerr.As(err); ok && (rpcErr.Type == "USER_DEACTIVATED_BAN" || rpcErr.Type == "USER_DEACTIVATED") {
		return &retry.SessionBannedError{Reason: rpcErr.Type}
	}
	if auth.IsUnauthorized(err) {
		return &retry.AuthRequiredError{Reason: err.Error()}
	}
	if rpcErr, ok := tgerr.As(err); ok {
		switch {
		case strings.HasPrefix(rpcErr.Type, "FLOOD_WAIT"):
			return &retry.RateLimitError{Seconds: rpcErr.Argument}
		case rpcErr.Code == 500:
			return &retry.TemporaryError{Cause: err}
		default:
			return &retry.PermanentError{Cause: err}
		}
	}
	return &retry.TemporaryError{Cause: err}
}
