// Package rpc is the Telegram RPC capability (spec.md §6.2): an abstract
// interface listing the operations described in §4.B, with a concrete
// implementation wrapping github.com/gotd/td. The rest of the engine
// depends only on the Client interface below — wire framing, the TL
// layer, and authentication live entirely in this package, the way the
// teacher's pkg/connector wraps gotd behind TelegramClient.
package rpc

import (
	"context"
	"io"
	"time"
)

// Entity is the RPC-layer view of a user or chat/channel, independent of
// the persistence model in pkg/model.
type Entity struct {
	UpstreamID  int64
	IsChannel   bool
	IsGroup     bool
	Title       string
	Username    string
	FirstName   string
	LastName    string
	Phone       string
	MemberCount int
	PhotoRef    string
	Bot         bool
	Verified    bool
	Premium     bool
	Scam        bool
	Fake        bool
	Restricted  bool
	Deleted     bool
	HasStories  bool
}

// MessageRef identifies a message by the dialog (peer) it belongs to and
// its upstream message ID, sufficient to re-fetch or download media for
// it without holding the original TL object alive.
type MessageRef struct {
	DialogUpstreamID int64
	MessageID        int
}

// Message is the RPC-layer view of a single message.
type Message struct {
	ID           int
	SenderID     int64
	Date         time.Time
	Text         string
	ReplyTo      int
	GroupedID    int64
	ViewCount    int
	ForwardCount int
	Reactions    map[string]int
	Media        *MediaRef
}

// MediaRef describes the media attached to a message without downloading
// it; DownloadMedia resolves the bytes lazily.
type MediaRef struct {
	Type     string
	MIME     string
	Width    int
	Height   int
	Duration float64
	Size     int64
}

// DownloadedMedia is the result of DownloadMedia.
type DownloadedMedia struct {
	Data     io.ReadCloser
	MIME     string
	Size     int64
	Width    int
	Height   int
	Duration float64
}

// Participant is one row of iter_participants.
type Participant struct {
	UserID     int64
	IsAdmin    bool
	AdminTitle string
	JoinedAt   time.Time
}

// ProfilePhoto is one row of iter_profile_photos.
type ProfilePhoto struct {
	UpstreamID int64
	IsVideo    bool
	CapturedAt time.Time
}

// Story is one row of iter_stories.
type Story struct {
	UpstreamID int64
	ExpiresAt  time.Time
	ViewCount  int
	IsPinned   bool
}

// InvitePreview is the result of resolve_invite: everything observable
// about a chat before joining it.
type InvitePreview struct {
	Title       string
	About       string
	MemberCount int
	PhotoRef    string
	IsChannel   bool
	// AlreadyJoined is true when the invite resolves to a chat the
	// account is already a member of — per spec.md §4.K, that maps to
	// InviteStatusAlreadyJoined without ever calling join_invite.
	AlreadyJoined bool
	// Private indicates the hash could not be resolved because the
	// invite requires admin approval to preview, or is otherwise
	// inaccessible without joining first.
	Private bool
}

// JoinResult is the result of join_invite.
type JoinResult struct {
	DialogUpstreamID int64
	// RequestPending is true when the chat requires admin approval to
	// join (spec.md §4.K's InviteStatusRequestPending).
	RequestPending bool
}

// HistoryPage is one page returned by IterHistory.
type HistoryPage struct {
	Messages []Message
	// NextFromID is the cursor to pass as FromID on the next call to
	// fetch the page further back in time; zero once exhausted.
	NextFromID int
}

// AuthStep is returned by Connect/SubmitCode/SubmitPassword to describe
// what the session must do next, mirroring spec.md §4.B's state machine.
type AuthStep string

const (
	AuthStepCodeRequired     AuthStep = "code_required"
	AuthStepPasswordRequired AuthStep = "password_required"
	AuthStepComplete         AuthStep = "complete"
)

// AuthResult is returned by every step of the login flow.
type AuthResult struct {
	Step AuthStep
	// SelfID is populated once Step == AuthStepComplete.
	SelfID int64
}

// Client is the abstract Telegram RPC capability spec.md §6.2 and §4.B
// describe. One Client is constructed per Account by pkg/session; it is
// not safe for concurrent use by more than one caller — pkg/session's
// per-account priority queue is the only serializer, per §4.B's "a
// session is the ONLY writer to its upstream connection".
type Client interface {
	// Connect establishes the upstream connection and resumes an
	// existing authenticated session if one is stored. It returns
	// AuthStepComplete immediately when already authenticated, or
	// AuthStepCodeRequired to begin the phone+code+2FA flow.
	Connect(ctx context.Context, phone string) (AuthResult, error)
	SubmitCode(ctx context.Context, code string) (AuthResult, error)
	SubmitPassword(ctx context.Context, password string) (AuthResult, error)
	Disconnect(ctx context.Context) error

	// SessionBlob returns the opaque, persistable session state for
	// storage in Account.SessionBlob (spec.md §3).
	SessionBlob() ([]byte, error)
	// RestoreSession primes the client with a previously saved blob
	// before Connect is called, skipping the auth flow entirely.
	RestoreSession(blob []byte) error

	ListDialogs(ctx context.Context) ([]Entity, error)
	IterHistory(ctx context.Context, dialogUpstreamID int64, fromID, pageSize int) (HistoryPage, error)
	DownloadMedia(ctx context.Context, ref MessageRef) (DownloadedMedia, error)
	GetEntity(ctx context.Context, upstreamID int64) (Entity, error)
	IterParticipants(ctx context.Context, dialogUpstreamID int64, offset, limit int) ([]Participant, error)
	IterProfilePhotos(ctx context.Context, userUpstreamID int64, offset, limit int) ([]ProfilePhoto, error)
	IterStories(ctx context.Context, userUpstreamID int64) ([]Story, error)
	ResolveInvite(ctx context.Context, hash string) (InvitePreview, error)
	JoinInvite(ctx context.Context, hash string) (JoinResult, error)

	// Updates exposes the raw live-update stream for pkg/session to
	// multiplex into its bounded subscription channel (spec.md §4.B).
	// Handlers registered here run on the client's own dispatch
	// goroutine and must not block.
	OnNewMessage(fn func(dialogUpstreamID int64, msg Message))
	OnMessageEdit(fn func(dialogUpstreamID int64, msg Message))
	OnMessageDelete(fn func(dialogUpstreamID int64, messageID int))
	OnParticipantUpdate(fn func(dialogUpstreamID int64, p Participant, left bool))
}
