// Package model defines the row shapes shared by every component of the
// ingestion engine. Each entity from the data model is represented once,
// here, and mapped by hand in pkg/store — there is no ORM or reflection
// over these structs.
package model

import "time"

// AccountStatus is the lifecycle state of an Account (spec.md §3, §4.B).
type AccountStatus string

const (
	AccountNew             AccountStatus = "new"
	AccountCodeRequired    AccountStatus = "code_required"
	AccountPasswordRequired AccountStatus = "password_required"
	AccountActive          AccountStatus = "active"
	AccountFloodWait       AccountStatus = "flood_wait"
	AccountBanned          AccountStatus = "banned"
	AccountError           AccountStatus = "error"
)

type ProxyType string

const (
	ProxySOCKS5 ProxyType = "socks5"
	ProxyHTTP   ProxyType = "http"
)

type Proxy struct {
	Type ProxyType
	Host string
	Port int
	User string
	Pass string
}

type Account struct {
	ID                int64
	Phone             string
	CredentialsID     int64
	CredentialsHash   string
	SessionBlob       []byte
	Status            AccountStatus
	Proxy             *Proxy
	MessagesCollected int64
	ErrorsCount       int64
	LastActivity      time.Time
	FloodWaitUntil    time.Time
	LastError         string
	// AutojoinEnabled gates this account from the AutoJoiner's rotation
	// candidate set (spec.md §4.K: "respecting enabled_accounts").
	AutojoinEnabled bool
}

type DialogType string

const (
	DialogTypeUser       DialogType = "user"
	DialogTypeGroup      DialogType = "group"
	DialogTypeSupergroup DialogType = "supergroup"
	DialogTypeChannel    DialogType = "channel"
)

type DialogStatus string

const (
	DialogInactive    DialogStatus = "inactive"
	DialogActive      DialogStatus = "active"
	DialogPaused      DialogStatus = "paused"
	DialogBackfilling DialogStatus = "backfilling"
	DialogError       DialogStatus = "error"
)

type DialogFlags struct {
	DownloadMedia   bool
	OCREnabled      bool
	BackfillEnabled bool
	IsMonitoring    bool
}

type DialogCursors struct {
	LastMessageIDSeen    int64
	BackfillFrontier     int64
	LastMemberScrapeAt   time.Time
}

type Dialog struct {
	ID              int64
	UpstreamID      int64
	Type            DialogType
	Title           string
	Username        string
	MemberCount     int
	PhotoRef        string
	AssignedAccount *int64
	Status          DialogStatus
	Flags           DialogFlags
	Cursors         DialogCursors
	LastError       string
}

// Monitored reports whether the dialog is actively owned and collecting,
// per the invariant in spec.md §3: "Monitored ⇔ status=active ∧
// assigned_account ≠ ∅".
func (d Dialog) Monitored() bool {
	return d.Status == DialogActive && d.AssignedAccount != nil
}

type MediaType string

const (
	MediaNone      MediaType = ""
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaGIF       MediaType = "gif"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaDocument  MediaType = "document"
	MediaSticker   MediaType = "sticker"
	MediaVideoNote MediaType = "video_note"
)

type Message struct {
	ID                int64
	DialogID          int64
	UpstreamMessageID int64
	SenderID          *int64
	Date              time.Time
	Text              string
	ReplyTo           *int64
	GroupedID         *int64
	ViewCount         int
	ForwardCount      int
	Reactions         map[string]int
	MediaType         MediaType
}

type IdentityField string

const (
	FieldUsername  IdentityField = "username"
	FieldFirstName IdentityField = "first_name"
	FieldLastName  IdentityField = "last_name"
	FieldPhone     IdentityField = "phone"
)

type UserFlags struct {
	Bot        bool
	Verified   bool
	Premium    bool
	Scam       bool
	Fake       bool
	Restricted bool
	Deleted    bool
	HasStories bool
}

type User struct {
	ID              int64
	UpstreamID      int64
	Username        string
	FirstName       string
	LastName        string
	Phone           string
	Bio             string
	Flags           UserFlags
	LastSeen        time.Time
	CurrentPhotoRef string
	MessagesCount   int64
}

type IdentityChange struct {
	ID        int64
	UserID    int64
	Field     IdentityField
	OldValue  string
	NewValue  string
	ChangedAt time.Time
}

type Membership struct {
	UserID      int64
	DialogID    int64
	JoinedAt    time.Time
	IsAdmin     bool
	AdminTitle  string
	IsActive    bool
	LeaveReason string
}

type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValid     ValidationStatus = "valid"
	ValidationInvalid   ValidationStatus = "invalid"
	ValidationCorrupted ValidationStatus = "corrupted"
)

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingQueued     ProcessingStatus = "queued"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// DuplicateMethod names how a MediaFile was identified as a duplicate of
// another, for observability; it never drives deletion on its own (see
// spec.md §4.G step 7 — perceptual matches are flagged, not removed).
type DuplicateMethod string

const (
	DuplicateNone       DuplicateMethod = ""
	DuplicateExact      DuplicateMethod = "exact"
	DuplicatePerceptual DuplicateMethod = "perceptual"
)

type MediaFile struct {
	ID                     int64
	MessageID              int64
	FileType               MediaType
	FilePath               string
	FileSize               int64
	MIME                   string
	Width, Height          int
	DurationSeconds        float64
	ContentHash            []byte
	PerceptualHash         *uint64
	DownloadAttempts       int
	LastDownloadAttempt    time.Time
	DownloadErrorCategory  string
	ValidationStatus       ValidationStatus
	ProcessingStatus       ProcessingStatus
	ProcessingPriority     int
	DuplicateDetectionMethod DuplicateMethod
}

// Complete reports the invariant from spec.md §3: "completed ⇒
// file_path ≠ ∅ ∧ validation_status = valid".
func (m MediaFile) Complete() bool {
	return m.ProcessingStatus == ProcessingCompleted && m.FilePath != "" && m.ValidationStatus == ValidationValid
}

type ProfilePhoto struct {
	ID              int64
	UserID          int64
	UpstreamPhotoID int64
	IsCurrent       bool
	IsVideo         bool
	CapturedAt      time.Time
	FilePath        string
}

type Story struct {
	ID              int64
	UserID          int64
	UpstreamStoryID int64
	FilePath        string
	ExpiresAt       time.Time
	ViewsCount      int
	IsPinned        bool
}

type InviteStatus string

const (
	InviteStatusPending        InviteStatus = "pending"
	InviteStatusProcessing     InviteStatus = "processing"
	InviteStatusJoined         InviteStatus = "joined"
	InviteStatusAlreadyJoined  InviteStatus = "already_joined"
	InviteStatusRequestPending InviteStatus = "request_pending"
	InviteStatusFailed         InviteStatus = "failed"
	InviteStatusExpired        InviteStatus = "expired"
	InviteStatusInvalid        InviteStatus = "invalid"
	InviteStatusPrivate        InviteStatus = "private"
)

type InvitePreview struct {
	Title        string
	About        string
	MemberCount  int
	PhotoRef     string
	IsChannel    bool
}

type InviteSource struct {
	GroupID *int64
	UserID  *int64
}

type Invite struct {
	ID         int64
	Link       string
	InviteHash string
	Status     InviteStatus
	RetryCount int
	Preview    InvitePreview
	Source     InviteSource
}

type DetectionType string

const (
	DetectionEmail           DetectionType = "email"
	DetectionPhone           DetectionType = "phone"
	DetectionCrypto          DetectionType = "crypto"
	DetectionURL             DetectionType = "url"
	DetectionInviteLink      DetectionType = "invite_link"
	DetectionTelegramLink    DetectionType = "telegram_link"
	DetectionTelegramUsername DetectionType = "telegram_username"
)

type Detection struct {
	ID            int64
	MessageID     int64
	DetectorID    int64
	MatchedText   string
	Type          DetectionType
	NormalizedValue string
	ContextBefore string
	ContextAfter  string
	CreatedAt     time.Time
}

type Detector struct {
	ID       int64
	Name     string
	Pattern  string
	Category string
	Priority int
	IsBuiltin bool
	IsActive bool
}
