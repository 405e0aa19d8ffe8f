package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/registry"
	"github.com/ingestlab/telecorpus/pkg/retry"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// SelectionMode is the account-selection policy for join(invite_id,
// policy) (spec.md §4.K).
type SelectionMode string

const (
	ModeRotation SelectionMode = "rotation"
	ModeSpecific SelectionMode = "specific"
)

// PostJoinAction is one of the configured actions spec.md §4.K triggers
// on a successful join.
type PostJoinAction string

const (
	ActionMonitor       PostJoinAction = "monitor"
	ActionBackfill      PostJoinAction = "backfill"
	ActionScrapeMembers PostJoinAction = "scrape_members"
	ActionStories       PostJoinAction = "stories"
)

// Policy is join(invite_id, policy)'s second argument.
type Policy struct {
	Mode      SelectionMode
	AccountID int64 // only consulted when Mode == ModeSpecific
	Actions   []PostJoinAction
}

// MemberScraper is the narrow slice of pkg/enrichment.Schedulers the
// AutoJoiner needs for the scrape_members post-join action.
type MemberScraper interface {
	ScrapeDialogNow(ctx context.Context, dialogID int64) error
}

// Backfiller is the narrow slice of pkg/backfill.Coordinator the
// AutoJoiner needs for the backfill post-join action. Registry.StartBackfill
// only flips the dialog's idempotency marker and status; the loop itself
// still has to be started here, same as pkg/api.API.StartBackfill does.
type Backfiller interface {
	Start(ctx context.Context, dialogID int64) error
}

// AutoJoiner implements spec.md §4.K's `join(invite_id, policy)`.
type AutoJoiner struct {
	store      *store.Store
	sessions   *session.Manager
	registry   *registry.Registry
	scraper    MemberScraper
	backfiller Backfiller
	log        zerolog.Logger
	cfg        config.AutoJoinConfig
}

func NewAutoJoiner(st *store.Store, sessions *session.Manager, reg *registry.Registry, scraper MemberScraper, backfiller Backfiller, log zerolog.Logger, cfg config.AutoJoinConfig) *AutoJoiner {
	return &AutoJoiner{
		store:      st,
		sessions:   sessions,
		registry:   reg,
		scraper:    scraper,
		backfiller: backfiller,
		log:        log.With().Str("component", "autojoiner").Logger(),
		cfg:        cfg,
	}
}

func (a *AutoJoiner) maxPerDay() int {
	if a.cfg.MaxPerDay <= 0 {
		return 20
	}
	return a.cfg.MaxPerDay
}

func (a *AutoJoiner) delay() time.Duration {
	if a.cfg.Delay <= 0 {
		return 5 * time.Minute
	}
	return a.cfg.Delay
}

// chooseAccount implements spec.md §4.K's rotation policy: least
// recently joined among enabled accounts (never-joined accounts sort
// first), skipping any account that has hit its daily cap or is still
// inside its inter-join delay. When policy.Mode is ModeSpecific, the
// named account is used directly provided it is currently eligible.
//
// If no account is eligible right now, chooseAccount returns a
// *retry.RateLimitError carrying the shortest wait until any candidate
// becomes eligible again (scenario S5: "all accounts over their daily
// cap").
func (a *AutoJoiner) chooseAccount(ctx context.Context, policy Policy) (int64, error) {
	accounts, err := a.store.Accounts.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing autojoin-enabled accounts: %w", err)
	}
	if policy.Mode == ModeSpecific {
		for _, acc := range accounts {
			if acc.ID == policy.AccountID {
				accounts = []*store.AccountRow{acc}
				break
			}
		}
		if len(accounts) != 1 || accounts[0].ID != policy.AccountID {
			return 0, fmt.Errorf("account %d is not autojoin-enabled", policy.AccountID)
		}
	}
	if len(accounts) == 0 {
		return 0, &retry.RateLimitError{Seconds: int(a.delay().Seconds())}
	}

	now := time.Now()
	candidates := make([]joinCandidate, 0, len(accounts))
	for _, acc := range accounts {
		count, err := a.store.JoinLog.CountSince(ctx, acc.ID, now.Add(-24*time.Hour))
		if err != nil {
			return 0, fmt.Errorf("counting joins for account %d: %w", acc.ID, err)
		}
		lastJoinedAt, hasJoined, err := a.store.JoinLog.LastJoinedAt(ctx, acc.ID)
		if err != nil {
			return 0, fmt.Errorf("loading last join for account %d: %w", acc.ID, err)
		}
		candidates = append(candidates, joinCandidate{
			accountID:       acc.ID,
			joinsLast24h:    count,
			lastJoinedAt:    lastJoinedAt,
			hasJoinedBefore: hasJoined,
		})
	}

	bestID, minWait, ok := selectAccount(candidates, a.maxPerDay(), a.delay(), now)
	if !ok {
		return 0, &retry.RateLimitError{Seconds: int(minWait.Seconds()) + 1}
	}
	return bestID, nil
}

// joinCandidate is one enabled account's join history, as needed by the
// rotation policy's selection rule.
type joinCandidate struct {
	accountID       int64
	joinsLast24h    int
	lastJoinedAt    time.Time
	hasJoinedBefore bool
}

// selectAccount is the pure decision rule behind chooseAccount: pick the
// least-recently-joined candidate that is under its daily cap and past
// its inter-join delay (never-joined candidates sort first). If none
// qualify, it reports the shortest wait until one will.
func selectAccount(candidates []joinCandidate, dailyCap int, delay time.Duration, now time.Time) (accountID int64, wait time.Duration, ok bool) {
	var bestLast time.Time
	haveBest := false
	minWait := time.Duration(-1)

	for _, c := range candidates {
		var w time.Duration
		if c.joinsLast24h >= dailyCap {
			// Approximate the cap-reset wait off the most recent join,
			// since the log only tracks aggregate counts, not the
			// window's oldest member.
			w = 24*time.Hour - now.Sub(c.lastJoinedAt)
		}
		if c.hasJoinedBefore {
			if sinceLast := delay - now.Sub(c.lastJoinedAt); sinceLast > w {
				w = sinceLast
			}
		}
		if w <= 0 {
			if !haveBest || !c.hasJoinedBefore || c.lastJoinedAt.Before(bestLast) {
				accountID, bestLast, haveBest = c.accountID, c.lastJoinedAt, true
				if !c.hasJoinedBefore {
					bestLast = time.Time{}
				}
			}
			continue
		}
		if minWait < 0 || w < minWait {
			minWait = w
		}
	}

	if haveBest {
		return accountID, 0, true
	}
	if minWait < 0 {
		minWait = delay
	}
	return 0, minWait, false
}

// Join chooses an account per policy, joins invite_id through it, and —
// on success — runs the configured post-join actions. already_joined is
// reported through the returned row's Status, not as an error (spec.md
// §4.K: "already_joined is not an error").
func (a *AutoJoiner) Join(ctx context.Context, inviteID int64, policy Policy) (*store.InviteRow, error) {
	inv, err := a.store.Invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("loading invite %d: %w", inviteID, err)
	}

	accountID, err := a.chooseAccount(ctx, policy)
	if err != nil {
		return nil, err
	}
	sess, ok := a.sessions.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("no live session for account %d", accountID)
	}

	result, joinErr := sess.JoinInvite(ctx, inv.InviteHash)
	if logErr := a.store.JoinLog.Record(ctx, accountID, inviteID); logErr != nil {
		a.log.Err(logErr).Int64("account_id", accountID).Int64("invite_id", inviteID).Msg("recording join attempt")
	}
	if joinErr != nil {
		status := statusForJoinError(joinErr)
		if setErr := a.store.Invites.SetStatus(ctx, inviteID, status); setErr != nil {
			a.log.Err(setErr).Int64("invite_id", inviteID).Msg("setting invite status after join failure")
		}
		return nil, joinErr
	}

	if result.RequestPending {
		if err := a.store.Invites.SetStatus(ctx, inviteID, model.InviteStatusRequestPending); err != nil {
			return nil, fmt.Errorf("setting invite %d request_pending: %w", inviteID, err)
		}
		return a.store.Invites.GetByID(ctx, inviteID)
	}

	dialogID, err := a.materializeDialog(ctx, sess, result.DialogUpstreamID, accountID, policy.Actions)
	if err != nil {
		return nil, err
	}
	if err := a.store.Invites.SetStatus(ctx, inviteID, model.InviteStatusJoined); err != nil {
		return nil, fmt.Errorf("setting invite %d joined: %w", inviteID, err)
	}
	if err := a.runPostJoinActions(ctx, dialogID, policy.Actions); err != nil {
		a.log.Err(err).Int64("dialog_id", dialogID).Msg("running post-join actions")
	}
	return a.store.Invites.GetByID(ctx, inviteID)
}

// materializeDialog fetches the joined chat's metadata and records it in
// the Dialog Registry, assigned to the joining account — spec.md §4.K:
// "On success: creates/updates Dialog row, assigns to account".
func (a *AutoJoiner) materializeDialog(ctx context.Context, sess *session.Session, dialogUpstreamID, accountID int64, actions []PostJoinAction) (int64, error) {
	entity, err := sess.GetEntity(ctx, session.PriorityInteractive, dialogUpstreamID)
	if err != nil {
		return 0, fmt.Errorf("fetching joined entity %d: %w", dialogUpstreamID, err)
	}

	dialogType := model.DialogTypeGroup
	if entity.IsChannel {
		dialogType = model.DialogTypeChannel
	}
	dialogID, _, err := a.registry.Discover(ctx, model.Dialog{
		UpstreamID:  dialogUpstreamID,
		Type:        dialogType,
		Title:       entity.Title,
		Username:    entity.Username,
		MemberCount: entity.MemberCount,
		PhotoRef:    entity.PhotoRef,
	})
	if err != nil {
		return 0, fmt.Errorf("registering joined dialog %d: %w", dialogUpstreamID, err)
	}
	if err := a.registry.Assign(ctx, dialogID, accountID); err != nil && !errors.Is(err, registry.ErrAlreadyAssigned) {
		return 0, fmt.Errorf("assigning dialog %d to account %d: %w", dialogID, accountID, err)
	}
	return dialogID, nil
}

// runPostJoinActions triggers each configured action (spec.md §4.K).
// "stories" has no standalone hook: the regular periodic Story Scanner
// (pkg/enrichment) already covers any user discovered with
// has_stories=true once scrape_members runs, so it isn't modeled as a
// separate per-dialog action here.
func (a *AutoJoiner) runPostJoinActions(ctx context.Context, dialogID int64, actions []PostJoinAction) error {
	var errs []error
	for _, action := range actions {
		var err error
		switch action {
		case ActionMonitor:
			err = a.registry.SetOptions(ctx, dialogID, model.DialogFlags{IsMonitoring: true, BackfillEnabled: true})
		case ActionBackfill:
			var started bool
			started, err = a.registry.StartBackfill(ctx, dialogID)
			if err == nil && started && a.backfiller != nil {
				err = a.backfiller.Start(ctx, dialogID)
			}
		case ActionScrapeMembers:
			if a.scraper != nil {
				err = a.scraper.ScrapeDialogNow(ctx, dialogID)
			}
		case ActionStories:
			// covered by the periodic Story Scanner, see doc comment above.
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("post-join action %q: %w", action, err))
		}
	}
	return errors.Join(errs...)
}

// statusForJoinError maps a surfaced join failure to Invite.status.
func statusForJoinError(err error) model.InviteStatus {
	var notFound *retry.NotFoundError
	var permDenied *retry.PermissionDeniedError
	switch {
	case errors.As(err, &notFound):
		return model.InviteStatusInvalid
	case errors.As(err, &permDenied):
		return model.InviteStatusPrivate
	default:
		return model.InviteStatusFailed
	}
}
