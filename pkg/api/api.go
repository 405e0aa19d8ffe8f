// Package api implements the Command API admin surface (spec.md §6.3):
// every operation the spec groups under Accounts/Dialogs/Invites/
// Schedulers/Search/Streams, exposed first as plain Go methods on *API
// (so tests and cmd/ingestd can call them directly), and mounted as a
// thin JSON/WS listener in http.go for external callers — the same
// "construct owned collaborators, pass explicitly" shape the rest of
// this engine uses, grounded on teacher's legacyprovisioning.go for the
// HTTP half.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/enrichment"
	"github.com/ingestlab/telecorpus/pkg/eventbus"
	"github.com/ingestlab/telecorpus/pkg/invite"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/registry"
	"github.com/ingestlab/telecorpus/pkg/retry"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// Kind is the error taxonomy every command result reports (spec.md §7):
// "User-visible command results include the kind and a human message".
type Kind string

const (
	KindAuthRequired     Kind = "auth_required"
	KindInvalid2FA       Kind = "invalid_2fa"
	KindSessionBanned    Kind = "session_banned"
	KindRateLimit        Kind = "rate_limit"
	KindTemporary        Kind = "temporary"
	KindPermanent        Kind = "permanent"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindValidationFailed Kind = "validation_failed"
	KindPersistence      Kind = "persistence_error"
	KindInternal         Kind = "internal"
)

// Result is every Command API method's return envelope: `{ok, value} |
// {error, kind, message}` (spec.md §6.3). Value is omitted on error.
type Result struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func ok(value any) Result {
	return Result{OK: true, Value: value}
}

func fail(err error) Result {
	return Result{OK: false, Kind: classify(err), Error: err.Error()}
}

// classify maps a surfaced error to its §7 kind. No error kind is ever
// constructed from a secret-bearing value (proxy credentials, session
// blobs), so Result.Error is always safe to log or return verbatim.
func classify(err error) Kind {
	var authRequired *retry.AuthRequiredError
	var invalid2FA *retry.Invalid2FAError
	var banned *retry.SessionBannedError
	var rateLimit *retry.RateLimitError
	var temporary *retry.TemporaryError
	var permanent *retry.PermanentError
	var notFound *retry.NotFoundError
	var permDenied *retry.PermissionDeniedError
	var validation *retry.ValidationFailedError
	var persistence *retry.PersistenceError

	switch {
	case errors.As(err, &authRequired):
		return KindAuthRequired
	case errors.As(err, &invalid2FA):
		return KindInvalid2FA
	case errors.As(err, &banned):
		return KindSessionBanned
	case errors.As(err, &rateLimit):
		return KindRateLimit
	case errors.As(err, &temporary):
		return KindTemporary
	case errors.As(err, &permanent):
		return KindPermanent
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &permDenied):
		return KindPermissionDenied
	case errors.As(err, &validation):
		return KindValidationFailed
	case errors.As(err, &persistence):
		return KindPersistence
	default:
		return KindInternal
	}
}

// API wires every collaborator the Command API dispatches into —
// constructed once by pkg/engine and handed to the HTTP listener.
type API struct {
	store      *store.Store
	sessions   *session.Manager
	registry   *registry.Registry
	resolver   *invite.Resolver
	autojoiner *invite.AutoJoiner
	enrichment *enrichment.Schedulers
	backfiller Backfiller
	bus        *eventbus.Bus
	validator  *Validator
	log        zerolog.Logger
	cfg        config.Config
}

// Backfiller is the narrow slice of pkg/backfill.Coordinator StartBackfill
// needs: Registry.StartBackfill only flips the dialog's idempotency
// marker and persisted status, so the loop itself still has to be
// started here once that succeeds.
type Backfiller interface {
	Start(ctx context.Context, dialogID int64) error
}

func New(
	st *store.Store,
	sessions *session.Manager,
	reg *registry.Registry,
	resolver *invite.Resolver,
	autojoiner *invite.AutoJoiner,
	sched *enrichment.Schedulers,
	backfiller Backfiller,
	bus *eventbus.Bus,
	log zerolog.Logger,
	cfg config.Config,
) (*API, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compiling command schemas: %w", err)
	}
	return &API{
		store:      st,
		sessions:   sessions,
		registry:   reg,
		resolver:   resolver,
		autojoiner: autojoiner,
		enrichment: sched,
		backfiller: backfiller,
		bus:        bus,
		validator:  v,
		log:        log.With().Str("component", "api").Logger(),
		cfg:        cfg,
	}, nil
}

// --- Accounts ---

func (a *API) CreateAccount(ctx context.Context, phone string, proxy *model.Proxy) Result {
	acc, err := a.store.Accounts.Insert(ctx, model.Account{Phone: phone, Status: model.AccountNew, Proxy: proxy})
	if err != nil {
		return fail(err)
	}
	return ok(acc)
}

func (a *API) DeleteAccount(ctx context.Context, accountID int64) Result {
	if err := a.sessions.Stop(ctx, accountID); err != nil {
		a.log.Err(err).Int64("account_id", accountID).Msg("stopping session before delete")
	}
	if err := a.store.Accounts.Delete(ctx, accountID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *API) ConnectAccount(ctx context.Context, accountID int64) Result {
	row, err := a.store.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return fail(err)
	}
	sess, err := a.sessions.Start(ctx, accountID, row.Phone, row.SessionBlob)
	if err != nil {
		return fail(err)
	}
	result, err := sess.Connect(ctx)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (a *API) SubmitCode(ctx context.Context, accountID int64, code string) Result {
	sess, found := a.sessions.Get(accountID)
	if !found {
		return fail(&retry.NotFoundError{What: "session"})
	}
	result, err := sess.SubmitCode(ctx, code)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (a *API) SubmitPassword(ctx context.Context, accountID int64, password string) Result {
	sess, found := a.sessions.Get(accountID)
	if !found {
		return fail(&retry.NotFoundError{What: "session"})
	}
	result, err := sess.SubmitPassword(ctx, password)
	if err != nil {
		return fail(err)
	}
	return ok(result)
}

func (a *API) ListAccounts(ctx context.Context) Result {
	rows, err := a.store.Accounts.List(ctx)
	if err != nil {
		return fail(err)
	}
	return ok(rows)
}

// ListAccountsWithGroups answers Accounts.list_with_groups by pairing
// every account with the dialogs currently assigned to it.
func (a *API) ListAccountsWithGroups(ctx context.Context) Result {
	accounts, err := a.store.Accounts.List(ctx)
	if err != nil {
		return fail(err)
	}
	type accountWithGroups struct {
		Account *store.AccountRow  `json:"account"`
		Dialogs []*store.DialogRow `json:"dialogs"`
	}
	out := make([]accountWithGroups, 0, len(accounts))
	for _, acc := range accounts {
		dialogs, err := a.registry.ListByAccount(ctx, acc.ID)
		if err != nil {
			return fail(err)
		}
		out = append(out, accountWithGroups{Account: acc, Dialogs: dialogs})
	}
	return ok(out)
}

// --- Dialogs ---

// ListAvailableDialogs runs list_dialogs against the account's live
// session, for the caller to choose which ones to add.
func (a *API) ListAvailableDialogs(ctx context.Context, accountID int64) Result {
	sess, found := a.sessions.Get(accountID)
	if !found {
		return fail(&retry.NotFoundError{What: "session"})
	}
	entities, err := sess.ListDialogs(ctx, session.PriorityInteractive)
	if err != nil {
		return fail(err)
	}
	return ok(entities)
}

// DialogOptions mirrors model.DialogFlags, decoded straight from a
// validated JSON payload (see schema.go's dialogOptionsSchema).
type DialogOptions struct {
	DownloadMedia   bool `json:"download_media"`
	OCREnabled      bool `json:"ocr_enabled"`
	BackfillEnabled bool `json:"backfill_enabled"`
	IsMonitoring    bool `json:"is_monitoring"`
}

// AddDialogs implements add_dialogs(account, ids, opts): each upstream id
// is discovered, assigned to accountID, and given opts.
func (a *API) AddDialogs(ctx context.Context, accountID int64, upstreamIDs []int64, opts DialogOptions) Result {
	if err := a.validator.ValidateDialogOptions(opts); err != nil {
		return fail(&retry.ValidationFailedError{What: err.Error()})
	}
	sess, found := a.sessions.Get(accountID)
	if !found {
		return fail(&retry.NotFoundError{What: "session"})
	}
	added := make([]int64, 0, len(upstreamIDs))
	for _, upstreamID := range upstreamIDs {
		entity, err := sess.GetEntity(ctx, session.PriorityInteractive, upstreamID)
		if err != nil {
			return fail(err)
		}
		dialogType := model.DialogTypeGroup
		if entity.IsChannel {
			dialogType = model.DialogTypeChannel
		} else if !entity.IsGroup {
			dialogType = model.DialogTypeUser
		}
		dialogID, _, err := a.registry.Discover(ctx, model.Dialog{
			UpstreamID:  upstreamID,
			Type:        dialogType,
			Title:       entity.Title,
			Username:    entity.Username,
			MemberCount: entity.MemberCount,
			PhotoRef:    entity.PhotoRef,
		})
		if err != nil {
			return fail(err)
		}
		if err := a.registry.Assign(ctx, dialogID, accountID); err != nil && !errors.Is(err, registry.ErrAlreadyAssigned) {
			return fail(err)
		}
		if err := a.registry.SetOptions(ctx, dialogID, model.DialogFlags(opts)); err != nil {
			return fail(err)
		}
		added = append(added, dialogID)
	}
	return ok(added)
}

func (a *API) ListManagedDialogs(ctx context.Context, accountID int64) Result {
	rows, err := a.registry.ListByAccount(ctx, accountID)
	if err != nil {
		return fail(err)
	}
	return ok(rows)
}

func (a *API) AssignDialog(ctx context.Context, dialogID, accountID int64) Result {
	if err := a.registry.Assign(ctx, dialogID, accountID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// ToggleMonitoring resumes a paused dialog and pauses any other, via the
// Registry; it changes status only and leaves is_monitoring as it is,
// so dialog status stays consistent with the invariant
// "Monitored ⇔ status=active ∧ assigned_account ≠ ∅" (spec.md §3).
func (a *API) ToggleMonitoring(ctx context.Context, dialogID int64) Result {
	status, err := a.registry.Status(ctx, dialogID)
	if err != nil {
		return fail(err)
	}
	if status == model.DialogPaused {
		err = a.registry.Resume(ctx, dialogID)
	} else {
		err = a.registry.Pause(ctx, dialogID)
	}
	if err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *API) SetDialogOptions(ctx context.Context, dialogID int64, opts DialogOptions) Result {
	if err := a.validator.ValidateDialogOptions(opts); err != nil {
		return fail(&retry.ValidationFailedError{What: err.Error()})
	}
	if err := a.registry.SetOptions(ctx, dialogID, model.DialogFlags(opts)); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *API) StartBackfill(ctx context.Context, dialogID int64) Result {
	started, err := a.registry.StartBackfill(ctx, dialogID)
	if err != nil {
		return fail(err)
	}
	if started && a.backfiller != nil {
		if err := a.backfiller.Start(ctx, dialogID); err != nil {
			return fail(err)
		}
	}
	return ok(started)
}

func (a *API) StopBackfill(_ context.Context, dialogID int64) Result {
	a.registry.FinishBackfill(dialogID)
	return ok(nil)
}

// --- Invites ---

func (a *API) CreateInvite(ctx context.Context, link string) Result {
	id, outcome, err := a.resolver.Discover(ctx, link, model.InviteSource{})
	if err != nil {
		return fail(err)
	}
	return ok(map[string]any{"invite_id": id, "outcome": outcome})
}

func (a *API) ResolveInvite(ctx context.Context, inviteID, accountID int64) Result {
	sess, found := a.sessions.Get(accountID)
	if !found {
		return fail(&retry.NotFoundError{What: "session"})
	}
	row, err := a.resolver.Resolve(ctx, sess, inviteID)
	if err != nil {
		return fail(err)
	}
	return ok(row)
}

// JoinNowPolicy is the validated, JSON-decoded shape behind
// invite.Policy (see schema.go's autojoinPolicySchema).
type JoinNowPolicy struct {
	Mode      string   `json:"mode"`
	AccountID int64    `json:"account_id,omitempty"`
	Actions   []string `json:"actions"`
}

func (a *API) JoinNow(ctx context.Context, inviteID int64, policy JoinNowPolicy) Result {
	if err := a.validator.ValidateAutojoinPolicy(policy); err != nil {
		return fail(&retry.ValidationFailedError{What: err.Error()})
	}
	actions := make([]invite.PostJoinAction, 0, len(policy.Actions))
	for _, act := range policy.Actions {
		actions = append(actions, invite.PostJoinAction(act))
	}
	row, err := a.autojoiner.Join(ctx, inviteID, invite.Policy{
		Mode:      invite.SelectionMode(policy.Mode),
		AccountID: policy.AccountID,
		Actions:   actions,
	})
	if err != nil {
		return fail(err)
	}
	return ok(row)
}

func (a *API) DeleteInvite(ctx context.Context, inviteID int64) Result {
	if err := a.store.Invites.SetStatus(ctx, inviteID, model.InviteStatusExpired); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (a *API) ListPendingInvites(ctx context.Context, limit int) Result {
	rows, err := a.store.Invites.ListPending(ctx, limit)
	if err != nil {
		return fail(err)
	}
	return ok(rows)
}

func (a *API) SetAutojoinEnabled(ctx context.Context, accountID int64, enabled bool) Result {
	if err := a.store.Accounts.SetAutojoinEnabled(ctx, accountID, enabled); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// --- Schedulers ---

func (a *API) RunMemberScrapeNow(ctx context.Context, dialogID int64) Result {
	if err := a.enrichment.ScrapeDialogNow(ctx, dialogID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// --- Search ---

func (a *API) Search(ctx context.Context, query string, types []string, limit int) Result {
	want := func(t string) bool {
		if len(types) == 0 {
			return true
		}
		for _, x := range types {
			if x == t {
				return true
			}
		}
		return false
	}
	out := map[string]any{}
	if want("messages") {
		rows, err := a.store.SearchMessages(ctx, query, limit, a.cfg.Search.FTSLanguage, a.cfg.Search.FallbackToSubstring)
		if err != nil {
			return fail(err)
		}
		out["messages"] = rows
	}
	if want("users") {
		rows, err := a.store.SearchUsers(ctx, query, limit, a.cfg.Search.FTSLanguage, a.cfg.Search.FallbackToSubstring)
		if err != nil {
			return fail(err)
		}
		out["users"] = rows
	}
	if want("detections") {
		rows, err := a.store.SearchDetections(ctx, query, limit, a.cfg.Search.FTSLanguage, a.cfg.Search.FallbackToSubstring)
		if err != nil {
			return fail(err)
		}
		out["detections"] = rows
	}
	return ok(out)
}

// --- Streams ---

// SubscribeChannel maps one of the stream names
// messages/detections/backfill_progress (or backfill) to the Event Bus
// channel it is published on, validating against the names spec.md
// §6.3 actually lists.
func (a *API) SubscribeChannel(topic string) (string, error) {
	switch topic {
	case "messages":
		return "new_message", nil
	case "detections":
		return "new_detection", nil
	case "backfill_progress", "backfill":
		return "backfill_progress", nil
	default:
		return "", fmt.Errorf("unknown stream topic %q", topic)
	}
}
