// Package invite implements the Invite Resolver & AutoJoiner (spec.md
// §4.K). There is no teacher equivalent (mautrix-telegram never joins
// chats autonomously), so both pieces are modeled directly from §4.K's
// own description: normalize a link to an invite_hash, preview it
// through the session's interactive queue, then join under a rotation
// or specific account-selection policy respecting a daily cap and an
// inter-join delay.
package invite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/retry"
	"github.com/ingestlab/telecorpus/pkg/session"
	"github.com/ingestlab/telecorpus/pkg/store"
)

var hashPattern = regexp.MustCompile(`[A-Za-z0-9_-]+$`)

// NormalizeLink reduces any of the link shapes the Extractor or an
// operator might hand in (https://t.me/+HASH, https://t.me/joinchat/HASH,
// t.me/+HASH, or a bare hash) to a canonical link and invite_hash pair.
func NormalizeLink(link string) (normalizedLink, hash string) {
	trimmed := strings.TrimSpace(link)
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimPrefix(trimmed, "t.me/")
	trimmed = strings.TrimPrefix(trimmed, "+")
	trimmed = strings.TrimPrefix(trimmed, "joinchat/")

	hash = hashPattern.FindString(trimmed)
	if hash == "" {
		hash = trimmed
	}
	return "https://t.me/+" + hash, hash
}

// Resolver implements spec.md §4.K's `resolve(link)`.
type Resolver struct {
	store *store.Store
	log   zerolog.Logger
}

func NewResolver(st *store.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: st, log: log.With().Str("component", "invite_resolver").Logger()}
}

// Discover records a newly observed invite link (e.g. from an
// Extractor invite_link Detection) without resolving it yet, the way
// spec.md §6.3's `create(link)` command does.
func (r *Resolver) Discover(ctx context.Context, link string, source model.InviteSource) (int64, store.UpsertOutcome, error) {
	normalized, hash := NormalizeLink(link)
	return r.store.Invites.Insert(ctx, model.Invite{Link: normalized, InviteHash: hash, Source: source})
}

// Resolve previews invite_id through sess, updates its preview fields
// and status, and returns the refreshed row. Retries of Temporary
// upstream errors already happen inside sess.ResolveInvite (every
// session RPC call is routed through pkg/retry); Resolve only needs to
// classify whatever error survives that wrapper.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, inviteID int64) (*store.InviteRow, error) {
	inv, err := r.store.Invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("loading invite %d: %w", inviteID, err)
	}

	preview, err := sess.ResolveInvite(ctx, inv.InviteHash)
	if err != nil {
		status := statusForResolveError(err)
		if incErr := r.store.Invites.IncrementRetry(ctx, inviteID); incErr != nil {
			r.log.Err(incErr).Int64("invite_id", inviteID).Msg("incrementing invite retry count")
		}
		if setErr := r.store.Invites.SetStatus(ctx, inviteID, status); setErr != nil {
			r.log.Err(setErr).Int64("invite_id", inviteID).Msg("setting invite status after resolve failure")
		}
		return nil, err
	}

	status := model.InviteStatusPending
	switch {
	case preview.AlreadyJoined:
		status = model.InviteStatusAlreadyJoined
	case preview.Private:
		status = model.InviteStatusPrivate
	}

	modelPreview := model.InvitePreview{
		Title:       preview.Title,
		About:       preview.About,
		MemberCount: preview.MemberCount,
		PhotoRef:    preview.PhotoRef,
		IsChannel:   preview.IsChannel,
	}
	if err := r.store.Invites.SetPreview(ctx, inviteID, modelPreview, status); err != nil {
		return nil, fmt.Errorf("saving invite preview %d: %w", inviteID, err)
	}
	return r.store.Invites.GetByID(ctx, inviteID)
}

// statusForResolveError maps a pkg/retry.ClassifiedError surfaced after
// exhausting the retry wrapper to the Invite.status taxonomy (spec.md
// §4.K: "Status codes map to Invite.status").
func statusForResolveError(err error) model.InviteStatus {
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
