package store

import (
	"context"
	"database/sql"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectUserColumns = `id, upstream_id, username, first_name, last_name, phone, bio, is_bot, is_verified, is_premium, is_scam, is_fake, is_restricted, is_deleted, has_stories, last_seen, current_photo_ref, messages_count`

	getUserByUpstreamIDQuery = `SELECT ` + selectUserColumns + ` FROM telegram_user WHERE upstream_id=$1`

	listUsersAfterQuery = `
		SELECT ` + selectUserColumns + ` FROM telegram_user WHERE id > $1 ORDER BY id ASC LIMIT $2
	`
	listUsersWithStoriesAfterQuery = `
		SELECT ` + selectUserColumns + ` FROM telegram_user WHERE has_stories=true AND id > $1 ORDER BY id ASC LIMIT $2
	`

	insertUserQuery = `
		INSERT INTO telegram_user (upstream_id, username, first_name, last_name, phone, bio, is_bot, is_verified, is_premium, is_scam, is_fake, is_restricted, is_deleted, has_stories, last_seen, current_photo_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (upstream_id) DO NOTHING
		RETURNING ` + selectUserColumns

	updateUserQuery = `
		UPDATE telegram_user SET
			username=$2, first_name=$3, last_name=$4, phone=$5, bio=$6,
			is_bot=$7, is_verified=$8, is_premium=$9, is_scam=$10, is_fake=$11,
			is_restricted=$12, is_deleted=$13, has_stories=$14, last_seen=$15, current_photo_ref=$16
		WHERE id=$1
	`
)

type UserQuery struct {
	*dbutil.QueryHelper[*UserRow]
}

type UserRow struct {
	qh *dbutil.QueryHelper[*UserRow]
	model.User
}

var _ dbutil.DataStruct[*UserRow] = (*UserRow)(nil)

func newUserRow(qh *dbutil.QueryHelper[*UserRow]) *UserRow {
	return &UserRow{qh: qh}
}

func (u *UserRow) Scan(row dbutil.Scannable) (*UserRow, error) {
	var lastSeen sql.NullTime
	err := row.Scan(
		&u.ID, &u.UpstreamID, &u.Username, &u.FirstName, &u.LastName, &u.Phone, &u.Bio,
		&u.Flags.Bot, &u.Flags.Verified, &u.Flags.Premium, &u.Flags.Scam, &u.Flags.Fake,
		&u.Flags.Restricted, &u.Flags.Deleted, &u.Flags.HasStories, &lastSeen, &u.CurrentPhotoRef, &u.MessagesCount,
	)
	u.LastSeen = lastSeen.Time
	return u, err
}

func (q *UserQuery) GetByUpstreamID(ctx context.Context, upstreamID int64) (*UserRow, error) {
	row, err := q.QueryOne(ctx, getUserByUpstreamIDQuery, upstreamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// ListAfter pages through every user ordered by surrogate id, for the
// Profile-Photo Scanner's full sweep (spec.md §4.H: "every N hours over
// all users"). Callers pass the last id seen to get the next page.
func (q *UserQuery) ListAfter(ctx context.Context, after int64, limit int) ([]*UserRow, error) {
	return q.QueryMany(ctx, listUsersAfterQuery, after, limit)
}

// ListWithStoriesAfter pages through users with has_stories=true, for
// the Story Scanner's narrower sweep (spec.md §4.H: "users where
// has_stories=true").
func (q *UserQuery) ListWithStoriesAfter(ctx context.Context, after int64, limit int) ([]*UserRow, error) {
	return q.QueryMany(ctx, listUsersWithStoriesAfterQuery, after, limit)
}

// identityFields are the attributes whose changes spec.md §4.A's merge
// policy appends to IdentityChange before the user row is updated.
type identityDiff struct {
	field              model.IdentityField
	oldValue, newValue string
}

// Upsert implements spec.md §4.A's `upsert_user(U, merge_policy)`: the
// conflict key is the upstream user id. Changes to
// {username, first_name, last_name, phone} append an IdentityChange row
// with old/new values inside the same transaction before the user row is
// updated, matching invariant 10 (spec.md §8).
func (q *UserQuery) Upsert(ctx context.Context, identities *IdentityChangeQuery, u model.User) (int64, UpsertOutcome, error) {
	inserted, err := q.QueryOne(ctx, insertUserQuery,
		u.UpstreamID, u.Username, u.FirstName, u.LastName, u.Phone, u.Bio,
		u.Flags.Bot, u.Flags.Verified, u.Flags.Premium, u.Flags.Scam, u.Flags.Fake,
		u.Flags.Restricted, u.Flags.Deleted, u.Flags.HasStories, nullableTime(u.LastSeen), u.CurrentPhotoRef,
	)
	if err == nil {
		return inserted.ID, OutcomeInserted, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}

	existing, err := q.GetByUpstreamID(ctx, u.UpstreamID)
	if err != nil {
		return 0, 0, err
	}

	diffs := diffIdentity(existing.User, u)
	err = q.GetDB().DoTxn(ctx, nil, func(ctx context.Context) error {
		for _, d := range diffs {
			if err := identities.Append(ctx, existing.ID, d.field, d.oldValue, d.newValue); err != nil {
				return err
			}
		}
		return q.Exec(ctx, updateUserQuery,
			existing.ID, u.Username, u.FirstName, u.LastName, u.Phone, u.Bio,
			u.Flags.Bot, u.Flags.Verified, u.Flags.Premium, u.Flags.Scam, u.Flags.Fake,
			u.Flags.Restricted, u.Flags.Deleted, u.Flags.HasStories, nullableTime(u.LastSeen), u.CurrentPhotoRef,
		)
	})
	if err != nil {
		return 0, 0, err
	}
	return existing.ID, OutcomeExisted, nil
}

func diffIdentity(old, next model.User) []identityDiff {
	var diffs []identityDiff
	if old.Username != next.Username {
		diffs = append(diffs, identityDiff{model.FieldUsername, old.Username, next.Username})
	}
	if old.FirstName != next.FirstName {
		diffs = append(diffs, identityDiff{model.FieldFirstName, old.FirstName, next.FirstName})
	}
	if old.LastName != next.LastName {
		diffs = append(diffs, identityDiff{model.FieldLastName, old.LastName, next.LastName})
	}
	if old.Phone != next.Phone {
		diffs = append(diffs, identityDiff{model.FieldPhone, old.Phone, next.Phone})
	}
	return diffs
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
