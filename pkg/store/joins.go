package store

import (
	"context"
	"database/sql"
	"time"

	"go.mau.fi/util/dbutil"
)

const (
	recordAccountJoinQuery = `
		INSERT INTO account_join_log (account_id, invite_id) VALUES ($1, $2)
	`
	countAccountJoinsSinceQuery = `
		SELECT count(*) FROM account_join_log WHERE account_id=$1 AND joined_at >= $2
	`
	lastAccountJoinAtQuery = `
		SELECT max(joined_at) FROM account_join_log WHERE account_id=$1
	`
)

// JoinLogQuery backs the AutoJoiner's rotation and daily-cap policy
// (spec.md §4.K): "least-recent-joined among enabled", "per-account
// daily join count". It isn't a dbutil.QueryHelper-wrapped row type
// like the rest of the store because account_join_log has no natural
// "current row" shape to hand back — callers only ever want aggregates
// (a count or a max) over it.
type JoinLogQuery struct {
	db *dbutil.Database
}

func newJoinLogQuery(db *dbutil.Database) *JoinLogQuery {
	return &JoinLogQuery{db: db}
}

// Record appends a join event, the way spec.md §4.K's `join(invite_id,
// policy)` commits on success.
func (q *JoinLogQuery) Record(ctx context.Context, accountID, inviteID int64) error {
	_, err := q.db.Exec(ctx, recordAccountJoinQuery, accountID, inviteID)
	return err
}

// CountSince returns how many times accountID has joined at or after
// since, for the "per-account daily join count" cap.
func (q *JoinLogQuery) CountSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, countAccountJoinsSinceQuery, accountID, since).Scan(&n)
	return n, err
}

// LastJoinedAt returns the most recent join time for accountID, and
// false if the account has never joined anything — used for the
// rotation policy's "least-recent-joined among enabled" tie-break
// (never-joined accounts sort first).
func (q *JoinLogQuery) LastJoinedAt(ctx context.Context, accountID int64) (time.Time, bool, error) {
	var t sql.NullTime
	err := q.db.QueryRow(ctx, lastAccountJoinAtQuery, accountID).Scan(&t)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.Time, t.Valid, nil
}
