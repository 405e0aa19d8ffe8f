package store

import (
	"context"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectIdentityChangeColumns = `id, user_id, field, old_value, new_value, changed_at`

	insertIdentityChangeQuery = `
		INSERT INTO identity_change (user_id, field, old_value, new_value)
		VALUES ($1, $2, $3, $4)
	`

	listIdentityChangesForUserQuery = `
		SELECT ` + selectIdentityChangeColumns + ` FROM identity_change WHERE user_id=$1 ORDER BY changed_at DESC
	`
)

type IdentityChangeQuery struct {
	*dbutil.QueryHelper[*IdentityChangeRow]
}

type IdentityChangeRow struct {
	qh *dbutil.QueryHelper[*IdentityChangeRow]
	model.IdentityChange
}

var _ dbutil.DataStruct[*IdentityChangeRow] = (*IdentityChangeRow)(nil)

func newIdentityChangeRow(qh *dbutil.QueryHelper[*IdentityChangeRow]) *IdentityChangeRow {
	return &IdentityChangeRow{qh: qh}
}

func (r *IdentityChangeRow) Scan(row dbutil.Scannable) (*IdentityChangeRow, error) {
	err := row.Scan(&r.ID, &r.UserID, &r.Field, &r.OldValue, &r.NewValue, &r.ChangedAt)
	return r, err
}

// Append records one identity mutation, per spec.md §4.A's merge policy
// invoked from UserQuery.Upsert inside the same transaction as, and
// before, the user row update; an Append error aborts that update.
func (q *IdentityChangeQuery) Append(ctx context.Context, userID int64, field model.IdentityField, oldValue, newValue string) error {
	return q.Exec(ctx, insertIdentityChangeQuery, userID, field, oldValue, newValue)
}

func (q *IdentityChangeQuery) ListForUser(ctx context.Context, userID int64) ([]*IdentityChangeRow, error) {
	return q.QueryMany(ctx, listIdentityChangesForUserQuery, userID)
}
