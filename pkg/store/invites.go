package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectInviteColumns = `id, link, invite_hash, status, retry_count, title, about, member_count,
		photo_ref, is_channel, source_group_id, source_user_id`

	getInviteByIDQuery   = `SELECT ` + selectInviteColumns + ` FROM invite WHERE id=$1`
	getInviteByLinkQuery = `SELECT ` + selectInviteColumns + ` FROM invite WHERE link=$1`
	listPendingInvitesQuery = `
		SELECT ` + selectInviteColumns + ` FROM invite WHERE status='pending' ORDER BY id LIMIT $1
	`

	insertInviteQuery = `
		INSERT INTO invite (link, invite_hash, status, source_group_id, source_user_id)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (link) DO NOTHING
		RETURNING ` + selectInviteColumns

	setInvitePreviewQuery = `
		UPDATE invite SET title=$2, about=$3, member_count=$4, photo_ref=$5, is_channel=$6, status=$7 WHERE id=$1
	`
	setInviteStatusQuery = `UPDATE invite SET status=$2 WHERE id=$1`
	incrementInviteRetryQuery = `UPDATE invite SET retry_count = retry_count + 1 WHERE id=$1`
)

type InviteQuery struct {
	*dbutil.QueryHelper[*InviteRow]
}

type InviteRow struct {
	qh *dbutil.QueryHelper[*InviteRow]
	model.Invite
}

var _ dbutil.DataStruct[*InviteRow] = (*InviteRow)(nil)

func newInviteRow(qh *dbutil.QueryHelper[*InviteRow]) *InviteRow {
	return &InviteRow{qh: qh}
}

func (i *InviteRow) Scan(row dbutil.Scannable) (*InviteRow, error) {
	var sourceGroup, sourceUser sql.NullInt64
	err := row.Scan(
		&i.ID, &i.Link, &i.InviteHash, &i.Status, &i.RetryCount, &i.Preview.Title, &i.Preview.About,
		&i.Preview.MemberCount, &i.Preview.PhotoRef, &i.Preview.IsChannel, &sourceGroup, &sourceUser,
	)
	if err != nil {
		return i, err
	}
	if sourceGroup.Valid {
		v := sourceGroup.Int64
		i.Source.GroupID = &v
	}
	if sourceUser.Valid {
		v := sourceUser.Int64
		i.Source.UserID = &v
	}
	return i, nil
}

func (q *InviteQuery) GetByID(ctx context.Context, id int64) (*InviteRow, error) {
	return q.QueryOne(ctx, getInviteByIDQuery, id)
}

func (q *InviteQuery) GetByLink(ctx context.Context, link string) (*InviteRow, error) {
	row, err := q.QueryOne(ctx, getInviteByLinkQuery, link)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *InviteQuery) ListPending(ctx context.Context, limit int) ([]*InviteRow, error) {
	return q.QueryMany(ctx, listPendingInvitesQuery, limit)
}

// Insert implements spec.md §4.K's discovery path: an invite link found by
// the Extractor (`new_detection` of type invite_link) is recorded once,
// with its discovery source for provenance.
func (q *InviteQuery) Insert(ctx context.Context, in model.Invite) (int64, UpsertOutcome, error) {
	var sourceGroup, sourceUser any
	if in.Source.GroupID != nil {
		sourceGroup = *in.Source.GroupID
	}
	if in.Source.UserID != nil {
		sourceUser = *in.Source.UserID
	}
	inserted, err := q.QueryOne(ctx, insertInviteQuery, in.Link, in.InviteHash, sourceGroup, sourceUser)
	if err == nil {
		return inserted.ID, OutcomeInserted, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}
	existing, err := q.GetByLink(ctx, in.Link)
	if err != nil {
		return 0, 0, err
	}
	return existing.ID, OutcomeExisted, nil
}

// SetPreview records the result of spec.md §4.K's `resolve(invite)`
// operation and transitions status accordingly (e.g. to
// already_joined/private/invalid without ever attempting a join).
func (q *InviteQuery) SetPreview(ctx context.Context, id int64, preview model.InvitePreview, status model.InviteStatus) error {
	return q.Exec(ctx, setInvitePreviewQuery, id, preview.Title, preview.About, preview.MemberCount, preview.PhotoRef, preview.IsChannel, status)
}

func (q *InviteQuery) SetStatus(ctx context.Context, id int64, status model.InviteStatus) error {
	return q.Exec(ctx, setInviteStatusQuery, id, status)
}

func (q *InviteQuery) IncrementRetry(ctx context.Context, id int64) error {
	return q.Exec(ctx, incrementInviteRetryQuery, id)
}
