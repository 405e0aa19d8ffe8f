package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectMembershipColumns = `user_id, dialog_id, joined_at, is_admin, admin_title, is_active, leave_reason`

	getMembershipQuery = `SELECT ` + selectMembershipColumns + ` FROM membership WHERE user_id=$1 AND dialog_id=$2`

	upsertMembershipQuery = `
		INSERT INTO membership (user_id, dialog_id, joined_at, is_admin, admin_title, is_active, leave_reason)
		VALUES ($1, $2, $3, $4, $5, true, '')
		ON CONFLICT (user_id, dialog_id) DO UPDATE SET
			is_admin = EXCLUDED.is_admin, admin_title = EXCLUDED.admin_title, is_active = true, leave_reason = ''
	`

	markMembershipLeftQuery = `
		UPDATE membership SET is_active=false, leave_reason=$3 WHERE user_id=$1 AND dialog_id=$2
	`

	listActiveMembershipsByDialogQuery = `
		SELECT ` + selectMembershipColumns + ` FROM membership WHERE dialog_id=$1 AND is_active=true
	`
)

type MembershipQuery struct {
	*dbutil.QueryHelper[*MembershipRow]
}

type MembershipRow struct {
	qh *dbutil.QueryHelper[*MembershipRow]
	model.Membership
}

var _ dbutil.DataStruct[*MembershipRow] = (*MembershipRow)(nil)

func newMembershipRow(qh *dbutil.QueryHelper[*MembershipRow]) *MembershipRow {
	return &MembershipRow{qh: qh}
}

func (m *MembershipRow) Scan(row dbutil.Scannable) (*MembershipRow, error) {
	var joinedAt sql.NullTime
	err := row.Scan(&m.UserID, &m.DialogID, &joinedAt, &m.IsAdmin, &m.AdminTitle, &m.IsActive, &m.LeaveReason)
	m.JoinedAt = joinedAt.Time
	return m, err
}

func (q *MembershipQuery) Get(ctx context.Context, userID, dialogID int64) (*MembershipRow, error) {
	row, err := q.QueryOne(ctx, getMembershipQuery, userID, dialogID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// Upsert records or refreshes a membership discovered by the member
// scraper (spec.md §4.H), re-activating a previously departed member.
func (q *MembershipQuery) Upsert(ctx context.Context, m model.Membership) error {
	return q.Exec(ctx, upsertMembershipQuery, m.UserID, m.DialogID, m.JoinedAt, m.IsAdmin, m.AdminTitle)
}

// MarkLeft flags a membership inactive when a scrape no longer observes
// the member, per spec.md §4.H's "members no longer present are marked
// inactive, not deleted".
func (q *MembershipQuery) MarkLeft(ctx context.Context, userID, dialogID int64, reason string) error {
	return q.Exec(ctx, markMembershipLeftQuery, userID, dialogID, reason)
}

// ListActiveByDialog returns every membership the last scrape observed
// as present, for the Member Scraper to diff the newly observed
// participant set against (anyone missing from the new set gets
// MarkLeft).
func (q *MembershipQuery) ListActiveByDialog(ctx context.Context, dialogID int64) ([]*MembershipRow, error) {
	return q.QueryMany(ctx, listActiveMembershipsByDialogQuery, dialogID)
}
