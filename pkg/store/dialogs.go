package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectDialogColumns = `id, upstream_id, type, title, username, member_count, photo_ref,
		assigned_account, status, download_media, ocr_enabled, backfill_enabled, is_monitoring,
		last_message_id_seen, backfill_frontier, last_member_scrape_at, last_error`

	getDialogByIDQuery         = `SELECT ` + selectDialogColumns + ` FROM dialog WHERE id=$1`
	getDialogByUpstreamIDQuery = `SELECT ` + selectDialogColumns + ` FROM dialog WHERE upstream_id=$1`
	listMonitoredDialogsQuery  = `SELECT ` + selectDialogColumns + ` FROM dialog WHERE status='active' AND assigned_account IS NOT NULL`
	listDialogsByAccountQuery  = `SELECT ` + selectDialogColumns + ` FROM dialog WHERE assigned_account=$1`
	listScrapableGroupsQuery   = `
		SELECT ` + selectDialogColumns + ` FROM dialog
		WHERE status='active' AND assigned_account IS NOT NULL AND type IN ('group', 'supergroup')
		ORDER BY id ASC
	`

	insertDialogQuery = `
		INSERT INTO dialog (upstream_id, type, title, username, member_count, photo_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (upstream_id) DO NOTHING
		RETURNING ` + selectDialogColumns

	assignDialogQuery = `
		UPDATE dialog SET assigned_account=$2, status='active' WHERE id=$1
	`
	unassignDialogQuery = `
		UPDATE dialog SET assigned_account=NULL, status='inactive', is_monitoring=false WHERE id=$1
	`
	setDialogStatusQuery = `UPDATE dialog SET status=$2, last_error=$3 WHERE id=$1`
	setDialogFlagsQuery  = `
		UPDATE dialog SET download_media=$2, ocr_enabled=$3, backfill_enabled=$4 WHERE id=$1
	`
	setDialogMonitoringQuery = `UPDATE dialog SET is_monitoring=$2 WHERE id=$1`
	advanceBackfillCursorQuery = `
		UPDATE dialog SET backfill_frontier=$2 WHERE id=$1
	`
	advanceLiveCursorQuery = `
		UPDATE dialog SET last_message_id_seen=$2 WHERE id=$1 AND last_message_id_seen < $2
	`
	touchMemberScrapeQuery = `UPDATE dialog SET last_member_scrape_at=now() WHERE id=$1`
)

type DialogQuery struct {
	*dbutil.QueryHelper[*DialogRow]
}

type DialogRow struct {
	qh *dbutil.QueryHelper[*DialogRow]
	model.Dialog
}

var _ dbutil.DataStruct[*DialogRow] = (*DialogRow)(nil)

func newDialogRow(qh *dbutil.QueryHelper[*DialogRow]) *DialogRow {
	return &DialogRow{qh: qh}
}

func (d *DialogRow) Scan(row dbutil.Scannable) (*DialogRow, error) {
	var assignedAccount sql.NullInt64
	var lastScrape sql.NullTime
	err := row.Scan(
		&d.ID, &d.UpstreamID, &d.Type, &d.Title, &d.Username, &d.MemberCount, &d.PhotoRef,
		&assignedAccount, &d.Status, &d.Flags.DownloadMedia, &d.Flags.OCREnabled, &d.Flags.BackfillEnabled, &d.Flags.IsMonitoring,
		&d.Cursors.LastMessageIDSeen, &d.Cursors.BackfillFrontier, &lastScrape, &d.LastError,
	)
	if err != nil {
		return d, err
	}
	if assignedAccount.Valid {
		v := assignedAccount.Int64
		d.AssignedAccount = &v
	}
	d.Cursors.LastMemberScrapeAt = lastScrape.Time
	return d, nil
}

func (q *DialogQuery) GetByID(ctx context.Context, id int64) (*DialogRow, error) {
	return q.QueryOne(ctx, getDialogByIDQuery, id)
}

func (q *DialogQuery) GetByUpstreamID(ctx context.Context, upstreamID int64) (*DialogRow, error) {
	row, err := q.QueryOne(ctx, getDialogByUpstreamIDQuery, upstreamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *DialogQuery) ListMonitored(ctx context.Context) ([]*DialogRow, error) {
	return q.QueryMany(ctx, listMonitoredDialogsQuery)
}

func (q *DialogQuery) ListByAccount(ctx context.Context, accountID int64) ([]*DialogRow, error) {
	return q.QueryMany(ctx, listDialogsByAccountQuery, accountID)
}

// ListScrapableGroups returns every active, assigned group/supergroup
// dialog — channels are excluded per spec.md §4.H ("channels skipped,
// API forbids listing members").
func (q *DialogQuery) ListScrapableGroups(ctx context.Context) ([]*DialogRow, error) {
	return q.QueryMany(ctx, listScrapableGroupsQuery)
}

// Upsert discovers a dialog from a dialog-listing sweep. New dialogs start
// inactive and unassigned per spec.md §4.D.
func (q *DialogQuery) Upsert(ctx context.Context, d model.Dialog) (int64, UpsertOutcome, error) {
	inserted, err := q.QueryOne(ctx, insertDialogQuery, d.UpstreamID, d.Type, d.Title, d.Username, d.MemberCount, d.PhotoRef)
	if err == nil {
		return inserted.ID, OutcomeInserted, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}
	existing, err := q.GetByUpstreamID(ctx, d.UpstreamID)
	if err != nil {
		return 0, 0, err
	}
	return existing.ID, OutcomeExisted, nil
}

// Assign implements spec.md §4.D's `assign(dialog, account)`: it is
// idempotent — assigning an already-assigned dialog to the same account is
// a no-op observed as an unchanged row, matching invariant 3's
// Dialog→Account 1:1 ownership.
func (q *DialogQuery) Assign(ctx context.Context, dialogID, accountID int64) error {
	return q.Exec(ctx, assignDialogQuery, dialogID, accountID)
}

func (q *DialogQuery) Unassign(ctx context.Context, dialogID int64) error {
	return q.Exec(ctx, unassignDialogQuery, dialogID)
}

func (q *DialogQuery) SetStatus(ctx context.Context, dialogID int64, status model.DialogStatus, lastError string) error {
	return q.Exec(ctx, setDialogStatusQuery, dialogID, status, lastError)
}

func (q *DialogQuery) SetFlags(ctx context.Context, dialogID int64, flags model.DialogFlags) error {
	return q.Exec(ctx, setDialogFlagsQuery, dialogID, flags.DownloadMedia, flags.OCREnabled, flags.BackfillEnabled)
}

func (q *DialogQuery) SetMonitoring(ctx context.Context, dialogID int64, monitoring bool) error {
	return q.Exec(ctx, setDialogMonitoringQuery, dialogID, monitoring)
}

// AdvanceBackfillCursor persists the resumable backfill_frontier cursor
// (spec.md §4.F invariant: "backfill cursor survives process restart").
func (q *DialogQuery) AdvanceBackfillCursor(ctx context.Context, dialogID, frontier int64) error {
	return q.Exec(ctx, advanceBackfillCursorQuery, dialogID, frontier)
}

// AdvanceLiveCursor only moves last_message_id_seen forward, never
// backward, guarding against out-of-order live delivery.
func (q *DialogQuery) AdvanceLiveCursor(ctx context.Context, dialogID, messageID int64) error {
	return q.Exec(ctx, advanceLiveCursorQuery, dialogID, messageID)
}

func (q *DialogQuery) TouchMemberScrape(ctx context.Context, dialogID int64) error {
	return q.Exec(ctx, touchMemberScrapeQuery, dialogID)
}
