package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectProfilePhotoColumns = `id, user_id, upstream_photo_id, is_current, is_video, captured_at, file_path`

	getCurrentProfilePhotoQuery = `
		SELECT ` + selectProfilePhotoColumns + ` FROM profile_photo WHERE user_id=$1 AND is_current=true
	`

	insertProfilePhotoQuery = `
		INSERT INTO profile_photo (user_id, upstream_photo_id, is_current, is_video, captured_at, file_path)
		VALUES ($1, $2, false, $3, $4, '')
		ON CONFLICT (user_id, upstream_photo_id) DO NOTHING
		RETURNING ` + selectProfilePhotoColumns

	getProfilePhotoByKeyQuery = `
		SELECT ` + selectProfilePhotoColumns + ` FROM profile_photo WHERE user_id=$1 AND upstream_photo_id=$2
	`

	clearCurrentProfilePhotoQuery = `UPDATE profile_photo SET is_current=false WHERE user_id=$1 AND is_current=true`
	setCurrentProfilePhotoQuery   = `UPDATE profile_photo SET is_current=true WHERE id=$1`
	setProfilePhotoFilePathQuery  = `UPDATE profile_photo SET file_path=$2 WHERE id=$1`
)

type ProfilePhotoQuery struct {
	*dbutil.QueryHelper[*ProfilePhotoRow]
}

type ProfilePhotoRow struct {
	qh *dbutil.QueryHelper[*ProfilePhotoRow]
	model.ProfilePhoto
}

var _ dbutil.DataStruct[*ProfilePhotoRow] = (*ProfilePhotoRow)(nil)

func newProfilePhotoRow(qh *dbutil.QueryHelper[*ProfilePhotoRow]) *ProfilePhotoRow {
	return &ProfilePhotoRow{qh: qh}
}

func (p *ProfilePhotoRow) Scan(row dbutil.Scannable) (*ProfilePhotoRow, error) {
	var capturedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.UpstreamPhotoID, &p.IsCurrent, &p.IsVideo, &capturedAt, &p.FilePath)
	p.CapturedAt = capturedAt.Time
	return p, err
}

func (q *ProfilePhotoQuery) GetCurrent(ctx context.Context, userID int64) (*ProfilePhotoRow, error) {
	row, err := q.QueryOne(ctx, getCurrentProfilePhotoQuery, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *ProfilePhotoQuery) GetByKey(ctx context.Context, userID, upstreamPhotoID int64) (*ProfilePhotoRow, error) {
	row, err := q.QueryOne(ctx, getProfilePhotoByKeyQuery, userID, upstreamPhotoID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *ProfilePhotoQuery) Insert(ctx context.Context, p model.ProfilePhoto) (int64, UpsertOutcome, error) {
	inserted, err := q.QueryOne(ctx, insertProfilePhotoQuery, p.UserID, p.UpstreamPhotoID, p.IsVideo, p.CapturedAt)
	if err == nil {
		return inserted.ID, OutcomeInserted, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}
	existing, err := q.GetByKey(ctx, p.UserID, p.UpstreamPhotoID)
	if err != nil {
		return 0, 0, err
	}
	return existing.ID, OutcomeExisted, nil
}

// SetCurrent implements the is_current flip required by spec.md §4.H's
// profile-photo scanner: exactly one profile_photo row per user has
// is_current=true at any time. Callers needing atomicity across
// concurrent scanners should wrap this in a *Store-level transaction.
func (q *ProfilePhotoQuery) SetCurrent(ctx context.Context, userID, photoID int64) error {
	if err := q.Exec(ctx, clearCurrentProfilePhotoQuery, userID); err != nil {
		return err
	}
	return q.Exec(ctx, setCurrentProfilePhotoQuery, photoID)
}

func (q *ProfilePhotoQuery) SetFilePath(ctx context.Context, id int64, path string) error {
	return q.Exec(ctx, setProfilePhotoFilePathQuery, id, path)
}
