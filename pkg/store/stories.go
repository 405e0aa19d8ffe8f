package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectStoryColumns = `id, user_id, upstream_story_id, file_path, expires_at, views_count, is_pinned`

	getStoryByKeyQuery = `SELECT ` + selectStoryColumns + ` FROM story WHERE user_id=$1 AND upstream_story_id=$2`
	listActiveStoriesQuery = `
		SELECT ` + selectStoryColumns + ` FROM story WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > now())
	`

	insertStoryQuery = `
		INSERT INTO story (user_id, upstream_story_id, expires_at, views_count, is_pinned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, upstream_story_id) DO UPDATE SET
			views_count = EXCLUDED.views_count, is_pinned = EXCLUDED.is_pinned
		RETURNING ` + selectStoryColumns

	setStoryFilePathQuery = `UPDATE story SET file_path=$2 WHERE id=$1`
)

type StoryQuery struct {
	*dbutil.QueryHelper[*StoryRow]
}

type StoryRow struct {
	qh *dbutil.QueryHelper[*StoryRow]
	model.Story
}

var _ dbutil.DataStruct[*StoryRow] = (*StoryRow)(nil)

func newStoryRow(qh *dbutil.QueryHelper[*StoryRow]) *StoryRow {
	return &StoryRow{qh: qh}
}

func (s *StoryRow) Scan(row dbutil.Scannable) (*StoryRow, error) {
	var expiresAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.UpstreamStoryID, &s.FilePath, &expiresAt, &s.ViewsCount, &s.IsPinned)
	s.ExpiresAt = expiresAt.Time
	return s, err
}

func (q *StoryQuery) GetByKey(ctx context.Context, userID, upstreamStoryID int64) (*StoryRow, error) {
	row, err := q.QueryOne(ctx, getStoryByKeyQuery, userID, upstreamStoryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *StoryQuery) ListActive(ctx context.Context, userID int64) ([]*StoryRow, error) {
	return q.QueryMany(ctx, listActiveStoriesQuery, userID)
}

// Upsert records a story observed by the story scanner (spec.md §4.H),
// refreshing its view count and pin state on every scan pass.
func (q *StoryQuery) Upsert(ctx context.Context, s model.Story) (*StoryRow, error) {
	return q.QueryOne(ctx, insertStoryQuery, s.UserID, s.UpstreamStoryID, s.ExpiresAt, s.ViewsCount, s.IsPinned)
}

func (q *StoryQuery) SetFilePath(ctx context.Context, id int64, path string) error {
	return q.Exec(ctx, setStoryFilePathQuery, id, path)
}
