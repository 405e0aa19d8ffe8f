package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectMediaFileColumns = `id, message_id, file_type, file_path, file_size, mime, width, height,
		duration_seconds, content_hash, perceptual_hash, download_attempts, last_download_attempt,
		download_error_category, validation_status, processing_status, processing_priority, duplicate_detection_method`

	getMediaByIDQuery        = `SELECT ` + selectMediaFileColumns + ` FROM media_file WHERE id=$1`
	getMediaByMessageIDQuery = `SELECT ` + selectMediaFileColumns + ` FROM media_file WHERE message_id=$1`
	getMediaByContentHashQuery = `SELECT ` + selectMediaFileColumns + ` FROM media_file WHERE content_hash=$1 LIMIT 1`
	listMediaPendingQuery    = `
		SELECT ` + selectMediaFileColumns + ` FROM media_file
		WHERE processing_status IN ('pending', 'queued')
		ORDER BY processing_priority DESC, id ASC
		LIMIT $1
	`
	listMediaFailedForRetryQuery = `
		SELECT ` + selectMediaFileColumns + ` FROM media_file
		WHERE processing_status='failed' AND download_attempts < $1
		ORDER BY last_download_attempt ASC
		LIMIT $2
	`
	listMediaWithPerceptualHashQuery = `
		SELECT ` + selectMediaFileColumns + ` FROM media_file WHERE perceptual_hash IS NOT NULL AND id != $1
	`

	// insertMediaQuery implements the nil→hashed merge semantics: a media
	// row may first be discovered with no content_hash (queued before
	// download), then later re-observed once downloaded and hashed. The
	// conflict branch only overwrites content_hash/perceptual_hash when
	// the incoming value is non-null, so a later nil observation can
	// never erase a hash already recorded.
	insertMediaQuery = `
		INSERT INTO media_file (message_id, file_type, file_path, file_size, mime, width, height,
			duration_seconds, content_hash, perceptual_hash, validation_status, processing_status, processing_priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (message_id) DO UPDATE SET
			file_path        = CASE WHEN EXCLUDED.file_path != '' THEN EXCLUDED.file_path ELSE media_file.file_path END,
			content_hash     = COALESCE(EXCLUDED.content_hash, media_file.content_hash),
			perceptual_hash  = COALESCE(EXCLUDED.perceptual_hash, media_file.perceptual_hash),
			file_size        = CASE WHEN EXCLUDED.file_size > 0 THEN EXCLUDED.file_size ELSE media_file.file_size END
		RETURNING ` + selectMediaFileColumns

	recordDownloadAttemptQuery = `
		UPDATE media_file SET
			download_attempts = download_attempts + 1,
			last_download_attempt = now(),
			download_error_category = $2
		WHERE id=$1
	`

	setMediaPathAndHashQuery = `
		UPDATE media_file SET file_path=$2, file_size=$3, content_hash=$4, validation_status=$5, duplicate_detection_method=$6 WHERE id=$1
	`

	setMediaPerceptualHashQuery = `UPDATE media_file SET perceptual_hash=$2, duplicate_detection_method=$3 WHERE id=$1`

	setMediaProcessingStatusQuery = `UPDATE media_file SET processing_status=$2 WHERE id=$1`
)

type MediaFileQuery struct {
	*dbutil.QueryHelper[*MediaFileRow]
}

type MediaFileRow struct {
	qh *dbutil.QueryHelper[*MediaFileRow]
	model.MediaFile
}

var _ dbutil.DataStruct[*MediaFileRow] = (*MediaFileRow)(nil)

func newMediaFileRow(qh *dbutil.QueryHelper[*MediaFileRow]) *MediaFileRow {
	return &MediaFileRow{qh: qh}
}

func (m *MediaFileRow) Scan(row dbutil.Scannable) (*MediaFileRow, error) {
	var perceptualHash sql.NullInt64
	var lastAttempt sql.NullTime
	err := row.Scan(
		&m.ID, &m.MessageID, &m.FileType, &m.FilePath, &m.FileSize, &m.MIME, &m.Width, &m.Height,
		&m.DurationSeconds, &m.ContentHash, &perceptualHash, &m.DownloadAttempts, &lastAttempt,
		&m.DownloadErrorCategory, &m.ValidationStatus, &m.ProcessingStatus, &m.ProcessingPriority, &m.DuplicateDetectionMethod,
	)
	if err != nil {
		return m, err
	}
	if perceptualHash.Valid {
		// perceptual_hash is a BIGINT (int8) column; averageHash packs a
		// full 64-bit pattern whose MSB is set for about half of all
		// hashes, so the value is bit-cast rather than range-converted
		// to round-trip losslessly through the signed column.
		v := uint64(perceptualHash.Int64)
		m.PerceptualHash = &v
	}
	m.LastDownloadAttempt = lastAttempt.Time
	return m, nil
}

func (q *MediaFileQuery) GetByID(ctx context.Context, id int64) (*MediaFileRow, error) {
	return q.QueryOne(ctx, getMediaByIDQuery, id)
}

func (q *MediaFileQuery) GetByMessageID(ctx context.Context, messageID int64) (*MediaFileRow, error) {
	row, err := q.QueryOne(ctx, getMediaByMessageIDQuery, messageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// GetByContentHash implements spec.md §4.G step 5's exact-hash dedup
// lookup: "before writing a downloaded file, check for an existing
// media_file with the same content_hash".
func (q *MediaFileQuery) GetByContentHash(ctx context.Context, hash []byte) (*MediaFileRow, error) {
	row, err := q.QueryOne(ctx, getMediaByContentHashQuery, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *MediaFileQuery) ListPending(ctx context.Context, limit int) ([]*MediaFileRow, error) {
	return q.QueryMany(ctx, listMediaPendingQuery, limit)
}

func (q *MediaFileQuery) ListFailedForRetry(ctx context.Context, maxAttempts, limit int) ([]*MediaFileRow, error) {
	return q.QueryMany(ctx, listMediaFailedForRetryQuery, maxAttempts, limit)
}

// ListWithPerceptualHash returns every other completed image MediaFile
// carrying a perceptual hash, for the near-duplicate scan spec.md §4.G
// step 7 describes ("within Hamming distance ≤ T of an existing
// perceptual_hash"). A full scan is adequate at this corpus's scale; an
// indexed nearest-neighbor structure would only pay for itself once the
// image count is large enough to matter, which isn't named anywhere in
// the spec as a requirement.
func (q *MediaFileQuery) ListWithPerceptualHash(ctx context.Context, excludeID int64) ([]*MediaFileRow, error) {
	return q.QueryMany(ctx, listMediaWithPerceptualHashQuery, excludeID)
}

func (q *MediaFileQuery) Upsert(ctx context.Context, m model.MediaFile) (*MediaFileRow, error) {
	var contentHash any
	if len(m.ContentHash) > 0 {
		contentHash = m.ContentHash
	}
	var perceptualHash any
	if m.PerceptualHash != nil {
		// Bit-cast, not a range conversion: pgx's int8 encoder rejects a
		// uint64 above math.MaxInt64, which averageHash produces for
		// about half of all 64-bit hashes (MSB set). int64(uint64) keeps
		// the same bit pattern and Scan above reverses it with
		// uint64(int64).
		perceptualHash = int64(*m.PerceptualHash)
	}
	return q.QueryOne(ctx, insertMediaQuery,
		m.MessageID, m.FileType, m.FilePath, m.FileSize, m.MIME, m.Width, m.Height,
		m.DurationSeconds, contentHash, perceptualHash, m.ValidationStatus, m.ProcessingStatus, m.ProcessingPriority,
	)
}

func (q *MediaFileQuery) RecordDownloadAttempt(ctx context.Context, id int64, errorCategory string) error {
	return q.Exec(ctx, recordDownloadAttemptQuery, id, errorCategory)
}

func (q *MediaFileQuery) SetPathAndHash(ctx context.Context, id int64, path string, size int64, hash []byte, status model.ValidationStatus, dup model.DuplicateMethod) error {
	return q.Exec(ctx, setMediaPathAndHashQuery, id, path, size, hash, status, dup)
}

func (q *MediaFileQuery) SetPerceptualHash(ctx context.Context, id int64, hash uint64, method model.DuplicateMethod) error {
	// int64(hash) bit-casts rather than range-converts, see Upsert's
	// perceptualHash handling above.
	return q.Exec(ctx, setMediaPerceptualHashQuery, id, int64(hash), method)
}

func (q *MediaFileQuery) SetProcessingStatus(ctx context.Context, id int64, status model.ProcessingStatus) error {
	return q.Exec(ctx, setMediaProcessingStatusQuery, id, status)
}
