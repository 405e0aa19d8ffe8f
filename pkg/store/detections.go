package store

import (
	"context"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectDetectionColumns = `id, message_id, detector_id, matched_text, detection_type, normalized_value,
		context_before, context_after, created_at`

	listDetectionsForMessageQuery = `
		SELECT ` + selectDetectionColumns + ` FROM detection WHERE message_id=$1 ORDER BY id
	`

	insertDetectionQuery = `
		INSERT INTO detection (message_id, detector_id, matched_text, detection_type, normalized_value, context_before, context_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id, detector_id, matched_text) DO NOTHING
	`
)

type DetectionQuery struct {
	*dbutil.QueryHelper[*DetectionRow]
}

type DetectionRow struct {
	qh *dbutil.QueryHelper[*DetectionRow]
	model.Detection
}

var _ dbutil.DataStruct[*DetectionRow] = (*DetectionRow)(nil)

func newDetectionRow(qh *dbutil.QueryHelper[*DetectionRow]) *DetectionRow {
	return &DetectionRow{qh: qh}
}

func (d *DetectionRow) Scan(row dbutil.Scannable) (*DetectionRow, error) {
	err := row.Scan(
		&d.ID, &d.MessageID, &d.DetectorID, &d.MatchedText, &d.Type, &d.NormalizedValue,
		&d.ContextBefore, &d.ContextAfter, &d.CreatedAt,
	)
	return d, err
}

func (q *DetectionQuery) ListForMessage(ctx context.Context, messageID int64) ([]*DetectionRow, error) {
	return q.QueryMany(ctx, listDetectionsForMessageQuery, messageID)
}

// InsertBatch writes every detection the Extractor produced for one
// message, walking them in chunks of batchSize. Each detection is its
// own single-row INSERT statement; no multi-row INSERT is issued, so
// there is one round trip per detection. Duplicate
// (message_id, detector_id, matched_text) triples are silently skipped —
// re-running extraction over an already-processed message is a no-op.
func (q *DetectionQuery) InsertBatch(ctx context.Context, batchSize int, detections []model.Detection) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(detections); start += batchSize {
		end := start + batchSize
		if end > len(detections) {
			end = len(detections)
		}
		for _, d := range detections[start:end] {
			if err := q.Exec(ctx, insertDetectionQuery, d.MessageID, d.DetectorID, d.MatchedText, d.Type, d.NormalizedValue, d.ContextBefore, d.ContextAfter); err != nil {
				return err
			}
		}
	}
	return nil
}
