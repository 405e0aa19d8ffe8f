package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectDetectorColumns = `id, name, pattern, category, priority, is_builtin, is_active`

	listActiveDetectorsQuery = `SELECT ` + selectDetectorColumns + ` FROM detector WHERE is_active=true ORDER BY priority DESC, id`
	getDetectorByNameQuery   = `SELECT ` + selectDetectorColumns + ` FROM detector WHERE name=$1`

	insertDetectorQuery = `
		INSERT INTO detector (name, pattern, category, priority, is_builtin, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (name) DO UPDATE SET pattern=EXCLUDED.pattern, category=EXCLUDED.category, priority=EXCLUDED.priority
		RETURNING ` + selectDetectorColumns

	setDetectorActiveQuery = `UPDATE detector SET is_active=$2 WHERE id=$1`
)

type DetectorQuery struct {
	*dbutil.QueryHelper[*DetectorRow]
}

type DetectorRow struct {
	qh *dbutil.QueryHelper[*DetectorRow]
	model.Detector
}

var _ dbutil.DataStruct[*DetectorRow] = (*DetectorRow)(nil)

func newDetectorRow(qh *dbutil.QueryHelper[*DetectorRow]) *DetectorRow {
	return &DetectorRow{qh: qh}
}

func (d *DetectorRow) Scan(row dbutil.Scannable) (*DetectorRow, error) {
	err := row.Scan(&d.ID, &d.Name, &d.Pattern, &d.Category, &d.Priority, &d.IsBuiltin, &d.IsActive)
	return d, err
}

func (q *DetectorQuery) ListActive(ctx context.Context) ([]*DetectorRow, error) {
	return q.QueryMany(ctx, listActiveDetectorsQuery)
}

func (q *DetectorQuery) GetByName(ctx context.Context, name string) (*DetectorRow, error) {
	row, err := q.QueryOne(ctx, getDetectorByNameQuery, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// Register seeds a builtin or custom detector at startup (spec.md §4.I's
// registry), upserting on name so restarts don't duplicate builtins.
func (q *DetectorQuery) Register(ctx context.Context, d model.Detector) (*DetectorRow, error) {
	return q.QueryOne(ctx, insertDetectorQuery, d.Name, d.Pattern, d.Category, d.Priority, d.IsBuiltin)
}

func (q *DetectorQuery) SetActive(ctx context.Context, id int64, active bool) error {
	return q.Exec(ctx, setDetectorActiveQuery, id, active)
}
