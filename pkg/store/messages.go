package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectMessageColumns = `id, dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, view_count, forward_count, reactions, media_type`

	insertMessageQuery = `
		INSERT INTO message (dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, view_count, forward_count, reactions, media_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dialog_id, upstream_message_id) DO NOTHING
		RETURNING ` + selectMessageColumns

	getMessageByKeyQuery = `SELECT ` + selectMessageColumns + ` FROM message WHERE dialog_id=$1 AND upstream_message_id=$2`
	getMessageByIDQuery  = `SELECT ` + selectMessageColumns + ` FROM message WHERE id=$1`

	updateMessageStatsQuery = `UPDATE message SET view_count=$1, forward_count=$2, reactions=$3 WHERE id=$4`

	updateMessageTextQuery = `UPDATE message SET text=$1 WHERE id=$2`
)

type MessageQuery struct {
	*dbutil.QueryHelper[*MessageRow]
}

type MessageRow struct {
	qh *dbutil.QueryHelper[*MessageRow]
	model.Message
}

var _ dbutil.DataStruct[*MessageRow] = (*MessageRow)(nil)

func newMessageRow(qh *dbutil.QueryHelper[*MessageRow]) *MessageRow {
	return &MessageRow{qh: qh}
}

func (m *MessageRow) Scan(row dbutil.Scannable) (*MessageRow, error) {
	var reactions []byte
	err := row.Scan(
		&m.ID, &m.DialogID, &m.UpstreamMessageID, &m.SenderID, &m.Date, &m.Text,
		&m.ReplyTo, &m.GroupedID, &m.ViewCount, &m.ForwardCount, &reactions, &m.MediaType,
	)
	if err != nil {
		return m, err
	}
	if len(reactions) > 0 {
		if jerr := json.Unmarshal(reactions, &m.Reactions); jerr != nil {
			return m, jerr
		}
	}
	return m, nil
}

// Upsert implements spec.md §4.A's `upsert_message(M) → {inserted |
// existed}`: the unique key is (dialog_id, upstream_message_id); on
// conflict the existing row is left untouched and OutcomeExisted is
// returned with that row's surrogate id.
func (q *MessageQuery) Upsert(ctx context.Context, msg model.Message) (int64, UpsertOutcome, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return 0, 0, fmt.Errorf("marshaling reactions: %w", err)
	}
	inserted, err := q.QueryOne(ctx, insertMessageQuery,
		msg.DialogID, msg.UpstreamMessageID, msg.SenderID, msg.Date, msg.Text,
		msg.ReplyTo, msg.GroupedID, msg.ViewCount, msg.ForwardCount, reactions, msg.MediaType,
	)
	if err == nil {
		return inserted.ID, OutcomeInserted, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}
	existing, err := q.GetByKey(ctx, msg.DialogID, msg.UpstreamMessageID)
	if err != nil {
		return 0, 0, err
	}
	return existing.ID, OutcomeExisted, nil
}

func (q *MessageQuery) GetByKey(ctx context.Context, dialogID, upstreamMessageID int64) (*MessageRow, error) {
	return q.QueryOne(ctx, getMessageByKeyQuery, dialogID, upstreamMessageID)
}

// GetByID loads a message by its surrogate key, used by pkg/media to map
// a MediaFile back to the dialog (and owning session) it belongs to.
func (q *MessageQuery) GetByID(ctx context.Context, id int64) (*MessageRow, error) {
	row, err := q.QueryOne(ctx, getMessageByIDQuery, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// UpdateText overwrites an existing message's text, used by pkg/listener
// when a message_edit event arrives for a row upsert_message left
// untouched (spec.md §4.E step 2 treats an edit as a content update, not
// a new insert).
func (q *MessageQuery) UpdateText(ctx context.Context, id int64, text string) error {
	return q.Exec(ctx, updateMessageTextQuery, text, id)
}

// RefreshStats updates the derived view/forward/reaction counters a
// periodic scan may refresh, per spec.md §3 ("reactions/views may be
// refreshed by periodic scans").
func (q *MessageQuery) RefreshStats(ctx context.Context, id int64, views, forwards int, reactions map[string]int) error {
	data, err := json.Marshal(reactions)
	if err != nil {
		return err
	}
	return q.Exec(ctx, updateMessageStatsQuery, views, forwards, data, id)
}
