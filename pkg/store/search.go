package store

import (
	"context"
	"strings"
)

const (
	searchMessagesFTSQuery = `
		SELECT id, dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id,
			view_count, forward_count, reactions, media_type
		FROM message
		WHERE to_tsvector($3::regconfig, text) @@ plainto_tsquery($3::regconfig, $1)
		ORDER BY date DESC
		LIMIT $2
	`
	searchMessagesSubstringQuery = `
		SELECT id, dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id,
			view_count, forward_count, reactions, media_type
		FROM message
		WHERE text ILIKE $1
		ORDER BY date DESC
		LIMIT $2
	`

	searchDetectionsFTSQuery = `
		SELECT ` + selectDetectionColumns + `
		FROM detection
		WHERE to_tsvector($3::regconfig, matched_text || ' ' || context_before || ' ' || context_after) @@ plainto_tsquery($3::regconfig, $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	searchDetectionsSubstringQuery = `
		SELECT ` + selectDetectionColumns + `
		FROM detection
		WHERE matched_text ILIKE $1 OR normalized_value ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	searchUsersFTSQuery = `
		SELECT ` + selectUserColumns + `
		FROM telegram_user
		WHERE to_tsvector($3::regconfig, coalesce(username,'') || ' ' || coalesce(first_name,'') || ' ' || coalesce(last_name,'') || ' ' || coalesce(phone,'')) @@ plainto_tsquery($3::regconfig, $1)
		ORDER BY id DESC
		LIMIT $2
	`
	searchUsersSubstringQuery = `
		SELECT ` + selectUserColumns + `
		FROM telegram_user
		WHERE username ILIKE $1 OR first_name ILIKE $1 OR last_name ILIKE $1 OR phone ILIKE $1
		ORDER BY id DESC
		LIMIT $2
	`
)

// ftsRegconfig maps Config.Search.FTSLanguage (spec.md §6.5's
// SEARCH_FTS_LANGUAGE[es]) to a Postgres text search configuration name.
// Unrecognized/empty values fall back to 'simple' (no stemming) rather
// than erroring the search path over a config typo.
func ftsRegconfig(lang string) string {
	switch strings.ToLower(lang) {
	case "es", "spanish":
		return "spanish"
	case "en", "english":
		return "english"
	case "", "simple":
		return "simple"
	default:
		return "simple"
	}
}

// SearchMessages implements the Command API's search surface (spec.md
// §6.3): a full-text query against message.text, using Postgres's GIN
// tsvector index language-tagged per Config.Search.FTSLanguage (spec.md
// §6.1, §6.5). It falls back to a substring ILIKE scan — on zero FTS
// rows, or on an FTS query error (e.g. a malformed tsquery) — when
// Config.Search.FallbackToSubstring is enabled, the policy spec.md §4.A
// describes.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int, lang string, fallbackToSubstring bool) ([]*MessageRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Messages.QueryMany(ctx, searchMessagesFTSQuery, query, limit, ftsRegconfig(lang))
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if err != nil && !fallbackToSubstring {
		return nil, err
	}
	if err == nil && !fallbackToSubstring {
		return rows, nil
	}
	return s.Messages.QueryMany(ctx, searchMessagesSubstringQuery, "%"+escapeLike(query)+"%", limit)
}

// SearchDetections runs the same full-text-with-substring-fallback
// strategy over detection matched_text/context, used by the Command API
// to find prior hits of a given normalized value (e.g. an email address)
// across dialogs.
func (s *Store) SearchDetections(ctx context.Context, query string, limit int, lang string, fallbackToSubstring bool) ([]*DetectionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Detections.QueryMany(ctx, searchDetectionsFTSQuery, query, limit, ftsRegconfig(lang))
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if err != nil && !fallbackToSubstring {
		return nil, err
	}
	if err == nil && !fallbackToSubstring {
		return rows, nil
	}
	return s.Detections.QueryMany(ctx, searchDetectionsSubstringQuery, "%"+escapeLike(query)+"%", limit)
}

// SearchUsers completes the search surface's `types ⊂ {messages, users,
// detections}` over telegram_user's username/name/phone fields, same
// FTS-with-substring-fallback policy as SearchMessages.
func (s *Store) SearchUsers(ctx context.Context, query string, limit int, lang string, fallbackToSubstring bool) ([]*UserRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Users.QueryMany(ctx, searchUsersFTSQuery, query, limit, ftsRegconfig(lang))
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if err != nil && !fallbackToSubstring {
		return nil, err
	}
	if err == nil && !fallbackToSubstring {
		return rows, nil
	}
	return s.Users.QueryMany(ctx, searchUsersSubstringQuery, "%"+escapeLike(query)+"%", limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ReconcileCounters recomputes Account.messages_collected from an actual
// COUNT(*) over message/dialog, correcting the drift the eagerly
// incremented counter (AccountQuery.IncrementCounters) can accumulate
// after a crash mid-transaction. This is the "derived, best-effort
// counters" path recorded as an Open Question decision: exact counts are
// available on demand, but the hot path never pays for them.
func (s *Store) ReconcileCounters(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := s.QueryRow(ctx, `
		SELECT count(*) FROM message m JOIN dialog d ON d.id = m.dialog_id WHERE d.assigned_account = $1
	`, accountID).Scan(&count)
	if err != nil {
		return 0, err
	}
	if _, err := s.Exec(ctx, `UPDATE account SET messages_collected=$2 WHERE id=$1`, accountID, count); err != nil {
		return 0, err
	}
	return count, nil
}
