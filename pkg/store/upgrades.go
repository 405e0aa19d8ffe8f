package store

import (
	"context"

	"go.mau.fi/util/dbutil"
)

// Upgrades establishes every table and unique constraint spec.md §6.1
// requires before any write path executes, the way the teacher's
// pkg/store/upgrades.Table does for its own schema.
//
// The message/detection GIN indexes are built against the 'spanish'
// text search configuration, matching Config.Search.FTSLanguage's
// default ("es", spec.md §6.5). pkg/store/search.go's queries tag
// to_tsvector/plainto_tsquery with whatever language is configured at
// runtime via ftsRegconfig; a deployment that overrides FTSLanguage away
// from the index's language still gets correct results, just without
// the index (Postgres only uses a functional GIN index when the query
// expression matches it exactly).
var Upgrades dbutil.UpgradeTable

func init() {
	Upgrades = dbutil.NewUpgradeTable()

	Upgrades.Register(0, 1, "Initial schema", dbutil.ForwardOnlyUpgrade, func(ctx context.Context, db *dbutil.Database) error {
		_, err := db.Exec(ctx, `
			CREATE TABLE account (
				id                 BIGSERIAL PRIMARY KEY,
				phone              TEXT NOT NULL,
				credentials_id     BIGINT NOT NULL,
				credentials_hash   TEXT NOT NULL,
				session_blob       BYTEA,
				status             TEXT NOT NULL DEFAULT 'new',
				proxy_type         TEXT,
				proxy_host         TEXT,
				proxy_port         INTEGER,
				proxy_user         TEXT,
				proxy_pass         TEXT,
				messages_collected BIGINT NOT NULL DEFAULT 0,
				errors_count       BIGINT NOT NULL DEFAULT 0,
				last_activity      TIMESTAMPTZ,
				flood_wait_until   TIMESTAMPTZ,
				last_error         TEXT NOT NULL DEFAULT '',
				autojoin_enabled   BOOLEAN NOT NULL DEFAULT true,
				UNIQUE (phone)
			);

			CREATE TABLE dialog (
				id                      BIGSERIAL PRIMARY KEY,
				upstream_id             BIGINT NOT NULL UNIQUE,
				type                    TEXT NOT NULL,
				title                   TEXT NOT NULL DEFAULT '',
				username                TEXT NOT NULL DEFAULT '',
				member_count            INTEGER NOT NULL DEFAULT 0,
				photo_ref               TEXT NOT NULL DEFAULT '',
				assigned_account        BIGINT REFERENCES account(id),
				status                  TEXT NOT NULL DEFAULT 'inactive',
				download_media          BOOLEAN NOT NULL DEFAULT false,
				ocr_enabled             BOOLEAN NOT NULL DEFAULT false,
				backfill_enabled        BOOLEAN NOT NULL DEFAULT true,
				is_monitoring           BOOLEAN NOT NULL DEFAULT false,
				last_message_id_seen    BIGINT NOT NULL DEFAULT 0,
				backfill_frontier       BIGINT NOT NULL DEFAULT 0,
				last_member_scrape_at   TIMESTAMPTZ,
				last_error              TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE telegram_user (
				id              BIGSERIAL PRIMARY KEY,
				upstream_id     BIGINT NOT NULL UNIQUE,
				username        TEXT NOT NULL DEFAULT '',
				first_name      TEXT NOT NULL DEFAULT '',
				last_name       TEXT NOT NULL DEFAULT '',
				phone           TEXT NOT NULL DEFAULT '',
				bio             TEXT NOT NULL DEFAULT '',
				is_bot          BOOLEAN NOT NULL DEFAULT false,
				is_verified     BOOLEAN NOT NULL DEFAULT false,
				is_premium      BOOLEAN NOT NULL DEFAULT false,
				is_scam         BOOLEAN NOT NULL DEFAULT false,
				is_fake         BOOLEAN NOT NULL DEFAULT false,
				is_restricted   BOOLEAN NOT NULL DEFAULT false,
				is_deleted      BOOLEAN NOT NULL DEFAULT false,
				has_stories     BOOLEAN NOT NULL DEFAULT false,
				last_seen       TIMESTAMPTZ,
				current_photo_ref TEXT NOT NULL DEFAULT '',
				messages_count  BIGINT NOT NULL DEFAULT 0
			);

			CREATE TABLE identity_change (
				id          BIGSERIAL PRIMARY KEY,
				user_id     BIGINT NOT NULL REFERENCES telegram_user(id),
				field       TEXT NOT NULL,
				old_value   TEXT NOT NULL DEFAULT '',
				new_value   TEXT NOT NULL DEFAULT '',
				changed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE membership (
				user_id      BIGINT NOT NULL REFERENCES telegram_user(id),
				dialog_id    BIGINT NOT NULL REFERENCES dialog(id),
				joined_at    TIMESTAMPTZ,
				is_admin     BOOLEAN NOT NULL DEFAULT false,
				admin_title  TEXT NOT NULL DEFAULT '',
				is_active    BOOLEAN NOT NULL DEFAULT true,
				leave_reason TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (user_id, dialog_id)
			);

			CREATE TABLE message (
				id                  BIGSERIAL PRIMARY KEY,
				dialog_id           BIGINT NOT NULL REFERENCES dialog(id),
				upstream_message_id BIGINT NOT NULL,
				sender_id           BIGINT,
				date                TIMESTAMPTZ NOT NULL,
				text                TEXT NOT NULL DEFAULT '',
				reply_to            BIGINT,
				grouped_id          BIGINT,
				view_count          INTEGER NOT NULL DEFAULT 0,
				forward_count       INTEGER NOT NULL DEFAULT 0,
				reactions           JSONB NOT NULL DEFAULT '{}',
				media_type          TEXT NOT NULL DEFAULT '',
				UNIQUE (dialog_id, upstream_message_id)
			);
			CREATE INDEX message_text_fts ON message USING GIN (to_tsvector('spanish', text));

			CREATE TABLE media_file (
				id                         BIGSERIAL PRIMARY KEY,
				message_id                 BIGINT NOT NULL UNIQUE REFERENCES message(id),
				file_type                  TEXT NOT NULL,
				file_path                  TEXT NOT NULL DEFAULT '',
				file_size                  BIGINT NOT NULL DEFAULT 0,
				mime                       TEXT NOT NULL DEFAULT '',
				width                      INTEGER NOT NULL DEFAULT 0,
				height                     INTEGER NOT NULL DEFAULT 0,
				duration_seconds           DOUBLE PRECISION NOT NULL DEFAULT 0,
				content_hash               BYTEA,
				perceptual_hash            BIGINT,
				download_attempts          INTEGER NOT NULL DEFAULT 0,
				last_download_attempt      TIMESTAMPTZ,
				download_error_category    TEXT NOT NULL DEFAULT '',
				validation_status          TEXT NOT NULL DEFAULT 'pending',
				processing_status          TEXT NOT NULL DEFAULT 'pending',
				processing_priority        INTEGER NOT NULL DEFAULT 0,
				duplicate_detection_method TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX media_file_content_hash ON media_file (content_hash);
			CREATE INDEX media_file_processing_status ON media_file (processing_status);

			CREATE TABLE profile_photo (
				id                BIGSERIAL PRIMARY KEY,
				user_id           BIGINT NOT NULL REFERENCES telegram_user(id),
				upstream_photo_id BIGINT NOT NULL,
				is_current        BOOLEAN NOT NULL DEFAULT false,
				is_video          BOOLEAN NOT NULL DEFAULT false,
				captured_at       TIMESTAMPTZ,
				file_path         TEXT NOT NULL DEFAULT '',
				UNIQUE (user_id, upstream_photo_id)
			);

			CREATE TABLE story (
				id                BIGSERIAL PRIMARY KEY,
				user_id           BIGINT NOT NULL REFERENCES telegram_user(id),
				upstream_story_id BIGINT NOT NULL,
				file_path         TEXT NOT NULL DEFAULT '',
				expires_at        TIMESTAMPTZ,
				views_count       INTEGER NOT NULL DEFAULT 0,
				is_pinned         BOOLEAN NOT NULL DEFAULT false,
				UNIQUE (user_id, upstream_story_id)
			);

			CREATE TABLE invite (
				id          BIGSERIAL PRIMARY KEY,
				link        TEXT NOT NULL UNIQUE,
				invite_hash TEXT NOT NULL,
				status      TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				title       TEXT NOT NULL DEFAULT '',
				about       TEXT NOT NULL DEFAULT '',
				member_count INTEGER NOT NULL DEFAULT 0,
				photo_ref   TEXT NOT NULL DEFAULT '',
				is_channel  BOOLEAN NOT NULL DEFAULT false,
				source_group_id BIGINT,
				source_user_id  BIGINT
			);

			CREATE TABLE account_join_log (
				id         BIGSERIAL PRIMARY KEY,
				account_id BIGINT NOT NULL REFERENCES account(id),
				invite_id  BIGINT NOT NULL REFERENCES invite(id),
				joined_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX account_join_log_account_id ON account_join_log (account_id, joined_at);

			CREATE TABLE detector (
				id         BIGSERIAL PRIMARY KEY,
				name       TEXT NOT NULL UNIQUE,
				pattern    TEXT NOT NULL,
				category   TEXT NOT NULL DEFAULT '',
				priority   INTEGER NOT NULL DEFAULT 0,
				is_builtin BOOLEAN NOT NULL DEFAULT false,
				is_active  BOOLEAN NOT NULL DEFAULT true
			);

			CREATE TABLE detection (
				id               BIGSERIAL PRIMARY KEY,
				message_id       BIGINT NOT NULL REFERENCES message(id),
				detector_id      BIGINT NOT NULL REFERENCES detector(id),
				matched_text     TEXT NOT NULL,
				detection_type   TEXT NOT NULL,
				normalized_value TEXT NOT NULL DEFAULT '',
				context_before   TEXT NOT NULL DEFAULT '',
				context_after    TEXT NOT NULL DEFAULT '',
				created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (message_id, detector_id, matched_text)
			);
			CREATE INDEX detection_matched_text_fts ON detection USING GIN (to_tsvector('spanish', matched_text || ' ' || context_before || ' ' || context_after));
		`)
		return err
	})
}
