// Package store is the Persistence Adapter (spec.md §4.A, §6.1). It wraps
// go.mau.fi/util/dbutil the way the teacher's pkg/store/container.go does —
// a *dbutil.Database plus one dbutil.QueryHelper-backed query object per
// entity — backed here by Postgres via github.com/jackc/pgx/v5's stdlib
// adapter (jackc/pgx/v5 is grounded on codeready-toolchain-tarsy, the only
// pack repo that names a concrete Postgres driver).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.mau.fi/util/dbutil"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store is the root persistence handle. One is constructed by pkg/engine
// and passed by reference to every component that writes or reads rows —
// there is no package-level database singleton (spec.md §9 design note).
type Store struct {
	*dbutil.Database

	Accounts        *AccountQuery
	Dialogs         *DialogQuery
	Messages        *MessageQuery
	Users           *UserQuery
	IdentityChanges *IdentityChangeQuery
	Memberships     *MembershipQuery
	Media           *MediaFileQuery
	ProfilePhotos   *ProfilePhotoQuery
	Stories         *StoryQuery
	Invites         *InviteQuery
	Detectors       *DetectorQuery
	Detections      *DetectionQuery
	JoinLog         *JoinLogQuery

	// BatchSize bounds multi-row insert batches (spec.md §4.A: "batch size
	// is bounded (default 500) to keep transaction time < 1s").
	BatchSize int
}

// Open connects to dsn and wraps it as a *Store, running pending
// migrations. dsn uses the pgx stdlib driver name ("pgx") registered by
// the blank import above.
func Open(ctx context.Context, dsn string, maxOpenConns int, log dbutil.DatabaseLogger) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	db, err := dbutil.NewWithDB(sqlDB, "pgx")
	if err != nil {
		return nil, fmt.Errorf("wrapping database: %w", err)
	}
	db = db.Child("ingest_version", Upgrades, log)

	s := &Store{Database: db, BatchSize: 500}
	s.Accounts = &AccountQuery{dbutil.MakeQueryHelper(db, newAccount)}
	s.Dialogs = &DialogQuery{dbutil.MakeQueryHelper(db, newDialogRow)}
	s.Messages = &MessageQuery{dbutil.MakeQueryHelper(db, newMessageRow)}
	s.Users = &UserQuery{dbutil.MakeQueryHelper(db, newUserRow)}
	s.IdentityChanges = &IdentityChangeQuery{dbutil.MakeQueryHelper(db, newIdentityChangeRow)}
	s.Memberships = &MembershipQuery{dbutil.MakeQueryHelper(db, newMembershipRow)}
	s.Media = &MediaFileQuery{dbutil.MakeQueryHelper(db, newMediaFileRow)}
	s.ProfilePhotos = &ProfilePhotoQuery{dbutil.MakeQueryHelper(db, newProfilePhotoRow)}
	s.Stories = &StoryQuery{dbutil.MakeQueryHelper(db, newStoryRow)}
	s.Invites = &InviteQuery{dbutil.MakeQueryHelper(db, newInviteRow)}
	s.Detectors = &DetectorQuery{dbutil.MakeQueryHelper(db, newDetectorRow)}
	s.Detections = &DetectionQuery{dbutil.MakeQueryHelper(db, newDetectionRow)}
	s.JoinLog = newJoinLogQuery(db)

	if err := s.Database.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// UpsertOutcome is the result of an idempotent insert-or-noop, matching
// spec.md §4.A's `{inserted | existed}` contract.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeExisted
)

// withSerializationRetry retries fn up to 3x on serialization failures
// (spec.md §4.A "all writes retried at most 3× on serialization errors");
// any other error is wrapped as PersistenceError by the caller.
func withSerializationRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

// isSerializationFailure recognizes Postgres serialization_failure
// (SQLSTATE 40001) and deadlock_detected (40P01) by substring, avoiding a
// hard dependency on pgconn error internals in this package's public
// surface.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"40001", "40P01", "serialization failure", "deadlock detected"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
