//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

// TestStoreAgainstRealPostgres exercises the upsert/merge-policy contracts
// spec.md §4.A describes against a real database, the way
// codeready-toolchain-tarsy's integration suite spins up its dependencies —
// gated behind the "integration" build tag since it needs Docker.
func TestStoreAgainstRealPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("telecorpus_test"),
		postgres.WithUsername("telecorpus"),
		postgres.WithPassword("telecorpus"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn, 5, dbutil.ZeroLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	dialogID, outcome, err := s.Dialogs.Upsert(ctx, model.Dialog{UpstreamID: 1001, Type: model.DialogTypeGroup, Title: "Test Group"})
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	msgID, outcome, err := s.Messages.Upsert(ctx, model.Message{DialogID: dialogID, UpstreamMessageID: 42, Date: time.Now(), Text: "hello world"})
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	dupeID, outcome, err := s.Messages.Upsert(ctx, model.Message{DialogID: dialogID, UpstreamMessageID: 42, Date: time.Now(), Text: "edited text should not apply"})
	require.NoError(t, err)
	require.Equal(t, OutcomeExisted, outcome)
	require.Equal(t, msgID, dupeID)

	uid, outcome, err := s.Users.Upsert(ctx, s.IdentityChanges, model.User{UpstreamID: 777, Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	_, outcome, err = s.Users.Upsert(ctx, s.IdentityChanges, model.User{UpstreamID: 777, Username: "alice2"})
	require.NoError(t, err)
	require.Equal(t, OutcomeExisted, outcome)

	changes, err := s.IdentityChanges.ListForUser(ctx, uid)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, model.FieldUsername, changes[0].Field)
	require.Equal(t, "alice", changes[0].OldValue)
	require.Equal(t, "alice2", changes[0].NewValue)

	results, err := s.SearchMessages(ctx, "hello", 10, "simple", true)
	require.NoError(t, err)
	require.Len(t, results, 1)
}
