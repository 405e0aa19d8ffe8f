package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlab/telecorpus/pkg/retry"
)

func TestClassifyMapsEveryRetryErrorKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"auth required", &retry.AuthRequiredError{Reason: "code expired"}, KindAuthRequired},
		{"invalid 2fa", &retry.Invalid2FAError{}, KindInvalid2FA},
		{"session banned", &retry.SessionBannedError{AccountID: 1, Reason: "spam"}, KindSessionBanned},
		{"rate limit", &retry.RateLimitError{Seconds: 30}, KindRateLimit},
		{"temporary", &retry.TemporaryError{Cause: errors.New("timeout")}, KindTemporary},
		{"permanent", &retry.PermanentError{Cause: errors.New("bad request")}, KindPermanent},
		{"not found", &retry.NotFoundError{What: "dialog 5"}, KindNotFound},
		{"permission denied", &retry.PermissionDeniedError{What: "channel"}, KindPermissionDenied},
		{"validation failed", &retry.ValidationFailedError{What: "phone"}, KindValidationFailed},
		{"persistence", &retry.PersistenceError{Cause: errors.New("conn reset")}, KindPersistence},
		{"unknown error defaults to internal", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestClassifyUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("loading account: %w", &retry.NotFoundError{What: "account 9"})
	assert.Equal(t, KindNotFound, classify(wrapped))
}

func TestFailBuildsResultFromErrorKindAndMessage(t *testing.T) {
	res := fail(&retry.RateLimitError{Seconds: 5})
	assert.False(t, res.OK)
	assert.Equal(t, KindRateLimit, res.Kind)
	assert.Equal(t, "rate limited for 5s", res.Error)
	assert.Nil(t, res.Value)
}

func TestOkBuildsResultWithValue(t *testing.T) {
	res := ok(42)
	assert.True(t, res.OK)
	assert.Equal(t, 42, res.Value)
	assert.Empty(t, res.Kind)
	assert.Empty(t, res.Error)
}

func TestValidateDialogOptionsAcceptsKnownFields(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	err = v.ValidateDialogOptions(DialogOptions{DownloadMedia: true, OCREnabled: true})
	assert.NoError(t, err)
}

func TestValidateAutojoinPolicyRejectsUnknownMode(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	err = v.ValidateAutojoinPolicy(JoinNowPolicy{Mode: "bogus", Actions: []string{"monitor"}})
	assert.Error(t, err)
}

func TestValidateAutojoinPolicyRejectsUnknownAction(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	err = v.ValidateAutojoinPolicy(JoinNowPolicy{Mode: "rotation", Actions: []string{"delete_everything"}})
	assert.Error(t, err)
}

func TestValidateAutojoinPolicyAcceptsRotationWithActions(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	err = v.ValidateAutojoinPolicy(JoinNowPolicy{Mode: "rotation", Actions: []string{"monitor", "backfill"}})
	assert.NoError(t, err)
}

func TestValidateAutojoinPolicyRequiresMode(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	err = v.ValidateAutojoinPolicy(JoinNowPolicy{Actions: []string{"monitor"}})
	assert.Error(t, err)
}
