package invite

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/retry"
)

func TestNormalizeLinkHandlesEveryShape(t *testing.T) {
	cases := []struct {
		name string
		in   string
		hash string
	}{
		{"plus_link", "https://t.me/+AbC123_-", "AbC123_-"},
		{"joinchat_link", "https://t.me/joinchat/AbC123", "AbC123"},
		{"bare_host_plus", "t.me/+AbC123", "AbC123"},
		{"bare_hash", "AbC123", "AbC123"},
		{"http_scheme", "http://t.me/+AbC123", "AbC123"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			link, hash := NormalizeLink(c.in)
			assert.Equal(t, c.hash, hash)
			assert.Equal(t, "https://t.me/+"+c.hash, link)
		})
	}
}

func TestStatusForResolveErrorMapsNotFoundAndPermissionDenied(t *testing.T) {
	assert.Equal(t, model.InviteStatusInvalid, statusForResolveError(&retry.NotFoundError{What: "invite"}))
	assert.Equal(t, model.InviteStatusPrivate, statusForResolveError(&retry.PermissionDeniedError{What: "invite"}))
	assert.Equal(t, model.InviteStatusFailed, statusForResolveError(errors.New("boom")))
}

func TestStatusForJoinErrorMapsNotFoundAndPermissionDenied(t *testing.T) {
	assert.Equal(t, model.InviteStatusInvalid, statusForJoinError(&retry.NotFoundError{What: "invite"}))
	assert.Equal(t, model.InviteStatusPrivate, statusForJoinError(&retry.PermissionDeniedError{What: "invite"}))
	assert.Equal(t, model.InviteStatusFailed, statusForJoinError(errors.New("boom")))
}

func TestSelectAccountPrefersNeverJoinedOverAnyPriorJoin(t *testing.T) {
	now := time.Now()
	candidates := []joinCandidate{
		{accountID: 1, lastJoinedAt: now.Add(-1 * time.Hour), hasJoinedBefore: true},
		{accountID: 2},
	}
	id, _, ok := selectAccount(candidates, 20, 5*time.Minute, now)
	assert.True(t, ok)
	assert.EqualValues(t, 2, id)
}

func TestSelectAccountPicksLeastRecentlyJoined(t *testing.T) {
	now := time.Now()
	candidates := []joinCandidate{
		{accountID: 1, lastJoinedAt: now.Add(-1 * time.Hour), hasJoinedBefore: true},
		{accountID: 2, lastJoinedAt: now.Add(-2 * time.Hour), hasJoinedBefore: true},
	}
	id, _, ok := selectAccount(candidates, 20, 5*time.Minute, now)
	assert.True(t, ok)
	assert.EqualValues(t, 2, id)
}

func TestSelectAccountSkipsAccountInsideInterJoinDelay(t *testing.T) {
	now := time.Now()
	candidates := []joinCandidate{
		{accountID: 1, lastJoinedAt: now.Add(-1 * time.Minute), hasJoinedBefore: true},
	}
	_, wait, ok := selectAccount(candidates, 20, 5*time.Minute, now)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestSelectAccountSkipsAccountOverDailyCap(t *testing.T) {
	now := time.Now()
	candidates := []joinCandidate{
		{accountID: 1, joinsLast24h: 20, lastJoinedAt: now.Add(-1 * time.Hour), hasJoinedBefore: true},
	}
	_, wait, ok := selectAccount(candidates, 20, 5*time.Minute, now)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

// TestSelectAccountAllOverCapReportsRateLimit mirrors scenario S5: every
// enabled account is over its daily cap, so no candidate is eligible and
// the caller (chooseAccount) should surface a RateLimitError.
func TestSelectAccountAllOverCapReportsRateLimit(t *testing.T) {
	now := time.Now()
	candidates := []joinCandidate{
		{accountID: 1, joinsLast24h: 20, lastJoinedAt: now.Add(-23 * time.Hour), hasJoinedBefore: true},
		{accountID: 2, joinsLast24h: 20, lastJoinedAt: now.Add(-1 * time.Hour), hasJoinedBefore: true},
	}
	_, wait, ok := selectAccount(candidates, 20, 5*time.Minute, now)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.Less(t, wait, 2*time.Hour)
}

func TestSelectAccountEmptyCandidateList(t *testing.T) {
	_, _, ok := selectAccount(nil, 20, 5*time.Minute, time.Now())
	assert.False(t, ok)
}
