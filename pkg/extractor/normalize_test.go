package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
)

func TestNormalizeEmailLowercases(t *testing.T) {
	assert.Equal(t, "alice@example.com", normalize(model.DetectionEmail, "  Alice@Example.COM  "))
}

func TestNormalizePhoneStripsFormatting(t *testing.T) {
	assert.Equal(t, "+14155552671", normalize(model.DetectionPhone, "+1 (415) 555-2671"))
	assert.Equal(t, "+14155552671", normalize(model.DetectionPhone, "14155552671"))
}

func TestNormalizeCryptoStripsWhitespace(t *testing.T) {
	assert.Equal(t, "0xabc123", normalize(model.DetectionCrypto, " 0x abc 123 "))
}

func TestNormalizeURLLowercasesHostOnly(t *testing.T) {
	got := normalize(model.DetectionURL, "https://EXAMPLE.com/Path?Query=Case")
	assert.Equal(t, "https://example.com/Path?Query=Case", got)
}

func TestNormalizeTelegramUsernameLowercases(t *testing.T) {
	assert.Equal(t, "@somename", normalize(model.DetectionTelegramUsername, "@SomeName"))
}

func TestContextTruncatesAtTextBoundaries(t *testing.T) {
	before, after := context("abc", 0, 3, 5)
	assert.Equal(t, "", before)
	assert.Equal(t, "", after)
}

func TestContextHandlesMultiByteRunes(t *testing.T) {
	text := "héllo wörld"
	start := len("héllo ")
	end := start + len("wörld")
	before, after := context(text, start, end, 3)
	assert.Equal(t, "lo ", before)
	assert.Equal(t, "", after)
}
