package extractor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/model"
)

func newTestRegistry(detectors ...model.Detector) *Registry {
	r := &Registry{
		log:          zerolog.Nop(),
		contextChars: 10,
		cache:        newPatternCache(16),
		detectors:    detectors,
	}
	return r
}

func TestExtractFindsEmailAndNormalizesCase(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "email"))
	got, err := r.Extract(context.Background(), 1, "contact Alice@Example.COM please")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice@Example.COM", got[0].MatchedText)
	assert.Equal(t, "alice@example.com", got[0].NormalizedValue)
}

func TestExtractFindsInternationalPhone(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "international_phone"))
	got, err := r.Extract(context.Background(), 1, "call me at +14155552671 today")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "+14155552671", got[0].NormalizedValue)
}

func TestExtractFindsEVMAddress(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "evm_address"))
	got, err := r.Extract(context.Background(), 1, "send to 0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.DetectionCrypto, got[0].Type)
}

func TestExtractPrioritizesTelegramInviteOverGenericURL(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "telegram_invite_link"), builtinByName(t, "absolute_url"))
	got, err := r.Extract(context.Background(), 1, "join https://t.me/+AbCdEf1234 now")
	require.NoError(t, err)
	var types []model.DetectionType
	for _, d := range got {
		types = append(types, d.Type)
	}
	assert.Contains(t, types, model.DetectionInviteLink)
	require.NotEmpty(t, types)
	assert.Equal(t, model.DetectionInviteLink, types[0])
}

func TestExtractReturnsNilForEmptyText(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "email"))
	got, err := r.Extract(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractContextWindow(t *testing.T) {
	r := newTestRegistry(builtinByName(t, "email"))
	got, err := r.Extract(context.Background(), 1, "before text a@b.com after text")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fore text ", got[0].ContextBefore)
	assert.Equal(t, " after tex", got[0].ContextAfter)
}

func TestRegistryIgnoresDetectorWithBrokenPattern(t *testing.T) {
	r := newTestRegistry(model.Detector{ID: 1, Name: "broken", Pattern: `(unclosed`, Category: string(model.DetectionURL), Priority: 1})
	got, err := r.Extract(context.Background(), 1, "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewUsesConfigDefaults(t *testing.T) {
	r := New(nil, zerolog.Nop(), config.DetectionConfig{})
	assert.Equal(t, 40, r.contextChars)
	assert.Equal(t, 1000, r.cache.capacity)
}

func builtinByName(t *testing.T, name string) model.Detector {
	t.Helper()
	for i, d := range builtinDetectors {
		if d.Name == name {
			d.ID = int64(i + 1)
			return d
		}
	}
	t.Fatalf("no builtin detector named %q", name)
	return model.Detector{}
}
