// Package extractor implements the Extractor (spec.md §4.I): a
// detector registry that runs compiled regular expressions over
// message text, normalizes matches, and inserts Detection rows in
// batch.
//
// Grounded on spec.md §4.I's own algorithm description — the teacher
// has no equivalent (mautrix-telegram relays messages, it doesn't scan
// them for structured entities) — using stdlib `regexp` for pattern
// compilation (no pack example wires a different regex engine) plus the
// hand-rolled bounded LRU in lru.go for the compiled-pattern cache
// spec.md calls for.
package extractor

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ingestlab/telecorpus/pkg/config"
	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/store"
)

type compiledDetector struct {
	model.Detector
	re *regexp.Regexp
}

// Registry holds the active detector set (ordered by priority desc)
// and a bounded cache of their compiled patterns.
type Registry struct {
	store *store.Store
	log   zerolog.Logger

	contextChars     int
	validatePatterns bool

	mu        sync.RWMutex
	detectors []model.Detector
	cache     *patternCache
}

func New(st *store.Store, log zerolog.Logger, cfg config.DetectionConfig) *Registry {
	return &Registry{
		store:            st,
		log:              log.With().Str("component", "extractor").Logger(),
		contextChars:     cfg.NormalizedContextChars(),
		validatePatterns: cfg.ValidatePatterns,
		cache:            newPatternCache(cfg.NormalizedCacheSize()),
	}
}

// Load reads the active detector set from the store, ordered by
// priority desc. With ValidatePatterns set it drops any whose pattern
// no longer compiles; otherwise every active row is kept and Extract
// logs and skips a pattern that fails to compile —
// "pattern compilation is validated at detector load time; failures
// are reported but do not block other detectors" (spec.md §4.I).
func (r *Registry) Load(ctx context.Context) error {
	if err := EnsureBuiltins(ctx, r.store.Detectors); err != nil {
		return fmt.Errorf("seeding builtin detectors: %w", err)
	}
	rows, err := r.store.Detectors.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active detectors: %w", err)
	}

	detectors := make([]model.Detector, 0, len(rows))
	for _, row := range rows {
		if r.validatePatterns {
			if _, err := regexp.Compile(row.Pattern); err != nil {
				r.log.Warn().Str("detector", row.Name).Err(err).Msg("detector pattern failed to compile, skipping")
				continue
			}
		}
		detectors = append(detectors, row.Detector)
	}

	r.mu.Lock()
	r.detectors = detectors
	r.mu.Unlock()
	return nil
}

func (r *Registry) compiled(d model.Detector) (*compiledDetector, error) {
	if cd, ok := r.cache.get(d.ID); ok && cd.Pattern == d.Pattern {
		return cd, nil
	}
	re, err := regexp.Compile(d.Pattern)
	if err != nil {
		return nil, err
	}
	cd := &compiledDetector{Detector: d, re: re}
	r.cache.put(d.ID, cd)
	return cd, nil
}

// Extract implements pkg/listener.Extractor and pkg/backfill.Extractor:
// run every active detector over text, normalize matches, and return
// the Detection rows ready for InsertBatch. messageID is stamped onto
// each row but no DB I/O happens here — callers own the transaction and
// the batch insert (spec.md §4.I step 3: "insert Detection rows in one
// batch, on conflict do nothing").
func (r *Registry) Extract(ctx context.Context, messageID int64, text string) ([]model.Detection, error) {
	if text == "" {
		return nil, nil
	}

	r.mu.RLock()
	detectors := r.detectors
	r.mu.RUnlock()

	var out []model.Detection
	for _, d := range detectors {
		cd, err := r.compiled(d)
		if err != nil {
			r.log.Warn().Str("detector", d.Name).Err(err).Msg("detector pattern failed to compile")
			continue
		}
		matches := cd.re.FindAllStringIndex(text, -1)
		for _, m := range matches {
			matched := text[m[0]:m[1]]
			detType := model.DetectionType(cd.Category)
			before, after := context(text, m[0], m[1], r.contextChars)
			out = append(out, model.Detection{
				MessageID:       messageID,
				DetectorID:      d.ID,
				MatchedText:     matched,
				Type:            detType,
				NormalizedValue: normalize(detType, matched),
				ContextBefore:   before,
				ContextAfter:    after,
			})
		}
	}
	return out, nil
}
