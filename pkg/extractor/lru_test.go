package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
)

func TestPatternCacheGetMiss(t *testing.T) {
	c := newPatternCache(2)
	_, ok := c.get(1)
	assert.False(t, ok)
}

func TestPatternCachePutThenGet(t *testing.T) {
	c := newPatternCache(2)
	cd := &compiledDetector{Detector: model.Detector{ID: 1, Name: "a"}}
	c.put(1, cd)
	got, ok := c.get(1)
	assert.True(t, ok)
	assert.Same(t, cd, got)
}

func TestPatternCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newPatternCache(2)
	c.put(1, &compiledDetector{Detector: model.Detector{ID: 1}})
	c.put(2, &compiledDetector{Detector: model.Detector{ID: 2}})
	c.get(1) // touch 1, making 2 the least recently used
	c.put(3, &compiledDetector{Detector: model.Detector{ID: 3}})

	_, ok := c.get(2)
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok = c.get(1)
	assert.True(t, ok)
	_, ok = c.get(3)
	assert.True(t, ok)
}

func TestPatternCacheRemove(t *testing.T) {
	c := newPatternCache(2)
	c.put(1, &compiledDetector{Detector: model.Detector{ID: 1}})
	c.remove(1)
	_, ok := c.get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}
