package core

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// PathKey identifies a geodesic path by its construction inputs.
type PathKey struct {
	Origin      model.Position
	Destination model.Position
	Speed       float64
	SampleRate  float64
}

const (
	defaultPathCacheSize = 64
	defaultPathCacheTTL  = 30 * time.Minute
)

// PathCache memoises NewGeodesicPath. Replays of the same scenario rebuild
// identical target paths, and a manually clocked run reproduces intercept
// paths exactly.
type PathCache struct {
	lru    *expirable.LRU[PathKey, model.Path]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPathCache returns a cache holding up to size paths. size <= 0 uses the
// default.
func NewPathCache(size int) *PathCache {
	if size <= 0 {
		size = defaultPathCacheSize
	}
	return &PathCache{
		lru: expirable.NewLRU[PathKey, model.Path](size, nil, defaultPathCacheTTL),
	}
}

// Path returns the cached path for the inputs, building it on a miss.
// Invalid inputs are never cached.
func (c *PathCache) Path(origin, destination model.Position, speedMps, sampleRate float64) (model.Path, error) {
	if c == nil {
		return NewGeodesicPath(origin, destination, speedMps, sampleRate)
	}
	key := PathKey{Origin: origin, Destination: destination, Speed: speedMps, SampleRate: sampleRate}
	if p, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)
	p, err := NewGeodesicPath(origin, destination, speedMps, sampleRate)
	if err != nil {
		return model.Path{}, err
	}
	c.lru.Add(key, p)
	return p, nil
}

// Stats returns the lifetime hit and miss counts.
func (c *PathCache) Stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// HitRatio returns hits/(hits+misses), or 0 before the first lookup.
func (c *PathCache) HitRatio() float64 {
	hits, misses := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *PathCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func (c *PathCache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
