package cache

import (
	"regexp"
	"sync"
)

// numericRun matches identifier digits embedded in cache keys. Stripping
// them collapses "product:1042" and "product:7" into one counter bucket.
var numericRun = regexp.MustCompile(`[0-9]+`)

// normalizeKey reduces a cache key to its shape for stats accounting.
func normalizeKey(key string) string {
	return numericRun.ReplaceAllString(key, "#")
}

// ShapeStats holds the tallies for one normalized key shape.
type ShapeStats struct {
	Hits   uint64
	Misses uint64
}

// Snapshot is a point-in-time view of the cache counters.
type Snapshot struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
	Shapes  map[string]ShapeStats
}

// statsBook owns the in-process hit/miss tallies. It belongs to a Cache
// instance; ResetStats zeroes everything, including the per-shape buckets.
type statsBook struct {
	mu     sync.Mutex
	hits   uint64
	misses uint64
	shapes map[string]*ShapeStats
}

func newStatsBook() *statsBook {
	return &statsBook{shapes: make(map[string]*ShapeStats)}
}

func (s *statsBook) hit(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	s.shape(key).Hits++
}

func (s *statsBook) miss(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
	s.shape(key).Misses++
}

func (s *statsBook) shape(key string) *ShapeStats {
	shape := normalizeKey(key)
	st, ok := s.shapes[shape]
	if !ok {
		st = &ShapeStats{}
		s.shapes[shape] = st
	}
	return st
}

func (s *statsBook) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Hits:   s.hits,
		Misses: s.misses,
		Shapes: make(map[string]ShapeStats, len(s.shapes)),
	}
	for k, v := range s.shapes {
		snap.Shapes[k] = *v
	}
	if total := snap.Hits + snap.Misses; total > 0 {
		snap.HitRate = float64(snap.Hits) / float64(total)
	}
	return snap
}

func (s *statsBook) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = 0
	s.misses = 0
	s.shapes = make(map[string]*ShapeStats)
}
