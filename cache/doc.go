// Package cache provides a read-through cache over Redis with hit/miss
// accounting. Every lookup is tallied globally and under a normalized key
// shape (numeric identifiers stripped), so per-entity-type hit rates stay
// observable without unbounded counter cardinality. Store failures degrade
// to misses and skipped writes; the caller's primary read path never fails
// because the cache is down.
package cache
