// Package auditq decouples bursty audit producers from a slower consumer
// through a Redis list. Enqueue is a single append; a periodic drain pops
// records in batches and hands them to a pluggable processor. Failed records
// are retried a bounded number of times by re-appending them to the tail;
// records past the retry ceiling, and records that cannot be deserialized at
// all, move to a dead-letter list where they stay inspectable and
// replayable.
package auditq
