package auditq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/retifyhq/storesync/metrics"
	"github.com/retifyhq/storesync/notify"
	"github.com/retifyhq/storesync/schedule"
)

const (
	queueKey      = "audit:queue"
	deadLetterKey = "audit:deadletter"

	defaultBatchSize     = 100
	defaultMaxRetries    = 3
	defaultDrainInterval = 5 * time.Second
	defaultHighWater     = 1000
)

// Processor consumes one audit record. Returning an error schedules a retry
// until the ceiling is reached. Processing is at-least-once: a processor may
// see the same record again after a crash mid-batch.
type Processor func(ctx context.Context, rec Record) error

// Stats is a point-in-time view of the queue.
type Stats struct {
	QueueSize      int64
	DeadLetterSize int64
	Enqueued       uint64
	Processed      uint64
	Failed         uint64
}

// Queue is the durable audit event pipeline.
type Queue struct {
	client    *redis.Client
	processor Processor
	notifier  *notify.Notifier

	batchSize     int
	maxRetries    int
	drainInterval time.Duration
	highWater     int64

	enqueued  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64

	drainer *schedule.Runner
}

// Option configures a Queue.
type Option func(*Queue)

// WithProcessor sets the consumer invoked for each drained record. Without
// one the queue still drains and logs records instead of letting them pile
// up.
func WithProcessor(p Processor) Option {
	return func(q *Queue) { q.processor = p }
}

// WithNotifier enables drain alerts (dead letters, high queue depth).
func WithNotifier(n *notify.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithBatchSize bounds how many records one drain tick pops.
func WithBatchSize(n int) Option {
	return func(q *Queue) { q.batchSize = n }
}

// WithMaxRetries sets the retry ceiling before dead-lettering.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithDrainInterval sets the fixed delay between drain ticks.
func WithDrainInterval(d time.Duration) Option {
	return func(q *Queue) { q.drainInterval = d }
}

// WithHighWater sets the queue depth that triggers a volume alert.
func WithHighWater(n int64) Option {
	return func(q *Queue) { q.highWater = n }
}

// New returns a Queue using the provided Redis client.
func New(client *redis.Client, opts ...Option) *Queue {
	q := &Queue{
		client:        client,
		batchSize:     defaultBatchSize,
		maxRetries:    defaultMaxRetries,
		drainInterval: defaultDrainInterval,
		highWater:     defaultHighWater,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.drainer = schedule.NewRunner("audit-drain", q.drainInterval, func(ctx context.Context) {
		if _, err := q.DrainOnce(ctx); err != nil {
			slog.Warn("auditq: drain failed", "error", err)
		}
	})
	return q
}

// Start launches the periodic drain.
func (q *Queue) Start() { q.drainer.Start() }

// Stop halts the periodic drain and waits for the current tick.
func (q *Queue) Stop() { q.drainer.Stop() }

// Enqueue appends rec to the tail of the main queue. The call is a single
// append and never blocks on downstream processing.
func (q *Queue) Enqueue(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit enqueue: %w", err)
	}
	if err := q.client.RPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("audit enqueue: %w", err)
	}
	q.enqueued.Add(1)
	metrics.AuditEnqueued.Inc()
	return nil
}

// DrainOnce pops up to the batch size from the head of the queue and feeds
// each record to the processor. It returns how many records completed. One
// record's failure never aborts the batch.
func (q *Queue) DrainOnce(ctx context.Context) (int, error) {
	completed := 0
	deadLettered := 0
	for i := 0; i < q.batchSize; i++ {
		payload, err := q.client.LPop(ctx, queueKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return completed, fmt.Errorf("audit drain: %w", err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// A record that cannot be deserialized can never succeed.
			slog.Error("auditq: undecodable record, dead-lettering", "error", err)
			q.deadLetterRaw(ctx, payload)
			deadLettered++
			continue
		}

		if q.processor == nil {
			slog.Info("auditq: no processor configured, discarding record",
				"id", rec.ID, "action", rec.Action, "principal", rec.PrincipalID)
			completed++
			q.processed.Add(1)
			continue
		}

		if err := q.processor(ctx, rec); err != nil {
			rec.RetryCount++
			if rec.RetryCount >= q.maxRetries {
				slog.Error("auditq: retry ceiling reached, dead-lettering",
					"id", rec.ID, "action", rec.Action, "retries", rec.RetryCount, "error", err)
				q.deadLetter(ctx, rec)
				q.failed.Add(1)
				deadLettered++
			} else {
				slog.Warn("auditq: processing failed, re-enqueueing",
					"id", rec.ID, "retries", rec.RetryCount, "error", err)
				q.requeue(ctx, rec)
			}
			continue
		}
		completed++
		q.processed.Add(1)
	}

	q.afterDrain(ctx, deadLettered)
	return completed, nil
}

func (q *Queue) requeue(ctx context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("auditq: re-marshal failed, dead-lettering", "id", rec.ID, "error", err)
		q.deadLetter(ctx, rec)
		return
	}
	if err := q.client.RPush(ctx, queueKey, payload).Err(); err != nil {
		slog.Error("auditq: re-enqueue failed, record lost to this process", "id", rec.ID, "error", err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("auditq: dead-letter marshal failed", "id", rec.ID, "error", err)
		return
	}
	q.deadLetterRaw(ctx, string(payload))
}

func (q *Queue) deadLetterRaw(ctx context.Context, payload string) {
	if err := q.client.RPush(ctx, deadLetterKey, payload).Err(); err != nil {
		slog.Error("auditq: dead-letter push failed", "error", err)
		return
	}
	metrics.AuditDeadLettered.Inc()
}

// afterDrain publishes alerts and refreshes the depth gauge.
func (q *Queue) afterDrain(ctx context.Context, deadLettered int) {
	depth, err := q.client.LLen(ctx, queueKey).Result()
	if err == nil {
		metrics.AuditQueueDepth.Set(float64(depth))
	}
	if q.notifier == nil {
		return
	}
	if deadLettered > 0 {
		q.notifier.Global(ctx, notify.TypeError, "Audit records dead-lettered",
			strconv.Itoa(deadLettered)+" audit record(s) moved to the dead-letter list")
	}
	if err == nil && depth > q.highWater {
		q.notifier.Global(ctx, notify.TypeWarning, "Audit queue backing up",
			"Audit queue depth is "+strconv.FormatInt(depth, 10))
	}
}

// Stats reports queue lengths and process-lifetime counters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	size, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	dlqSize, err := q.client.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	return Stats{
		QueueSize:      size,
		DeadLetterSize: dlqSize,
		Enqueued:       q.enqueued.Load(),
		Processed:      q.processed.Load(),
		Failed:         q.failed.Load(),
	}, nil
}

// ClearDeadLetter discards the dead-letter list and returns how many
// records it held.
func (q *Queue) ClearDeadLetter(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("audit clear dead letter: %w", err)
	}
	if err := q.client.Del(ctx, deadLetterKey).Err(); err != nil {
		return 0, fmt.Errorf("audit clear dead letter: %w", err)
	}
	return n, nil
}

// RetryDeadLetter moves every dead-lettered record back onto the main queue
// with its retry count reset, and returns how many were re-enqueued.
// Records that cannot be deserialized stay on the dead-letter list.
func (q *Queue) RetryDeadLetter(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("audit retry dead letter: %w", err)
	}
	var requeued int64
	for i := int64(0); i < n; i++ {
		payload, err := q.client.LPop(ctx, deadLetterKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return requeued, fmt.Errorf("audit retry dead letter: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// Keep it inspectable; it would only dead-letter again.
			q.deadLetterRaw(ctx, payload)
			continue
		}
		rec.RetryCount = 0
		data, err := json.Marshal(rec)
		if err != nil {
			q.deadLetterRaw(ctx, payload)
			continue
		}
		if err := q.client.RPush(ctx, queueKey, data).Err(); err != nil {
			return requeued, fmt.Errorf("audit retry dead letter: %w", err)
		}
		requeued++
	}
	return requeued, nil
}
