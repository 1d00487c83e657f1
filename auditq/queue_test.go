package auditq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/retifyhq/storesync/notify"
)

func newQueue(t *testing.T, opts ...Option) (*Queue, *redis.Client, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return New(client, opts...), client, context.Background()
}

func TestEnqueueDefaultsAndOrder(t *testing.T) {
	q, client, ctx := newQueue(t)

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "product.update"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, Record{PrincipalID: "u2", Action: "order.cancel"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	payloads, err := client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil || len(payloads) != 2 {
		t.Fatalf("lrange: %v len %d", err, len(payloads))
	}
	var first Record
	if err := json.Unmarshal([]byte(payloads[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Action != "product.update" {
		t.Fatal("queue is not FIFO on enqueue")
	}
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Fatalf("id and timestamp must be defaulted, got %+v", first)
	}
	if first.RetryCount != 0 {
		t.Fatalf("retry count must start at 0, got %d", first.RetryCount)
	}
}

func TestDrainProcessesBatch(t *testing.T) {
	var seen []string
	q, _, ctx := newQueue(t, WithProcessor(func(ctx context.Context, rec Record) error {
		seen = append(seen, rec.Action)
		return nil
	}))

	for _, action := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: action}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	n, err := q.DrainOnce(ctx)
	if err != nil || n != 3 {
		t.Fatalf("drain: n %d err %v", n, err)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[2] != "c" {
		t.Fatalf("unexpected processing order %v", seen)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QueueSize != 0 || stats.Enqueued != 3 || stats.Processed != 3 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBatchSizeBoundsDrain(t *testing.T) {
	q, _, ctx := newQueue(t, WithBatchSize(2), WithProcessor(func(ctx context.Context, rec Record) error {
		return nil
	}))

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "a"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if n, err := q.DrainOnce(ctx); err != nil || n != 2 {
		t.Fatalf("drain: n %d err %v, want 2", n, err)
	}
	stats, _ := q.Stats(ctx)
	if stats.QueueSize != 3 {
		t.Fatalf("queue size %d after bounded drain, want 3", stats.QueueSize)
	}
}

func TestRetryThenSuccessCompletes(t *testing.T) {
	failures := 0
	q, _, ctx := newQueue(t, WithMaxRetries(3), WithProcessor(func(ctx context.Context, rec Record) error {
		if failures < 2 { // MAX_RETRY_COUNT - 1 failures, then success
			failures++
			return errors.New("downstream hiccup")
		}
		return nil
	}))

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "order.create"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Each failed attempt re-enqueues to the tail; the same tick pops it
	// again until it completes.
	if n, err := q.DrainOnce(ctx); err != nil || n != 1 {
		t.Fatalf("drain: n %d err %v, want 1 completed", n, err)
	}

	stats, _ := q.Stats(ctx)
	if stats.QueueSize != 0 || stats.DeadLetterSize != 0 {
		t.Fatalf("record must complete, stats %+v", stats)
	}
	if stats.Processed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestRetryCeilingDeadLetters(t *testing.T) {
	attempts := 0
	q, client, ctx := newQueue(t, WithMaxRetries(3), WithProcessor(func(ctx context.Context, rec Record) error {
		attempts++
		return errors.New("always fails")
	}))

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "order.create"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if attempts != 3 {
		t.Fatalf("attempts %d, want 3", attempts)
	}
	payloads, err := client.LRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil || len(payloads) != 1 {
		t.Fatalf("dead letter list: %v len %d", err, len(payloads))
	}
	var rec Record
	if err := json.Unmarshal([]byte(payloads[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.RetryCount != 3 {
		t.Fatalf("dead-lettered retry count %d, want 3", rec.RetryCount)
	}

	stats, _ := q.Stats(ctx)
	if stats.Failed != 1 || stats.DeadLetterSize != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOneFailureNeverAbortsBatch(t *testing.T) {
	q, _, ctx := newQueue(t, WithMaxRetries(1), WithProcessor(func(ctx context.Context, rec Record) error {
		if rec.Action == "poison" {
			return errors.New("bad record")
		}
		return nil
	}))

	for _, action := range []string{"ok1", "poison", "ok2"} {
		if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: action}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if n, err := q.DrainOnce(ctx); err != nil || n != 2 {
		t.Fatalf("drain: n %d err %v, want 2 completed", n, err)
	}
	stats, _ := q.Stats(ctx)
	if stats.DeadLetterSize != 1 || stats.QueueSize != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestUndecodableRecordGoesStraightToDeadLetter(t *testing.T) {
	processed := 0
	q, client, ctx := newQueue(t, WithProcessor(func(ctx context.Context, rec Record) error {
		processed++
		return nil
	}))

	if err := client.RPush(ctx, queueKey, "{not json").Err(); err != nil {
		t.Fatalf("rpush: %v", err)
	}
	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "ok"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed %d, want 1", processed)
	}
	if n, _ := client.LLen(ctx, deadLetterKey).Result(); n != 1 {
		t.Fatalf("dead letter size %d, want 1", n)
	}
}

func TestNoProcessorDrainsAndDiscards(t *testing.T) {
	q, _, ctx := newQueue(t)

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, err := q.DrainOnce(ctx); err != nil || n != 1 {
		t.Fatalf("drain: n %d err %v", n, err)
	}
	stats, _ := q.Stats(ctx)
	if stats.QueueSize != 0 {
		t.Fatal("records must not accumulate without a processor")
	}
	if stats.Processed != 1 {
		t.Fatalf("discarded records must count as processed, got %+v", stats)
	}
}

func TestRetryDeadLetterResetsAndRequeues(t *testing.T) {
	q, client, ctx := newQueue(t, WithMaxRetries(2), WithProcessor(func(ctx context.Context, rec Record) error {
		return errors.New("always fails")
	}))

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n, _ := client.LLen(ctx, deadLetterKey).Result(); n != 1 {
		t.Fatalf("expected 1 dead-lettered record, got %d", n)
	}

	requeued, err := q.RetryDeadLetter(ctx)
	if err != nil || requeued != 1 {
		t.Fatalf("retry dead letter: n %d err %v", requeued, err)
	}

	payloads, _ := client.LRange(ctx, queueKey, 0, -1).Result()
	if len(payloads) != 1 {
		t.Fatalf("main queue size %d, want 1", len(payloads))
	}
	var rec Record
	if err := json.Unmarshal([]byte(payloads[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.RetryCount != 0 {
		t.Fatalf("retry count %d after replay, want 0", rec.RetryCount)
	}
	if n, _ := client.LLen(ctx, deadLetterKey).Result(); n != 0 {
		t.Fatal("dead letter list must be empty after replay")
	}
}

func TestClearDeadLetter(t *testing.T) {
	q, client, ctx := newQueue(t)

	for i := 0; i < 3; i++ {
		if err := client.RPush(ctx, deadLetterKey, `{"id":"x"}`).Err(); err != nil {
			t.Fatalf("rpush: %v", err)
		}
	}
	n, err := q.ClearDeadLetter(ctx)
	if err != nil || n != 3 {
		t.Fatalf("clear: n %d err %v", n, err)
	}
	if size, _ := client.LLen(ctx, deadLetterKey).Result(); size != 0 {
		t.Fatal("dead letter list must be empty after clear")
	}
}

func TestDeadLetterAlertPublished(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, notify.ChannelGlobal)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	notifier := notify.New(notify.NewRedisTransport(client))
	q := New(client,
		WithMaxRetries(1),
		WithNotifier(notifier),
		WithProcessor(func(ctx context.Context, rec Record) error {
			return errors.New("always fails")
		}))

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DrainOnce(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	select {
	case raw := <-sub.Channel():
		var msg notify.Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != notify.TypeError {
			t.Fatalf("unexpected alert %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dead-letter alert")
	}
}

func TestDrainerLifecycle(t *testing.T) {
	processed := make(chan string, 1)
	q, _, ctx := newQueue(t,
		WithDrainInterval(10*time.Millisecond),
		WithProcessor(func(ctx context.Context, rec Record) error {
			select {
			case processed <- rec.Action:
			default:
			}
			return nil
		}))

	q.Start()
	defer q.Stop()

	if err := q.Enqueue(ctx, Record{PrincipalID: "u1", Action: "background"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case action := <-processed:
		if action != "background" {
			t.Fatalf("unexpected record %q", action)
		}
	case <-time.After(time.Second):
		t.Fatal("drainer did not process the record in time")
	}
}
