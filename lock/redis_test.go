package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	syncerrors "github.com/retifyhq/storesync/errors"
)

func newManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis, context.Context) {
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
	return New(client, opts...), mr, context.Background()
}

func TestTryAcquireRelease(t *testing.T) {
	m, _, ctx := newManager(t)

	token, ok, err := m.TryAcquire(ctx, "orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if _, ok, err := m.TryAcquire(ctx, "orders", time.Minute); err != nil || ok {
		t.Fatalf("expected lock held, ok %v err %v", ok, err)
	}

	released, err := m.Release(ctx, "orders", token)
	if err != nil || !released {
		t.Fatalf("release: %v released %v", err, released)
	}

	if _, ok, err := m.TryAcquire(ctx, "orders", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock free after release, ok %v err %v", ok, err)
	}
}

func TestReleaseWrongTokenKeepsHolder(t *testing.T) {
	m, mr, ctx := newManager(t)

	token, ok, err := m.TryAcquire(ctx, "orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	released, err := m.Release(ctx, "orders", "someone-else")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Fatal("release with wrong token must return false")
	}
	if !mr.Exists("lock:orders") {
		t.Fatal("holder's record was removed by a wrong-token release")
	}

	if released, err := m.Release(ctx, "orders", token); err != nil || !released {
		t.Fatalf("owner release: %v released %v", err, released)
	}
}

func TestLeaseExpiry(t *testing.T) {
	m, mr, ctx := newManager(t)

	if _, ok, err := m.TryAcquire(ctx, "orders", 30*time.Second); err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	mr.FastForward(29 * time.Second)
	if _, ok, _ := m.TryAcquire(ctx, "orders", 30*time.Second); ok {
		t.Fatal("lock acquirable before lease expired")
	}

	mr.FastForward(2 * time.Second)
	if _, ok, err := m.TryAcquire(ctx, "orders", 30*time.Second); err != nil || !ok {
		t.Fatalf("expected lock acquirable after lease expiry, ok %v err %v", ok, err)
	}
}

func TestRenew(t *testing.T) {
	m, mr, ctx := newManager(t)

	token, ok, err := m.TryAcquire(ctx, "orders", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	renewed, err := m.Renew(ctx, "orders", token, time.Minute)
	if err != nil || !renewed {
		t.Fatalf("renew: %v renewed %v", err, renewed)
	}
	if ttl := mr.TTL("lock:orders"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m after renew, got %v", ttl)
	}

	if renewed, err := m.Renew(ctx, "orders", "wrong", time.Minute); err != nil || renewed {
		t.Fatalf("renew with wrong token must return false, got %v err %v", renewed, err)
	}
}

func TestMutualExclusion(t *testing.T) {
	m, _, ctx := newManager(t)

	const workers = 16
	var wg sync.WaitGroup
	acquired := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, ok, _ := m.TryAcquire(ctx, "stock", time.Minute); ok {
				acquired <- token
			}
		}()
	}
	wg.Wait()
	close(acquired)

	var tokens []string
	for token := range acquired {
		tokens = append(tokens, token)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(tokens))
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	m, _, ctx := newManager(t, WithRetryInterval(5*time.Millisecond))

	token, ok, err := m.TryAcquire(ctx, "orders", time.Minute)
	if err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = m.Release(ctx, "orders", token)
	}()

	if _, ok, err := m.Acquire(ctx, "orders", time.Minute, time.Second); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok %v err %v", ok, err)
	}
}

func TestAcquireWaitBudgetExhausted(t *testing.T) {
	m, _, ctx := newManager(t, WithRetryInterval(5*time.Millisecond))

	if _, ok, err := m.TryAcquire(ctx, "orders", time.Minute); err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	start := time.Now()
	_, ok, err := m.Acquire(ctx, "orders", time.Minute, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("expected acquire to give up")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("acquire waited far past its budget")
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	m, _, ctx := newManager(t, WithRetryInterval(5*time.Millisecond))

	if _, ok, err := m.TryAcquire(ctx, "orders", time.Minute); err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, ok, err := m.Acquire(cctx, "orders", time.Minute, time.Minute)
	if ok {
		t.Fatal("cancelled acquire must not report a held lock")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRunExclusive(t *testing.T) {
	m, mr, ctx := newManager(t, WithRetryInterval(5*time.Millisecond), WithDefaults(time.Minute, 20*time.Millisecond))

	ran := false
	err := m.RunExclusive(ctx, "reports", func(ctx context.Context) error {
		ran = true
		if !mr.Exists("lock:reports") {
			t.Error("lock not held inside critical section")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run exclusive: %v", err)
	}
	if !ran {
		t.Fatal("fn was not invoked")
	}
	if mr.Exists("lock:reports") {
		t.Fatal("lock not released after critical section")
	}
}

func TestRunExclusiveHeldLock(t *testing.T) {
	m, _, ctx := newManager(t, WithRetryInterval(5*time.Millisecond), WithDefaults(time.Minute, 20*time.Millisecond))

	if _, ok, err := m.TryAcquire(ctx, "reports", time.Minute); err != nil || !ok {
		t.Fatalf("tryacquire: ok %v err %v", ok, err)
	}

	err := m.RunExclusive(ctx, "reports", func(ctx context.Context) error {
		t.Error("fn must not run without the lock")
		return nil
	})
	if !errors.Is(err, syncerrors.ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
}

func TestRunExclusiveReleasesOnError(t *testing.T) {
	m, mr, ctx := newManager(t, WithDefaults(time.Minute, 20*time.Millisecond))

	boom := errors.New("boom")
	if err := m.RunExclusive(ctx, "reports", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if mr.Exists("lock:reports") {
		t.Fatal("lock not released after fn error")
	}
}
