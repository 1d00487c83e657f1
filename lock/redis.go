package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	syncerrors "github.com/retifyhq/storesync/errors"
	"github.com/retifyhq/storesync/metrics"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

const (
	defaultLease         = 30 * time.Second
	defaultWait          = 5 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
	keyPrefix            = "lock:"
)

// Manager hands out leases on named resources. Tokens returned by TryAcquire
// and Acquire must be threaded back into Release and Renew by the caller;
// the manager keeps no per-lock state of its own.
type Manager struct {
	client *redis.Client

	owner         string
	lease         time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithOwner sets the identity embedded in every token minted by this
// manager. Defaults to hostname and pid.
func WithOwner(owner string) Option {
	return func(m *Manager) { m.owner = owner }
}

// WithDefaults sets the lease and wait used by RunExclusive.
func WithDefaults(lease, wait time.Duration) Option {
	return func(m *Manager) {
		m.lease = lease
		m.wait = wait
	}
}

// WithRetryInterval sets the polling interval used while waiting in Acquire.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}

// New returns a Manager using the provided Redis client.
func New(client *redis.Client, opts ...Option) *Manager {
	host, _ := os.Hostname()
	m := &Manager{
		client:        client,
		owner:         host + "/" + strconv.Itoa(os.Getpid()),
		lease:         defaultLease,
		wait:          defaultWait,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryAcquire attempts to obtain the lock on resource without waiting. On
// success it returns the token the caller must present to Release or Renew.
// A store error counts as not acquired: entry is never granted under
// uncertainty.
func (m *Manager) TryAcquire(ctx context.Context, resource string, lease time.Duration) (string, bool, error) {
	token := uuid.NewString() + ":" + m.owner
	ok, err := m.client.SetNX(ctx, keyPrefix+resource, token, lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock %s: %w", resource, err)
	}
	if !ok {
		metrics.LockContended.Inc()
		return "", false, nil
	}
	metrics.LockAcquired.Inc()
	return token, true, nil
}

// Acquire polls TryAcquire at the retry interval until the lock is obtained,
// wait elapses, or ctx is cancelled. Cancellation surfaces as not acquired,
// never as a held-but-abandoned lock.
func (m *Manager) Acquire(ctx context.Context, resource string, lease, wait time.Duration) (string, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := m.TryAcquire(ctx, resource, lease)
		if err != nil {
			slog.Warn("lock: acquire attempt failed", "resource", resource, "error", err)
		}
		if ok {
			return token, true, nil
		}
		if time.Now().Add(m.retryInterval).After(deadline) {
			return "", false, nil
		}
		select {
		case <-time.After(m.retryInterval):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// Release deletes the lock only if token still matches the stored value.
// It returns false when the token does not match, which means the lease
// already expired and someone else may hold the lock now.
func (m *Manager) Release(ctx context.Context, resource, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, m.client, []string{keyPrefix + resource}, token).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		// The lease still expires by TTL, so a failed release is logged and
		// reported but not fatal.
		slog.Warn("lock: release failed", "resource", resource, "error", err)
		return false, fmt.Errorf("release %s: %w", resource, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Renew extends the lease only if token still matches the stored value.
func (m *Manager) Renew(ctx context.Context, resource, token string, lease time.Duration) (bool, error) {
	secs := int64(lease / time.Second)
	if secs < 1 {
		secs = 1
	}
	res, err := renewScript.Run(ctx, m.client, []string{keyPrefix + resource}, token, secs).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", resource, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// RunExclusive acquires the lock with the manager's default lease and wait,
// runs fn, and always releases afterwards, even when fn fails or panics.
// If the lock cannot be obtained it returns ErrLockNotAcquired without
// invoking fn.
func (m *Manager) RunExclusive(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	token, ok, err := m.Acquire(ctx, resource, m.lease, m.wait)
	if !ok {
		if err != nil {
			return fmt.Errorf("%w: %s: %v", syncerrors.ErrLockNotAcquired, resource, err)
		}
		return fmt.Errorf("%w: %s", syncerrors.ErrLockNotAcquired, resource)
	}
	defer func() {
		if _, err := m.Release(ctx, resource, token); err != nil {
			slog.Warn("lock: release after critical section failed", "resource", resource, "error", err)
		}
	}()
	return fn(ctx)
}
