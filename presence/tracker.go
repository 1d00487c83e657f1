package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/retifyhq/storesync/metrics"
	"github.com/retifyhq/storesync/schedule"
)

const (
	setKey          = "presence:online"
	countKey        = "presence:count"
	detailKeyPrefix = "presence:session:"

	defaultTimeout       = 5 * time.Minute
	defaultDetailTTL     = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Detail describes who a live session belongs to.
type Detail struct {
	ID           string
	Name         string
	Group        string
	Origin       string
	LoginAt      time.Time
	LastActiveAt time.Time
}

// Tracker maintains the shared presence records.
type Tracker struct {
	client *redis.Client

	timeout       time.Duration
	detailTTL     time.Duration
	sweepInterval time.Duration
	clock         func() time.Time
	sweeper       *schedule.Runner
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets the window after the last heartbeat during which a
// session counts as online.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithDetailTTL sets the expiry of the per-session detail record.
func WithDetailTTL(d time.Duration) Option {
	return func(t *Tracker) { t.detailTTL = d }
}

// WithSweepInterval sets the period of the background sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sweepInterval = d }
}

// WithClock sets the time source used for scores and window cutoffs.
// The default is time.Now; tests pin it to probe the timeout boundary.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// New returns a Tracker using the provided Redis client.
func New(client *redis.Client, opts ...Option) *Tracker {
	t := &Tracker{
		client:        client,
		timeout:       defaultTimeout,
		detailTTL:     defaultDetailTTL,
		sweepInterval: defaultSweepInterval,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.sweeper = schedule.NewRunner("presence-sweep", t.sweepInterval, func(ctx context.Context) {
		if _, err := t.SweepExpired(ctx); err != nil {
			slog.Warn("presence: sweep failed", "error", err)
		}
	})
	return t
}

// StartSweeper launches the periodic sweep.
func (t *Tracker) StartSweeper() { t.sweeper.Start() }

// StopSweeper stops the periodic sweep and waits for the current run.
func (t *Tracker) StopSweeper() { t.sweeper.Stop() }

// MarkOnline records a fresh session with its detail record.
func (t *Tracker) MarkOnline(ctx context.Context, id string, d Detail) error {
	now := t.clock()
	d.ID = id
	d.LoginAt = now
	d.LastActiveAt = now
	if err := t.client.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
		return fmt.Errorf("presence mark online %s: %w", id, err)
	}
	detailKey := detailKeyPrefix + id
	if err := t.client.HSet(ctx, detailKey, detailFields(d)).Err(); err != nil {
		return fmt.Errorf("presence detail %s: %w", id, err)
	}
	if err := t.client.Expire(ctx, detailKey, t.detailTTL).Err(); err != nil {
		return fmt.Errorf("presence detail ttl %s: %w", id, err)
	}
	return nil
}

// Heartbeat moves the session's score to now and refreshes the detail
// record's last-active field and TTL. Concurrent heartbeats race benignly:
// the score only ever moves forward.
func (t *Tracker) Heartbeat(ctx context.Context, id string) error {
	now := t.clock()
	if err := t.client.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
		return fmt.Errorf("presence heartbeat %s: %w", id, err)
	}
	detailKey := detailKeyPrefix + id
	if err := t.client.HSet(ctx, detailKey, "last_active_at", strconv.FormatInt(now.UnixMilli(), 10)).Err(); err != nil {
		return fmt.Errorf("presence heartbeat detail %s: %w", id, err)
	}
	if err := t.client.Expire(ctx, detailKey, t.detailTTL).Err(); err != nil {
		return fmt.Errorf("presence heartbeat ttl %s: %w", id, err)
	}
	return nil
}

// MarkOffline removes the session and its detail record.
func (t *Tracker) MarkOffline(ctx context.Context, id string) error {
	if err := t.client.ZRem(ctx, setKey, id).Err(); err != nil {
		return fmt.Errorf("presence mark offline %s: %w", id, err)
	}
	if err := t.client.Del(ctx, detailKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("presence detail delete %s: %w", id, err)
	}
	return nil
}

// IsOnline reports whether the session heartbeat is within the timeout
// window. Store errors degrade to offline.
func (t *Tracker) IsOnline(ctx context.Context, id string) bool {
	score, err := t.client.ZScore(ctx, setKey, id).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("presence: score lookup failed", "session", id, "error", err)
		return false
	}
	return t.clock().UnixMilli()-int64(score) < t.timeout.Milliseconds()
}

// ListOnline returns the details of every session inside the timeout
// window. Sessions whose detail record already expired are excluded.
func (t *Tracker) ListOnline(ctx context.Context) []Detail {
	min, max := t.windowBounds()
	ids, err := t.client.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		slog.Warn("presence: range query failed", "error", err)
		return nil
	}
	details := make([]Detail, 0, len(ids))
	for _, id := range ids {
		m, err := t.client.HGetAll(ctx, detailKeyPrefix+id).Result()
		if err != nil {
			slog.Warn("presence: detail lookup failed", "session", id, "error", err)
			continue
		}
		if m["id"] == "" {
			// Detail expired or never written; unknown, exclude.
			continue
		}
		details = append(details, parseDetail(m))
	}
	return details
}

// OnlineCount returns the number of sessions inside the timeout window.
func (t *Tracker) OnlineCount(ctx context.Context) int64 {
	min, max := t.windowBounds()
	n, err := t.client.ZCount(ctx, setKey, min, max).Result()
	if err != nil {
		slog.Warn("presence: count failed", "error", err)
		return 0
	}
	return n
}

// CountByGroup returns the online session count per group.
func (t *Tracker) CountByGroup(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64)
	for _, d := range t.ListOnline(ctx) {
		counts[d.Group]++
	}
	return counts
}

// SweepExpired removes members whose score fell out of the timeout window
// and refreshes the cached total count. Reads filter by score themselves;
// the sweep only keeps the set small.
func (t *Tracker) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := t.clock().Add(-t.timeout).UnixMilli()
	removed, err := t.client.ZRemRangeByScore(ctx, setKey, "-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence sweep: %w", err)
	}
	count, err := t.client.ZCard(ctx, setKey).Result()
	if err != nil {
		return removed, fmt.Errorf("presence sweep count: %w", err)
	}
	if err := t.client.Set(ctx, countKey, count, 0).Err(); err != nil {
		return removed, fmt.Errorf("presence sweep count: %w", err)
	}
	metrics.PresenceOnline.Set(float64(count))
	return removed, nil
}

// windowBounds returns the sorted-set score range that counts as online:
// strictly newer than now-timeout, up to now.
func (t *Tracker) windowBounds() (string, string) {
	now := t.clock().UnixMilli()
	cutoff := now - t.timeout.Milliseconds()
	return "(" + strconv.FormatInt(cutoff, 10), strconv.FormatInt(now, 10)
}

func detailFields(d Detail) map[string]any {
	return map[string]any{
		"id":             d.ID,
		"name":           d.Name,
		"group":          d.Group,
		"origin":         d.Origin,
		"login_at":       strconv.FormatInt(d.LoginAt.UnixMilli(), 10),
		"last_active_at": strconv.FormatInt(d.LastActiveAt.UnixMilli(), 10),
	}
}

func parseDetail(m map[string]string) Detail {
	d := Detail{
		ID:     m["id"],
		Name:   m["name"],
		Group:  m["group"],
		Origin: m["origin"],
	}
	if v, err := strconv.ParseInt(m["login_at"], 10, 64); err == nil {
		d.LoginAt = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(m["last_active_at"], 10, 64); err == nil {
		d.LastActiveAt = time.UnixMilli(v)
	}
	return d
}
