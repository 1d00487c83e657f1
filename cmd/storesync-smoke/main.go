// Command storesync-smoke runs every coordination primitive once against a
// live Redis and then serves Prometheus metrics, for quick end-to-end checks
// of a deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/retifyhq/storesync/auditq"
	"github.com/retifyhq/storesync/cache"
	"github.com/retifyhq/storesync/config"
	"github.com/retifyhq/storesync/lock"
	"github.com/retifyhq/storesync/metrics"
	"github.com/retifyhq/storesync/notify"
	"github.com/retifyhq/storesync/presence"
	"github.com/retifyhq/storesync/ratelimit"
)

func main() {
	metricsPort := flag.Int("metrics-port", 2112, "Prometheus metrics port, 0 to exit after the smoke run")
	trace := flag.Bool("trace", false, "Print OpenTelemetry spans to stdout")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	if *trace {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal(err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(ctx) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis at %s: %v", cfg.RedisAddr, err)
	}

	// Lock: mutual exclusion round trip.
	locks := lock.New(client,
		lock.WithOwner("storesync-smoke"),
		lock.WithDefaults(cfg.LockLease, cfg.LockWait),
		lock.WithRetryInterval(cfg.LockRetryInterval))
	if err := locks.RunExclusive(ctx, "smoke:critical", func(ctx context.Context) error {
		if _, ok, _ := locks.TryAcquire(ctx, "smoke:critical", cfg.LockLease); ok {
			return fmt.Errorf("lock was acquired twice")
		}
		return nil
	}); err != nil {
		log.Fatalf("lock: %v", err)
	}
	log.Print("lock: ok")

	// Rate limiter: spend a small quota.
	limiter := ratelimit.New(client)
	key := ratelimit.EndpointKey("smoke")
	for i := 0; i < 3; i++ {
		limiter.Check(ctx, key, 3, time.Minute)
	}
	if res := limiter.Check(ctx, key, 3, time.Minute); res.Allowed {
		log.Fatal("ratelimit: quota not enforced")
	}
	log.Print("ratelimit: ok")

	// Presence: mark, list, sweep.
	tracker := presence.New(client,
		presence.WithTimeout(cfg.PresenceTimeout),
		presence.WithDetailTTL(cfg.PresenceDetailTTL))
	if err := tracker.MarkOnline(ctx, "smoke-session", presence.Detail{
		ID: "smoke-session", Name: "Smoke", Group: "ops",
	}); err != nil {
		log.Fatalf("presence: %v", err)
	}
	if !tracker.IsOnline(ctx, "smoke-session") {
		log.Fatal("presence: session not visible")
	}
	_ = tracker.MarkOffline(ctx, "smoke-session")
	log.Print("presence: ok")

	// Cache: read-through load then hit.
	prices := cache.New[float64](client,
		cache.WithDefaultTTL[float64](cfg.CacheTTL),
		cache.WithTracing[float64]())
	loads := 0
	for i := 0; i < 2; i++ {
		if _, err := prices.GetOrLoad(ctx, "product:42:price", func(ctx context.Context) (float64, bool, error) {
			loads++
			return 9.99, true, nil
		}, 0); err != nil {
			log.Fatalf("cache: %v", err)
		}
	}
	if loads != 1 {
		log.Fatalf("cache: loader ran %d times, want 1", loads)
	}
	prices.Delete(ctx, "product:42:price")
	log.Print("cache: ok")

	// Notifier and audit queue: enqueue, drain, alert path wired.
	notifier := notify.New(notify.NewRedisTransport(client))
	queue := auditq.New(client,
		auditq.WithNotifier(notifier),
		auditq.WithBatchSize(cfg.AuditBatchSize),
		auditq.WithMaxRetries(cfg.AuditMaxRetries),
		auditq.WithProcessor(func(ctx context.Context, rec auditq.Record) error {
			log.Printf("audit: %s %s by %s", rec.Action, rec.ResourceID, rec.PrincipalID)
			return nil
		}))
	if err := queue.Enqueue(ctx, auditq.Record{
		PrincipalID: "smoke", Action: "smoke.run", ResourceType: "deployment", ResourceID: cfg.RedisAddr,
	}); err != nil {
		log.Fatalf("auditq: %v", err)
	}
	if n, err := queue.DrainOnce(ctx); err != nil || n != 1 {
		log.Fatalf("auditq: drained %d err %v", n, err)
	}
	log.Print("auditq: ok")

	if *metricsPort == 0 {
		log.Print("smoke run complete")
		return
	}
	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("smoke run complete, metrics on :%d", *metricsPort)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *metricsPort), nil))
}
