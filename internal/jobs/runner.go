package jobs

import (
	"context"
	"log"
	"time"

	"github.com/airalabs/aira-console/internal/metrics"
)

type Store interface {
	CleanupProcessedWebhookEvents(ctx context.Context, retention time.Duration) error
	BackfillSessionDurations(ctx context.Context) error
}

type Runner struct {
	store            Store
	webhookRetention time.Duration
}

func NewRunner(store Store, webhookRetention time.Duration) *Runner {
	if webhookRetention <= 0 {
		webhookRetention = 72 * time.Hour
	}
	return &Runner{store: store, webhookRetention: webhookRetention}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "webhook_retention", 10*time.Minute, func(c context.Context) error {
		return r.store.CleanupProcessedWebhookEvents(c, r.webhookRetention)
	})
	go r.runEvery(ctx, "session_duration_backfill", 5*time.Minute, r.store.BackfillSessionDurations)
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMs := float64(time.Since(start).Milliseconds())
	labels := map[string]string{
		"job": name,
	}
	metrics.Default().ObserveHistogram("aira_job_duration_ms", durMs, map[string]string{"job": name})
	if err != nil {
		log.Printf("metric=job_run name=%s status=error duration_ms=%d err=%q", name, int64(durMs), err.Error())
		labels["status"] = "error"
		metrics.Default().IncCounter("aira_job_runs_total", labels)
		return
	}
	log.Printf("metric=job_run name=%s status=ok duration_ms=%d", name, int64(durMs))
	labels["status"] = "ok"
	metrics.Default().IncCounter("aira_job_runs_total", labels)
}
