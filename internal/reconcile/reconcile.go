// Package reconcile keeps the database's view of sessions, egress jobs, and
// ingress endpoints in agreement with the live state reported by the media
// server. It corrects for missed webhooks and media server restarts without
// losing historical rows.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/airalabs/aira-console/internal/livekit"
	"github.com/airalabs/aira-console/internal/metrics"
	"github.com/airalabs/aira-console/internal/store"
)

type Store interface {
	FinishStaleSessions(ctx context.Context, liveSIDs []string, cutoff time.Time) (int64, error)
	UpdateSessionParticipants(ctx context.Context, sid string, count int) error
	DeactivateStaleEgress(ctx context.Context, liveIDs []string, cutoff time.Time) (int64, error)
	UpdateEgressOutput(ctx context.Context, id, outputURL string) error
	UpsertIngress(ctx context.Context, in store.IngressUpsertInput) error
}

type Options struct {
	// SessionGracePeriod is the minimum age an active session row must reach
	// before its absence from the live room list closes it.
	SessionGracePeriod time.Duration
	// EgressGracePeriod is the same guard for egress rows; shorter because
	// egress jobs start up faster than rooms.
	EgressGracePeriod time.Duration
	// FetchTimeout bounds each live-state query so a hung media server
	// degrades a request to stale data instead of blocking it.
	FetchTimeout time.Duration
}

// Reconciler recomputes corrective writes from the two sources of truth on
// every invocation. It holds no state between runs, so overlapping runs
// triggered by concurrent requests converge rather than conflict.
type Reconciler struct {
	client livekit.Client
	store  Store
	opts   Options
	flight singleflight.Group
}

func New(client livekit.Client, st Store, opts Options) *Reconciler {
	if opts.SessionGracePeriod <= 0 {
		opts.SessionGracePeriod = 2 * time.Minute
	}
	if opts.EgressGracePeriod <= 0 {
		opts.EgressGracePeriod = time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	return &Reconciler{client: client, store: st, opts: opts}
}

// ReconcileAll runs the session, egress, and ingress passes. The passes touch
// disjoint relations and run concurrently; a failure in one never stops the
// others. Failures are logged and counted, never returned: callers proceed to
// read from the store regardless, accepting briefly stale data when a pass
// failed. Overlapping invocations are coalesced into a single shared run.
func (r *Reconciler) ReconcileAll(ctx context.Context) {
	_, _, _ = r.flight.Do("reconcile_all", func() (any, error) {
		var wg sync.WaitGroup
		passes := []struct {
			resource string
			fn       func(context.Context) error
		}{
			{"sessions", r.syncSessions},
			{"egress", r.syncEgress},
			{"ingress", r.syncIngress},
		}
		for _, pass := range passes {
			wg.Add(1)
			go func(resource string, fn func(context.Context) error) {
				defer wg.Done()
				r.runPass(ctx, resource, fn)
			}(pass.resource, pass.fn)
		}
		wg.Wait()
		return nil, nil
	})
}

func (r *Reconciler) runPass(ctx context.Context, resource string, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	durMS := float64(time.Since(start).Milliseconds())
	labels := map[string]string{"resource": resource}
	metrics.Default().ObserveHistogram("aira_sync_duration_ms", durMS, map[string]string{"resource": resource})
	if err != nil {
		log.Printf("metric=sync_pass resource=%s status=error duration_ms=%d err=%q", resource, int64(durMS), err.Error())
		labels["status"] = "error"
		metrics.Default().IncCounter("aira_sync_runs_total", labels)
		return
	}
	log.Printf("metric=sync_pass resource=%s status=ok duration_ms=%d", resource, int64(durMS))
	labels["status"] = "ok"
	metrics.Default().IncCounter("aira_sync_runs_total", labels)
}

func (r *Reconciler) syncSessions(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	rooms, err := r.client.ListRooms(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	liveSIDs := make([]string, 0, len(rooms))
	for _, room := range rooms {
		liveSIDs = append(liveSIDs, room.SID)
	}

	cutoff := time.Now().UTC().Add(-r.opts.SessionGracePeriod)
	closed, err := r.store.FinishStaleSessions(ctx, liveSIDs, cutoff)
	if err != nil {
		return err
	}
	if closed > 0 {
		metrics.Default().AddCounter("aira_sync_rows_corrected_total", uint64(closed), map[string]string{"resource": "sessions"})
	}

	for _, room := range rooms {
		count := room.NumParticipants
		if count < 0 {
			count = 0
		}
		if err := r.store.UpdateSessionParticipants(ctx, room.SID, count); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) syncEgress(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	egresses, err := r.client.ListEgress(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	liveIDs := make([]string, 0, len(egresses))
	for _, eg := range egresses {
		liveIDs = append(liveIDs, eg.EgressID)
	}

	cutoff := time.Now().UTC().Add(-r.opts.EgressGracePeriod)
	deactivated, err := r.store.DeactivateStaleEgress(ctx, liveIDs, cutoff)
	if err != nil {
		return err
	}
	if deactivated > 0 {
		metrics.Default().AddCounter("aira_sync_rows_corrected_total", uint64(deactivated), map[string]string{"resource": "egress"})
	}

	for _, eg := range egresses {
		url := eg.OutputURL()
		if url == "" {
			// Nothing to backfill yet; keep whatever the webhook path wrote.
			continue
		}
		if err := r.store.UpdateEgressOutput(ctx, eg.EgressID, url); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) syncIngress(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	ingresses, err := r.client.ListIngress(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	for _, ing := range ingresses {
		if ing.IngressID == "" {
			continue
		}
		err := r.store.UpsertIngress(ctx, store.IngressUpsertInput{
			ID:        ing.IngressID,
			Name:      ing.Name,
			InputType: ing.InputType,
			RoomName:  ing.RoomName,
			StreamKey: ing.StreamKey,
			URL:       ing.URL,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
