package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airalabs/aira-console/internal/api"
	"github.com/airalabs/aira-console/internal/config"
	"github.com/airalabs/aira-console/internal/livekit"
	"github.com/airalabs/aira-console/internal/reconcile"
	"github.com/airalabs/aira-console/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.New(pool)
	mediaClient, err := buildMediaClient(cfg)
	if err != nil {
		log.Fatalf("init media client: %v", err)
	}
	reconciler := reconcile.New(mediaClient, st, reconcile.Options{
		SessionGracePeriod: cfg.SessionGracePeriod,
		EgressGracePeriod:  cfg.EgressGracePeriod,
		FetchTimeout:       cfg.SyncFetchTimeout,
	})
	handler := api.NewRouter(cfg, st, reconciler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("aira-console api listening on %s media_provider=%s", cfg.ListenAddr, cfg.MediaProvider)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

func buildMediaClient(cfg config.Config) (livekit.Client, error) {
	if cfg.MediaProvider == "livekit" {
		return livekit.NewHTTPClient(livekit.HTTPClientOptions{
			BaseURL:   cfg.MediaServerURL,
			APIKey:    cfg.MediaAPIKey,
			APISecret: cfg.MediaAPISecret,
		})
	}
	return livekit.NewFakeClient(), nil
}
