package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string
	DatabaseURL       string
	JWTSecret         string
	WebhookSigningKey string

	MediaProvider  string
	MediaServerURL string
	MediaAPIKey    string
	MediaAPISecret string

	// Minimum age an active row must reach before its absence from the live
	// list is trusted as a real termination signal.
	SessionGracePeriod time.Duration
	EgressGracePeriod  time.Duration
	SyncFetchTimeout   time.Duration

	WebhookRetention time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:         envOrDefault("AIRA_LISTEN_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("AIRA_DATABASE_URL"),
		JWTSecret:          os.Getenv("AIRA_JWT_SECRET"),
		WebhookSigningKey:  os.Getenv("AIRA_WEBHOOK_SIGNING_KEY"),
		MediaProvider:      envOrDefault("AIRA_MEDIA_PROVIDER", "fake"),
		MediaServerURL:     strings.TrimRight(os.Getenv("AIRA_MEDIA_SERVER_URL"), "/"),
		MediaAPIKey:        os.Getenv("AIRA_MEDIA_API_KEY"),
		MediaAPISecret:     os.Getenv("AIRA_MEDIA_API_SECRET"),
		SessionGracePeriod: envDurationOrDefault("AIRA_SESSION_GRACE_PERIOD", 2*time.Minute),
		EgressGracePeriod:  envDurationOrDefault("AIRA_EGRESS_GRACE_PERIOD", time.Minute),
		SyncFetchTimeout:   envDurationOrDefault("AIRA_SYNC_FETCH_TIMEOUT", 5*time.Second),
		WebhookRetention:   envDurationOrDefault("AIRA_WEBHOOK_RETENTION", 72*time.Hour),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("AIRA_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AIRA_JWT_SECRET is required")
	}
	if cfg.WebhookSigningKey == "" {
		return Config{}, fmt.Errorf("AIRA_WEBHOOK_SIGNING_KEY is required")
	}
	if cfg.MediaProvider != "fake" && cfg.MediaProvider != "livekit" {
		return Config{}, fmt.Errorf("AIRA_MEDIA_PROVIDER must be one of fake|livekit")
	}
	if cfg.MediaProvider == "livekit" {
		if cfg.MediaServerURL == "" {
			return Config{}, fmt.Errorf("AIRA_MEDIA_SERVER_URL is required for livekit media provider")
		}
		if cfg.MediaAPIKey == "" || cfg.MediaAPISecret == "" {
			return Config{}, fmt.Errorf("AIRA_MEDIA_API_KEY and AIRA_MEDIA_API_SECRET are required for livekit media provider")
		}
	}
	if cfg.SessionGracePeriod <= 0 || cfg.EgressGracePeriod <= 0 {
		return Config{}, fmt.Errorf("grace periods must be positive")
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func envDurationOrDefault(k string, d time.Duration) time.Duration {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return d
	}
	return parsed
}
