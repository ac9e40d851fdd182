package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/airalabs/aira-console/internal/auth"
	"github.com/airalabs/aira-console/internal/config"
	"github.com/airalabs/aira-console/internal/metrics"
	"github.com/airalabs/aira-console/internal/model"
	"github.com/airalabs/aira-console/internal/store"
)

type Store interface {
	ListSessions(rctx context.Context, f store.ListSessionsFilter) (*model.SessionPage, error)
	AnalyticsSummary(rctx context.Context) (*model.AnalyticsSummary, error)
	DashboardStats(rctx context.Context, since time.Time) (*model.DashboardStats, error)
	AnalyticsTimeseries(rctx context.Context, since time.Time) ([]model.TimeseriesPoint, error)

	RecordWebhookEvent(rctx context.Context, id, eventType string, payload []byte) error
	MarkWebhookEventProcessed(rctx context.Context, id string) error
	StartSession(rctx context.Context, in store.StartSessionInput) error
	FinishSessionByRoom(rctx context.Context, roomName string) error
	StartEgress(rctx context.Context, in store.EgressStartInput) error
	FinishEgress(rctx context.Context, id, outputURL string) error
	UpsertIngress(rctx context.Context, in store.IngressUpsertInput) error
	RecordParticipantJoined(rctx context.Context, in store.ParticipantJoinInput) error
	RecordParticipantLeft(rctx context.Context, sessionSID, identity string) error
}

// Reconciler is the sync trigger target: a side-effecting pass that never
// fails its caller.
type Reconciler interface {
	ReconcileAll(ctx context.Context)
}

type Server struct {
	cfg        config.Config
	store      Store
	reconciler Reconciler
}

func NewRouter(cfg config.Config, st Store, rec Reconciler) http.Handler {
	s := &Server{cfg: cfg, store: st, reconciler: rec}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Post("/webhook", s.handleWebhook)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.With(auth.Middleware(cfg.JWTSecret)).Group(func(authed chi.Router) {
			authed.Get("/sessions", s.handleListSessions)
			authed.With(auth.RequireAdmin).Get("/analytics/summary", s.handleAnalyticsSummary)
			authed.With(auth.RequireAdmin).Get("/analytics/dashboard", s.handleAnalyticsDashboard)
			authed.With(auth.RequireAdmin).Get("/analytics/timeseries", s.handleAnalyticsTimeseries)
		})
	})

	return r
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
