package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airalabs/aira-console/internal/metrics"
	"github.com/airalabs/aira-console/internal/model"
	"github.com/airalabs/aira-console/internal/store"
)

// ---- Read paths (sync-triggered) ----

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	// Reconcile against live media server state before reading, so this
	// request observes corrected rows even after missed webhooks.
	s.reconciler.ReconcileAll(r.Context())

	q := r.URL.Query()
	page := positiveQueryInt(q.Get("page"), 1)
	limit := positiveQueryInt(q.Get("limit"), 20)
	if limit > 200 {
		limit = 200
	}

	pageOut, err := s.store.ListSessions(r.Context(), store.ListSessionsFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	sessions := make([]map[string]any, 0, len(pageOut.Sessions))
	for i := range pageOut.Sessions {
		sessions = append(sessions, toSessionResponse(&pageOut.Sessions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  sessions,
		"total": pageOut.Total,
		"page":  pageOut.Page,
		"limit": pageOut.Limit,
	})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	s.reconciler.ReconcileAll(r.Context())

	summary, err := s.store.AnalyticsSummary(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to query analytics summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_rooms":       summary.ActiveRooms,
		"total_participants": summary.TotalParticipants,
		"status":             "healthy",
		"last_updated":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAnalyticsDashboard(w http.ResponseWriter, r *http.Request) {
	s.reconciler.ReconcileAll(r.Context())

	since := time.Now().UTC().Add(-parseRange(r.URL.Query().Get("range")))
	stats, err := s.store.DashboardStats(r.Context(), since)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to query dashboard stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": map[string]any{
			"total_sessions": stats.TotalSessions,
			"avg_size":       stats.AvgParticipants,
			"avg_duration":   stats.AvgDurationSeconds,
		},
		"platforms": stats.Platforms,
	})
}

func (s *Server) handleAnalyticsTimeseries(w http.ResponseWriter, r *http.Request) {
	s.reconciler.ReconcileAll(r.Context())

	since := time.Now().UTC().Add(-parseRange(r.URL.Query().Get("range")))
	points, err := s.store.AnalyticsTimeseries(r.Context(), since)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to query timeseries")
		return
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{
			"timestamp":          p.Bucket.UTC().Format(time.RFC3339),
			"active_rooms":       p.ActiveRooms,
			"total_participants": p.TotalParticipants,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- Webhook ingestion ----

type webhookRoom struct {
	SID  string `json:"sid"`
	Name string `json:"name"`
}

type webhookEgress struct {
	EgressID   string `json:"egressId"`
	RoomName   string `json:"roomName"`
	Status     string `json:"status"`
	OutputType string `json:"outputType"`
	File       *struct {
		Location string `json:"location"`
	} `json:"file"`
	Stream *struct {
		URL string `json:"url"`
	} `json:"stream"`
}

type webhookIngress struct {
	IngressID string `json:"ingressId"`
	Name      string `json:"name"`
	InputType string `json:"inputType"`
	RoomName  string `json:"roomName"`
	StreamKey string `json:"streamKey"`
	URL       string `json:"url"`
}

type webhookParticipant struct {
	Identity string `json:"identity"`
	Client   struct {
		OS      string `json:"os"`
		Browser string `json:"browser"`
	} `json:"client"`
}

type webhookEvent struct {
	Event       string              `json:"event"`
	Room        *webhookRoom        `json:"room"`
	Egress      *webhookEgress      `json:"egress"`
	Ingress     *webhookIngress     `json:"ingress"`
	Participant *webhookParticipant `json:"participant"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	if !s.verifyWebhookSignature(r.Header.Get("X-Media-Signature"), body) {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	eventType := event.Event
	if eventType == "" {
		eventType = "unknown"
	}

	eventID := uuid.NewString()
	if err := s.store.RecordWebhookEvent(r.Context(), eventID, eventType, body); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to journal webhook event")
		return
	}

	if err := s.applyWebhookEvent(r, eventType, &event); err != nil {
		log.Printf("event=webhook_apply_failed type=%s event_id=%s err=%q", eventType, eventID, err.Error())
		metrics.Default().IncCounter("aira_webhook_events_total", map[string]string{"event": eventType, "status": "error"})
		// The raw event is journaled; respond 200 so the media server does
		// not redeliver what we already stored.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if err := s.store.MarkWebhookEventProcessed(r.Context(), eventID); err != nil {
		log.Printf("event=webhook_mark_processed_failed event_id=%s err=%q", eventID, err.Error())
	}
	metrics.Default().IncCounter("aira_webhook_events_total", map[string]string{"event": eventType, "status": "ok"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) applyWebhookEvent(r *http.Request, eventType string, event *webhookEvent) error {
	ctx := r.Context()
	switch {
	case eventType == "room_started":
		if event.Room == nil || event.Room.SID == "" || event.Room.Name == "" {
			return nil
		}
		return s.store.StartSession(ctx, store.StartSessionInput{
			SID:       event.Room.SID,
			RoomName:  event.Room.Name,
			ProjectID: projectIDFromRoom(event.Room.Name),
		})

	case eventType == "room_finished":
		if event.Room == nil || event.Room.Name == "" {
			return nil
		}
		return s.store.FinishSessionByRoom(ctx, event.Room.Name)

	case strings.HasPrefix(eventType, "egress_"):
		if event.Egress == nil || event.Egress.EgressID == "" {
			return nil
		}
		url := ""
		if event.Egress.File != nil && event.Egress.File.Location != "" {
			url = event.Egress.File.Location
		} else if event.Egress.Stream != nil {
			url = event.Egress.Stream.URL
		}
		if eventType == "egress_ended" {
			return s.store.FinishEgress(ctx, event.Egress.EgressID, url)
		}
		outputType := event.Egress.OutputType
		if outputType == "" {
			outputType = "unknown"
		}
		return s.store.StartEgress(ctx, store.EgressStartInput{
			ID:         event.Egress.EgressID,
			Name:       event.Egress.EgressID,
			EgressType: event.Egress.Status,
			RoomName:   event.Egress.RoomName,
			OutputType: outputType,
			OutputURL:  url,
			ProjectID:  projectIDFromRoom(event.Egress.RoomName),
		})

	case strings.HasPrefix(eventType, "ingress_"):
		if event.Ingress == nil || event.Ingress.IngressID == "" {
			return nil
		}
		return s.store.UpsertIngress(ctx, store.IngressUpsertInput{
			ID:        event.Ingress.IngressID,
			Name:      event.Ingress.Name,
			InputType: event.Ingress.InputType,
			RoomName:  event.Ingress.RoomName,
			StreamKey: event.Ingress.StreamKey,
			URL:       event.Ingress.URL,
		})

	case eventType == "participant_joined":
		if event.Room == nil || event.Room.SID == "" || event.Participant == nil || event.Participant.Identity == "" {
			return nil
		}
		return s.store.RecordParticipantJoined(ctx, store.ParticipantJoinInput{
			RecordID:   uuid.NewString(),
			SessionSID: event.Room.SID,
			Identity:   event.Participant.Identity,
			Platform:   strings.ToLower(defaultString(event.Participant.Client.OS, "unknown")),
			Browser:    strings.ToLower(defaultString(event.Participant.Client.Browser, "unknown")),
			ProjectID:  projectIDFromRoom(event.Room.Name),
		})

	case eventType == "participant_left":
		if event.Room == nil || event.Room.SID == "" || event.Participant == nil || event.Participant.Identity == "" {
			return nil
		}
		return s.store.RecordParticipantLeft(ctx, event.Room.SID, event.Participant.Identity)
	}
	return nil
}

func (s *Server) verifyWebhookSignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSigningKey))
	mac.Write(body)
	expected := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ---- helpers ----

func toSessionResponse(sess *model.Session) map[string]any {
	var endTime any
	if sess.EndTime != nil {
		endTime = sess.EndTime.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"sid":                 sess.SID,
		"room_name":           sess.RoomName,
		"status":              string(sess.Status),
		"start_time":          sess.StartTime.UTC().Format(time.RFC3339),
		"end_time":            endTime,
		"duration":            sess.DurationSeconds,
		"total_participants":  sess.TotalParticipants,
		"active_participants": sess.ActiveParticipants,
		"project_id":          sess.ProjectID,
	}
}

// positiveQueryInt parses a query parameter, falling back to def for
// missing, malformed, or non-positive values.
func positiveQueryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// parseRange maps the dashboard's range query values to a duration,
// defaulting to 24 hours.
func parseRange(raw string) time.Duration {
	switch raw {
	case "", "24h":
		return 24 * time.Hour
	case "1h":
		return time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "30d":
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// projectIDFromRoom extracts the project identifier from scoped room names of
// the form "prj-<id>-<rest>". Returns nil for unscoped rooms.
func projectIDFromRoom(roomName string) *string {
	const prefix = "prj-"
	if !strings.HasPrefix(roomName, prefix) {
		return nil
	}
	rest := roomName[len(prefix):]
	dash := strings.Index(rest, "-")
	if dash <= 0 {
		return nil
	}
	id := rest[:dash]
	return &id
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
