package livekit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, srv *httptest.Server) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(HTTPClientOptions{
		BaseURL:   srv.URL,
		APIKey:    "apikey",
		APISecret: "apisecret",
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client
}

func TestListRooms_SendsBearerTokenAndParsesResponse(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms": []map[string]any{
				{"sid": "RM_1", "name": "standup", "numParticipants": 4, "creationTime": "1700000000"},
			},
		})
	}))
	defer srv.Close()

	rooms, err := newTestClient(t, srv).ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms returned err: %v", err)
	}
	if gotPath != roomServicePath {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") || len(gotAuth) < 20 {
		t.Fatalf("missing bearer token: %q", gotAuth)
	}
	if len(rooms) != 1 || rooms[0].SID != "RM_1" || rooms[0].NumParticipants != 4 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
	if rooms[0].CreationTime != 1700000000 {
		t.Fatalf("creation time not parsed: %d", rooms[0].CreationTime)
	}
}

func TestListEgress_EmptyListIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	egresses, err := newTestClient(t, srv).ListEgress(context.Background())
	if err != nil {
		t.Fatalf("ListEgress returned err: %v", err)
	}
	if len(egresses) != 0 {
		t.Fatalf("expected empty list, got %+v", egresses)
	}
}

func TestCall_RetriesTransientServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"ingressId":"IN_1","name":"cam"}]}`))
	}))
	defer srv.Close()

	ingresses, err := newTestClient(t, srv).ListIngress(context.Background())
	if err != nil {
		t.Fatalf("ListIngress returned err after retry: %v", err)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
	if len(ingresses) != 1 || ingresses[0].IngressID != "IN_1" {
		t.Fatalf("unexpected ingresses: %+v", ingresses)
	}
}

func TestCall_DoesNotRetryAuthFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListRooms(context.Background())
	if err == nil {
		t.Fatalf("expected error for 401 response")
	}
	if attempts.Load() != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", attempts.Load())
	}
}

func TestEgressOutputURL_PrefersFileOverStream(t *testing.T) {
	eg := EgressInfo{
		File:   &FileOutput{Location: "/out/a.mp4"},
		Stream: &StreamOutput{URL: "rtmp://x"},
	}
	if got := eg.OutputURL(); got != "/out/a.mp4" {
		t.Fatalf("expected file location, got %s", got)
	}
	eg.File = nil
	if got := eg.OutputURL(); got != "rtmp://x" {
		t.Fatalf("expected stream url, got %s", got)
	}
	eg.Stream = nil
	if got := eg.OutputURL(); got != "" {
		t.Fatalf("expected empty url, got %s", got)
	}
}
