package livekit

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/airalabs/aira-console/internal/metrics"
)

const (
	roomServicePath    = "/twirp/livekit.RoomService/ListRooms"
	egressServicePath  = "/twirp/livekit.Egress/ListEgress"
	ingressServicePath = "/twirp/livekit.Ingress/ListIngress"

	tokenTTL = time.Minute
)

type HTTPClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
}

type HTTPClientOptions struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, fmt.Errorf("APIKey and APISecret are required")
	}
	return &HTTPClient{
		baseURL:   base,
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		http:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *HTTPClient) ListRooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.call(ctx, "list_rooms", roomServicePath, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *HTTPClient) ListEgress(ctx context.Context) ([]EgressInfo, error) {
	var out struct {
		Items []EgressInfo `json:"items"`
	}
	if err := c.call(ctx, "list_egress", egressServicePath, map[string]any{"active": true}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) ListIngress(ctx context.Context) ([]IngressInfo, error) {
	var out struct {
		Items []IngressInfo `json:"items"`
	}
	if err := c.call(ctx, "list_ingress", ingressServicePath, map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) call(ctx context.Context, opName, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", opName, err)
	}

	var raw []byte
	start := time.Now()
	err = retryTransient(ctx, opName, func(callCtx context.Context) error {
		var callErr error
		raw, callErr = c.doOnce(callCtx, path, body)
		return callErr
	})
	durMS := float64(time.Since(start).Milliseconds())
	labels := map[string]string{"op": opName, "status": "ok"}
	if err != nil {
		labels["status"] = "error"
	}
	metrics.Default().IncCounter("aira_media_operations_total", labels)
	metrics.Default().ObserveHistogram("aira_media_operation_latency_ms", durMS, labels)
	if err != nil {
		return fmt.Errorf("%s: %w", opName, err)
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("decode %s response: %w", opName, err)
	}
	return nil
}

func (c *HTTPClient) doOnce(ctx context.Context, path string, body []byte) ([]byte, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: httpResp.StatusCode, Body: truncate(string(raw), 256)}
	}
	return raw, nil
}

// accessToken mints a short-lived server API token with the list grants the
// control API requires.
func (c *HTTPClient) accessToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss": c.apiKey,
		"nbf": now.Add(-10 * time.Second).Unix(),
		"exp": now.Add(tokenTTL).Unix(),
		"video": map[string]any{
			"roomList":     true,
			"roomRecord":   true,
			"ingressAdmin": true,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiSecret))
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("media server returned %d: %s", e.Code, e.Body)
}

func retryTransient(ctx context.Context, opName string, fn func(context.Context) error) error {
	const (
		maxAttempts = 3
		baseDelay   = 200 * time.Millisecond
		maxDelay    = time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			metrics.Default().IncCounter("aira_media_retry_exhausted_total", map[string]string{"op": opName})
			return err
		}
		metrics.Default().IncCounter("aira_media_retries_total", map[string]string{
			"op":     opName,
			"reason": retryReason(err),
		})
		delay := baseDelay * time.Duration(1<<(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = withJitter(delay)
		log.Printf("event=media_retry op=%s attempt=%d delay_ms=%d err=%q", opName, attempt, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests ||
			se.Code == http.StatusRequestTimeout ||
			se.Code >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection-level failures surface as url.Error wrapping net errors.
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "EOF")
}

func retryReason(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return fmt.Sprintf("http_%d", se.Code)
	}
	return "network"
}

func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := delay - floor
	if span <= 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + span/2
	}
	n := binary.LittleEndian.Uint64(raw[:]) % uint64(span)
	return floor + time.Duration(n)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
