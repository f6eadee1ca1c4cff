package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cartpulse/cartpulse/internal/config"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Dedup: config.DedupConfig{
			CartWindow:     30 * time.Second,
			CheckoutWindow: 10 * time.Minute,
			CheckoutMarker: time.Hour,
		},
		Publish: config.PublishConfig{
			Channel:     "test",
			SiteID:      "shop-1",
			MaxAttempts: 1,
			RetryDelay:  time.Millisecond,
			Timeout:     time.Second,
		},
	}
	return NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, srv http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return rec, decoded
}

func TestHandleTrack(t *testing.T) {
	srv := testServer(t)

	rec, body := doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"visitor","session_id":"s1","ip_address":"10.0.0.1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["accepted"] != true {
		t.Errorf("accepted = %v", body["accepted"])
	}

	// Same IP again the same day: duplicate, still 200.
	rec, body = doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"visitor","session_id":"s2","ip_address":"10.0.0.1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if body["duplicate"] != true {
		t.Errorf("duplicate = %v", body["duplicate"])
	}
}

func TestHandleTrackValidation(t *testing.T) {
	srv := testServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"refund","session_id":"s1","ip_address":"10.0.0.1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/track", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/track", nil)
	recorder := httptest.NewRecorder()
	srv.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /track status = %d, want 405", recorder.Code)
	}
}

func TestHandleTrackFallsBackToRemoteIP(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/track",
		strings.NewReader(`{"event_type":"visitor","session_id":"s1"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleStats(t *testing.T) {
	srv := testServer(t)

	doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"visitor","session_id":"s1","ip_address":"10.0.0.1"}`)
	doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"add_to_cart","session_id":"s1","ip_address":"10.0.0.1","product_id":5}`)

	rec, body := doJSON(t, srv, http.MethodGet, "/stats?timeframe=today", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	store, ok := body["store"].(map[string]any)
	if !ok {
		t.Fatalf("no store section in %v", body)
	}
	if store["visitors"] != float64(1) || store["add_to_cart"] != float64(1) {
		t.Errorf("store = %v", store)
	}
	if body["timeframe"] != "today" {
		t.Errorf("timeframe = %v", body["timeframe"])
	}
}

func TestHandleStatsBadTimeframeStillOK(t *testing.T) {
	srv := testServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/stats?timeframe=fortnight", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want degraded 200", rec.Code)
	}
	if body["timeframe"] != "today" {
		t.Errorf("timeframe = %v, want today fallback", body["timeframe"])
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestHandleEvents(t *testing.T) {
	srv := testServer(t)

	doJSON(t, srv, http.MethodPost, "/track",
		`{"event_type":"visitor","session_id":"s1","ip_address":"10.0.0.1"}`)

	rec, body := doJSON(t, srv, http.MethodGet, "/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}

	rec, _ = doJSON(t, srv, http.MethodGet, "/events?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}
