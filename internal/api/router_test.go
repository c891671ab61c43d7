package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/config"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

type statusFunc func(ctx context.Context) (scheduler.Snapshot, error)

func (f statusFunc) Snapshot(ctx context.Context) (scheduler.Snapshot, error) {
	return f(ctx)
}

func newTestRouter(status statusFunc, checks ...observability.NamedCheck) http.Handler {
	cfg := &config.Config{ImageBaseURL: "/characters/", MetricsEnabled: true}
	cat := catalog.Default()
	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
	return NewRouter(cfg, status, ws, func() *catalog.Catalog { return cat }, checks...).Setup()
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Status(t *testing.T) {
	secs := 120
	h := newTestRouter(func(context.Context) (scheduler.Snapshot, error) {
		return scheduler.Snapshot{Status: "Running", CharacterName: "A", StyleID: "3", ModeValue: "1", IntervalMinutes: 5, RemainingSeconds: &secs}, nil
	})

	rec := serve(h, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var snap scheduler.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !snap.IsRunning() || *snap.RemainingSeconds != 120 {
		t.Errorf("Expected running snapshot with 120s, got %+v", snap)
	}
}

func TestRouter_StatusUnavailable(t *testing.T) {
	h := newTestRouter(func(context.Context) (scheduler.Snapshot, error) {
		return scheduler.Snapshot{}, scheduler.ErrStopped
	})

	rec := serve(h, "/api/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestRouter_Catalog(t *testing.T) {
	h := newTestRouter(nil)

	rec := serve(h, "/api/catalog")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body CatalogResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(body.VoiceModels) == 0 {
		t.Error("Expected voice models")
	}
	if body.ImageURIs["四国めたん"] != "/characters/metan.png" {
		t.Errorf("Expected metan image URI, got %q", body.ImageURIs["四国めたん"])
	}
	if body.Modes[body.DefaultMode] == "" {
		t.Errorf("Expected default mode %q to have a label", body.DefaultMode)
	}
}

func TestRouter_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		check    observability.HealthCheckFunc
		expected int
	}{
		{"healthy", func(context.Context) (bool, error) { return true, nil }, http.StatusOK},
		{"failing", func(context.Context) (bool, error) { return false, errors.New("circuit open") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(nil, observability.NamedCheck{Name: "synthesis", Check: tt.check})
			rec := serve(h, "/ready")
			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestRouter_Endpoints(t *testing.T) {
	h := newTestRouter(nil)

	tests := []struct {
		path     string
		expected int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/ws", http.StatusTeapot},
		{"/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		if rec := serve(h, tt.path); rec.Code != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.expected, rec.Code)
		}
	}
}
