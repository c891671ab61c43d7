package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" || status.Service != ServiceName {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	broken := func(ctx context.Context) (bool, error) { return false, errors.New("scratch dir missing") }

	tests := []struct {
		name         string
		checks       []NamedCheck
		expectedCode int
		expected     string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", []NamedCheck{{"scratch", ok}, {"scheduler", ok}}, http.StatusOK, "ready"},
		{"one failing", []NamedCheck{{"scratch", broken}, {"scheduler", ok}}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks...)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.expectedCode {
				t.Errorf("Expected %d, got %d", tt.expectedCode, rec.Code)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if status.Status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestReadinessHandler_Message(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(NamedCheck{"scratch", func(ctx context.Context) (bool, error) {
		return false, errors.New("scratch dir missing")
	}})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var status HealthStatus
	_ = json.NewDecoder(rec.Body).Decode(&status)

	if status.Dependencies["scratch"].Message != "scratch dir missing" {
		t.Errorf("Expected failure message, got %+v", status.Dependencies["scratch"])
	}
}
