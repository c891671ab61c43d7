package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	ServiceName    = "voice-cheer"
	ServiceVersion = "1.0.0"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether a dependency is usable.
// Taking plain funcs keeps observability free of imports from the domain packages.
type HealthCheckFunc func(ctx context.Context) (bool, error)

// NamedCheck pairs a dependency name with its check.
type NamedCheck struct {
	Name  string
	Check HealthCheckFunc
}

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   ServiceName,
			Version:   ServiceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler runs every check and answers 503 if any fails.
func ReadinessHandler(checks ...NamedCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies := make(map[string]DependencyStatus, len(checks))
		allHealthy := true

		for _, c := range checks {
			if c.Check == nil {
				continue
			}
			start := time.Now()
			healthy, err := c.Check(ctx)

			dep := DependencyStatus{
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil || !healthy {
				dep.Status = "unhealthy"
				allHealthy = false
				if err != nil {
					dep.Message = err.Error()
				}
			}
			dependencies[c.Name] = dep
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      ServiceName,
			Version:      ServiceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		code := http.StatusOK
		if !allHealthy {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, status)
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
