// Package api assembles the HTTP surface: the panel WebSocket, read-only
// JSON endpoints, health probes and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/config"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

// StatusSource answers snapshot requests.
type StatusSource interface {
	Snapshot(ctx context.Context) (scheduler.Snapshot, error)
}

// Router wires handlers onto a chi mux.
type Router struct {
	mux     *chi.Mux
	cfg     *config.Config
	status  StatusSource
	ws      http.HandlerFunc
	catalog func() *catalog.Catalog
	checks  []observability.NamedCheck
	logger  zerolog.Logger
}

// NewRouter creates a router. ws serves panel connections.
func NewRouter(cfg *config.Config, status StatusSource, ws http.HandlerFunc, cat func() *catalog.Catalog, checks ...observability.NamedCheck) *Router {
	return &Router{
		mux:     chi.NewRouter(),
		cfg:     cfg,
		status:  status,
		ws:      ws,
		catalog: cat,
		checks:  checks,
		logger:  observability.Component("http"),
	}
}

// CatalogResponse is the /api/catalog body.
type CatalogResponse struct {
	SamplePhrase string               `json:"samplePhrase"`
	DefaultMode  string               `json:"defaultMode"`
	Modes        map[string]string    `json:"modes"`
	VoiceModels  []catalog.VoiceModel `json:"voiceModels"`
	ImageURIs    map[string]string    `json:"imageUris"`
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Long-lived; kept out of request logging.
	r.Get("/ws", rt.ws)

	r.Group(func(r chi.Router) {
		r.Use(rt.requestLogger)

		r.Get("/health", observability.HealthCheckHandler())
		r.Get("/ready", observability.ReadinessHandler(rt.checks...))

		r.Route("/api", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(10 * time.Second))
			r.Get("/status", rt.getStatus)
			r.Get("/catalog", rt.getCatalog)
		})

		if rt.cfg.MetricsEnabled {
			r.Handle("/metrics", promhttp.Handler())
		}
	})

	return r
}

func (rt *Router) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.status.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (rt *Router) getCatalog(w http.ResponseWriter, r *http.Request) {
	cat := rt.catalog()
	writeJSON(w, http.StatusOK, CatalogResponse{
		SamplePhrase: cat.SamplePhrase,
		DefaultMode:  cat.DefaultMode,
		Modes:        cat.Modes,
		VoiceModels:  cat.VoiceModels,
		ImageURIs:    cat.ImageURIs(rt.cfg.ImageBaseURL),
	})
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		rt.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
