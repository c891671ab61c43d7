// Package panel serves control panels over WebSocket: it turns panel
// commands into scheduler calls and fans scheduler notifications out to
// every connected panel.
package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/config"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/protocol"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

// Controller is the scheduler surface panels drive.
type Controller interface {
	Start(ctx context.Context, ev scheduler.StartEvent) (scheduler.Snapshot, error)
	Pause(ctx context.Context) (scheduler.Snapshot, error)
	Reset(ctx context.Context) (scheduler.Snapshot, error)
	Sample(ctx context.Context, speakerID int) error
	Snapshot(ctx context.Context) (scheduler.Snapshot, error)
}

// Hub tracks connected sessions. Broadcast never blocks: a session whose
// send buffer is full misses the event.
type Hub struct {
	ctrl      Controller
	catalog   func() *catalog.Catalog
	imageBase string
	rate      rate.Limit
	burst     int
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates a hub. Call SetController before serving if the
// controller is built after the hub.
func NewHub(ctrl Controller, cat func() *catalog.Catalog, cfg *config.Config) *Hub {
	return &Hub{
		ctrl:      ctrl,
		catalog:   cat,
		imageBase: cfg.ImageBaseURL,
		rate:      rate.Limit(cfg.PanelCommandRate),
		burst:     cfg.PanelCommandBurst,
		logger:    observability.Component("panel"),
		sessions:  make(map[string]*Session),
	}
}

// SetController wires the scheduler in. It must be called before serving.
func (h *Hub) SetController(ctrl Controller) {
	h.ctrl = ctrl
}

// ImageURIs returns character image URIs from the current catalog.
func (h *Hub) ImageURIs() map[string]string {
	return h.catalog().ImageURIs(h.imageBase)
}

// Notify maps scheduler notifications to panel events.
func (h *Hub) Notify(n scheduler.Notification) {
	switch v := n.(type) {
	case scheduler.StatusChanged:
		h.Broadcast(protocol.NewInitTimer(v.Snapshot, h.ImageURIs()))

	case scheduler.MessageStarted:
		h.Broadcast(protocol.NewReceiveMessage(v.Text, v.SpeakerID))

	case scheduler.CycleFinished:
		if !v.Dropped && v.Err != nil && !errors.Is(v.Err, context.Canceled) {
			h.Broadcast(protocol.NewPlaybackFailed(v.Text, v.Err))
		}
		if v.Kind == scheduler.SampleCycle {
			h.Broadcast(protocol.NewSampleStop())
		}
	}
}

// CatalogReloaded re-sends the current snapshot with the new catalog's
// image URIs so panels pick up renamed or added characters.
func (h *Hub) CatalogReloaded(ctx context.Context) error {
	if h.Count() == 0 {
		return nil
	}
	snap, err := h.ctrl.Snapshot(ctx)
	if err != nil {
		return err
	}
	h.Broadcast(protocol.NewInitTimer(snap, h.ImageURIs()))
	return nil
}

// Broadcast queues e for every session.
func (h *Hub) Broadcast(e protocol.Event) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(e) {
			s.logger.Warn().Str("event", string(e.Type)).Msg("Panel send buffer full, dropping event")
		}
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll disconnects every session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.Close()
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	observability.PanelConnected(1)
	s.logger.Info().Int("sessions", n).Msg("Panel connected")
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	n := len(h.sessions)
	h.mu.Unlock()

	if ok {
		observability.PanelConnected(-1)
		s.logger.Info().Int("sessions", n).Msg("Panel disconnected")
	}
}
