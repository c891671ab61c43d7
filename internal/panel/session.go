package panel

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/protocol"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

const (
	sendBuffer     = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	commandTimeout = 5 * time.Second
)

var errRateLimited = errors.New("too many commands, slow down")

var upgrader = websocket.Upgrader{
	// Panels are served from localhost or an editor webview.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Session is one connected panel.
type Session struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	limiter *rate.Limiter
	logger  zerolog.Logger

	send      chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
}

// HandleWS upgrades the request and serves the panel until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Msg("Failed to upgrade panel connection")
		return
	}

	id := uuid.New().String()
	s := &Session{
		id:      id,
		conn:    conn,
		hub:     h,
		limiter: rate.NewLimiter(h.rate, h.burst),
		logger:  h.logger.With().Str("session_id", id).Str("remote", r.RemoteAddr).Logger(),
		send:    make(chan protocol.Event, sendBuffer),
		done:    make(chan struct{}),
	}

	h.register(s)
	go s.writeLoop()
	s.readLoop()
}

// Close disconnects the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) enqueue(e protocol.Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- e:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	defer func() {
		s.hub.unregister(s)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Panel read error")
			}
			return
		}

		cmd, err := protocol.ParseCommand(message)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rejected panel message")
			observability.RecordPanelCommand(string(cmd.Type), "malformed")
			s.enqueue(protocol.NewError(err))
			continue
		}

		if !s.limiter.Allow() {
			observability.RecordPanelCommand(string(cmd.Type), "rate_limited")
			s.enqueue(protocol.NewError(errRateLimited))
			continue
		}

		s.dispatch(cmd)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(e); err != nil {
				s.logger.Debug().Err(err).Msg("Panel write failed")
				s.Close()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	logger := s.logger.With().Str("command", string(cmd.Type)).Logger()
	err := s.handle(ctx, cmd)

	status := "ok"
	switch {
	case errors.Is(err, errIgnored):
		status = "ignored"
		logger.Debug().Msg("Panel command ignored")
	case err != nil:
		status = "error"
		logger.Warn().Err(err).Msg("Panel command failed")
		s.enqueue(protocol.NewError(err))
	default:
		logger.Debug().Msg("Panel command handled")
	}
	observability.RecordPanelCommand(string(cmd.Type), status)
}

var errIgnored = errors.New("ignored")

func (s *Session) handle(ctx context.Context, cmd protocol.Command) error {
	ctrl := s.hub.ctrl

	switch cmd.Type {
	case protocol.StartTimer:
		ev, err := cmd.StartEvent()
		if err != nil {
			return err
		}
		s.hub.fillDefaults(&ev)
		snap, err := ctrl.Start(ctx, ev)
		if err != nil {
			return err
		}
		if !snap.IsRunning() {
			// The start could not be displayed and was reset.
			s.enqueue(protocol.NewInitTimer(snap, s.hub.ImageURIs()))
		}
		return nil

	case protocol.StopTimer:
		reason, err := cmd.StopReason()
		if err != nil {
			return err
		}
		if reason == protocol.ReasonPause {
			_, err = ctrl.Pause(ctx)
		} else {
			_, err = ctrl.Reset(ctx)
		}
		return err

	case protocol.InitTimer:
		snap, err := ctrl.Snapshot(ctx)
		if err != nil {
			return err
		}
		s.enqueue(protocol.NewInitTimer(snap, s.hub.ImageURIs()))
		return nil

	case protocol.SampleStart:
		speaker, err := cmd.Speaker()
		if err != nil {
			return err
		}
		return ctrl.Sample(ctx, speaker)

	case protocol.CloseSettingTab:
		return errIgnored
	}
	return errIgnored
}

// fillDefaults completes display metadata a client left out, using the
// catalog entry that owns the speaker id.
func (h *Hub) fillDefaults(ev *scheduler.StartEvent) {
	cat := h.catalog()
	m := &ev.Meta

	if m.CharacterName == "" {
		if vm, _, ok := cat.FindBySpeaker(ev.SpeakerID); ok {
			m.CharacterName = vm.Name
		}
	}
	if m.StyleID == "" {
		m.StyleID = strconv.Itoa(ev.SpeakerID)
	}
	if m.ModeValue == "" {
		m.ModeValue = cat.DefaultMode
	}
	if m.ModeLabel == "" {
		if label, ok := cat.ModeLabel(m.ModeValue); ok {
			m.ModeLabel = label
		}
	}
}
