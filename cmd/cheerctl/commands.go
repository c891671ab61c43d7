package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/lexiqai/voice-cheer/internal/api"
	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/panel"
	"github.com/lexiqai/voice-cheer/internal/protocol"
	"github.com/lexiqai/voice-cheer/internal/resilience"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

const (
	defaultTimeout = 10 * time.Second
	sampleTimeout  = 2 * time.Minute
)

var errNotPaused = errors.New("schedule is not paused")

type session struct {
	client *panel.Client
	addr   string
	json   bool
	out    io.Writer
}

func connect(c *cli.Context) (*session, error) {
	addr := c.GlobalString("addr")
	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration("timeout"))
	defer cancel()

	client, err := panel.Dial(ctx, addr, resilience.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	return &session{
		client: client,
		addr:   addr,
		json:   c.GlobalBool("json"),
		out:    os.Stdout,
	}, nil
}

func withSession(c *cli.Context, timeout time.Duration, fn func(ctx context.Context, s *session) error) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.client.Close()

	if t := c.GlobalDuration("timeout"); t > timeout {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, s)
}

func (s *session) print(e protocol.Event) {
	if s.json {
		b, _ := json.Marshal(e)
		fmt.Fprintln(s.out, string(b))
		return
	}
	fmt.Fprintln(s.out, formatEvent(e))
}

func (s *session) snapshot(ctx context.Context) (scheduler.Snapshot, error) {
	e, err := s.client.Request(ctx, protocol.NewInitCommand(), protocol.EventInitTimer)
	if err != nil {
		return scheduler.Snapshot{}, err
	}
	if e.StatusSnapshot == nil {
		return scheduler.IdleSnapshot(), nil
	}
	return *e.StatusSnapshot, nil
}

func (s *session) fetchCatalog(ctx context.Context) (*catalog.Catalog, error) {
	u, err := catalogURL(s.addr)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
	}

	var body api.CatalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &catalog.Catalog{
		SamplePhrase: body.SamplePhrase,
		DefaultMode:  body.DefaultMode,
		Modes:        body.Modes,
		VoiceModels:  body.VoiceModels,
	}, nil
}

func status(c *cli.Context) error {
	return withSession(c, defaultTimeout, func(ctx context.Context, s *session) error {
		e, err := s.client.Request(ctx, protocol.NewInitCommand(), protocol.EventInitTimer)
		if err != nil {
			return err
		}
		s.print(e)
		return nil
	})
}

func start(c *cli.Context) error {
	minutes := c.Int("interval")
	if minutes <= 0 {
		return fmt.Errorf("--interval must be positive, got %d", minutes)
	}

	return withSession(c, defaultTimeout, func(ctx context.Context, s *session) error {
		cat, err := s.fetchCatalog(ctx)
		if err != nil {
			return err
		}
		speaker, err := resolveSpeaker(cat, c.Int("speaker"), c.String("character"), c.String("style"))
		if err != nil {
			return err
		}

		payload := startPayload(cat, speaker, minutes, c.String("mode"))
		cmd, err := protocol.NewStartCommand(speaker, payload)
		if err != nil {
			return err
		}
		e, err := s.client.Request(ctx, cmd, protocol.EventInitTimer)
		if err != nil {
			return err
		}
		s.print(e)
		return nil
	})
}

func pause(c *cli.Context) error {
	return stopWith(c, protocol.ReasonPause)
}

func reset(c *cli.Context) error {
	return stopWith(c, protocol.ReasonReset)
}

func stopWith(c *cli.Context, reason protocol.StopReason) error {
	return withSession(c, defaultTimeout, func(ctx context.Context, s *session) error {
		e, err := s.client.Request(ctx, protocol.NewStopCommand(reason), protocol.EventInitTimer)
		if err != nil {
			return err
		}
		s.print(e)
		return nil
	})
}

func resume(c *cli.Context) error {
	return withSession(c, defaultTimeout, func(ctx context.Context, s *session) error {
		snap, err := s.snapshot(ctx)
		if err != nil {
			return err
		}
		cmd, err := resumeCommand(snap)
		if err != nil {
			return err
		}
		e, err := s.client.Request(ctx, cmd, protocol.EventInitTimer)
		if err != nil {
			return err
		}
		s.print(e)
		return nil
	})
}

func sample(c *cli.Context) error {
	return withSession(c, sampleTimeout, func(ctx context.Context, s *session) error {
		cat, err := s.fetchCatalog(ctx)
		if err != nil {
			return err
		}
		speaker, err := resolveSpeaker(cat, c.Int("speaker"), c.String("character"), c.String("style"))
		if err != nil {
			return err
		}

		if err := s.client.Send(protocol.NewSampleCommand(speaker)); err != nil {
			return err
		}
		for {
			e, err := s.client.Await(ctx, protocol.EventReceiveMessage, protocol.EventPlaybackFailed, protocol.EventSampleStop)
			if err != nil {
				return err
			}
			s.print(e)
			if e.Type == protocol.EventSampleStop {
				return nil
			}
		}
	})
}

func voices(c *cli.Context) error {
	return withSession(c, defaultTimeout, func(ctx context.Context, s *session) error {
		cat, err := s.fetchCatalog(ctx)
		if err != nil {
			return err
		}
		if s.json {
			return json.NewEncoder(s.out).Encode(cat.VoiceModels)
		}
		for _, vm := range cat.VoiceModels {
			fmt.Fprintf(s.out, "%s\n", vm.Name)
			for _, st := range vm.Styles {
				fmt.Fprintf(s.out, "  %4d  %s\n", st.ID, st.Name)
			}
		}
		return nil
	})
}

func watch(c *cli.Context) error {
	s, err := connect(c)
	if err != nil {
		return err
	}
	defer s.client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.client.Send(protocol.NewInitCommand()); err != nil {
		return err
	}
	for {
		select {
		case e, ok := <-s.client.Events():
			if !ok {
				return panel.ErrClientClosed
			}
			s.print(e)
		case <-ctx.Done():
			return nil
		}
	}
}

// resolveSpeaker picks the speaker id from an explicit id, or from a
// character and style name. A character alone selects its first style.
func resolveSpeaker(cat *catalog.Catalog, speaker int, character, style string) (int, error) {
	if speaker >= 0 {
		return speaker, nil
	}
	if character == "" {
		return 0, errors.New("need --speaker or --character")
	}
	if style != "" {
		st, ok := cat.FindStyle(character, style)
		if !ok {
			return 0, fmt.Errorf("no style %q for %q", style, character)
		}
		return st.ID, nil
	}
	for _, vm := range cat.VoiceModels {
		if vm.Name == character && len(vm.Styles) > 0 {
			return vm.Styles[0].ID, nil
		}
	}
	return 0, fmt.Errorf("unknown character %q", character)
}

func startPayload(cat *catalog.Catalog, speaker, minutes int, mode string) protocol.StartPayload {
	if mode == "" {
		mode = cat.DefaultMode
	}
	label, _ := cat.ModeLabel(mode)

	var character string
	if vm, _, ok := cat.FindBySpeaker(speaker); ok {
		character = vm.Name
	}
	return protocol.StartPayload{
		CharacterName:   character,
		StyleID:         strconv.Itoa(speaker),
		IntervalMinutes: minutes,
		ModeValue:       mode,
		ModeLabel:       label,
	}
}

// resumeCommand rebuilds a start command from a paused snapshot.
func resumeCommand(snap scheduler.Snapshot) (protocol.Command, error) {
	if snap.Status != scheduler.Paused.String() {
		return protocol.Command{}, fmt.Errorf("%w (status %s)", errNotPaused, snap.Status)
	}
	speaker, err := strconv.Atoi(snap.StyleID)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("snapshot style id %q: %w", snap.StyleID, err)
	}
	return protocol.NewStartCommand(speaker, protocol.StartPayload{
		CharacterName:    snap.CharacterName,
		StyleID:          snap.StyleID,
		IntervalMinutes:  snap.IntervalMinutes,
		ModeValue:        snap.ModeValue,
		ModeLabel:        snap.ModeLabel,
		RemainingSeconds: snap.RemainingSeconds,
		IsResume:         true,
	})
}

func catalogURL(wsAddr string) (string, error) {
	u, err := url.Parse(wsAddr)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/catalog"
	u.RawQuery = ""
	return u.String(), nil
}

func formatSnapshot(s scheduler.Snapshot) string {
	remaining := "?"
	if s.RemainingSeconds != nil {
		remaining = (time.Duration(*s.RemainingSeconds) * time.Second).String()
	}
	mode := s.ModeLabel
	if mode == "" {
		mode = s.ModeValue
	}

	switch s.Status {
	case scheduler.Running.String():
		return fmt.Sprintf("Running: %s (style %s, %s) every %dm, next in %s",
			s.CharacterName, s.StyleID, mode, s.IntervalMinutes, remaining)
	case scheduler.Paused.String():
		return fmt.Sprintf("Paused: %s (style %s, %s) every %dm, %s left",
			s.CharacterName, s.StyleID, mode, s.IntervalMinutes, remaining)
	default:
		return "Idle"
	}
}

func formatEvent(e protocol.Event) string {
	switch e.Type {
	case protocol.EventInitTimer:
		if e.StatusSnapshot == nil {
			return "Idle"
		}
		return formatSnapshot(*e.StatusSnapshot)
	case protocol.EventReceiveMessage:
		speaker := "?"
		if e.SpeakerID != nil {
			speaker = strconv.Itoa(*e.SpeakerID)
		}
		return fmt.Sprintf("[%s] %s", speaker, e.Text)
	case protocol.EventPlaybackFailed:
		return fmt.Sprintf("playback failed: %s (%s)", e.Reason, e.Text)
	case protocol.EventSampleStop:
		return "sample finished"
	case protocol.EventError:
		return "error: " + e.Text
	default:
		return string(e.Type)
	}
}
