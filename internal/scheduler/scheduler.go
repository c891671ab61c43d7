// Package scheduler owns the playback schedule: when to speak, what to
// speak, and the guarantee that only one cycle plays at a time.
//
// All state lives in a single goroutine started by Run. Commands, timer
// fires and cycle completions are posted to one FIFO inbox, so every
// transition runs to completion before the next event is looked at.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-cheer/internal/audio"
	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/tts"
)

// Notifier receives notifications from the event loop. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

type envelope struct {
	ev    Event
	reply chan reply // nil for fire-and-forget posts
}

type reply struct {
	state    State
	snapshot Snapshot
	err      error
}

// Scheduler runs playback cycles on a timer.
type Scheduler struct {
	synth    tts.Synthesizer
	deliver  audio.Deliverer
	catalog  func() *catalog.Catalog
	clock    Clock
	notifier Notifier
	rng      *rand.Rand
	rngMu    sync.Mutex
	logger   zerolog.Logger

	inbox chan envelope
	done  chan struct{}

	// Owned by the Run goroutine.
	state State
	timer Timer

	runCtx context.Context
	cycles sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithNotifier sets where notifications go.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithRand makes message selection deterministic.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// New creates a scheduler in the Idle state. Call Run to start its loop.
func New(synth tts.Synthesizer, deliver audio.Deliverer, cat func() *catalog.Catalog, opts ...Option) *Scheduler {
	s := &Scheduler{
		synth:    synth,
		deliver:  deliver,
		catalog:  cat,
		clock:    RealClock(),
		notifier: nopNotifier{},
		logger:   observability.Component("scheduler"),
		inbox:    make(chan envelope, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes events until ctx is done. In-flight cycles are cancelled
// through ctx and awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.logger.Info().Msg("Scheduler started")
	observability.SetSchedulerStatus(int(Idle))

	defer func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.done)
		s.cycles.Wait()
		s.logger.Info().Msg("Scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-s.inbox:
			s.handle(env)
		}
	}
}

func (s *Scheduler) handle(env envelope) {
	now := s.clock.Now()
	prev := s.state.Status

	next, effects, err := Transition(s.state, env.ev, now)
	if _, isStart := env.ev.(StartEvent); isStart && err == nil && next.Status == Idle {
		s.logger.Warn().Msg("Start without character, style, interval or mode; schedule reset")
	}
	if err == nil {
		s.state = next
		for _, eff := range effects {
			s.apply(eff, now)
		}
	}

	if prev != s.state.Status {
		s.logger.Info().
			Str("from", prev.String()).
			Str("to", s.state.Status.String()).
			Int("speaker_id", s.state.SpeakerID).
			Dur("interval", s.state.Interval).
			Msg("Scheduler transition")
	}
	observability.SetSchedulerStatus(int(s.state.Status))
	observability.SetPlaybackInFlight(s.state.InFlight)

	if env.reply != nil {
		snap, _ := BuildSnapshot(s.state, now)
		env.reply <- reply{state: s.state, snapshot: snap, err: err}
	}
}

func (s *Scheduler) apply(eff Effect, now time.Time) {
	switch e := eff.(type) {
	case ArmTimer:
		if s.timer != nil {
			s.timer.Stop()
		}
		gen := e.Gen
		s.timer = s.clock.AfterFunc(e.Delay, func() {
			s.post(envelope{ev: TimerFired{Gen: gen}})
		})

	case CancelTimer:
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}

	case StartCycle:
		s.cycles.Add(1)
		go s.runCycle(e.Kind, e.SpeakerID)

	case Emit:
		switch n := e.Notification.(type) {
		case StatusChanged:
			n.Snapshot, _ = BuildSnapshot(s.state, now)
			s.notifier.Notify(n)
			return
		case CycleFinished:
			if n.Dropped {
				observability.RecordCycleDropped(n.Kind.String())
				s.logger.Debug().Str("trigger", n.Kind.String()).Msg("Playback in flight; trigger dropped")
			}
		}
		s.notifier.Notify(e.Notification)
	}
}

// post enqueues env unless the loop has stopped.
func (s *Scheduler) post(env envelope) bool {
	select {
	case s.inbox <- env:
		return true
	case <-s.done:
		return false
	}
}

func (s *Scheduler) call(ctx context.Context, ev Event) (reply, error) {
	env := envelope{ev: ev, reply: make(chan reply, 1)}

	select {
	case s.inbox <- env:
	case <-s.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r, r.err
	case <-s.done:
		return reply{}, ErrStopped
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Start starts, resumes or reconfigures the schedule.
func (s *Scheduler) Start(ctx context.Context, ev StartEvent) (Snapshot, error) {
	r, err := s.call(ctx, ev)
	return r.snapshot, err
}

// Pause freezes the countdown. It is a no-op unless Running.
func (s *Scheduler) Pause(ctx context.Context) (Snapshot, error) {
	r, err := s.call(ctx, PauseEvent{})
	return r.snapshot, err
}

// Reset returns to Idle and clears all metadata.
func (s *Scheduler) Reset(ctx context.Context) (Snapshot, error) {
	r, err := s.call(ctx, ResetEvent{})
	return r.snapshot, err
}

// Sample plays the sample phrase once with speakerID unless a cycle is in flight.
func (s *Scheduler) Sample(ctx context.Context, speakerID int) error {
	_, err := s.call(ctx, SampleEvent{SpeakerID: speakerID})
	return err
}

// Snapshot returns the current snapshot, resetting first if the state
// cannot be described.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := s.call(ctx, SnapshotRequest{})
	return r.snapshot, err
}

// State returns a copy of the loop-owned state.
func (s *Scheduler) State(ctx context.Context) (State, error) {
	r, err := s.call(ctx, SnapshotRequest{})
	return r.state, err
}

// Check is a readiness hook: the loop answers within ctx.
func (s *Scheduler) Check(ctx context.Context) (bool, error) {
	if _, err := s.Snapshot(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) pickMessage(cat *catalog.Catalog) (string, error) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return cat.RandomMessage(s.rng)
}

// runCycle selects text, synthesizes it and plays it. The deferred step
// runs on every exit path, panics included, and releases the guard by
// posting CycleDone.
func (s *Scheduler) runCycle(kind CycleKind, speakerID int) {
	defer s.cycles.Done()

	ctx := s.runCtx
	cycleID := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(cycleID).With().
		Str("component", "scheduler").
		Str("kind", kind.String()).
		Int("speaker_id", speakerID).
		Logger()
	m := observability.NewCycleMetrics(cycleID, kind.String())

	var (
		text string
		err  error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}

		result := "success"
		switch {
		case err == nil:
			logger.Info().Str("text", text).Msg("Cycle completed")
		case errors.Is(err, context.Canceled):
			result = "cancelled"
			logger.Debug().Err(err).Msg("Cycle cancelled")
		default:
			result = "error"
			m.RecordError(errorType(err), "scheduler")
			logger.Error().Err(err).Str("text", text).Msg("Cycle failed")
		}
		m.RecordCycleEnd(result)

		s.post(envelope{ev: CycleDone{Kind: kind, Text: text, Err: err}})
	}()

	cat := s.catalog()
	if kind == SampleCycle {
		text = cat.SamplePhrase
	} else {
		text, err = s.pickMessage(cat)
		if err != nil {
			err = fmt.Errorf("select message: %w", err)
			return
		}
	}

	s.notifier.Notify(MessageStarted{Text: text, SpeakerID: speakerID})

	m.RecordSynthesisStart()
	res := s.synth.Synthesize(ctx, tts.Request{Text: text, SpeakerID: speakerID})
	m.RecordSynthesisEnd(res.Ok())
	if !res.Ok() {
		err = fmt.Errorf("synthesize after %d attempts: %w", res.Attempts, res.Err)
		return
	}

	if derr := s.deliver.Deliver(ctx, res.URL, m); derr != nil {
		err = fmt.Errorf("deliver: %w", derr)
	}
}

func errorType(err error) string {
	var (
		redirectErr *audio.RedirectError
		statusErr   *audio.StatusError
		playErr     *audio.PlaybackError
	)
	switch {
	case errors.Is(err, tts.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, tts.ErrNotReady):
		return "not_ready"
	case errors.Is(err, tts.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, tts.ErrRequestFailed):
		return "synthesis_network"
	case errors.Is(err, tts.ErrEmptyText), errors.Is(err, tts.ErrInvalidSpeaker):
		return "input"
	case errors.As(err, &redirectErr):
		return "redirect"
	case errors.As(err, &statusErr), errors.Is(err, audio.ErrEmptyBody):
		return "download"
	case errors.Is(err, audio.ErrUnsupportedPlatform):
		return "unsupported_platform"
	case errors.As(err, &playErr):
		return "playback"
	default:
		return "unknown"
	}
}
