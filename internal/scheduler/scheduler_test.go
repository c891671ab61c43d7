package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/tts"
)

// fakeClock fires callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type synthFunc func(ctx context.Context, req tts.Request) tts.Result

func (f synthFunc) Synthesize(ctx context.Context, req tts.Request) tts.Result {
	return f(ctx, req)
}

type deliverFunc func(ctx context.Context, url string) error

func (f deliverFunc) Deliver(ctx context.Context, url string, _ *observability.CycleMetrics) error {
	return f(ctx, url)
}

type recorder struct {
	ch chan Notification
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Notification, 256)}
}

func (r *recorder) Notify(n Notification) {
	select {
	case r.ch <- n:
	default:
	}
}

func waitFor[T Notification](t *testing.T, r *recorder, match func(T) bool) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-r.ch:
			if v, ok := n.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("Timed out waiting for %T", zero)
			return zero
		}
	}
}

type harness struct {
	sched  *Scheduler
	clock  *fakeClock
	notes  *recorder
	calls  chan tts.Request
	played chan string
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	synth   synthFunc
	deliver deliverFunc
}

func withSynth(f synthFunc) harnessOption {
	return func(c *harnessConfig) { c.synth = f }
}

func withDeliver(f deliverFunc) harnessOption {
	return func(c *harnessConfig) { c.deliver = f }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		clock:  newFakeClock(t0),
		notes:  newRecorder(),
		calls:  make(chan tts.Request, 16),
		played: make(chan string, 16),
		done:   make(chan struct{}),
	}

	cfg := harnessConfig{
		synth: func(_ context.Context, req tts.Request) tts.Result {
			return tts.Result{URL: "http://synth.local/audio/1.wav", Attempts: 1}
		},
		deliver: func(_ context.Context, url string) error {
			return nil
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	synth := synthFunc(func(ctx context.Context, req tts.Request) tts.Result {
		h.calls <- req
		return cfg.synth(ctx, req)
	})
	deliver := deliverFunc(func(ctx context.Context, url string) error {
		err := cfg.deliver(ctx, url)
		h.played <- url
		return err
	})

	cat := catalog.Default()
	h.sched = New(synth, deliver, func() *catalog.Catalog { return cat },
		WithClock(h.clock),
		WithNotifier(h.notes),
		WithRand(rand.New(rand.NewSource(1))),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runErr = h.sched.Run(ctx)
		close(h.done)
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.sched.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	s, err := h.sched.State(context.Background())
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	return s
}

func (h *harness) expectSynthesis(t *testing.T) tts.Request {
	t.Helper()
	select {
	case req := <-h.calls:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for synthesis")
		return tts.Request{}
	}
}

func (h *harness) expectNoCycle(t *testing.T) {
	t.Helper()
	if s := h.state(t); s.InFlight {
		t.Fatal("Expected no cycle in flight")
	}
	select {
	case req := <-h.calls:
		t.Fatalf("Expected no synthesis, got %+v", req)
	default:
	}
}

func (h *harness) waitCycleDone(t *testing.T) CycleFinished {
	t.Helper()
	return waitFor(t, h.notes, func(cf CycleFinished) bool { return !cf.Dropped })
}

func TestScheduler_StartPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := h.sched.Start(ctx, startEvent())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !snap.IsRunning() || *snap.RemainingSeconds != 300 {
		t.Errorf("Expected Running with 300s remaining, got %+v", snap)
	}

	req := h.expectSynthesis(t)
	if req.SpeakerID != 3 {
		t.Errorf("Expected speaker 3, got %d", req.SpeakerID)
	}
	if !contains(catalog.Default().Messages, req.Text) {
		t.Errorf("Expected a catalog message, got %q", req.Text)
	}
	if got := h.waitCycleDone(t); got.Err != nil || got.Text != req.Text {
		t.Errorf("Expected a successful cycle for %q, got %+v", req.Text, got)
	}

	h.clock.Advance(60 * time.Second)
	snap, err = h.sched.Pause(ctx)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if snap.Status != "Paused" || *snap.RemainingSeconds != 240 {
		t.Errorf("Expected Paused with 240s, got %+v", snap)
	}

	h.clock.Advance(10 * time.Minute)
	snap = h.snapshot(t)
	if *snap.RemainingSeconds != 240 {
		t.Errorf("Expected remaining frozen at 240s, got %d", *snap.RemainingSeconds)
	}
	h.expectNoCycle(t)

	resume := startEvent()
	resume.Resume = true
	resume.Remaining = time.Duration(*snap.RemainingSeconds) * time.Second
	snap, err = h.sched.Start(ctx, resume)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !snap.IsRunning() || *snap.RemainingSeconds != 240 {
		t.Errorf("Expected Running with 240s after resume, got %+v", snap)
	}
	h.expectNoCycle(t)

	h.clock.Advance(239 * time.Second)
	h.expectNoCycle(t)

	h.clock.Advance(time.Second)
	h.snapshot(t)
	h.expectSynthesis(t)
	h.waitCycleDone(t)

	// Completion re-arms a full interval.
	if snap := h.snapshot(t); *snap.RemainingSeconds != 300 {
		t.Errorf("Expected 300s after completion, got %d", *snap.RemainingSeconds)
	}
}

func TestScheduler_EmitsStatusAndMessage(t *testing.T) {
	h := newHarness(t)

	if _, err := h.sched.Start(context.Background(), startEvent()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Status comes from the loop and the message from the cycle, in either order.
	var (
		sc       StatusChanged
		ms       MessageStarted
		sawSC    bool
		sawMS    bool
		deadline = time.After(2 * time.Second)
	)
	for !sawSC || !sawMS {
		select {
		case n := <-h.notes.ch:
			switch v := n.(type) {
			case StatusChanged:
				sc, sawSC = v, true
			case MessageStarted:
				ms, sawMS = v, true
			}
		case <-deadline:
			t.Fatalf("Timed out: status=%v message=%v", sawSC, sawMS)
		}
	}

	if !sc.Snapshot.IsRunning() || sc.Snapshot.CharacterName != "A" {
		t.Errorf("Expected running snapshot for A, got %+v", sc.Snapshot)
	}
	if ms.SpeakerID != 3 || ms.Text == "" {
		t.Errorf("Expected message for speaker 3, got %+v", ms)
	}
}

func TestScheduler_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withDeliver(func(ctx context.Context, url string) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	ctx := context.Background()

	if _, err := h.sched.Start(ctx, startEvent()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.expectSynthesis(t)

	if err := h.sched.Sample(ctx, 8); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	dropped := waitFor(t, h.notes, func(cf CycleFinished) bool { return cf.Dropped })
	if dropped.Kind != SampleCycle {
		t.Errorf("Expected dropped sample, got %+v", dropped)
	}

	// A fire during playback is skipped and the next one is an interval later.
	h.clock.Advance(5 * time.Minute)
	h.snapshot(t)
	dropped = waitFor(t, h.notes, func(cf CycleFinished) bool { return cf.Dropped })
	if dropped.Kind != TimerCycle {
		t.Errorf("Expected dropped timer fire, got %+v", dropped)
	}
	if snap := h.snapshot(t); *snap.RemainingSeconds != 300 {
		t.Errorf("Expected next fire in 300s, got %d", *snap.RemainingSeconds)
	}

	select {
	case req := <-h.calls:
		t.Fatalf("Expected no concurrent synthesis, got %+v", req)
	default:
	}

	close(release)
	h.waitCycleDone(t)
	if s := h.state(t); s.InFlight {
		t.Error("Expected guard released after completion")
	}
}

func TestScheduler_SampleUsesSamplePhrase(t *testing.T) {
	h := newHarness(t)

	if err := h.sched.Sample(context.Background(), 8); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}

	req := h.expectSynthesis(t)
	if req.Text != catalog.Default().SamplePhrase || req.SpeakerID != 8 {
		t.Errorf("Expected sample phrase for speaker 8, got %+v", req)
	}
	cf := h.waitCycleDone(t)
	if cf.Kind != SampleCycle {
		t.Errorf("Expected sample cycle, got %v", cf.Kind)
	}

	if s := h.state(t); s.Status != Idle || s.TimerArmed {
		t.Errorf("Expected sample not to start the schedule, got %+v", s)
	}
}

func TestScheduler_ResetDuringPlayback(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withDeliver(func(ctx context.Context, url string) error {
		<-release
		return nil
	}))
	ctx := context.Background()

	if _, err := h.sched.Start(ctx, startEvent()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.expectSynthesis(t)

	snap, err := h.sched.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if snap != IdleSnapshot() {
		t.Errorf("Expected Idle snapshot, got %+v", snap)
	}

	close(release)
	h.waitCycleDone(t)

	s := h.state(t)
	if s.Status != Idle || s.InFlight || s.TimerArmed {
		t.Errorf("Expected clean Idle state, got %+v", s)
	}
	if n := h.clock.active(); n != 0 {
		t.Errorf("Expected no pending timers, got %d", n)
	}
}

func TestScheduler_FailuresReleaseGuard(t *testing.T) {
	tests := []struct {
		name     string
		synth    synthFunc
		expected string
	}{
		{
			name: "synthesis error",
			synth: func(context.Context, tts.Request) tts.Result {
				return tts.Result{Attempts: 3, Err: tts.ErrNotReady}
			},
			expected: "synthesize after 3 attempts",
		},
		{
			name: "panic",
			synth: func(context.Context, tts.Request) tts.Result {
				panic("boom")
			},
			expected: "cycle panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withSynth(tt.synth))
			ctx := context.Background()

			if _, err := h.sched.Start(ctx, startEvent()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			h.expectSynthesis(t)

			cf := h.waitCycleDone(t)
			if cf.Err == nil || !strings.Contains(cf.Err.Error(), tt.expected) {
				t.Errorf("Expected error containing %q, got %v", tt.expected, cf.Err)
			}

			s := h.state(t)
			if s.InFlight {
				t.Error("Expected guard released")
			}
			if s.Status != Running || !s.TimerArmed {
				t.Errorf("Expected schedule to keep running, got %+v", s)
			}
		})
	}
}

func TestScheduler_DeliverErrorReported(t *testing.T) {
	playErr := errors.New("no player")
	h := newHarness(t, withDeliver(func(context.Context, string) error { return playErr }))

	if err := h.sched.Sample(context.Background(), 1); err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	cf := h.waitCycleDone(t)
	if !errors.Is(cf.Err, playErr) {
		t.Errorf("Expected wrapped delivery error, got %v", cf.Err)
	}
}

func TestScheduler_InvalidStartRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.sched.Start(context.Background(), StartEvent{Interval: 0, SpeakerID: 3})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Expected ErrInvalidInterval, got %v", err)
	}
	if s := h.state(t); s.Status != Idle {
		t.Errorf("Expected Idle after rejected start, got %s", s.Status)
	}
}

func TestScheduler_IncompleteStartStaysIdle(t *testing.T) {
	h := newHarness(t)

	ev := StartEvent{Interval: 5 * time.Minute, SpeakerID: 3, Meta: testMeta()}
	ev.Meta.StyleID = ""
	snap, err := h.sched.Start(context.Background(), ev)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if snap.Status != "Idle" {
		t.Errorf("Expected Idle reply, got %+v", snap)
	}
	if n := h.clock.active(); n != 0 {
		t.Errorf("Expected no pending timers, got %d", n)
	}

	h.clock.Advance(5 * time.Minute)
	h.expectNoCycle(t)
	if s := h.state(t); s.Status != Idle {
		t.Errorf("Expected Idle, got %s", s.Status)
	}
}

func TestScheduler_StoppedCancelsCycle(t *testing.T) {
	var cancelled atomic.Bool
	h := newHarness(t, withDeliver(func(ctx context.Context, url string) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	if _, err := h.sched.Start(context.Background(), startEvent()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.expectSynthesis(t)

	h.stop()
	if !cancelled.Load() {
		t.Error("Expected in-flight cycle cancelled before Run returned")
	}

	if _, err := h.sched.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
