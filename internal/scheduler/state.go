package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidSpeaker  = errors.New("speaker id must be non-negative")
	ErrStopped         = errors.New("scheduler stopped")
)

// Status is the scheduler lifecycle state.
type Status int

const (
	Idle Status = iota
	Running
	Paused
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	default:
		return "Idle"
	}
}

// CycleKind says what started a playback cycle.
type CycleKind int

const (
	TimerCycle CycleKind = iota
	SampleCycle
)

func (k CycleKind) String() string {
	if k == SampleCycle {
		return "sample"
	}
	return "timer"
}

// Metadata is what the panel displays about the running schedule.
type Metadata struct {
	CharacterName   string
	StyleID         string
	ModeValue       string
	ModeLabel       string
	IntervalMinutes int
}

// State is owned by the event loop. Only Transition produces new values.
type State struct {
	Status    Status
	Interval  time.Duration
	SpeakerID int
	Meta      Metadata

	NextFireAt time.Time     // valid while Running
	Remaining  time.Duration // whole seconds, valid while Paused

	InFlight     bool
	InFlightKind CycleKind

	// TimerArmed is true while a fire is pending. TimerGen identifies the
	// pending fire; fires carrying another generation are stale.
	TimerArmed bool
	TimerGen   uint64
}

// Events

type Event interface{ isEvent() }

// StartEvent starts or reconfigures the schedule. With Resume set a single
// fire is armed after Remaining and nothing plays immediately.
type StartEvent struct {
	Interval  time.Duration
	SpeakerID int
	Meta      Metadata
	Resume    bool
	Remaining time.Duration
}

type PauseEvent struct{}

type ResetEvent struct{}

// TimerFired is posted by the armed timer.
type TimerFired struct{ Gen uint64 }

// SampleEvent requests a one-shot playback of the sample phrase.
type SampleEvent struct{ SpeakerID int }

// CycleDone is posted by a cycle goroutine on every exit path.
type CycleDone struct {
	Kind CycleKind
	Text string
	Err  error
}

// SnapshotRequest asks for the current snapshot; an invalid would-be
// snapshot resets the scheduler.
type SnapshotRequest struct{}

func (StartEvent) isEvent()      {}
func (PauseEvent) isEvent()      {}
func (ResetEvent) isEvent()      {}
func (TimerFired) isEvent()      {}
func (SampleEvent) isEvent()     {}
func (CycleDone) isEvent()       {}
func (SnapshotRequest) isEvent() {}

// Effects

type Effect interface{ isEffect() }

// ArmTimer replaces any pending fire with one after Delay.
type ArmTimer struct {
	Delay time.Duration
	Gen   uint64
}

// CancelTimer drops the pending fire.
type CancelTimer struct{}

// StartCycle launches a synthesis and playback cycle.
type StartCycle struct {
	Kind      CycleKind
	SpeakerID int
}

// Emit publishes a notification to panels.
type Emit struct{ Notification Notification }

func (ArmTimer) isEffect()    {}
func (CancelTimer) isEffect() {}
func (StartCycle) isEffect()  {}
func (Emit) isEffect()        {}

// Notifications

type Notification interface{ isNotification() }

// StatusChanged follows every start, pause and reset. The runtime fills in
// Snapshot before publishing.
type StatusChanged struct{ Snapshot Snapshot }

// MessageStarted is published when a cycle begins speaking Text.
type MessageStarted struct {
	Text      string
	SpeakerID int
}

// CycleFinished is published when a cycle ends or a trigger is dropped
// because another cycle holds the guard.
type CycleFinished struct {
	Kind    CycleKind
	Text    string
	Err     error
	Dropped bool
}

func (StatusChanged) isNotification()  {}
func (MessageStarted) isNotification() {}
func (CycleFinished) isNotification()  {}

// Transition applies ev to s at now. It never performs I/O; the returned
// effects describe what the runtime must do. On error s is returned unchanged.
func Transition(s State, ev Event, now time.Time) (State, []Effect, error) {
	switch e := ev.(type) {
	case StartEvent:
		next, effects, err := start(s, e, now)
		return checked(s, next, effects, err, now)
	case PauseEvent:
		next, effects, err := pause(s, now)
		return checked(s, next, effects, err, now)
	case ResetEvent:
		return reset(s)
	case TimerFired:
		return fire(s, e, now)
	case SampleEvent:
		return sample(s, e)
	case CycleDone:
		return cycleDone(s, e, now)
	case SnapshotRequest:
		if _, valid := BuildSnapshot(s, now); !valid {
			return reset(s)
		}
		return s, nil, nil
	default:
		return s, nil, fmt.Errorf("unknown event %T", ev)
	}
}

// checked replaces a transition whose result could not be shown to a panel
// with a reset of prev, so no cycle or fire starts behind an Idle snapshot.
func checked(prev, next State, effects []Effect, err error, now time.Time) (State, []Effect, error) {
	if err != nil {
		return next, effects, err
	}
	if _, valid := BuildSnapshot(next, now); !valid {
		return reset(prev)
	}
	return next, effects, nil
}

func arm(s *State, d time.Duration, now time.Time) Effect {
	s.TimerGen++
	s.TimerArmed = true
	s.NextFireAt = now.Add(d)
	return ArmTimer{Delay: d, Gen: s.TimerGen}
}

func disarm(s *State) Effect {
	s.TimerGen++
	s.TimerArmed = false
	return CancelTimer{}
}

func start(s State, e StartEvent, now time.Time) (State, []Effect, error) {
	if e.Interval <= 0 {
		return s, nil, fmt.Errorf("%w: got %v", ErrInvalidInterval, e.Interval)
	}
	if e.SpeakerID < 0 {
		return s, nil, fmt.Errorf("%w: got %d", ErrInvalidSpeaker, e.SpeakerID)
	}

	s.Status = Running
	s.Interval = e.Interval
	s.SpeakerID = e.SpeakerID
	s.Meta = e.Meta
	s.Remaining = 0

	if e.Resume {
		return s, []Effect{arm(&s, max(e.Remaining, 0), now), Emit{StatusChanged{}}}, nil
	}

	// Status goes out before the cycle can announce its message.
	effects := []Effect{arm(&s, e.Interval, now), Emit{StatusChanged{}}}
	if s.InFlight {
		effects = append(effects, Emit{CycleFinished{Kind: TimerCycle, Dropped: true}})
	} else {
		s.InFlight = true
		s.InFlightKind = TimerCycle
		effects = append(effects, StartCycle{Kind: TimerCycle, SpeakerID: s.SpeakerID})
	}
	return s, effects, nil
}

func pause(s State, now time.Time) (State, []Effect, error) {
	if s.Status != Running {
		return s, nil, nil
	}

	remaining := s.Interval
	if s.TimerArmed {
		remaining = wholeSeconds(s.NextFireAt.Sub(now))
	}

	s.Status = Paused
	s.Remaining = remaining
	s.NextFireAt = time.Time{}
	effects := []Effect{disarm(&s), Emit{StatusChanged{}}}
	return s, effects, nil
}

func reset(s State) (State, []Effect, error) {
	if s.Status == Idle {
		return s, nil, nil
	}
	// The guard belongs to the in-flight cycle and is released by CycleDone.
	next := State{
		InFlight:     s.InFlight,
		InFlightKind: s.InFlightKind,
		TimerGen:     s.TimerGen,
	}
	effects := []Effect{disarm(&next), Emit{StatusChanged{}}}
	return next, effects, nil
}

func fire(s State, e TimerFired, now time.Time) (State, []Effect, error) {
	if s.Status != Running || !s.TimerArmed || e.Gen != s.TimerGen {
		return s, nil, nil
	}
	s.TimerArmed = false

	if s.InFlight {
		// No queuing: the next natural fire is one interval away.
		return s, []Effect{
			Emit{CycleFinished{Kind: TimerCycle, Dropped: true}},
			arm(&s, s.Interval, now),
		}, nil
	}

	s.InFlight = true
	s.InFlightKind = TimerCycle
	return s, []Effect{StartCycle{Kind: TimerCycle, SpeakerID: s.SpeakerID}}, nil
}

func sample(s State, e SampleEvent) (State, []Effect, error) {
	if e.SpeakerID < 0 {
		return s, nil, fmt.Errorf("%w: got %d", ErrInvalidSpeaker, e.SpeakerID)
	}
	if s.InFlight {
		return s, []Effect{Emit{CycleFinished{Kind: SampleCycle, Dropped: true}}}, nil
	}
	s.InFlight = true
	s.InFlightKind = SampleCycle
	return s, []Effect{StartCycle{Kind: SampleCycle, SpeakerID: e.SpeakerID}}, nil
}

func cycleDone(s State, e CycleDone, now time.Time) (State, []Effect, error) {
	s.InFlight = false
	effects := []Effect{Emit{CycleFinished{Kind: e.Kind, Text: e.Text, Err: e.Err}}}

	if s.Status == Running && !s.TimerArmed {
		effects = append(effects, arm(&s, s.Interval, now))
	}
	return s, effects, nil
}

// wholeSeconds rounds d up to whole seconds, clamped at zero, so a
// countdown read at a fire's start shows the full value.
func wholeSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
