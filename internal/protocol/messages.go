// Package protocol defines the JSON messages exchanged with control panels.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/voice-cheer/internal/scheduler"
)

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command type")
)

// MaxIntervalMinutes bounds the schedule interval at one week.
const MaxIntervalMinutes = 7 * 24 * 60

// CommandType names a panel-to-core message.
type CommandType string

const (
	StartTimer      CommandType = "startTimer"
	StopTimer       CommandType = "stopTimer"
	InitTimer       CommandType = "initTimer"
	SampleStart     CommandType = "sampleStart"
	CloseSettingTab CommandType = "closeSettingTab"
)

// EventType names a core-to-panel message.
type EventType string

const (
	EventInitTimer      EventType = "initTimer"
	EventReceiveMessage EventType = "receiveMessage"
	EventSampleStop     EventType = "sampleStop"
	EventPlaybackFailed EventType = "playbackFailed"
	EventError          EventType = "error"
)

// StopReason distinguishes pause from reset in a stopTimer command.
type StopReason string

const (
	ReasonPause StopReason = "pause"
	ReasonReset StopReason = "reset"
)

// Command is a message from a panel. Text carries the interval in minutes
// for startTimer.
type Command struct {
	Type      CommandType     `json:"type"`
	Text      string          `json:"text"`
	SpeakerID *int            `json:"speakerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the startTimer payload.
type StartPayload struct {
	CharacterName    string `json:"characterName"`
	StyleID          string `json:"styleId"`
	IntervalMinutes  int    `json:"intervalMinutes"`
	ModeValue        string `json:"modeValue"`
	ModeLabel        string `json:"modeLabel"`
	RemainingSeconds *int   `json:"remainingSeconds,omitempty"`
	IsResume         bool   `json:"isResume,omitempty"`
}

// StopPayload is the stopTimer payload.
type StopPayload struct {
	Reason StopReason `json:"reason"`
}

// ParseCommand decodes and checks the type of a panel message.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	switch c.Type {
	case StartTimer, StopTimer, InitTimer, SampleStart, CloseSettingTab:
		return c, nil
	case "":
		return c, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
}

func (c Command) hasPayload() bool {
	return len(c.Payload) > 0 && string(c.Payload) != "null"
}

// Speaker returns the speaker id or an error when it is absent.
func (c Command) Speaker() (int, error) {
	if c.SpeakerID == nil {
		return 0, fmt.Errorf("%w: %s requires speakerId", ErrMalformedCommand, c.Type)
	}
	return *c.SpeakerID, nil
}

// StartPayload decodes the startTimer payload. A missing payload decodes
// to the zero value.
func (c Command) StartPayload() (StartPayload, error) {
	var p StartPayload
	if !c.hasPayload() {
		return p, nil
	}
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: start payload: %v", ErrMalformedCommand, err)
	}
	return p, nil
}

// StopReason decodes the stopTimer reason. Without a payload the stop is
// a reset.
func (c Command) StopReason() (StopReason, error) {
	if !c.hasPayload() {
		return ReasonReset, nil
	}
	var p StopPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return "", fmt.Errorf("%w: stop payload: %v", ErrMalformedCommand, err)
	}
	switch p.Reason {
	case ReasonPause, ReasonReset:
		return p.Reason, nil
	case "":
		return ReasonReset, nil
	default:
		return "", fmt.Errorf("%w: stop reason %q", ErrMalformedCommand, p.Reason)
	}
}

// StartEvent converts a startTimer command into a scheduler event. The
// interval comes from Text, falling back to payload.intervalMinutes.
// A resume without remainingSeconds waits one full interval.
func (c Command) StartEvent() (scheduler.StartEvent, error) {
	speaker, err := c.Speaker()
	if err != nil {
		return scheduler.StartEvent{}, err
	}
	p, err := c.StartPayload()
	if err != nil {
		return scheduler.StartEvent{}, err
	}

	minutes, convErr := strconv.Atoi(strings.TrimSpace(c.Text))
	if convErr != nil {
		if p.IntervalMinutes == 0 {
			return scheduler.StartEvent{}, fmt.Errorf("%w: interval %q is not a number", ErrMalformedCommand, c.Text)
		}
		minutes = p.IntervalMinutes
	}
	if minutes > MaxIntervalMinutes {
		return scheduler.StartEvent{}, fmt.Errorf("%w: interval %d exceeds %d minutes", ErrMalformedCommand, minutes, MaxIntervalMinutes)
	}
	interval := time.Duration(minutes) * time.Minute

	ev := scheduler.StartEvent{
		Interval:  interval,
		SpeakerID: speaker,
		Meta: scheduler.Metadata{
			CharacterName:   p.CharacterName,
			StyleID:         p.StyleID,
			ModeValue:       p.ModeValue,
			ModeLabel:       p.ModeLabel,
			IntervalMinutes: minutes,
		},
		Resume: p.IsResume,
	}
	if p.IsResume {
		ev.Remaining = interval
		if p.RemainingSeconds != nil {
			if *p.RemainingSeconds > MaxIntervalMinutes*60 {
				return scheduler.StartEvent{}, fmt.Errorf("%w: remainingSeconds %d out of range", ErrMalformedCommand, *p.RemainingSeconds)
			}
			ev.Remaining = time.Duration(*p.RemainingSeconds) * time.Second
		}
	}
	return ev, nil
}

// NewStartCommand builds a startTimer command.
func NewStartCommand(speakerID int, p StartPayload) (Command, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Type:      StartTimer,
		Text:      strconv.Itoa(p.IntervalMinutes),
		SpeakerID: &speakerID,
		Payload:   raw,
	}, nil
}

// NewStopCommand builds a stopTimer command.
func NewStopCommand(reason StopReason) Command {
	raw, _ := json.Marshal(StopPayload{Reason: reason})
	return Command{Type: StopTimer, Payload: raw}
}

// NewInitCommand builds an initTimer request.
func NewInitCommand() Command {
	return Command{Type: InitTimer}
}

// NewSampleCommand builds a sampleStart command.
func NewSampleCommand(speakerID int) Command {
	return Command{Type: SampleStart, SpeakerID: &speakerID}
}

// Event is a message to a panel. Only the fields of its Type are set.
type Event struct {
	Type           EventType           `json:"type"`
	IsRunning      *bool               `json:"isRunning,omitempty"`
	ImageURIs      map[string]string   `json:"imageUris,omitempty"`
	StatusSnapshot *scheduler.Snapshot `json:"statusSnapshot,omitempty"`
	Text           string              `json:"text,omitempty"`
	SpeakerID      *int                `json:"speakerId,omitempty"`
	Reason         string              `json:"reason,omitempty"`
}

// NewInitTimer describes the full panel state.
func NewInitTimer(snap scheduler.Snapshot, imageURIs map[string]string) Event {
	running := snap.IsRunning()
	return Event{
		Type:           EventInitTimer,
		IsRunning:      &running,
		ImageURIs:      imageURIs,
		StatusSnapshot: &snap,
	}
}

// NewReceiveMessage announces the message a cycle is speaking.
func NewReceiveMessage(text string, speakerID int) Event {
	return Event{Type: EventReceiveMessage, Text: text, SpeakerID: &speakerID}
}

// NewSampleStop tells panels the sample playback is over.
func NewSampleStop() Event {
	return Event{Type: EventSampleStop}
}

// NewPlaybackFailed reports a failed cycle once.
func NewPlaybackFailed(text string, err error) Event {
	return Event{Type: EventPlaybackFailed, Text: text, Reason: err.Error()}
}

// NewError replies to a rejected command.
func NewError(err error) Event {
	return Event{Type: EventError, Text: err.Error()}
}

// DecodeEvent parses a core-to-panel message.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, errors.New("decode event: missing type")
	}
	return e, nil
}
