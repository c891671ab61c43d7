package scheduler

import "time"

// Snapshot is what a panel needs to redraw itself from scratch.
// An Idle snapshot marshals to exactly {"status":"Idle"}.
type Snapshot struct {
	Status           string `json:"status"`
	CharacterName    string `json:"characterName,omitempty"`
	StyleID          string `json:"styleId,omitempty"`
	ModeValue        string `json:"modeValue,omitempty"`
	ModeLabel        string `json:"modeLabel,omitempty"`
	IntervalMinutes  int    `json:"intervalMinutes,omitempty"`
	RemainingSeconds *int   `json:"remainingSeconds,omitempty"`
}

// IdleSnapshot is the only snapshot emitted while Idle.
func IdleSnapshot() Snapshot {
	return Snapshot{Status: Idle.String()}
}

// IsRunning reports whether the snapshot describes a running schedule.
func (s Snapshot) IsRunning() bool {
	return s.Status == Running.String()
}

// BuildSnapshot projects s at now. It reports false when a Running or
// Paused state lacks character, style, interval or mode; callers must then
// treat the scheduler as reset.
func BuildSnapshot(s State, now time.Time) (Snapshot, bool) {
	if s.Status == Idle {
		return IdleSnapshot(), true
	}

	m := s.Meta
	if m.CharacterName == "" || m.StyleID == "" || m.IntervalMinutes <= 0 || m.ModeValue == "" {
		return IdleSnapshot(), false
	}

	var remaining time.Duration
	switch s.Status {
	case Running:
		if s.TimerArmed {
			remaining = wholeSeconds(s.NextFireAt.Sub(now))
		}
	case Paused:
		remaining = s.Remaining
	}
	secs := int(remaining / time.Second)

	return Snapshot{
		Status:           s.Status.String(),
		CharacterName:    m.CharacterName,
		StyleID:          m.StyleID,
		ModeValue:        m.ModeValue,
		ModeLabel:        m.ModeLabel,
		IntervalMinutes:  m.IntervalMinutes,
		RemainingSeconds: &secs,
	}, true
}
