package scheduler

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildSnapshot_MissingMetadataIsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{"character", func(m *Metadata) { m.CharacterName = "" }},
		{"style", func(m *Metadata) { m.StyleID = "" }},
		{"interval", func(m *Metadata) { m.IntervalMinutes = 0 }},
		{"mode", func(m *Metadata) { m.ModeValue = "" }},
	}

	for _, status := range []Status{Running, Paused} {
		for _, tt := range tests {
			t.Run(status.String()+"/"+tt.name, func(t *testing.T) {
				meta := testMeta()
				tt.mutate(&meta)
				s := State{Status: status, Interval: 5 * time.Minute, SpeakerID: 3, Meta: meta, TimerArmed: true, NextFireAt: t0.Add(time.Minute)}

				snap, valid := BuildSnapshot(s, t0)
				if valid {
					t.Error("Expected snapshot to be invalid")
				}
				if snap != IdleSnapshot() {
					t.Errorf("Expected Idle snapshot, got %+v", snap)
				}
			})
		}
	}
}

func TestBuildSnapshot_Running(t *testing.T) {
	s := State{
		Status:     Running,
		Interval:   5 * time.Minute,
		SpeakerID:  3,
		Meta:       testMeta(),
		TimerArmed: true,
		NextFireAt: t0.Add(90 * time.Second),
	}

	snap, valid := BuildSnapshot(s, t0.Add(300*time.Millisecond))
	if !valid {
		t.Fatal("Expected valid snapshot")
	}

	b, _ := json.Marshal(snap)
	expected := `{"status":"Running","characterName":"A","styleId":"3","modeValue":"1","modeLabel":"褒め","intervalMinutes":5,"remainingSeconds":90}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, b)
	}
}

func TestBuildSnapshot_PausedFrozen(t *testing.T) {
	s := State{Status: Paused, Interval: 5 * time.Minute, Meta: testMeta(), Remaining: 42 * time.Second}

	first, _ := BuildSnapshot(s, t0)
	later, _ := BuildSnapshot(s, t0.Add(time.Hour))

	if *first.RemainingSeconds != 42 || *later.RemainingSeconds != 42 {
		t.Errorf("Expected frozen 42s, got %d and %d", *first.RemainingSeconds, *later.RemainingSeconds)
	}
	if first.IsRunning() {
		t.Error("Expected paused snapshot not to report running")
	}
}

func TestBuildSnapshot_RunningWhilePlaying(t *testing.T) {
	// Fire consumed, cycle in flight: nothing is armed yet.
	s := State{Status: Running, Interval: 5 * time.Minute, Meta: testMeta(), InFlight: true, NextFireAt: t0}

	snap, valid := BuildSnapshot(s, t0.Add(3*time.Second))
	if !valid || *snap.RemainingSeconds != 0 {
		t.Errorf("Expected remaining 0 while playing, got %+v", snap)
	}
}
