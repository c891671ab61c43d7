package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned when no playback command exists for the OS.
var ErrUnsupportedPlatform = errors.New("unsupported platform for audio playback")

// PlaybackError reports a playback command that failed.
type PlaybackError struct {
	Command string
	Output  string
	Err     error
}

func (e *PlaybackError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("playback with %s failed: %v: %s", e.Command, e.Err, e.Output)
	}
	return fmt.Sprintf("playback with %s failed: %v", e.Command, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Player plays a local audio file to completion.
type Player interface {
	// Supported reports ErrUnsupportedPlatform before any work is done.
	Supported() error
	Play(ctx context.Context, path string) error
}

// Runner runs a command to completion and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type command struct {
	name string
	args func(path string) []string
}

// strategies lists, per GOOS, the commands tried in order until one succeeds.
var strategies = map[string][]command{
	"windows": {{
		name: "powershell",
		args: func(path string) []string {
			quoted := strings.ReplaceAll(path, "'", "''")
			return []string{"-NoProfile", "-NonInteractive", "-Command",
				fmt.Sprintf("(New-Object Media.SoundPlayer '%s').PlaySync();", quoted)}
		},
	}},
	"darwin": {{
		name: "afplay",
		args: func(path string) []string { return []string{path} },
	}},
	"linux": {
		{name: "aplay", args: func(path string) []string { return []string{"-q", path} }},
		{name: "paplay", args: func(path string) []string { return []string{path} }},
	},
}

// CommandPlayer plays audio through the platform's playback command.
type CommandPlayer struct {
	goos string
	run  Runner
}

// NewCommandPlayer creates a player for goos ("" means runtime.GOOS).
// run may be nil to use ExecRunner.
func NewCommandPlayer(goos string, run Runner) *CommandPlayer {
	if goos == "" {
		goos = runtime.GOOS
	}
	if run == nil {
		run = ExecRunner
	}
	return &CommandPlayer{goos: goos, run: run}
}

// Supported reports whether a playback strategy exists for the platform.
func (p *CommandPlayer) Supported() error {
	if _, ok := strategies[p.goos]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p.goos)
	}
	return nil
}

// Play blocks until playback finishes. On linux aplay is tried first and
// paplay is used when aplay fails.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	cmds, ok := strategies[p.goos]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p.goos)
	}

	var lastErr error
	for _, c := range cmds {
		out, err := p.run(ctx, c.name, c.args(path)...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &PlaybackError{Command: c.name, Err: ctx.Err()}
		}
		lastErr = &PlaybackError{Command: c.name, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return lastErr
}
