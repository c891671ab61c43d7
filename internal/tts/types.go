package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/voice-cheer/internal/resilience"
)

var (
	// Input errors. These are returned without contacting the endpoint.
	ErrEmptyText      = errors.New("text is empty")
	ErrInvalidSpeaker = errors.New("speaker id must be non-negative")

	// ErrRequestFailed covers transport failures and non-2xx responses.
	ErrRequestFailed = errors.New("synthesis request failed")
	// ErrMalformedResponse covers undecodable bodies, success=false and a missing audio URL.
	ErrMalformedResponse = errors.New("malformed synthesis response")
	// ErrNotReady means the audio URL did not answer the readiness probe with 200.
	ErrNotReady = errors.New("audio not ready")
	// ErrCircuitOpen means recent calls failed and the endpoint is being skipped.
	ErrCircuitOpen = fmt.Errorf("synthesis unavailable: %w", resilience.ErrCircuitOpen)
)

// Request is one piece of text to speak with a given voice style.
type Request struct {
	Text      string
	SpeakerID int
}

// Result is either a playable URL or an explicit absence carrying the reason.
type Result struct {
	URL      string
	Attempts int   // attempts made against the endpoint, 0 for input errors
	Err      error // nil iff URL is set
}

// Ok reports whether the result carries a URL.
func (r Result) Ok() bool {
	return r.Err == nil && r.URL != ""
}

// Synthesizer turns text into a playable audio URL.
type Synthesizer interface {
	// Synthesize never panics on expected failures; they come back in Result.Err.
	Synthesize(ctx context.Context, req Request) Result
}

// Validate checks the request without any I/O.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	if r.SpeakerID < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSpeaker, r.SpeakerID)
	}
	return nil
}

// synthesisResponse is the JSON body returned by the synthesis endpoint.
type synthesisResponse struct {
	Success        bool   `json:"success"`
	IsAPIKeyValid  bool   `json:"isApiKeyValid"`
	SpeakerName    string `json:"speakerName"`
	AudioID        string `json:"audioId"`
	AudioStatusURL string `json:"audioStatusUrl"`
	WavDownloadURL string `json:"wavDownloadUrl"`
	Mp3DownloadURL string `json:"mp3DownloadUrl"`
	ErrorMessage   string `json:"errorMessage"`
}
