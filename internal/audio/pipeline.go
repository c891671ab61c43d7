package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-cheer/internal/observability"
)

// Deliverer plays the audio behind a URL.
type Deliverer interface {
	Deliver(ctx context.Context, audioURL string, m *observability.CycleMetrics) error
}

// Pipeline downloads audio, writes it to scratch storage, plays it and
// deletes the file after a grace delay.
type Pipeline struct {
	fetcher      *Fetcher
	scratch      *Scratch
	player       Player
	cleanupDelay time.Duration
	afterFunc    func(d time.Duration, f func()) *time.Timer
	logger       zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewPipeline wires the delivery stages together.
func NewPipeline(fetcher *Fetcher, scratch *Scratch, player Player, cleanupDelay time.Duration) *Pipeline {
	return &Pipeline{
		fetcher:      fetcher,
		scratch:      scratch,
		player:       player,
		cleanupDelay: cleanupDelay,
		afterFunc:    time.AfterFunc,
		logger:       observability.Component("audio"),
		pending:      make(map[string]*time.Timer),
	}
}

// Deliver plays the audio at audioURL synchronously. Cleanup of the
// scratch file is scheduled whether playback succeeded or not.
func (p *Pipeline) Deliver(ctx context.Context, audioURL string, m *observability.CycleMetrics) error {
	if err := p.player.Supported(); err != nil {
		return err
	}

	m.RecordDownloadStart()
	dl, err := p.fetcher.Fetch(ctx, audioURL)
	if err != nil {
		m.RecordDownloadEnd(0, 0, false)
		m.RecordError("download", "audio")
		return err
	}
	m.RecordDownloadEnd(int64(len(dl.Body)), dl.Redirects, true)

	path, err := p.scratch.Write(dl.Body)
	if err != nil {
		m.RecordError("scratch", "audio")
		return err
	}
	defer p.scheduleCleanup(path)

	p.logger.Debug().
		Str("path", path).
		Int("bytes", len(dl.Body)).
		Int("redirects", dl.Redirects).
		Msg("Audio downloaded")

	m.RecordPlaybackStart()
	if err := p.player.Play(ctx, path); err != nil {
		m.RecordPlaybackEnd(false)
		m.RecordError("playback", "audio")
		return fmt.Errorf("play %s: %w", path, err)
	}
	m.RecordPlaybackEnd(true)
	return nil
}

func (p *Pipeline) scheduleCleanup(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[path] = p.afterFunc(p.cleanupDelay, func() {
		p.mu.Lock()
		delete(p.pending, path)
		p.mu.Unlock()
		p.remove(path)
	})
}

func (p *Pipeline) remove(path string) {
	if err := p.scratch.Remove(path); err != nil {
		observability.RecordScratchCleanup("error")
		p.logger.Warn().Err(err).Str("path", path).Msg("Failed to delete scratch file")
		return
	}
	observability.RecordScratchCleanup("deleted")
}

// Pending returns the number of files waiting for deletion.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush deletes every file still waiting for its grace delay. Used at shutdown.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.pending))
	for path, t := range p.pending {
		if t.Stop() {
			paths = append(paths, path)
		}
		delete(p.pending, path)
	}
	p.mu.Unlock()

	for _, path := range paths {
		p.remove(path)
	}
}
