package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/lexiqai/voice-cheer/internal/observability"
)

const reloadDebounce = 250 * time.Millisecond

// Store serves the current catalog and swaps it atomically on reload.
type Store struct {
	fs     afero.Fs
	path   string
	cur    atomic.Pointer[Catalog]
	logger zerolog.Logger

	mu       sync.Mutex
	onReload []func(*Catalog)
}

// NewStore returns a store holding the built-in catalog. path may be
// empty, in which case Load and Watch are no-ops.
func NewStore(fs afero.Fs, path string) *Store {
	s := &Store{fs: fs, path: path, logger: observability.Component("catalog")}
	s.cur.Store(Default())
	return s
}

// Get returns the current catalog. Callers must not mutate it.
func (s *Store) Get() *Catalog {
	return s.cur.Load()
}

// Set replaces the current catalog.
func (s *Store) Set(c *Catalog) {
	s.cur.Store(c)

	s.mu.Lock()
	hooks := append([]func(*Catalog){}, s.onReload...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(c)
	}
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Catalog)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Load reads the catalog file once. A bad file leaves the current catalog in place.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	c, err := LoadFile(s.fs, s.path)
	if err != nil {
		observability.RecordCatalogReload(false)
		return err
	}
	s.Set(c)
	observability.RecordCatalogReload(true)
	s.logger.Info().
		Str("path", s.path).
		Int("messages", len(c.Messages)).
		Int("voice_models", len(c.VoiceModels)).
		Msg("Catalog loaded")
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are still seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, file := filepath.Dir(s.path), filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	s.logger.Debug().Str("dir", dir).Str("file", file).Msg("Catalog watcher started")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := s.Load(); err != nil {
				s.logger.Warn().Err(err).Str("path", s.path).Msg("Catalog reload failed; keeping previous catalog")
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Catalog watch error")
		}
	}
}
