package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Scratch is the process-wide directory that holds downloaded audio
// between download and playback.
type Scratch struct {
	fs  afero.Fs
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewScratch creates a scratch store rooted at dir on fs.
func NewScratch(fs afero.Fs, dir string) *Scratch {
	return &Scratch{fs: fs, dir: dir, now: time.Now}
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string { return s.dir }

// Init creates the scratch directory.
func (s *Scratch) Init() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	return nil
}

// Write stores data under voice_<unix-millis>.wav, adding a numeric suffix
// when that name is already taken, and returns the file path.
func (s *Scratch) Write(data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := fmt.Sprintf("voice_%d", s.now().UnixMilli())
	for i := 0; ; i++ {
		name := base + ".wav"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.wav", base, i)
		}
		path := filepath.Join(s.dir, name)

		f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create scratch file: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			_ = s.fs.Remove(path)
			return "", fmt.Errorf("write scratch file: %w", err)
		}
		if err := f.Close(); err != nil {
			_ = s.fs.Remove(path)
			return "", fmt.Errorf("close scratch file: %w", err)
		}
		return path, nil
	}
}

// Remove deletes path. A file that is already gone is not an error.
func (s *Scratch) Remove(path string) error {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove scratch file: %w", err)
	}
	return nil
}

// Cleanup removes the scratch directory and everything in it.
func (s *Scratch) Cleanup() error {
	if err := s.fs.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// Check is a readiness hook reporting whether the scratch directory exists.
func (s *Scratch) Check(ctx context.Context) (bool, error) {
	ok, err := afero.DirExists(s.fs, s.dir)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("scratch dir %s does not exist", s.dir)
	}
	return true, nil
}
