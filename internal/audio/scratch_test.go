package audio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestScratch(t *testing.T) (*Scratch, afero.Fs) {
	fs := afero.NewMemMapFs()
	s := NewScratch(fs, "/tmp/voice-cheer")
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	if err := s.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return s, fs
}

func TestScratch_WriteNames(t *testing.T) {
	s, fs := newTestScratch(t)

	first, err := s.Write([]byte("a"))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	second, err := s.Write([]byte("b"))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if filepath.Base(first) != "voice_1700000000123.wav" {
		t.Errorf("Unexpected first name %s", first)
	}
	if filepath.Base(second) != "voice_1700000000123_1.wav" {
		t.Errorf("Expected suffixed second name, got %s", second)
	}

	data, err := afero.ReadFile(fs, second)
	if err != nil || string(data) != "b" {
		t.Errorf("Expected second file to hold 'b', got %q (%v)", data, err)
	}
}

func TestScratch_RemoveTolerant(t *testing.T) {
	s, fs := newTestScratch(t)

	path, _ := s.Write([]byte("a"))
	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, path); ok {
		t.Error("Expected file to be removed")
	}

	if err := s.Remove(path); err != nil {
		t.Errorf("Expected removing a missing file to succeed, got %v", err)
	}
}

func TestScratch_CleanupAndCheck(t *testing.T) {
	s, _ := newTestScratch(t)
	_, _ = s.Write([]byte("a"))

	if ok, err := s.Check(context.Background()); !ok || err != nil {
		t.Errorf("Expected healthy scratch dir, got %v, %v", ok, err)
	}

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	if ok, _ := s.Check(context.Background()); ok {
		t.Error("Expected check to fail after cleanup")
	}
}
