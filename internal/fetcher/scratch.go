package fetcher

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Scratch manages the local directory holding downloaded media.
type Scratch struct {
	dir string
	log *slog.Logger
}

// NewScratch creates dir if needed.
func NewScratch(dir string, log *slog.Logger) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Scratch{dir: dir, log: log}, nil
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// Remove deletes a scratch file, ignoring files that are already gone.
func (s *Scratch) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error("remove scratch file", "path", path, "error", err)
	}
}

// Sweep removes regular files last modified more than maxAge before now,
// returning how many were deleted.
func (s *Scratch) Sweep(now time.Time, maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Error("read scratch dir", "dir", s.dir, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Error("remove stale scratch file", "path", path, "error", err)
			continue
		}
		removed++
		s.log.Info("removed stale scratch file", "path", path)
	}
	return removed
}
