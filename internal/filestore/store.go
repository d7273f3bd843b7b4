// Package filestore persists generated artifacts on local disk and serves
// them back by name.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("file not found")

// ErrBadName is returned for names that are empty or escape the store dir.
var ErrBadName = errors.New("invalid file name")

// Store writes and reads artifacts under a single base directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create files directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ArtifactName derives the storage name for a run's generated file. The
// thread/run pair is unique per run, so names never collide.
func ArtifactName(threadID, runID, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s%s", threadID, runID, ext)
}

func (s *Store) pathFor(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrBadName
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes data under name.
func (s *Store) Save(name string, data []byte) error {
	path, err := s.pathFor(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Path resolves name to an on-disk path, verifying the file exists.
func (s *Store) Path(name string) (string, error) {
	path, err := s.pathFor(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Open opens a stored artifact for reading.
func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// SweepOlderThan deletes artifacts whose modification time is older than age
// and returns how many were removed.
func (s *Store) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to remove expired artifact")
			continue
		}
		removed++
	}
	return removed, nil
}
