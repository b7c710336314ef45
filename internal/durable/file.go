package durable

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore keeps the counter as a decimal integer in a plain text file.
//
// Read-modify-write is serialized by mu, so concurrent requests within one
// process never lose updates. Writes go to a temp file that is renamed over the
// target, which keeps the previous value intact if the process dies mid-write.
// Other processes writing the same file are not coordinated.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore returns a store persisting to path. Nothing is touched on disk
// until the first Increment or Check.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Increment(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.read() + 1

	if err := s.write(next); err != nil {
		s.logger.Error("failed to persist counter", "path", s.path, "value", next, "error", err)
		return Result{Value: next, Warning: &PersistenceWarning{Path: s.path, Err: err}}
	}
	return Result{Value: next}
}

// Check verifies the directory exists (creating it if needed) and accepts new files.
func (s *FileStore) Check(ctx context.Context) error {
	if err := ensureParentDir(s.path); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(s.path), ".writecheck-*")
	if err != nil {
		return fmt.Errorf("write check: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *FileStore) Location() string { return s.path }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() int64 {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("counter file unreadable, starting from zero", "path", s.path, "error", err)
		}
		return 0
	}

	v, err := parseCounter(raw)
	if err != nil {
		s.logger.Warn("counter file corrupt, starting from zero", "path", s.path, "error", err)
		return 0
	}
	return v
}

func (s *FileStore) write(v int64) error {
	if err := ensureParentDir(s.path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strconv.FormatInt(v, 10)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace counter file: %w", err)
	}
	return nil
}
