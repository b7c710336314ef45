// Package durable implements the locally persisted request counter. The counter
// survives process restarts and treats missing or corrupt state as zero.
package durable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store is a monotonically incrementing counter persisted on local disk.
type Store interface {
	// Increment reads the persisted value, adds one and writes it back.
	// It never fails: a write error is reported through Result.Warning.
	Increment(ctx context.Context) Result

	// Check reports whether the persistence target is currently writable.
	Check(ctx context.Context) error

	// Location is the on-disk path of the counter.
	Location() string

	Close() error
}

// Result is the outcome of one Increment call.
type Result struct {
	Value   int64
	Warning *PersistenceWarning
}

// PersistenceWarning signals that the new value could not be persisted.
// The value is still reported to the caller; durability is degraded.
type PersistenceWarning struct {
	Path string
	Err  error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("counter not persisted to %s: %v", w.Path, w.Err)
}

func (w *PersistenceWarning) Unwrap() error { return w.Err }

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Open builds the store for the named backend. An empty backend selects the file store.
func Open(backend, path string, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendFile:
		return NewFileStore(path, logger), nil
	case BackendBolt:
		return OpenBoltStore(path, logger)
	case BackendSQLite:
		return OpenSQLStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown counter backend %q", backend)
	}
}

// FallbackFile is the file name used when the configured backend cannot be opened.
const FallbackFile = "app_counter.txt"

// OpenWithFallback opens the named backend and, if that fails, falls back to
// a file store named FallbackFile in the same directory. Startup is never
// blocked by a broken embedded database.
func OpenWithFallback(backend, path string, logger *slog.Logger) Store {
	store, err := Open(backend, path, logger)
	if err == nil {
		return store
	}

	fallback := filepath.Join(filepath.Dir(path), FallbackFile)
	if fallback == path {
		fallback = path + ".txt"
	}
	logger.Error("could not open counter backend, falling back to file store",
		"backend", backend,
		"path", path,
		"fallback", fallback,
		"error", err,
	)
	return NewFileStore(fallback, logger)
}

// parseCounter interprets persisted bytes. Anything that is not a non-negative
// integer is treated as no prior value.
func parseCounter(raw []byte) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %q: %w", text, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative counter %d", v)
	}
	return v, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
