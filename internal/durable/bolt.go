package durable

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	counterBucket = []byte("counters")
	counterKey    = []byte("app_counter")
)

// BoltStore keeps the counter in an embedded bbolt database. Each increment is a
// single read-write transaction, so concurrent callers are serialized by bbolt.
type BoltStore struct {
	path   string
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(counterBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{path: path, db: db, logger: logger}, nil
}

func (s *BoltStore) Increment(ctx context.Context) Result {
	var next int64

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(counterBucket)
		if err != nil {
			return err
		}

		current, perr := parseCounter(b.Get(counterKey))
		if perr != nil {
			s.logger.Warn("stored counter corrupt, starting from zero", "path", s.path, "error", perr)
		}
		next = current + 1

		return b.Put(counterKey, []byte(strconv.FormatInt(next, 10)))
	})
	if err != nil {
		if next == 0 {
			next = s.read() + 1
		}
		s.logger.Error("failed to persist counter", "path", s.path, "value", next, "error", err)
		return Result{Value: next, Warning: &PersistenceWarning{Path: s.path, Err: err}}
	}
	return Result{Value: next}
}

func (s *BoltStore) Check(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(counterBucket)
		return err
	})
}

func (s *BoltStore) Location() string { return s.path }

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) read() int64 {
	var v int64
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(counterBucket); b != nil {
			v, _ = parseCounter(b.Get(counterKey))
		}
		return nil
	})
	return v
}
