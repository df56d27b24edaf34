// Package store keeps a BoltDB-backed history of report attempts.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var reportsBucket = []byte("reports")

// ReportRecord is one scheduled report and its outcome.
type ReportRecord struct {
	Action    string        `msgpack:"action"`
	StartedAt time.Time     `msgpack:"started_at"`
	Duration  time.Duration `msgpack:"duration"`
	Endpoint  string        `msgpack:"endpoint,omitempty"`
	Attempted []string      `msgpack:"attempted,omitempty"`
	Success   bool          `msgpack:"success"`
	Error     string        `msgpack:"error,omitempty"`
}

// Store wraps a bbolt database for report records.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path, creating its
// directory if needed.
func New(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reportsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating reports bucket: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// key orders records by start time.
func key(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

// Append stores a record. Records started in the same nanosecond are
// bumped forward until a free key is found.
func (s *Store) Append(rec ReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshaling report record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(reportsBucket)
		k := key(rec.StartedAt)
		for b.Get(k) != nil {
			binary.BigEndian.PutUint64(k, binary.BigEndian.Uint64(k)+1)
		}
		return b.Put(k, data)
	})
}

// Recent returns up to n records, newest first. n <= 0 returns all of them.
func (s *Store) Recent(n int) ([]ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []ReportRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(reportsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(records) >= n {
				break
			}
			var rec ReportRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				s.log.Warn().Err(err).Hex("key", k).Msg("Skipping corrupt record")
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Prune deletes records started more than maxAge ago and returns how many
// were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := key(time.Now().Add(-maxAge))
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(reportsBucket)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("pruning reports: %w", err)
	}
	return removed, nil
}

// RunPrune prunes the history every interval until ctx is done.
func (s *Store) RunPrune(ctx context.Context, every, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Prune(maxAge)
				if err != nil {
					s.log.Error().Err(err).Msg("Database error during prune")
					continue
				}
				if n > 0 {
					s.log.Debug().Int("removed", n).Dur("max_age", maxAge).Msg("Pruned report history")
				}
			}
		}
	}()
}
