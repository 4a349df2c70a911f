package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

const (
	// DefaultBoltFilePath is the default path for the BoltDB file
	DefaultBoltFilePath = "streamctl-journal.db"

	// DefaultBoltFileMode is the default file mode for the BoltDB file
	DefaultBoltFileMode = 0600

	// DefaultBoltTimeout is the default timeout for acquiring the file lock
	DefaultBoltTimeout = 1 * time.Second
)

var runBucket = []byte("runs")

// BoltDBStorage implements RunStorage using BoltDB.
type BoltDBStorage struct {
	db      *bolt.DB
	path    string
	options *BoltOptions
}

// BoltOptions configures the BoltDB storage
type BoltOptions struct {
	// Path to the BoltDB file
	Path string
	// File mode for the BoltDB file
	FileMode os.FileMode
	// Timeout for acquiring the file lock
	Timeout time.Duration
}

// NewBoltDBStorage creates a new BoltDBStorage with the given options
func NewBoltDBStorage(opts *BoltOptions) *BoltDBStorage {
	if opts == nil {
		opts = &BoltOptions{}
	}
	if opts.Path == "" {
		opts.Path = DefaultBoltFilePath
	}
	if opts.FileMode == 0 {
		opts.FileMode = DefaultBoltFileMode
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultBoltTimeout
	}

	return &BoltDBStorage{
		path:    opts.Path,
		options: opts,
	}
}

// Open initializes the BoltDB database
func (s *BoltDBStorage) Open() error {
	logger.Debug("Opening run journal", zap.String("path", s.path))

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for journal: %w", err)
	}

	db, err := bolt.Open(s.path, s.options.FileMode, &bolt.Options{Timeout: s.options.Timeout})
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", s.path, err)
	}
	s.db = db

	err = s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runBucket); err != nil {
			return fmt.Errorf("failed to create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		s.db.Close()
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	return nil
}

// Close closes the BoltDB database
func (s *BoltDBStorage) Close() error {
	if s.db != nil {
		logger.Debug("Closing run journal")
		return s.db.Close()
	}
	return nil
}

// RecordRun stores a new run.
func (s *BoltDBStorage) RecordRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	logger.Debug("Recording run", zap.String("id", run.ID), zap.String("pipeline", run.Pipeline))
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRun(tx, run)
	})
}

func putRun(tx *bolt.Tx, run *RunRecord) error {
	b := tx.Bucket(runBucket)
	if b == nil {
		return fmt.Errorf("runs bucket not found")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := b.Put([]byte(run.ID), data); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// UpdateRun applies updater to a stored run inside one transaction.
func (s *BoltDBStorage) UpdateRun(ctx context.Context, runID string, updater func(*RunRecord) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, runID)
		if err != nil {
			return err
		}
		if err := updater(run); err != nil {
			return err
		}
		run.ID = runID
		return putRun(tx, run)
	})
}

// GetRun retrieves a run by its ID
func (s *BoltDBStorage) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var run *RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		run, err = getRun(tx, runID)
		return err
	})
	return run, err
}

func getRun(tx *bolt.Tx, runID string) (*RunRecord, error) {
	b := tx.Bucket(runBucket)
	if b == nil {
		return nil, fmt.Errorf("runs bucket not found")
	}
	data := b.Get([]byte(runID))
	if data == nil {
		return nil, ErrRunNotFound{RunID: runID}
	}
	var run RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *BoltDBStorage) ListRuns(ctx context.Context, pipeline string, limit int) ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		runs, err = listRuns(tx, pipeline)
		return err
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func listRuns(tx *bolt.Tx, pipeline string) ([]*RunRecord, error) {
	b := tx.Bucket(runBucket)
	if b == nil {
		return nil, fmt.Errorf("runs bucket not found")
	}
	var runs []*RunRecord
	err := b.ForEach(func(k, v []byte) error {
		var run RunRecord
		if err := json.Unmarshal(v, &run); err != nil {
			return fmt.Errorf("failed to unmarshal run %s: %w", k, err)
		}
		if pipeline == "" || run.Pipeline == pipeline {
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(runs)
	return runs, nil
}

// DeleteRun removes a run
func (s *BoltDBStorage) DeleteRun(ctx context.Context, runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runBucket)
		if b == nil {
			return fmt.Errorf("runs bucket not found")
		}
		key := []byte(runID)
		if b.Get(key) == nil {
			return ErrRunNotFound{RunID: runID}
		}
		return b.Delete(key)
	})
}

// Prune keeps the newest keep runs of pipeline.
func (s *BoltDBStorage) Prune(ctx context.Context, pipeline string, keep int) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs, err := listRuns(tx, pipeline)
		if err != nil {
			return err
		}
		if keep < 0 {
			keep = 0
		}
		if len(runs) <= keep {
			return nil
		}
		b := tx.Bucket(runBucket)
		for _, run := range runs[keep:] {
			if err := b.Delete([]byte(run.ID)); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", run.ID, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Debug("Pruned run journal", zap.String("pipeline", pipeline), zap.Int("deleted", deleted))
	}
	return deleted, nil
}

func sortNewestFirst(runs []*RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})
}
