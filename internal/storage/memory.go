package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage is an in-memory RunStorage, used when the journal is
// disabled and in tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewMemoryStorage creates an empty in-memory journal
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*RunRecord),
	}
}

// Open initializes the storage
func (s *MemoryStorage) Open() error {
	return nil
}

// Close closes the storage
func (s *MemoryStorage) Close() error {
	return nil
}

// RecordRun stores a copy of run.
func (s *MemoryStorage) RecordRun(ctx context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// UpdateRun applies updater to a stored run
func (s *MemoryStorage) UpdateRun(ctx context.Context, runID string, updater func(*RunRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound{RunID: runID}
	}
	updated := cloneRun(run)
	if err := updater(updated); err != nil {
		return err
	}
	updated.ID = runID
	s.runs[runID] = updated
	return nil
}

// GetRun retrieves a run by its ID
func (s *MemoryStorage) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound{RunID: runID}
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest first
func (s *MemoryStorage) ListRuns(ctx context.Context, pipeline string, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.matching(pipeline)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStorage) matching(pipeline string) []*RunRecord {
	runs := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if pipeline == "" || run.Pipeline == pipeline {
			runs = append(runs, cloneRun(run))
		}
	}
	sortNewestFirst(runs)
	return runs
}

// DeleteRun removes a run
func (s *MemoryStorage) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound{RunID: runID}
	}
	delete(s.runs, runID)
	return nil
}

// Prune keeps the newest keep runs of pipeline
func (s *MemoryStorage) Prune(ctx context.Context, pipeline string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	runs := s.matching(pipeline)
	if len(runs) <= keep {
		return 0, nil
	}
	for _, run := range runs[keep:] {
		delete(s.runs, run.ID)
	}
	return len(runs) - keep, nil
}

func cloneRun(run *RunRecord) *RunRecord {
	c := *run
	c.Steps = append([]StepEntry(nil), run.Steps...)
	c.Conflicts = append([]string(nil), run.Conflicts...)
	return &c
}
