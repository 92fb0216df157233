package history

import (
	"sort"
	"sync"
	"time"

	"github.com/psantana5/renderbox/internal/report"
)

// Run is one recorded invocation
type Run struct {
	RunID       string        `json:"run_id"`
	Name        string        `json:"name"`
	Image       string        `json:"image"`
	GPUSelector string        `json:"gpu_selector"`
	Status      report.Status `json:"status"`
	ExitCode    int           `json:"exit_code"`
	ScratchDir  string        `json:"scratch_dir"`
	OutputDir   string        `json:"output_dir"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
}

// FromOutcome builds a history record from a finished run
func FromOutcome(o *report.Outcome, image, gpuSelector string) *Run {
	return &Run{
		RunID:       o.RunID,
		Name:        o.Name,
		Image:       image,
		GPUSelector: gpuSelector,
		Status:      o.Status,
		ExitCode:    o.ExitCode,
		ScratchDir:  o.ScratchDir,
		OutputDir:   o.OutputDir,
		StartTime:   o.StartTime,
		EndTime:     o.EndTime,
	}
}

// Store persists run history
type Store interface {
	RecordRun(run *Run) error
	GetRun(runID string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
	Close() error
}

// MemoryStore keeps history in memory, used by tests and as a fallback
// when no database path is configured
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) RecordRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.RunID] = &copied
	return nil
}

func (s *MemoryStore) GetRun(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *MemoryStore) ListRuns(limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		runs = append(runs, &copied)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) Close() error { return nil }
