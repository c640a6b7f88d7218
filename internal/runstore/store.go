// Package runstore keeps the in-memory history of agent runs.
package runstore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultRetention bounds how many runs the store keeps before evicting the
// oldest.
const DefaultRetention = 200

// Run is one question handed to the agent, queued or finished.
type Run struct {
	ID        string
	Question  string
	ModelName string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Logs      []LogEntry

	// Terminal state, populated by Complete or Fail.
	Answer      string
	Query       string
	Collection  string
	Database    string
	ResultCount int
	Documents   []map[string]any
	Iterations  int
	Duration    time.Duration
	ErrorMsg    string
}

// LogEntry is a single progress message attached to a run.
type LogEntry struct {
	Timestamp time.Time
	Level     string // info, error, success
	Message   string
}

// Outcome carries the terminal fields of a successful run.
type Outcome struct {
	Answer      string
	Query       string
	Collection  string
	Database    string
	ResultCount int
	Documents   []map[string]any
	Iterations  int
	Duration    time.Duration
}

// Store manages run storage with thread-safe operations. Reads return
// copies, so callers never observe a run mid-update.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	order     []string // insertion order, oldest first
	retention int
}

// NewStore creates a store that retains at most retention runs. A retention
// of 0 or less uses DefaultRetention.
func NewStore(retention int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		runs:      make(map[string]*Run),
		retention: retention,
	}
}

// Create adds a new run. The oldest run is evicted once the retention bound
// is exceeded.
func (s *Store) Create(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run with ID %s already exists", run.ID)
	}

	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = StatusPending
	}
	if run.Logs == nil {
		run.Logs = []LogEntry{}
	}

	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)

	for len(s.order) > s.retention {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
	return nil
}

// Get retrieves a copy of the run with the given ID.
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return copyRun(run), nil
}

// List returns copies of all runs sorted by creation time, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// UpdateStatus moves a run to the given lifecycle state.
func (s *Store) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	return nil
}

// AddLog appends a progress message to a run.
func (s *Store) AddLog(id, level, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Logs = append(run.Logs, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	run.UpdatedAt = time.Now()
	return nil
}

// Complete marks a run completed and records its outcome.
func (s *Store) Complete(id string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status = StatusCompleted
	run.Answer = out.Answer
	run.Query = out.Query
	run.Collection = out.Collection
	run.Database = out.Database
	run.ResultCount = out.ResultCount
	run.Documents = out.Documents
	run.Iterations = out.Iterations
	run.Duration = out.Duration
	run.UpdatedAt = time.Now()
	return nil
}

// Fail marks a run failed with the given error message.
func (s *Store) Fail(id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}
	run.Status = StatusFailed
	run.ErrorMsg = errMsg
	run.UpdatedAt = time.Now()
	return nil
}

// SupersedeOlder fails every pending run that asks the same question against
// the same model, except excludeID. Running and finished runs are left
// alone. Returns the number of runs affected.
func (s *Store) SupersedeOlder(modelName, question, excludeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := 0
	now := time.Now()
	for id, run := range s.runs {
		if id == excludeID || run.Status != StatusPending {
			continue
		}
		if run.ModelName != modelName || run.Question != question {
			continue
		}
		run.Status = StatusFailed
		run.ErrorMsg = "Superseded by a newer identical request"
		run.Logs = append(run.Logs, LogEntry{
			Timestamp: now,
			Level:     "info",
			Message:   "Superseded by a newer identical request",
		})
		run.UpdatedAt = now
		affected++
	}
	return affected
}

// Len reports how many runs the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func copyRun(run *Run) *Run {
	out := *run
	out.Logs = append([]LogEntry(nil), run.Logs...)
	out.Documents = append([]map[string]any(nil), run.Documents...)
	return &out
}
