package store

import (
	"errors"
	"time"
)

// ErrNotFound reports a missing run or blob.
var ErrNotFound = errors.New("not found")

// RunSummary is a lightweight representation for listing runs.
type RunSummary struct {
	ID        string    `json:"id"`
	PhaseRuns int       `json:"phase_runs"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseRun is one row of the append-only execution log.
type PhaseRun struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Phase     string        `json:"phase"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store defines the persistence interface for pipeline state.
type Store interface {
	// State blob: written after every loop iteration, loaded once at startup.
	SaveState(runID string, blob []byte) error
	LoadState(runID string) ([]byte, error)
	LatestRunID() (string, error)
	ListRuns() ([]RunSummary, error)
	DeleteRun(runID string) error

	// Append-only execution log.
	AppendPhaseRun(runID, phase string, success bool, duration time.Duration, message string) error
	ListPhaseRuns(runID string, limit int) ([]PhaseRun, error)

	// Correlation engine cache, one blob per run.
	SaveCorrelationData(runID string, blob []byte) error
	LoadCorrelationData(runID string) ([]byte, error)

	Close() error
}
