package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Run is one invocation of a pipeline phase.
type Run struct {
	ID         string
	Phase      string // "generate" or "annotate"
	Model      string
	Status     string
	Total      int // records the run aimed to reach
	Resumed    int // records restored from the checkpoint
	Processed  int // records handled by this run
	Failed     int
	Output     string
	Backup     string
	LastError  string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// RunResult closes a Run.
type RunResult struct {
	Status    string
	Processed int
	Failed    int
	Output    string
	Backup    string
	Err       error
}

// Event is the outcome of one record within a Run.
type Event struct {
	RunID     string
	Index     int
	RecordID  int
	Outcome   string
	Attempts  int
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}
