package output

import (
	"context"
	"time"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

// LedgerStore defines the secondary port for batch history.
type LedgerStore interface {
	// BeginRun records the start of a batch.
	BeginRun(ctx context.Context, runID string, total int, startedAt time.Time) error

	// RecordOutcome appends a task outcome to a run.
	RecordOutcome(ctx context.Context, runID string, outcome domain.TaskOutcome) error

	// FinishRun stores the final counters of a batch.
	FinishRun(ctx context.Context, report *domain.Report) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ListOutcomes returns the outcomes recorded for a run.
	ListOutcomes(ctx context.Context, runID string) ([]OutcomeRecord, error)

	// Close releases the store.
	Close() error
}

// RunSummary is a stored batch run.
type RunSummary struct {
	ID         string
	Total      int
	Converted  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is in progress
}

// OutcomeRecord is a stored task outcome. Errors are kept as text.
type OutcomeRecord struct {
	RunID      string
	Product    string
	Status     domain.TaskStatus
	Kind       domain.FailureKind
	Attempts   int
	Credential int
	OutputPath string
	Error      string
	Warning    string
	StartedAt  time.Time
	FinishedAt time.Time
}
