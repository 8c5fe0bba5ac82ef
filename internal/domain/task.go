package domain

import (
	"path/filepath"
	"time"
)

// DownloadTask is the unit of work for one product. It is immutable once
// dispatched to a worker.
type DownloadTask struct {
	Seq         int     // Position in the product list
	Product     Product // Product to acquire and convert
	Credential  int     // Index of the session handle bound to this task
	StagingRoot string  // Shared staging root
	OutputDir   string  // Directory receiving the mosaic
	KeepSCL     bool    // Append the scene classification band (L2A only)
}

// StagingDir returns the per-product staging directory.
func (t DownloadTask) StagingDir() string {
	return filepath.Join(t.StagingRoot, t.Product.ID)
}

// OutputPath returns the mosaic path.
func (t DownloadTask) OutputPath() string {
	return filepath.Join(t.OutputDir, t.Product.OutputName())
}

// TaskStatus is the final state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskSkipped   TaskStatus = "skipped"
	TaskConverted TaskStatus = "converted"
	TaskFailed    TaskStatus = "failed"
)

// FailureKind classifies why a task failed.
type FailureKind string

// Failure kinds.
const (
	FailureNone     FailureKind = ""
	FailureInvalid  FailureKind = "invalid"
	FailureAcquire  FailureKind = "acquire"
	FailureCorrupt  FailureKind = "corrupt"
	FailureWrite    FailureKind = "write"
	FailurePublish  FailureKind = "publish"
	FailureCanceled FailureKind = "canceled"
)

// TaskOutcome is the ledger entry of one task.
type TaskOutcome struct {
	Product    string
	Status     TaskStatus
	Kind       FailureKind
	Attempts   int
	Credential int
	OutputPath string
	Err        error // Failure cause, nil unless Status is TaskFailed
	Warning    error // Non-fatal problem (e.g. reclaim failure)
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the task ran.
func (o TaskOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Failed reports whether the task failed.
func (o TaskOutcome) Failed() bool {
	return o.Status == TaskFailed
}

// Report summarizes a batch run.
type Report struct {
	RunID      string
	Total      int
	Outcomes   []TaskOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns the number of outcomes with the given status.
func (r *Report) Count(status TaskStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes.
func (r *Report) Failures() []TaskOutcome {
	var failed []TaskOutcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded is true when every product was skipped or converted.
func (r *Report) Succeeded() bool {
	return len(r.Outcomes) == r.Total && r.Count(TaskFailed) == 0
}
