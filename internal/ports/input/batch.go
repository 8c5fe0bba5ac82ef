// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

// BatchRunner defines the primary port for acquisition batches.
type BatchRunner interface {
	// Run processes every product identifier once and returns the report.
	// The error names every failed product; the report is always returned.
	Run(ctx context.Context, products []string) (*domain.Report, error)
}

// MosaicBuilder defines the primary port for single-product conversion.
type MosaicBuilder interface {
	// Compose converts the SAFE directory into a GeoTIFF at output.
	Compose(ctx context.Context, productDir string, output string, keepSCL bool) error
}

// ProgressReporter exposes the live state of the current batch.
type ProgressReporter interface {
	// Snapshot returns the batch progress.
	Snapshot() BatchSnapshot
}

// BatchSnapshot is a point-in-time view of a running batch.
type BatchSnapshot struct {
	RunID     string    `json:"run_id"`
	Running   bool      `json:"running"`
	Total     int       `json:"total"`
	InFlight  int       `json:"in_flight"`
	Converted int       `json:"converted"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Active    []string  `json:"active"`
}

// Done returns the number of finished tasks.
func (s BatchSnapshot) Done() int {
	return s.Converted + s.Skipped + s.Failed
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the pipeline can accept work.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept work
	Batch      BatchSnapshot     // Current batch
	Components map[string]string // Component statuses
}
