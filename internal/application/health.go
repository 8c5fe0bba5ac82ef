package application

import (
	"context"

	"github.com/jobrunner/s2mosaic/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	progress input.ProgressReporter
	checks   map[string]func(ctx context.Context) error
}

// NewHealthService creates a new health service.
func NewHealthService(progress input.ProgressReporter) *HealthService {
	return &HealthService{
		progress: progress,
		checks:   make(map[string]func(ctx context.Context) error),
	}
}

// AddCheck registers a named component check used for readiness.
func (s *HealthService) AddCheck(name string, check func(ctx context.Context) error) {
	s.checks[name] = check
}

// IsHealthy is the liveness signal: it only states that the process is up
// and serving. Component problems affect readiness, not liveness.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true when every registered component check passes.
func (s *HealthService) IsReady(ctx context.Context) bool {
	for _, check := range s.checks {
		if check(ctx) != nil {
			return false
		}
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			ready = false
			continue
		}
		components[name] = "ok"
	}

	return input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      ready,
		Batch:      s.progress.Snapshot(),
		Components: components,
	}
}
