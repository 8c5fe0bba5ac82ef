package output

import "time"

// Pipeline stages reported to the metrics collector.
const (
	StageAcquire = "acquire"
	StageCompose = "compose"
	StageReclaim = "reclaim"
	StagePublish = "publish"
)

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTasks counts a finished task by status and failure kind.
	IncTasks(status, kind string)

	// IncRetries counts a retried acquisition attempt.
	IncRetries()

	// ObserveAttempts records the attempts a task used.
	ObserveAttempts(attempts int)

	// ObserveStageDuration records the duration of a pipeline stage.
	ObserveStageDuration(stage string, duration time.Duration)

	// AddDownloadedBytes adds to the downloaded byte counter.
	AddDownloadedBytes(n int64)

	// SetTasksInFlight sets the number of running tasks.
	SetTasksInFlight(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTasks implements MetricsCollector.
func (n *NoOpMetrics) IncTasks(_, _ string) {}

// IncRetries implements MetricsCollector.
func (n *NoOpMetrics) IncRetries() {}

// ObserveAttempts implements MetricsCollector.
func (n *NoOpMetrics) ObserveAttempts(_ int) {}

// ObserveStageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

// AddDownloadedBytes implements MetricsCollector.
func (n *NoOpMetrics) AddDownloadedBytes(_ int64) {}

// SetTasksInFlight implements MetricsCollector.
func (n *NoOpMetrics) SetTasksInFlight(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
