package storage

import (
	"context"
	"time"

	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// InstrumentedPublisher records operation counts and durations of a Publisher.
type InstrumentedPublisher struct {
	next    output.Publisher
	metrics output.MetricsCollector
}

// NewInstrumentedPublisher wraps next.
func NewInstrumentedPublisher(next output.Publisher, metrics output.MetricsCollector) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, metrics: metrics}
}

// Type implements Publisher.
func (p *InstrumentedPublisher) Type() output.StorageType {
	return p.next.Type()
}

// Exists implements Publisher.
func (p *InstrumentedPublisher) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := p.next.Exists(ctx, key)
	p.observe("exists", start, err)
	return ok, err
}

// Upload implements Publisher.
func (p *InstrumentedPublisher) Upload(ctx context.Context, key string, path string) error {
	start := time.Now()
	err := p.next.Upload(ctx, key, path)
	p.observe("upload", start, err)
	return err
}

func (p *InstrumentedPublisher) observe(op string, start time.Time, err error) {
	p.metrics.IncStorageOperations(op, err == nil)
	p.metrics.ObserveStorageDuration(op, time.Since(start))
}
