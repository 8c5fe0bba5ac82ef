// Package application contains the application services.
package application

import (
	"context"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// CredentialPool holds a fixed set of archive sessions. Tasks are bound to a
// handle by their position in the product list and keep it for every attempt.
type CredentialPool struct {
	sessions []output.ArchiveSession
	slots    []chan struct{}
}

// NewCredentialPool creates a pool over the given sessions.
func NewCredentialPool(sessions []output.ArchiveSession) (*CredentialPool, error) {
	if len(sessions) == 0 {
		return nil, domain.ErrNoCredentials
	}

	slots := make([]chan struct{}, len(sessions))
	for i := range slots {
		slots[i] = make(chan struct{}, 1)
	}

	return &CredentialPool{
		sessions: sessions,
		slots:    slots,
	}, nil
}

// Size returns the number of handles.
func (p *CredentialPool) Size() int {
	return len(p.sessions)
}

// Bind returns the handle for the task at position seq.
func (p *CredentialPool) Bind(seq int) int {
	return seq % len(p.sessions)
}

// Acquire waits for exclusive use of a handle. Sessions keep the last query
// as state, so two tasks sharing a handle must not interleave an attempt.
// The returned release func must be called once the attempt is over.
func (p *CredentialPool) Acquire(ctx context.Context, handle int) (output.ArchiveSession, func(), error) {
	slot := p.slots[handle]
	select {
	case slot <- struct{}{}:
		return p.sessions[handle], func() { <-slot }, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
