package application

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

// StagingReclaimer removes per-product staging directories.
type StagingReclaimer struct {
	root   string
	logger *slog.Logger
}

// NewStagingReclaimer creates a reclaimer confined to root.
func NewStagingReclaimer(root string, logger *slog.Logger) *StagingReclaimer {
	return &StagingReclaimer{
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Reclaim recursively deletes the staging directory of a converted product.
// Failures are returned as *domain.ReclaimError and never retried.
func (r *StagingReclaimer) Reclaim(product, dir string) error {
	if err := r.contained(dir); err != nil {
		return &domain.ReclaimError{Product: product, Path: dir, Err: err}
	}

	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("failed to reclaim staging directory", "product", product, "path", dir, "error", err)
		return &domain.ReclaimError{Product: product, Path: dir, Err: err}
	}

	r.logger.Debug("staging directory reclaimed", "product", product, "path", dir)
	return nil
}

// contained rejects the root itself and anything outside it.
func (r *StagingReclaimer) contained(dir string) error {
	rel, err := filepath.Rel(r.root, filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStagingOutsideRoot, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", domain.ErrStagingOutsideRoot, dir)
	}
	return nil
}
