package output

import (
	"context"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

// RasterIO defines the secondary port for raster access.
type RasterIO interface {
	// Subdatasets returns the resolution-group sub-rasters exposed by a
	// product metadata descriptor.
	Subdatasets(ctx context.Context, descriptor string) (map[domain.Resolution]string, error)

	// ReadBands reads the given 1-based bands of a sub-raster at native
	// resolution and returns them with the sub-raster's profile.
	ReadBands(ctx context.Context, subdataset string, indexes []int) (domain.Profile, []domain.Raster, error)

	// WriteMosaic writes the whole stack to path in a single pass.
	WriteMosaic(ctx context.Context, path string, mosaic *domain.Mosaic) error
}
