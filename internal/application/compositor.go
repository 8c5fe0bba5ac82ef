package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// partialSuffix marks a mosaic that is still being written.
const partialSuffix = ".partial"

// MosaicCompositor turns a staged SAFE product into a 10 m band stack.
type MosaicCompositor struct {
	raster output.RasterIO
	logger *slog.Logger
}

// NewMosaicCompositor creates a new compositor.
func NewMosaicCompositor(raster output.RasterIO, logger *slog.Logger) *MosaicCompositor {
	return &MosaicCompositor{
		raster: raster,
		logger: logger,
	}
}

// groupData is one resolution group read at native resolution.
type groupData struct {
	profile domain.Profile
	bands   map[int]domain.Raster // keyed by 1-based band index
}

// Compose reads the product rooted at productDir and writes its mosaic to
// outPath. The product identifier, and with it the band layout, is taken from
// the directory name.
//
// Problems with the staged product are returned as *domain.CorruptProductError.
// The mosaic is written to outPath+".partial" and renamed on success, so
// outPath only ever holds a complete file.
func (c *MosaicCompositor) Compose(ctx context.Context, productDir, outPath string, keepSCL bool) error {
	product, err := domain.ParseProductID(filepath.Base(productDir))
	if err != nil {
		return err
	}

	c.logger.Info("converting product", "product", product.ID, "level", product.Level, "scl", keepSCL && product.Level.HasSCL())

	mosaic, err := c.Assemble(ctx, product, productDir, keepSCL)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	partial := outPath + partialSuffix
	if err := c.raster.WriteMosaic(ctx, partial, mosaic); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("writing mosaic %s: %w", partial, err)
	}
	if err := os.Rename(partial, outPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("finalizing mosaic %s: %w", outPath, err)
	}

	c.logger.Info("mosaic written", "product", product.ID, "path", outPath, "bands", mosaic.Profile.Count)
	return nil
}

// Assemble builds the in-memory mosaic without writing it.
func (c *MosaicCompositor) Assemble(ctx context.Context, product domain.Product, productDir string, keepSCL bool) (*domain.Mosaic, error) {
	corrupt := func(reason string, err error) error {
		return &domain.CorruptProductError{Product: product.ID, Reason: reason, Err: err}
	}

	descriptor := filepath.Join(productDir, product.DescriptorName())
	if _, err := os.Stat(descriptor); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, corrupt(product.DescriptorName(), domain.ErrDescriptorNotFound)
		}
		return nil, corrupt("stat descriptor", err)
	}

	subdatasets, err := c.raster.Subdatasets(ctx, descriptor)
	if err != nil {
		return nil, corrupt("reading descriptor", err)
	}
	for _, res := range domain.Resolutions {
		if subdatasets[res] == "" {
			return nil, corrupt(res.String()+" group", domain.ErrMissingGroup)
		}
	}

	layout := product.Level.Layout(keepSCL)

	groups := make(map[domain.Resolution]*groupData, len(domain.Resolutions))
	for _, res := range domain.Resolutions {
		g, err := c.readGroup(ctx, subdatasets[res], bandIndexes(layout, res))
		if err != nil {
			return nil, corrupt("reading "+res.String()+" group", err)
		}
		groups[res] = g
	}

	ref := groups[domain.Res10m].profile
	if ref.Width <= 0 || ref.Height <= 0 {
		return nil, corrupt("10m group", fmt.Errorf("%w: empty reference grid", domain.ErrShapeMismatch))
	}

	g20 := groups[domain.Res20m].profile
	if g20.Width*2 != ref.Width || g20.Height*2 != ref.Height {
		return nil, corrupt("20m group", fmt.Errorf("%w: %dx%d doubled does not match %dx%d",
			domain.ErrShapeMismatch, g20.Width, g20.Height, ref.Width, ref.Height))
	}

	mosaic := &domain.Mosaic{
		Product: product,
		Profile: domain.MosaicProfile(ref, len(layout)),
		Bands:   make([]domain.Band, 0, len(layout)),
	}

	for _, src := range layout {
		native := groups[src.Group].bands[src.Index]
		resampled, err := domain.Resample(native, ref.Width, ref.Height, src.Kernel)
		if err != nil {
			return nil, corrupt("resampling "+string(src.Code), err)
		}
		mosaic.Bands = append(mosaic.Bands, domain.Band{
			Code:       src.Code,
			Resolution: src.Group,
			Raster:     resampled,
		})
	}

	if err := mosaic.Validate(); err != nil {
		return nil, corrupt("band stack", fmt.Errorf("%w: %v", domain.ErrShapeMismatch, err))
	}
	return mosaic, nil
}

// readGroup reads the requested bands of one sub-raster and checks every
// band against the group's declared shape.
func (c *MosaicCompositor) readGroup(ctx context.Context, subdataset string, indexes []int) (*groupData, error) {
	profile, rasters, err := c.raster.ReadBands(ctx, subdataset, indexes)
	if err != nil {
		return nil, err
	}
	if len(rasters) != len(indexes) {
		return nil, fmt.Errorf("%w: read %d bands, requested %d", domain.ErrShapeMismatch, len(rasters), len(indexes))
	}

	g := &groupData{profile: profile, bands: make(map[int]domain.Raster, len(indexes))}
	for i, idx := range indexes {
		r := rasters[i]
		if !r.Valid() || r.Width != profile.Width || r.Height != profile.Height {
			return nil, fmt.Errorf("%w: band %d is %dx%d, group is %dx%d",
				domain.ErrShapeMismatch, idx, r.Width, r.Height, profile.Width, profile.Height)
		}
		g.bands[idx] = r
	}
	return g, nil
}

// bandIndexes returns the sorted band indexes the layout needs from a group.
func bandIndexes(layout []domain.BandSource, group domain.Resolution) []int {
	seen := make(map[int]bool)
	var idx []int
	for _, b := range layout {
		if b.Group == group && !seen[b.Index] {
			seen[b.Index] = true
			idx = append(idx, b.Index)
		}
	}
	sort.Ints(idx)
	return idx
}
