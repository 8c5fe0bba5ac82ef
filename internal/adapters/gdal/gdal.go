// Package gdal implements raster I/O on GDAL through godal.
package gdal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

var registerOnce sync.Once

// subdatasetDomain is the metadata domain listing a product's sub-rasters.
const subdatasetDomain = "SUBDATASETS"

// Raster implements RasterIO.
type Raster struct {
	logger *slog.Logger
}

// New registers the GDAL drivers and returns the adapter.
func New(logger *slog.Logger) *Raster {
	registerOnce.Do(godal.RegisterAll)
	return &Raster{logger: logger}
}

// Subdatasets opens the product descriptor with the SENTINEL2 driver and maps
// its resolution groups to sub-dataset names.
func (r *Raster) Subdatasets(ctx context.Context, descriptor string) (map[domain.Resolution]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := godal.Open(descriptor)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", descriptor, err)
	}
	defer func() { _ = ds.Close() }()

	groups := ParseSubdatasets(ds.Metadatas(godal.Domain(subdatasetDomain)))
	r.logger.Debug("enumerated subdatasets",
		slog.String("descriptor", descriptor),
		slog.Int("groups", len(groups)),
	)
	return groups, nil
}

// ParseSubdatasets picks the 10, 20 and 60 m groups out of SUBDATASETS
// metadata. Names look like SENTINEL2_L2A:/path/MTD_MSIL2A.xml:10m:EPSG_32632;
// entries for other groups (TCI, quicklooks) are ignored.
func ParseSubdatasets(md map[string]string) map[domain.Resolution]string {
	keys := make([]string, 0, len(md))
	for k := range md {
		if strings.HasSuffix(k, "_NAME") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	groups := make(map[domain.Resolution]string, len(domain.Resolutions))
	for _, k := range keys {
		name := md[k]
		parts := strings.Split(name, ":")
		if len(parts) < 3 {
			continue
		}
		// The group label is the second to last token; the path may contain colons.
		label := parts[len(parts)-2]
		for _, res := range domain.Resolutions {
			if label == res.String() {
				if _, dup := groups[res]; !dup {
					groups[res] = name
				}
			}
		}
	}
	return groups
}

// ReadBands reads the 1-based bands at native resolution.
func (r *Raster) ReadBands(ctx context.Context, subdataset string, indexes []int) (domain.Profile, []domain.Raster, error) {
	ds, err := godal.Open(subdataset)
	if err != nil {
		return domain.Profile{}, nil, fmt.Errorf("opening %s: %w", subdataset, err)
	}
	defer func() { _ = ds.Close() }()

	st := ds.Structure()
	profile := domain.Profile{
		Width:    st.SizeX,
		Height:   st.SizeY,
		Count:    st.NBands,
		DataType: domain.UInt16,
		CRS:      ds.Projection(),
	}
	if gt, err := ds.GeoTransform(); err == nil {
		profile.Transform = domain.GeoTransform(gt)
	}

	bands := ds.Bands()
	rasters := make([]domain.Raster, 0, len(indexes))
	for _, idx := range indexes {
		if err := ctx.Err(); err != nil {
			return domain.Profile{}, nil, err
		}
		if idx < 1 || idx > len(bands) {
			return domain.Profile{}, nil, fmt.Errorf("%w: band %d of %d in %s",
				domain.ErrShapeMismatch, idx, len(bands), subdataset)
		}

		raster := domain.NewRaster(st.SizeX, st.SizeY)
		if err := bands[idx-1].Read(0, 0, raster.Pix, st.SizeX, st.SizeY); err != nil {
			return domain.Profile{}, nil, fmt.Errorf("reading band %d of %s: %w", idx, subdataset, err)
		}
		rasters = append(rasters, raster)
	}
	return profile, rasters, nil
}

// WriteMosaic creates a tiled, compressed GeoTIFF holding every band of the
// mosaic. Band descriptions carry the band codes.
func (r *Raster) WriteMosaic(ctx context.Context, path string, mosaic *domain.Mosaic) error {
	p := mosaic.Profile

	ds, err := godal.Create(godal.GTiff, path, p.Count, godal.UInt16, p.Width, p.Height,
		godal.CreationOption(p.CreationOptions()...))
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := r.fill(ctx, ds, mosaic); err != nil {
		_ = ds.Close()
		return err
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	r.logger.Debug("mosaic written",
		slog.String("path", path),
		slog.Int("bands", p.Count),
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
	)
	return nil
}

func (r *Raster) fill(ctx context.Context, ds *godal.Dataset, mosaic *domain.Mosaic) error {
	p := mosaic.Profile

	if p.CRS != "" {
		if err := ds.SetProjection(p.CRS); err != nil {
			return fmt.Errorf("setting projection: %w", err)
		}
	}
	if p.Transform != (domain.GeoTransform{}) {
		if err := ds.SetGeoTransform([6]float64(p.Transform)); err != nil {
			return fmt.Errorf("setting geotransform: %w", err)
		}
	}

	bands := ds.Bands()
	for i, b := range mosaic.Bands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := bands[i].Write(0, 0, b.Raster.Pix, b.Raster.Width, b.Raster.Height); err != nil {
			return fmt.Errorf("writing band %s: %w", b.Code, err)
		}
		if err := bands[i].SetDescription(string(b.Code)); err != nil {
			return fmt.Errorf("describing band %s: %w", b.Code, err)
		}
	}
	return nil
}
