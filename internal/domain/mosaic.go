package domain

import (
	"fmt"
	"strconv"
)

// DataType is the sample type of a raster.
type DataType string

// Supported sample types.
const (
	UInt16 DataType = "UInt16"
)

// Band is a raster identified by its band code and native resolution.
type Band struct {
	Code       BandCode
	Resolution Resolution
	Raster     Raster
}

// GeoTransform is the affine pixel-to-map transform in GDAL order:
// origin x, pixel width, row rotation, origin y, column rotation, pixel height.
type GeoTransform [6]float64

// Profile describes how a raster is laid out and encoded on disk.
type Profile struct {
	Driver      string       // Output format driver (GTiff)
	Width       int          // Columns
	Height      int          // Rows
	Count       int          // Number of bands
	DataType    DataType     // Sample type
	CRS         string       // Coordinate reference system (WKT)
	Transform   GeoTransform // Affine transform
	Tiled       bool         // Write tiled rather than striped
	BlockSize   int          // Tile edge length in pixels (0 = driver default)
	Compression string       // Compression codec
	Predictor   int          // Compression predictor (2 = horizontal differencing)
	BigTIFF     bool         // 64-bit offsets
}

// MosaicProfile derives the output profile from the reference 10 m grid.
func MosaicProfile(ref Profile, count int) Profile {
	p := ref
	p.Driver = "GTiff"
	p.Count = count
	p.Tiled = true
	if p.BlockSize == 0 {
		p.BlockSize = 512
	}
	p.Compression = "DEFLATE"
	p.Predictor = 2
	p.BigTIFF = true
	if p.DataType == "" {
		p.DataType = UInt16
	}
	return p
}

// CreationOptions returns the driver creation options for the profile.
func (p Profile) CreationOptions() []string {
	opts := make([]string, 0, 6)
	if p.Tiled {
		opts = append(opts, "TILED=YES")
		if p.BlockSize > 0 {
			size := strconv.Itoa(p.BlockSize)
			opts = append(opts, "BLOCKXSIZE="+size, "BLOCKYSIZE="+size)
		}
	}
	if p.Compression != "" {
		opts = append(opts, "COMPRESS="+p.Compression)
	}
	if p.Predictor > 0 {
		opts = append(opts, "PREDICTOR="+strconv.Itoa(p.Predictor))
	}
	if p.BigTIFF {
		opts = append(opts, "BIGTIFF=YES")
	}
	return opts
}

// Mosaic is the ordered 10 m band stack of one product plus its profile.
type Mosaic struct {
	Product Product
	Profile Profile
	Bands   []Band
}

// BandCodes returns the codes of the stacked bands in order.
func (m *Mosaic) BandCodes() []BandCode {
	codes := make([]BandCode, len(m.Bands))
	for i, b := range m.Bands {
		codes[i] = b.Code
	}
	return codes
}

// Validate checks the stack against its profile.
func (m *Mosaic) Validate() error {
	if len(m.Bands) != m.Profile.Count {
		return fmt.Errorf("mosaic has %d bands, profile declares %d", len(m.Bands), m.Profile.Count)
	}
	for _, b := range m.Bands {
		if b.Raster.Width != m.Profile.Width || b.Raster.Height != m.Profile.Height {
			return fmt.Errorf("band %s is %dx%d, grid is %dx%d",
				b.Code, b.Raster.Width, b.Raster.Height, m.Profile.Width, m.Profile.Height)
		}
		if !b.Raster.Valid() {
			return fmt.Errorf("band %s has %d samples for %dx%d",
				b.Code, len(b.Raster.Pix), b.Raster.Width, b.Raster.Height)
		}
	}
	return nil
}
