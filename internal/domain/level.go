package domain

import "fmt"

// Resolution is the native ground sampling distance of a band group, in meters.
type Resolution int

// Native Sentinel-2 resolution groups.
const (
	Res10m Resolution = 10
	Res20m Resolution = 20
	Res60m Resolution = 60
)

// String returns the group label used by the raster driver (e.g. "10m").
func (r Resolution) String() string {
	return fmt.Sprintf("%dm", int(r))
}

// Resolutions lists the groups in the order the descriptor exposes them.
var Resolutions = []Resolution{Res10m, Res20m, Res60m}

// BandCode is the canonical name of a spectral or derived band.
type BandCode string

// Band codes.
const (
	B01 BandCode = "B01"
	B02 BandCode = "B02"
	B03 BandCode = "B03"
	B04 BandCode = "B04"
	B05 BandCode = "B05"
	B06 BandCode = "B06"
	B07 BandCode = "B07"
	B08 BandCode = "B08"
	B8A BandCode = "B8A"
	B09 BandCode = "B09"
	B10 BandCode = "B10"
	B11 BandCode = "B11"
	B12 BandCode = "B12"
	SCL BandCode = "SCL"
)

// BandSource locates one output band inside the product.
type BandSource struct {
	Code   BandCode   // Output band code
	Group  Resolution // Native resolution group holding the band
	Index  int        // 1-based band index within the group
	Kernel Resampling // Kernel used to bring the band onto the 10 m grid
}

// ProcessingLevel is the atmospheric-correction stage of a product.
type ProcessingLevel string

// Processing levels.
const (
	LevelL1C ProcessingLevel = "L1C"
	LevelL2A ProcessingLevel = "L2A"
)

// levelLayout is the band table of one processing level.
type levelLayout struct {
	token string       // Identifier token, e.g. MSIL2A
	bands []BandSource // Output order without optional bands
	scl   *BandSource  // Scene classification, nil when the level has none
}

// Group band order follows the SENTINEL2 raster driver:
//
//	10m: B4 B3 B2 B8
//	20m: B5 B6 B7 B8A B11 B12 [AOT CLD SCL SNW WVP]
//	60m: B1 B9 [B10]
var layouts = map[ProcessingLevel]levelLayout{
	LevelL1C: {
		token: "MSIL1C",
		bands: []BandSource{
			{B01, Res60m, 1, Nearest},
			{B02, Res10m, 3, Nearest},
			{B03, Res10m, 2, Nearest},
			{B04, Res10m, 1, Nearest},
			{B05, Res20m, 1, Bilinear},
			{B06, Res20m, 2, Bilinear},
			{B07, Res20m, 3, Bilinear},
			{B08, Res10m, 4, Nearest},
			{B8A, Res20m, 4, Bilinear},
			{B09, Res60m, 2, Nearest},
			{B10, Res60m, 3, Nearest},
			{B11, Res20m, 5, Bilinear},
			{B12, Res20m, 6, Bilinear},
		},
	},
	LevelL2A: {
		token: "MSIL2A",
		bands: []BandSource{
			{B01, Res60m, 1, Nearest},
			{B02, Res10m, 3, Nearest},
			{B03, Res10m, 2, Nearest},
			{B04, Res10m, 1, Nearest},
			{B05, Res20m, 1, Bilinear},
			{B06, Res20m, 2, Bilinear},
			{B07, Res20m, 3, Bilinear},
			{B08, Res10m, 4, Nearest},
			{B8A, Res20m, 4, Bilinear},
			{B09, Res60m, 2, Nearest},
			{B11, Res20m, 5, Bilinear},
			{B12, Res20m, 6, Bilinear},
		},
		// SCL is categorical: never blend class values.
		scl: &BandSource{SCL, Res20m, 9, Nearest},
	},
}

// ParseProcessingLevel maps an identifier token (MSIL1C, MSIL2A) to a level.
func ParseProcessingLevel(token string) (ProcessingLevel, error) {
	for level, layout := range layouts {
		if layout.token == token {
			return level, nil
		}
	}
	return "", fmt.Errorf("%w: unknown processing level %q", ErrMalformedProductID, token)
}

// Token returns the identifier token of the level.
func (l ProcessingLevel) Token() string {
	return layouts[l].token
}

// HasSCL reports whether products of this level carry a scene classification.
func (l ProcessingLevel) HasSCL() bool {
	return layouts[l].scl != nil
}

// Layout returns the output band order for the level.
// keepSCL is ignored for levels without a scene classification band.
func (l ProcessingLevel) Layout(keepSCL bool) []BandSource {
	layout, ok := layouts[l]
	if !ok {
		return nil
	}

	out := make([]BandSource, 0, len(layout.bands)+1)
	out = append(out, layout.bands...)
	if keepSCL && layout.scl != nil {
		out = append(out, *layout.scl)
	}
	return out
}

// BandCodes returns only the codes of Layout(keepSCL).
func (l ProcessingLevel) BandCodes(keepSCL bool) []BandCode {
	layout := l.Layout(keepSCL)
	codes := make([]BandCode, len(layout))
	for i, b := range layout {
		codes[i] = b.Code
	}
	return codes
}
