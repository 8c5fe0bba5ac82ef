package domain

import "fmt"

// Resampling selects the interpolation kernel used when changing grid size.
type Resampling int

// Resampling kernels.
const (
	Nearest Resampling = iota
	Bilinear
)

// String returns the kernel name.
func (r Resampling) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return "unknown"
	}
}

// Raster is a single-band 2-D grid of 16-bit samples in row-major order.
type Raster struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height int) Raster {
	return Raster{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// At returns the sample at column x, row y.
func (r Raster) At(x, y int) uint16 {
	return r.Pix[y*r.Width+x]
}

// Valid reports whether the pixel buffer matches the declared shape.
func (r Raster) Valid() bool {
	return r.Width > 0 && r.Height > 0 && len(r.Pix) == r.Width*r.Height
}

// Resample returns src on a width x height grid.
//
// Both kernels use the pixel-centre convention (output centre x+0.5 maps to
// source (x+0.5)*src/dst) and are computed in integer arithmetic, so results
// are identical on every platform. Requesting the source shape returns src
// unchanged.
func Resample(src Raster, width, height int, kernel Resampling) (Raster, error) {
	if !src.Valid() {
		return Raster{}, fmt.Errorf("resample: invalid source raster %dx%d (%d samples)",
			src.Width, src.Height, len(src.Pix))
	}
	if width <= 0 || height <= 0 {
		return Raster{}, fmt.Errorf("resample: invalid target shape %dx%d", width, height)
	}
	if width == src.Width && height == src.Height {
		return src, nil
	}

	switch kernel {
	case Nearest:
		return resampleNearest(src, width, height), nil
	case Bilinear:
		return resampleBilinear(src, width, height), nil
	default:
		return Raster{}, fmt.Errorf("resample: unsupported kernel %d", kernel)
	}
}

func resampleNearest(src Raster, width, height int) Raster {
	dst := NewRaster(width, height)

	cols := make([]int, width)
	for x := range cols {
		cols[x] = min((2*x+1)*src.Width/(2*width), src.Width-1)
	}

	for y := 0; y < height; y++ {
		sy := min((2*y+1)*src.Height/(2*height), src.Height-1)
		srow := src.Pix[sy*src.Width : (sy+1)*src.Width]
		drow := dst.Pix[y*width : (y+1)*width]
		for x, sx := range cols {
			drow[x] = srow[sx]
		}
	}
	return dst
}

// axisWeights holds the two source taps and the fractional weight (in units
// of 1/den) of the second tap for each output position along one axis.
type axisWeights struct {
	lo, hi []int
	frac   []int64
	den    int64
}

// bilinearAxis computes taps for mapping n source samples onto m outputs.
// The source coordinate of output i is ((2i+1)*n - m) / (2m).
func bilinearAxis(n, m int) axisWeights {
	den := int64(2 * m)
	w := axisWeights{
		lo:   make([]int, m),
		hi:   make([]int, m),
		frac: make([]int64, m),
		den:  den,
	}

	for i := 0; i < m; i++ {
		num := int64(2*i+1)*int64(n) - int64(m)
		q := floorDiv(num, den)
		f := num - q*den

		lo := int(q)
		hi := lo + 1
		if lo < 0 {
			lo, hi, f = 0, 0, 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		if lo > n-1 {
			lo = n - 1
		}

		w.lo[i], w.hi[i], w.frac[i] = lo, hi, f
	}
	return w
}

func resampleBilinear(src Raster, width, height int) Raster {
	dst := NewRaster(width, height)
	xs := bilinearAxis(src.Width, width)
	ys := bilinearAxis(src.Height, height)

	scale := xs.den * ys.den
	half := scale / 2

	for y := 0; y < height; y++ {
		fy := ys.frac[y]
		row0 := src.Pix[ys.lo[y]*src.Width:]
		row1 := src.Pix[ys.hi[y]*src.Width:]
		drow := dst.Pix[y*width : (y+1)*width]

		for x := 0; x < width; x++ {
			fx := xs.frac[x]
			x0, x1 := xs.lo[x], xs.hi[x]

			top := (xs.den-fx)*int64(row0[x0]) + fx*int64(row0[x1])
			bottom := (xs.den-fx)*int64(row1[x0]) + fx*int64(row1[x1])
			v := ((ys.den-fy)*top + fy*bottom + half) / scale

			if v > 0xFFFF {
				v = 0xFFFF
			}
			drow[x] = uint16(v)
		}
	}
	return dst
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
