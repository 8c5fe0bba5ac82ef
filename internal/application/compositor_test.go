package application

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

func newTestCompositor(raster *mockRaster) *MosaicCompositor {
	return NewMosaicCompositor(raster, testLogger())
}

func stageForTest(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	if err := stageProduct(root, name); err != nil {
		t.Fatalf("stageProduct() error = %v", err)
	}
	return filepath.Join(root, name)
}

func TestComposeBandOrder(t *testing.T) {
	tests := []struct {
		name    string
		product string
		keepSCL bool
		want    []domain.BandCode
	}{
		{
			name:    "L1C includes B10",
			product: "B_MSIL1C_20200102.SAFE",
			want: []domain.BandCode{
				domain.B01, domain.B02, domain.B03, domain.B04, domain.B05, domain.B06, domain.B07,
				domain.B08, domain.B8A, domain.B09, domain.B10, domain.B11, domain.B12,
			},
		},
		{
			name:    "L1C ignores keepSCL",
			product: "B_MSIL1C_20200102.SAFE",
			keepSCL: true,
			want: []domain.BandCode{
				domain.B01, domain.B02, domain.B03, domain.B04, domain.B05, domain.B06, domain.B07,
				domain.B08, domain.B8A, domain.B09, domain.B10, domain.B11, domain.B12,
			},
		},
		{
			name:    "L2A without SCL",
			product: "A_MSIL2A_20200101.SAFE",
			want: []domain.BandCode{
				domain.B01, domain.B02, domain.B03, domain.B04, domain.B05, domain.B06, domain.B07,
				domain.B08, domain.B8A, domain.B09, domain.B11, domain.B12,
			},
		},
		{
			name:    "L2A with SCL last",
			product: "A_MSIL2A_20200101.SAFE",
			keepSCL: true,
			want: []domain.BandCode{
				domain.B01, domain.B02, domain.B03, domain.B04, domain.B05, domain.B06, domain.B07,
				domain.B08, domain.B8A, domain.B09, domain.B11, domain.B12, domain.SCL,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raster := newMockRaster()
			c := newTestCompositor(raster)
			dir := stageForTest(t, tt.product)
			out := filepath.Join(t.TempDir(), "out.tif")

			if err := c.Compose(context.Background(), dir, out, tt.keepSCL); err != nil {
				t.Fatalf("Compose() error = %v", err)
			}

			m := raster.written("out.tif")
			if m == nil {
				t.Fatal("no mosaic written")
			}
			if got := m.BandCodes(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("band order = %v, want %v", got, tt.want)
			}
			if m.Profile.Count != len(tt.want) {
				t.Errorf("Profile.Count = %d, want %d", m.Profile.Count, len(tt.want))
			}
			for _, b := range m.Bands {
				if b.Raster.Width != testWidth || b.Raster.Height != testHeight {
					t.Errorf("band %s is %dx%d, want %dx%d", b.Code, b.Raster.Width, b.Raster.Height, testWidth, testHeight)
				}
			}
		})
	}
}

func TestComposeBandSources(t *testing.T) {
	raster := newMockRaster()
	c := newTestCompositor(raster)

	p, _ := domain.ParseProductID("A_MSIL2A_20200101.SAFE")
	m, err := c.Assemble(context.Background(), p, stageForTest(t, p.ID), true)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	// 10m bands are read natively: B04 is band 1, B02 band 3.
	if v := m.Bands[3].Raster.At(0, 0); v != 10100 {
		t.Errorf("B04(0,0) = %d, want 10100", v)
	}
	if v := m.Bands[1].Raster.At(0, 0); v != 10300 {
		t.Errorf("B02(0,0) = %d, want 10300", v)
	}
	// 60m B01 is nearest-upsampled by 6.
	if v := m.Bands[0].Raster.At(5, 5); v != 60100 {
		t.Errorf("B01(5,5) = %d, want 60100", v)
	}
	if v := m.Bands[0].Raster.At(6, 0); v != 60101 {
		t.Errorf("B01(6,0) = %d, want 60101", v)
	}

	// SCL keeps class values: every output pixel is a source pixel.
	scl := m.Bands[len(m.Bands)-1]
	if scl.Code != domain.SCL {
		t.Fatalf("last band = %s, want SCL", scl.Code)
	}
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			want := uint16(sclBase + ((y/2)*6+x/2)%97)
			if got := scl.Raster.At(x, y); got != want {
				t.Fatalf("SCL(%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}

	opts := m.Profile.CreationOptions()
	want := []string{"TILED=YES", "BLOCKXSIZE=512", "BLOCKYSIZE=512", "COMPRESS=DEFLATE", "PREDICTOR=2", "BIGTIFF=YES"}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("CreationOptions() = %v, want %v", opts, want)
	}
}

func TestComposeDeterministic(t *testing.T) {
	dir := stageForTest(t, "A_MSIL2A_20200101.SAFE")
	outDir := t.TempDir()

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		c := newTestCompositor(newMockRaster())
		out := filepath.Join(outDir, "run.tif")
		if err := c.Compose(context.Background(), dir, out, true); err != nil {
			t.Fatalf("Compose() run %d error = %v", i, err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		outputs = append(outputs, data)
		_ = os.Remove(out)
	}

	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("repeated conversions produced different bytes")
	}
}

func TestComposeCorruptProduct(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(dir string, raster *mockRaster)
		wantErr error
	}{
		{
			name: "missing descriptor",
			setup: func(dir string, _ *mockRaster) {
				_ = os.Remove(filepath.Join(dir, "MTD_MSIL2A.xml"))
			},
			wantErr: domain.ErrDescriptorNotFound,
		},
		{
			name: "missing 60m group",
			setup: func(_ string, raster *mockRaster) {
				raster.missing = domain.Res60m
			},
			wantErr: domain.ErrMissingGroup,
		},
		{
			name: "20m shape mismatch",
			setup: func(_ string, raster *mockRaster) {
				raster.bad20m = true
			},
			wantErr: domain.ErrShapeMismatch,
		},
		{
			name: "unreadable group",
			setup: func(_ string, raster *mockRaster) {
				raster.readErr = errors.New("TIFFReadEncodedTile failed")
			},
			wantErr: domain.ErrCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raster := newMockRaster()
			dir := stageForTest(t, "A_MSIL2A_20200101.SAFE")
			tt.setup(dir, raster)
			out := filepath.Join(t.TempDir(), "out.tif")

			err := newTestCompositor(raster).Compose(context.Background(), dir, out, false)

			var corrupt *domain.CorruptProductError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Compose() error = %v, want CorruptProductError", err)
			}
			if corrupt.Product != "A_MSIL2A_20200101.SAFE" {
				t.Errorf("Product = %q", corrupt.Product)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error should wrap %v, got %v", tt.wantErr, err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("no output may be written for a corrupt product")
			}
		})
	}
}

func TestComposeWriteFailureLeavesNoFile(t *testing.T) {
	raster := newMockRaster()
	raster.writeErr = errors.New("disk full")
	dir := stageForTest(t, "A_MSIL2A_20200101.SAFE")
	out := filepath.Join(t.TempDir(), "out.tif")

	err := newTestCompositor(raster).Compose(context.Background(), dir, out, false)
	if err == nil {
		t.Fatal("Compose() should fail")
	}

	var corrupt *domain.CorruptProductError
	if errors.As(err, &corrupt) {
		t.Error("write failures are not product corruption")
	}
	for _, p := range []string{out, out + partialSuffix} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not exist", p)
		}
	}
}

func TestComposeInvalidDirectoryName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-a-product")
	err := newTestCompositor(newMockRaster()).Compose(context.Background(), dir, filepath.Join(t.TempDir(), "o.tif"), false)

	if !errors.Is(err, domain.ErrMalformedProductID) {
		t.Errorf("Compose() error = %v, want ErrMalformedProductID", err)
	}
}

func TestBandIndexes(t *testing.T) {
	layout := domain.LevelL2A.Layout(true)

	tests := []struct {
		group domain.Resolution
		want  []int
	}{
		{domain.Res10m, []int{1, 2, 3, 4}},
		{domain.Res20m, []int{1, 2, 3, 4, 5, 6, 9}},
		{domain.Res60m, []int{1, 2}},
	}
	for _, tt := range tests {
		if got := bandIndexes(layout, tt.group); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("bandIndexes(%s) = %v, want %v", tt.group, got, tt.want)
		}
	}
}
