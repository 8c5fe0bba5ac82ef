package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// storeAndExtract spools body to <targetDir>/<name>.zip.partial, extracts it
// into targetDir and removes the archive. A failed extraction removes the
// partially extracted product directory.
func storeAndExtract(body io.Reader, targetDir, name string, metrics output.MetricsCollector) error {
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return err
	}

	tmp := filepath.Join(targetDir, name+".zip.partial")
	f, err := os.Create(tmp) //#nosec G304 -- tmp is inside the staging root
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	counter := &countingReader{r: body}
	_, copyErr := io.Copy(f, counter)
	metrics.AddDownloadedBytes(counter.n)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return fmt.Errorf("downloading %s: %w", name, copyErr)
	}

	if err := extractZip(tmp, targetDir); err != nil {
		_ = os.RemoveAll(filepath.Join(targetDir, name))
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	return nil
}

// extractZip unpacks src into dir, rejecting entries that would escape dir.
func extractZip(src, dir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range r.File {
		dest := filepath.Join(dir, f.Name) //#nosec G305 -- checked against root below
		if !strings.HasPrefix(dest, root) {
			return fmt.Errorf("entry %q: %w", f.Name, domain.ErrStagingOutsideRoot)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(dest) //#nosec G304 -- dest is checked by extractZip
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil { //#nosec G110 -- archive products are trusted
		_ = out.Close()
		return err
	}
	return out.Close()
}
