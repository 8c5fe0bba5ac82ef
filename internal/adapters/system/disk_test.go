package system

import (
	"path/filepath"
	"testing"
)

func TestDiskFree(t *testing.T) {
	dir := t.TempDir()

	free, err := Disk{}.Free(dir)
	if err != nil {
		t.Fatalf("Free() error = %v", err)
	}
	if free == 0 {
		t.Error("Free() = 0 on the test filesystem")
	}

	missing, err := Disk{}.Free(filepath.Join(dir, "not", "yet", "created"))
	if err != nil {
		t.Fatalf("Free() on missing path error = %v", err)
	}
	if missing == 0 {
		t.Error("missing path should be measured at its ancestor")
	}
}
