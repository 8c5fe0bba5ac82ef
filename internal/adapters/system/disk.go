// Package system reports host resources.
package system

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// Disk implements DiskSpace with gopsutil.
type Disk struct{}

// Free returns the free bytes of the filesystem holding path. A path that
// does not exist yet is measured at its nearest existing ancestor.
func (Disk) Free(path string) (uint64, error) {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	usage, err := disk.Usage(p)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
