package system

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace returns the bytes available to unprivileged users on the volume
// holding path. Missing trailing directories are skipped.
func FreeSpace(path string) (int64, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, fmt.Errorf("no existing parent for %s", path)
		}
		dir = parent
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage of %s: %w", dir, err)
	}
	return int64(usage.Free), nil
}
