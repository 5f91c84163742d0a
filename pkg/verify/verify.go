// Package verify checks downloaded artifacts and extracted binaries.
package verify

import (
	"fmt"
	"os"

	"github.com/flanksource/toolchain/pkg/checksum"
)

// Artifact is the integrity check applied to a downloaded file before it is
// installed. Without an expected checksum it only asserts that a non-empty
// regular file exists, so a partially written download from an earlier
// attempt passes.
func Artifact(path, expected string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("artifact missing: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("artifact is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("artifact is empty: %s", path)
	}
	if expected != "" {
		if err := checksum.VerifyChecksum(path, expected); err != nil {
			return 0, err
		}
	}
	return info.Size(), nil
}
