package system

import (
	"os"
	"path/filepath"

	"github.com/flanksource/toolchain/pkg/platform"
)

// IsElevated reports whether the current process runs as root. Always false
// on Windows, where installers request elevation themselves.
func IsElevated() bool {
	return os.Geteuid() == 0
}

// SystemDirs are the locations platform installers write to.
func SystemDirs(p platform.Platform) []string {
	switch {
	case p.IsWindows():
		dir := os.Getenv("ProgramFiles")
		if dir == "" {
			dir = `C:\Program Files`
		}
		return []string{dir}
	case p.IsDarwin():
		return []string{"/usr/local", "/Library"}
	}
	return []string{"/usr/bin", "/usr/local/bin"}
}

// Writable probes dir by creating and removing a temporary file.
func Writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".toolchain-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// RequiresElevation reports whether any existing system dir is not writable.
func RequiresElevation(dirs ...string) bool {
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if !Writable(filepath.Clean(dir)) {
			return true
		}
	}
	return false
}
