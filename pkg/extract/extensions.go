package extract

import (
	"path/filepath"
	"strings"
)

// GetExtension returns the file extension from a URL, keeping compound
// archive extensions such as .tar.xz intact.
func GetExtension(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx != -1 {
		url = url[:idx]
	}

	lower := strings.ToLower(url)
	for _, ext := range []string{".tar.gz", ".tar.xz", ".tgz", ".txz", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return strings.ToLower(filepath.Ext(url))
}

// IsArchive returns true for the archive formats Unarchive can read
func IsArchive(path string) bool {
	switch GetExtension(path) {
	case ".tar", ".tar.gz", ".tgz", ".tar.xz", ".txz":
		return true
	}
	return false
}

// IsSystemInstaller returns true for files handed to a platform installer
func IsSystemInstaller(path string) bool {
	switch GetExtension(path) {
	case ".pkg", ".msi", ".exe", ".dmg":
		return true
	}
	return false
}
