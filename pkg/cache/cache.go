package cache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactPath returns the download destination for a URL
// Format: {dir}/{url-hash}/{filename}
func ArtifactPath(dir, url, filename string) string {
	if dir == "" {
		return ""
	}
	if filename == "" {
		filename = filepath.Base(strings.TrimSuffix(url, "/"))
	}
	return filepath.Join(dir, hashURL(url), filename)
}

// Exists reports whether an artifact was already downloaded to path. This is
// an existence check only: a partial file left by an interrupted download
// counts as present.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Remove deletes an artifact and its hash directory when it becomes empty
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// hashURL creates a short hash of a URL for directory naming
func hashURL(url string) string {
	normalized := strings.TrimPrefix(url, "https://")
	normalized = strings.TrimPrefix(normalized, "http://")
	normalized = strings.TrimSuffix(normalized, "/")

	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hash[:8])
}
