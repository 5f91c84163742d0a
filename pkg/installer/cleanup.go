package installer

import (
	"os"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/cache"
	"github.com/flanksource/toolchain/pkg/utils"
)

// CleanupManager removes temporary files and directories once an install
// finishes, unless they are to be kept for debugging
type CleanupManager struct {
	keep        bool
	files       []string
	directories []string
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(keep bool) *CleanupManager {
	return &CleanupManager{keep: keep}
}

// AddFile adds a file to be cleaned up
func (cm *CleanupManager) AddFile(path string) {
	if path != "" {
		cm.files = append(cm.files, path)
	}
}

// AddDirectory adds a directory to be cleaned up
func (cm *CleanupManager) AddDirectory(path string) {
	if path != "" {
		cm.directories = append(cm.directories, path)
	}
}

// Paths returns everything registered for cleanup
func (cm *CleanupManager) Paths() []string {
	return append(append([]string{}, cm.files...), cm.directories...)
}

// Cleanup performs the actual cleanup
func (cm *CleanupManager) Cleanup() {
	if cm.keep {
		for _, path := range cm.Paths() {
			logger.V(3).Infof("Keeping temporary files: %s", utils.LogPath(path))
		}
		return
	}

	// directories first, they may contain files
	for _, dir := range cm.directories {
		if err := os.RemoveAll(dir); err != nil {
			logger.V(4).Infof("Failed to clean up directory %s: %v", utils.LogPath(dir), err)
		}
	}
	for _, file := range cm.files {
		if err := cache.Remove(file); err != nil {
			logger.V(4).Infof("Failed to clean up file %s: %v", utils.LogPath(file), err)
		}
	}
}
