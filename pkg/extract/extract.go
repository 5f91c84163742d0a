package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/utils"
)

// ExtractOption is a functional option for configuring extraction
type ExtractOption func(*extractConfig)

type extractConfig struct {
	binaryPath      string
	stripComponents int
	status          func(string)
}

// WithBinaryPath sets the path of the binary to locate after extraction,
// relative to the extraction root
func WithBinaryPath(binaryPath string) ExtractOption {
	return func(c *extractConfig) {
		c.binaryPath = binaryPath
	}
}

// WithStrip removes leading path elements, e.g. node-v20.11.0-linux-x64/
func WithStrip(n int) ExtractOption {
	return func(c *extractConfig) {
		c.stripComponents = n
	}
}

// WithStatus receives a line before and after the archive is unpacked
func WithStatus(fn func(string)) ExtractOption {
	return func(c *extractConfig) {
		c.status = fn
	}
}

// Extract replaces extractDir with the contents of the archive and returns the
// path of the requested binary, or "" when no binary path was given
func Extract(archivePath, extractDir string, opts ...ExtractOption) (string, error) {
	config := &extractConfig{status: func(string) {}}
	for _, opt := range opts {
		opt(config)
	}

	config.status(fmt.Sprintf("extracting %s", filepath.Base(archivePath)))

	// a previous failed run may have left a partial tree
	if _, err := os.Stat(extractDir); err == nil {
		if err := os.RemoveAll(extractDir); err != nil {
			return "", fmt.Errorf("failed to clean up existing extract directory: %w", err)
		}
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extract directory: %w", err)
	}

	result, err := Unarchive(archivePath, extractDir, WithOverwrite(true), WithStripComponents(config.stripComponents))
	if err != nil {
		return "", fmt.Errorf("failed to extract archive: %w", err)
	}
	summary := fmt.Sprintf("extracted %d files (%s) from %s to %s",
		len(result.Files), utils.FormatBytes(result.Size), filepath.Base(archivePath), utils.LogPath(extractDir))
	logger.V(3).Infof("%s", summary)
	config.status(summary)
	if len(result.Files) == 0 {
		return "", fmt.Errorf("extraction destination is empty: %s", extractDir)
	}

	if config.binaryPath == "" {
		return "", nil
	}

	binaryPath := filepath.Join(extractDir, config.binaryPath)
	if err := verifyBinary(binaryPath); err != nil {
		return "", fmt.Errorf("binary verification failed: %w", err)
	}
	return binaryPath, nil
}

// verifyBinary checks the binary exists, is not empty and is executable
func verifyBinary(binaryPath string) error {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return fmt.Errorf("binary does not exist: %s", binaryPath)
	}
	if info.IsDir() {
		return fmt.Errorf("binary path is a directory, not a file: %s", binaryPath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("binary file is empty: %s", binaryPath)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("binary file is not executable (mode: %o): %s", info.Mode(), binaryPath)
	}
	return nil
}
