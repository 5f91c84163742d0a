package installer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/flanksource/toolchain/pkg/config"
)

// InstallOptions configures a single installation
type InstallOptions struct {
	TmpDir string
	Force  bool
	// KeepDownloads preserves artifacts and mount points after the install
	KeepDownloads bool
	// AllowElevation permits sudo -n and installer self elevation
	AllowElevation bool
	// UserLocal prefers installs under UserLocalRoot over system locations
	UserLocal     bool
	UserLocalRoot string
	// Timeout bounds each platform install command, zero means none
	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxRedirects    int
	LogLimit        int
	DiskBuffer      float64
}

// InstallOption is a functional option for configuring installation
type InstallOption func(*InstallOptions)

// WithTmpDir sets the directory downloads are cached in
func WithTmpDir(dir string) InstallOption {
	return func(opts *InstallOptions) {
		if dir != "" {
			opts.TmpDir = dir
		}
	}
}

// WithForce reinstalls even when a compatible version is present
func WithForce(force bool) InstallOption {
	return func(opts *InstallOptions) {
		opts.Force = force
	}
}

// WithKeepDownloads keeps downloaded and extracted files for debugging
func WithKeepDownloads(keep bool) InstallOption {
	return func(opts *InstallOptions) {
		opts.KeepDownloads = keep
	}
}

// WithElevation allows or forbids privileged installs. When forbidden an
// install that needs elevation fails with ElevationRequired.
func WithElevation(allow bool) InstallOption {
	return func(opts *InstallOptions) {
		opts.AllowElevation = allow
	}
}

// WithUserLocal installs into the user's home where the tool supports it
func WithUserLocal(userLocal bool) InstallOption {
	return func(opts *InstallOptions) {
		opts.UserLocal = userLocal
	}
}

// WithUserLocalRoot overrides ~/.local
func WithUserLocalRoot(dir string) InstallOption {
	return func(opts *InstallOptions) {
		opts.UserLocalRoot = dir
	}
}

// WithTimeout bounds each installer subprocess
func WithTimeout(timeout time.Duration) InstallOption {
	return func(opts *InstallOptions) {
		opts.Timeout = timeout
	}
}

// DefaultOptions returns the options implied by cfg
func DefaultOptions(cfg *config.Config) InstallOptions {
	home, _ := os.UserHomeDir()
	opts := InstallOptions{
		TmpDir:          os.TempDir(),
		AllowElevation:  true,
		UserLocalRoot:   filepath.Join(home, ".local"),
		DownloadTimeout: 30 * time.Second,
		MaxRedirects:    5,
		LogLimit:        1000,
		DiskBuffer:      1.2,
	}
	if cfg == nil {
		return opts
	}
	s := cfg.Settings
	opts.TmpDir = cfg.TmpDir()
	opts.AllowElevation = cfg.ElevationAllowed()
	opts.UserLocal = s.Installer.UserLocal
	if s.Download.Timeout > 0 {
		opts.DownloadTimeout = s.Download.Timeout
	}
	if s.Download.MaxRedirects > 0 {
		opts.MaxRedirects = s.Download.MaxRedirects
	}
	if s.Installer.LogLimit > 0 {
		opts.LogLimit = s.Installer.LogLimit
	}
	if s.Installer.DiskBuffer > 0 {
		opts.DiskBuffer = s.Installer.DiskBuffer
	}
	return opts
}
