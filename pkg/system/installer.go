package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/platform"
)

// Installer performs the platform specific install actions. All commands
// are non-interactive: silent installer flags, msiexec /qn and sudo -n.
type Installer struct {
	Exec     Executor
	Platform platform.Platform
	// Elevate prefixes privileged unix commands with sudo -n when not root.
	Elevate bool
}

// privileged wraps a command that writes to system locations.
func (i *Installer) privileged(command string, args ...string) (string, []string) {
	if i.Platform.IsWindows() || !i.Elevate || IsElevated() {
		return command, args
	}
	return "sudo", append([]string{"-n", command}, args...)
}

func (i *Installer) run(ctx context.Context, command string, args ...string) error {
	logger.V(2).Infof("running %s %v", command, args)
	if _, err := i.Exec.Run(ctx, command, args...); err != nil {
		return err
	}
	return nil
}

// RunInstaller executes a silent .exe installer with the given arguments.
func (i *Installer) RunInstaller(ctx context.Context, path string, args ...string) error {
	if !i.Platform.IsWindows() {
		return fmt.Errorf(".exe installers can only run on Windows")
	}
	return i.run(ctx, path, args...)
}

// InstallMsi runs msiexec without UI or reboot.
func (i *Installer) InstallMsi(ctx context.Context, path string) error {
	if !i.Platform.IsWindows() {
		return fmt.Errorf(".msi files can only be installed on Windows")
	}
	return i.run(ctx, "msiexec", "/i", path, "/qn", "/norestart")
}

// InstallPkg installs a macOS package onto the boot volume.
func (i *Installer) InstallPkg(ctx context.Context, path string) error {
	if !i.Platform.IsDarwin() {
		return fmt.Errorf(".pkg files can only be installed on macOS")
	}
	cmd, args := i.privileged("installer", "-pkg", path, "-target", "/")
	return i.run(ctx, cmd, args...)
}

// InstallDmg mounts a disk image at mountDir, installs the first .pkg it
// contains and always detaches the image, even when ctx was cancelled.
func (i *Installer) InstallDmg(ctx context.Context, path, mountDir string) error {
	if !i.Platform.IsDarwin() {
		return fmt.Errorf(".dmg files can only be installed on macOS")
	}
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		return err
	}
	if err := i.run(ctx, "hdiutil", "attach", path, "-nobrowse", "-readonly", "-mountpoint", mountDir); err != nil {
		return fmt.Errorf("failed to mount %s: %w", filepath.Base(path), err)
	}
	defer func() {
		detachCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := i.run(detachCtx, "hdiutil", "detach", mountDir, "-force"); err != nil {
			logger.Warnf("failed to detach %s: %v", mountDir, err)
		}
	}()

	pkg, err := FindPkg(mountDir)
	if err != nil {
		return err
	}
	return i.InstallPkg(ctx, pkg)
}

// FindPkg returns the first .pkg inside dir.
func FindPkg(dir string) (string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.pkg")
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no .pkg found in %s", dir)
	}
	return filepath.Join(dir, filepath.FromSlash(matches[0])), nil
}
