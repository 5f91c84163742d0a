package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/flanksource/commons/logger"
)

// ErrNoPackageManager is returned when none of the known managers is found.
var ErrNoPackageManager = errors.New("no supported package manager found")

// PackageManager describes a native package manager's non-interactive commands.
type PackageManager struct {
	Name    string
	Refresh []string
	Install []string
}

// PackageManagers in detection order.
var PackageManagers = []PackageManager{
	{Name: "apt-get", Refresh: []string{"apt-get", "update"}, Install: []string{"apt-get", "install", "-y"}},
	{Name: "dnf", Install: []string{"dnf", "install", "-y"}},
	{Name: "yum", Install: []string{"yum", "install", "-y"}},
	{Name: "pacman", Install: []string{"pacman", "-S", "--noconfirm", "--needed"}},
	{Name: "zypper", Install: []string{"zypper", "--non-interactive", "install"}},
	{Name: "apk", Install: []string{"apk", "add", "--no-cache"}},
}

// LookPathFunc allows tests to control which managers exist.
type LookPathFunc func(string) (string, error)

// DetectPackageManager returns the first available package manager.
func DetectPackageManager(lookPath LookPathFunc) (*PackageManager, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, pm := range PackageManagers {
		if _, err := lookPath(pm.Name); err == nil {
			return &pm, nil
		}
	}
	names := make([]string, 0, len(PackageManagers))
	for _, pm := range PackageManagers {
		names = append(names, pm.Name)
	}
	return nil, fmt.Errorf("%w (tried %s)", ErrNoPackageManager, strings.Join(names, ", "))
}

// InstallPackages refreshes the package index where needed and installs packages.
func (i *Installer) InstallPackages(ctx context.Context, pm *PackageManager, packages ...string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages to install")
	}
	if len(pm.Refresh) > 0 {
		cmd, args := i.privileged(pm.Refresh[0], pm.Refresh[1:]...)
		if err := i.run(ctx, cmd, args...); err != nil {
			// a stale index usually still installs
			logger.Warnf("%s failed: %v", strings.Join(pm.Refresh, " "), err)
		}
	}
	install := append(append([]string{}, pm.Install[1:]...), packages...)
	cmd, args := i.privileged(pm.Install[0], install...)
	return i.run(ctx, cmd, args...)
}
