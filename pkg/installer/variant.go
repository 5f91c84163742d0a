package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flanksource/toolchain/pkg/extract"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/system"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/verify"
)

// Install methods understood by the shared platform actions
const (
	MethodInstaller      = "installer"
	MethodMsi            = "msi"
	MethodPkg            = "pkg"
	MethodDmg            = "dmg"
	MethodPackageManager = "package-manager"
	MethodArchive        = "archive"
	MethodNpm            = "npm"
)

// Variant holds the parts of an install that differ per tool. Everything
// else (compatibility, preflight, download, integrity, progress and
// cleanup) is run by the Orchestrator.
type Variant interface {
	Tool() types.Tool
	// Prerequisites returns the tools that must exist first, failing with
	// NotInstalled when one is missing
	Prerequisites(ctx context.Context, env *Env) ([]string, error)
	// Resolve picks the concrete package for the requested version
	Resolve(ctx context.Context, env *Env, spec types.PackageSpec, requested string) (*types.InstallationPackage, error)
	// Install performs the platform action. artifact is empty when nothing
	// was downloaded. Returns the install location when known.
	Install(ctx context.Context, env *Env, pkg *types.InstallationPackage, artifact string) (string, error)
	// Verify runs a functional check after the version query succeeded
	Verify(ctx context.Context, env *Env, info *types.InstallationInfo) error
}

// NeedsElevation reports whether a method writes to system locations
func NeedsElevation(method string) bool {
	switch method {
	case MethodInstaller, MethodMsi, MethodPkg, MethodDmg, MethodPackageManager:
		return true
	}
	return false
}

// platformInstall runs the shared action for pkg.Spec.Method
func platformInstall(ctx context.Context, env *Env, pkg *types.InstallationPackage, artifact string) (string, error) {
	spec := pkg.Spec
	switch spec.Method {
	case MethodInstaller:
		return "", env.System.RunInstaller(ctx, artifact, spec.Args...)
	case MethodMsi:
		return "", env.System.InstallMsi(ctx, artifact)
	case MethodPkg:
		return "", env.System.InstallPkg(ctx, artifact)
	case MethodDmg:
		mount := filepath.Join(env.WorkDir, "mnt")
		env.Cleanup.AddDirectory(mount)
		return "", env.System.InstallDmg(ctx, artifact, mount)
	case MethodPackageManager:
		pm, err := system.DetectPackageManager(env.LookPath)
		if err != nil {
			return "", err
		}
		env.Logf("using %s to install %v", pm.Name, spec.Packages)
		return "", env.System.InstallPackages(ctx, pm, spec.Packages...)
	case MethodArchive:
		return installArchive(env, pkg, artifact)
	}
	return "", fmt.Errorf("unsupported install method %q for %s", spec.Method, env.Tool)
}

// installArchive extracts a runtime archive under
// <UserLocalRoot>/share/toolchain/<name>-<version> and links its binaries
// into <UserLocalRoot>/bin.
func installArchive(env *Env, pkg *types.InstallationPackage, artifact string) (string, error) {
	root := env.Options.UserLocalRoot
	dest := filepath.Join(root, "share", "toolchain", fmt.Sprintf("%s-%s", env.Tool, pkg.Version))
	binary := env.Platform.AddExtension(env.Descriptor.Binary)

	exe, err := extract.Extract(artifact, dest,
		extract.WithStrip(1),
		extract.WithBinaryPath(filepath.Join("bin", binary)),
		extract.WithStatus(func(line string) { env.Logf("%s", line) }),
	)
	if err != nil {
		return "", err
	}
	info, err := verify.VerifyBinaryPlatform(exe, env.Platform)
	if err != nil {
		return "", fmt.Errorf("extracted %s does not match %s: %w", binary, env.Platform, err)
	}
	env.Logf("%s is a %s %s/%s binary", binary, info.Type, info.OS, info.Arch)

	binDir := filepath.Join(root, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(filepath.Join(dest, "bin"))
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		link := filepath.Join(binDir, entry.Name())
		_ = os.Remove(link)
		if err := os.Symlink(filepath.Join(dest, "bin", entry.Name()), link); err != nil {
			return "", fmt.Errorf("failed to link %s: %w", entry.Name(), err)
		}
		env.Logf("linked %s -> %s", link, filepath.Join(dest, "bin", entry.Name()))
	}
	return dest, nil
}

// sibling returns name next to executable when present, else name itself
func sibling(p platform.Platform, executable, name string) string {
	if executable == "" {
		return name
	}
	dir := filepath.Dir(executable)
	candidates := []string{name}
	if p.IsWindows() {
		candidates = []string{name + ".cmd", name + ".exe", name}
	}
	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return name
}
