package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/flanksource/toolchain/pkg/system"
	"github.com/flanksource/toolchain/pkg/types"
)

// Assistant installs the coding assistant CLI from the npm registry
type Assistant struct{}

func (Assistant) Tool() types.Tool { return types.ToolAssistant }

func npmPath(env *Env) (string, error) {
	names := []string{"npm"}
	if env.Platform.IsWindows() {
		names = []string{"npm.cmd", "npm"}
	}
	for _, name := range names {
		if path, err := env.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", types.NotInstalledError(types.ToolAssistant, "npm is required, install %s first", types.ToolNode)
}

func (Assistant) Prerequisites(_ context.Context, env *Env) ([]string, error) {
	if _, err := npmPath(env); err != nil {
		return []string{"npm"}, err
	}
	return []string{"npm"}, nil
}

// Resolve reads the registry npm is configured with, so mirrors are honoured
func (Assistant) Resolve(ctx context.Context, env *Env, spec types.PackageSpec, requested string) (*types.InstallationPackage, error) {
	registry := spec.VersionsURL
	if npm, err := npmPath(env); err == nil {
		if out, err := env.Exec.Run(ctx, npm, "config", "get", "registry"); err == nil {
			if configured := lastLine(out); strings.HasPrefix(configured, "http") {
				registry = configured
			}
		}
	}

	meta, err := releases.NpmRegistry{URL: registry, Client: env.HTTP}.Resolve(ctx, spec.NpmPackage, requested)
	if err != nil {
		return nil, err
	}
	size := meta.UnpackedSize
	if size == 0 {
		size = spec.EstimatedSize
	}
	return &types.InstallationPackage{
		Name:         spec.NpmPackage,
		Version:      meta.Version,
		Platform:     env.Platform.OS,
		Arch:         env.Platform.Arch,
		ExpectedSize: size,
		Spec:         spec,
	}, nil
}

// Install uses npm install -g, falling back to the user prefix when the
// global prefix is not writable rather than escalating
func (Assistant) Install(ctx context.Context, env *Env, pkg *types.InstallationPackage, _ string) (string, error) {
	npm, err := npmPath(env)
	if err != nil {
		return "", err
	}

	prefix := ""
	global, err := env.System.NpmPrefix(ctx, npm)
	if err != nil {
		env.Logf("npm config get prefix failed: %v", err)
	}
	if env.Options.UserLocal || (global != "" && !system.IsElevated() && !prefixWritable(global)) {
		prefix = env.Options.UserLocalRoot
		env.Logf("installing into %s", prefix)
	}

	if err := env.System.NpmInstallGlobal(ctx, npm, pkg.Name+"@"+pkg.Version, prefix); err != nil {
		return "", err
	}
	if prefix != "" {
		return prefix, nil
	}
	return global, nil
}

func (Assistant) Verify(ctx context.Context, env *Env, info *types.InstallationInfo) error {
	if _, err := env.Run(ctx, info.ExecutablePath, "config", "list"); err != nil {
		return fmt.Errorf("claude config list failed: %w", err)
	}
	return nil
}

// prefixWritable checks where npm -g writes: lib/node_modules on unix and
// the prefix itself on Windows
func prefixWritable(prefix string) bool {
	dir := filepath.Join(prefix, "lib", "node_modules")
	if _, err := os.Stat(dir); err != nil {
		dir = prefix
	}
	return system.Writable(dir)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
