package installer

import (
	"context"
	"fmt"

	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/flanksource/toolchain/pkg/template"
	"github.com/flanksource/toolchain/pkg/types"
)

// Git installs git-for-windows releases, the macOS disk image or the
// distribution package.
type Git struct{}

func (Git) Tool() types.Tool { return types.ToolGit }

func (Git) Prerequisites(context.Context, *Env) ([]string, error) { return nil, nil }

func (Git) Resolve(ctx context.Context, env *Env, spec types.PackageSpec, requested string) (*types.InstallationPackage, error) {
	pkg := &types.InstallationPackage{
		Name:         string(types.ToolGit),
		Version:      requested,
		Platform:     env.Platform.OS,
		Arch:         env.Platform.Arch,
		ExpectedSize: spec.EstimatedSize,
		Spec:         spec,
	}

	switch spec.Method {
	case MethodInstaller:
		asset, err := env.GitHub.FindAsset(ctx, spec.Repo, requested, spec.AssetPattern)
		if err != nil {
			return nil, err
		}
		pkg.Version, pkg.DownloadURL, pkg.Filename = asset.Version, asset.URL, asset.Name
		if asset.Size > 0 {
			pkg.ExpectedSize = asset.Size
		}

	case MethodDmg:
		asset, err := releases.Listing{URL: spec.VersionsURL, Client: env.HTTP}.FindAsset(ctx, requested, spec.AssetPattern)
		if err != nil {
			return nil, err
		}
		pkg.Version, pkg.DownloadURL, pkg.Filename = asset.Version, asset.URL, asset.Name
		if spec.URLTemplate != "" {
			url, _, err := template.TemplateURL(spec.URLTemplate, asset.Version, env.Platform, map[string]any{"asset": asset.Name})
			if err != nil {
				return nil, err
			}
			pkg.DownloadURL = url
		}

	case MethodPackageManager:
		// distributions ship one version; a pinned request is best effort
		if pkg.Version == "" {
			pkg.Version = "latest"
		}

	default:
		return nil, fmt.Errorf("unsupported git install method %q", spec.Method)
	}
	return pkg, nil
}

func (Git) Install(ctx context.Context, env *Env, pkg *types.InstallationPackage, artifact string) (string, error) {
	return platformInstall(ctx, env, pkg, artifact)
}

// Verify lists the configuration, which fails on a broken installation
func (Git) Verify(ctx context.Context, env *Env, info *types.InstallationInfo) error {
	if _, err := env.Run(ctx, info.ExecutablePath, "config", "--list"); err != nil {
		return fmt.Errorf("git config --list failed: %w", err)
	}
	return nil
}
