package installer

import (
	"context"
	"fmt"

	"github.com/flanksource/toolchain/pkg/checksum"
	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/flanksource/toolchain/pkg/template"
	"github.com/flanksource/toolchain/pkg/types"
)

// Node installs the nodejs.org MSI or pkg, the distribution packages, or
// with the user-local option the tar.xz runtime under ~/.local.
type Node struct{}

func (Node) Tool() types.Tool { return types.ToolNode }

func (Node) Prerequisites(context.Context, *Env) ([]string, error) { return nil, nil }

func (Node) Resolve(ctx context.Context, env *Env, spec types.PackageSpec, requested string) (*types.InstallationPackage, error) {
	index := releases.NodeIndex{URL: spec.VersionsURL, Client: env.HTTP}
	v, err := index.Resolve(ctx, requested, env.Descriptor.MinVersion)
	if err != nil {
		return nil, err
	}

	pkg := &types.InstallationPackage{
		Name:         string(types.ToolNode),
		Version:      v,
		Platform:     env.Platform.OS,
		Arch:         env.Platform.Arch,
		ExpectedSize: spec.EstimatedSize,
		Spec:         spec,
	}

	if spec.Method == MethodPackageManager {
		if !env.Options.UserLocal || spec.URLTemplate == "" {
			return pkg, nil
		}
		pkg.Spec.Method = MethodArchive
	}

	if spec.URLTemplate == "" {
		return nil, fmt.Errorf("no url_template for node %s on %s", spec.Method, env.Platform)
	}
	pkg.DownloadURL, pkg.Filename, err = template.TemplateURL(spec.URLTemplate, v, env.Platform, nil)
	if err != nil {
		return nil, err
	}
	pkg.Checksum = publishedChecksum(ctx, env, spec, v, pkg.Filename)
	return pkg, nil
}

// publishedChecksum is best effort: a missing listing downgrades the check to
// existence only.
func publishedChecksum(ctx context.Context, env *Env, spec types.PackageSpec, version, filename string) string {
	if spec.ChecksumURL == "" {
		return ""
	}
	url, _, err := template.TemplateURL(spec.ChecksumURL, version, env.Platform, nil)
	if err != nil {
		env.Logf("invalid checksum_url: %v", err)
		return ""
	}
	sum, err := checksum.Fetch(ctx, env.HTTP, url, filename)
	if err != nil {
		env.Logf("no published checksum for %s: %v", filename, err)
		return ""
	}
	return sum
}

func (Node) Install(ctx context.Context, env *Env, pkg *types.InstallationPackage, artifact string) (string, error) {
	return platformInstall(ctx, env, pkg, artifact)
}

// Verify checks the bundled npm answers
func (Node) Verify(ctx context.Context, env *Env, info *types.InstallationInfo) error {
	npm := sibling(env.Platform, info.ExecutablePath, "npm")
	out, err := env.Run(ctx, npm, "--version")
	if err != nil {
		return fmt.Errorf("npm --version failed: %w", err)
	}
	env.Logf("npm %s", out)
	return nil
}
