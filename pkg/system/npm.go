package system

import (
	"context"
	"strings"
)

// NpmInstallGlobal runs npm install -g for spec (name@version). A non-empty
// prefix installs into that prefix instead of npm's global one.
func (i *Installer) NpmInstallGlobal(ctx context.Context, npm, spec, prefix string) error {
	args := []string{"install", "-g", spec, "--no-fund", "--no-audit"}
	if prefix != "" {
		args = append(args, "--prefix", prefix)
	}
	return i.run(ctx, npm, args...)
}

// NpmPrefix returns npm's global prefix.
func (i *Installer) NpmPrefix(ctx context.Context, npm string) (string, error) {
	out, err := i.Exec.Run(ctx, npm, "config", "get", "prefix")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}
