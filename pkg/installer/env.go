package installer

import (
	"context"
	"net/http"

	"github.com/flanksource/toolchain/pkg/detect"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/flanksource/toolchain/pkg/system"
	"github.com/flanksource/toolchain/pkg/types"
)

// Env is everything a variant may use during one install
type Env struct {
	Tool       types.Tool
	Descriptor types.ToolDescriptor
	Platform   platform.Platform
	Options    InstallOptions
	Exec       system.Executor
	System     *system.Installer
	Detector   *detect.Detector
	GitHub     *releases.GitHubReleases
	HTTP       *http.Client
	LookPath   system.LookPathFunc
	Cleanup    *CleanupManager
	// WorkDir is a per-install scratch directory for mounts and extraction
	WorkDir string
	Logs    *LogBuffer
}

func (e *Env) Logf(format string, args ...any) {
	e.Logs.Addf(format, args...)
}

// Run executes a command through the install executor, logging the call
func (e *Env) Run(ctx context.Context, command string, args ...string) (string, error) {
	e.Logf("$ %s %v", command, args)
	return e.Exec.Run(ctx, command, args...)
}
