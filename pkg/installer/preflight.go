package installer

import (
	"context"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/system"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/utils"
)

// FreeSpaceFunc reports free bytes on the volume holding a path
type FreeSpaceFunc func(path string) (int64, error)

// ElevationProbe reports whether writing to system install locations needs
// privileges the current process does not have
type ElevationProbe func(p platform.Platform) bool

func defaultElevationProbe(p platform.Platform) bool {
	if system.IsElevated() {
		return false
	}
	return system.RequiresElevation(system.SystemDirs(p)...)
}

// preflight checks free space on the temp volume against the package size
// times the disk buffer and works out whether the install will need
// elevation. Neither probe escalates anything.
func (o *Orchestrator) preflight(ctx context.Context, env *Env, pkg *types.InstallationPackage, prerequisites []string) (*types.InstallationRequirements, error) {
	size := pkg.ExpectedSize
	if size <= 0 {
		size = pkg.Spec.EstimatedSize
	}
	req := &types.InstallationRequirements{
		DiskSpaceRequired:  int64(float64(size) * env.Options.DiskBuffer),
		HasSufficientSpace: true,
		Prerequisites:      prerequisites,
	}

	free, err := o.freeSpace(env.Options.TmpDir)
	if err != nil {
		logger.Warnf("could not read free space of %s: %v", env.Options.TmpDir, err)
	} else {
		req.DiskSpaceAvailable = free
		req.HasSufficientSpace = free >= req.DiskSpaceRequired
	}
	env.Logf("disk: %s required, %s available in %s",
		utils.FormatBytes(req.DiskSpaceRequired), utils.FormatBytes(req.DiskSpaceAvailable), utils.LogPath(env.Options.TmpDir))

	if NeedsElevation(pkg.Spec.Method) {
		req.RequiresElevation = o.elevationProbe(env.Platform)
	}

	if env.Detector != nil {
		if check := env.Detector.CheckEnvironment(ctx); check != nil {
			req.PotentialConflicts = check.Conflicts
		}
	}

	if !req.HasSufficientSpace {
		return req, types.DiskSpaceError(env.Tool, req.DiskSpaceRequired, req.DiskSpaceAvailable)
	}
	if req.RequiresElevation && !env.Options.AllowElevation {
		return req, types.ElevationError(env.Tool, "%s install writes to system locations and elevation is disabled", pkg.Spec.Method)
	}
	return req, nil
}
