package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/version"
)

// Detector inspects the local machine for a single tool. It never mutates
// the system; every probe is a read-only command or filesystem lookup.
type Detector struct {
	desc     types.ToolDescriptor
	runner   Runner
	platform platform.Platform
	home     string
	path     func() []string
	extra    []string
	extraSet bool
}

type Option func(*Detector)

func WithRunner(r Runner) Option {
	return func(d *Detector) { d.runner = r }
}

func WithPlatform(p platform.Platform) Option {
	return func(d *Detector) { d.platform = p }
}

func WithHome(home string) Option {
	return func(d *Detector) { d.home = home }
}

// WithSearchPath replaces $PATH for executable lookup.
func WithSearchPath(dirs ...string) Option {
	return func(d *Detector) {
		d.path = func() []string { return dirs }
	}
}

// WithExtraDirs adds directories searched after $PATH. Installers drop
// binaries in locations that are not on PATH until a new shell starts.
func WithExtraDirs(dirs ...string) Option {
	return func(d *Detector) {
		d.extra = append(d.extra, dirs...)
		d.extraSet = true
	}
}

func New(desc types.ToolDescriptor, opts ...Option) *Detector {
	home, _ := os.UserHomeDir()
	d := &Detector{
		desc:     desc,
		runner:   ExecRunner{},
		platform: platform.Current(),
		home:     home,
		path: func() []string {
			return filepath.SplitList(os.Getenv("PATH"))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if !d.extraSet {
		d.extra = wellKnownDirs(desc.Name, d.platform, d.home)
	}
	return d
}

func (d *Detector) Tool() types.Tool { return d.desc.Name }

func (d *Detector) Descriptor() types.ToolDescriptor { return d.desc }

// Detect locates the tool and queries its version. A tool that cannot be
// found is reported with Installed=false and no error; an error is only
// returned when a binary exists but does not answer the version query.
func (d *Detector) Detect(ctx context.Context) (*types.InstallationInfo, error) {
	info := &types.InstallationInfo{
		Tool:             d.desc.Name,
		InstallationType: types.InstallationUnknown,
	}

	candidates := d.candidates()
	if len(candidates) == 0 {
		logger.V(3).Infof("%s not found in PATH or %s", d.desc.Name, strings.Join(d.extra, ", "))
		return info, nil
	}

	path := candidates[0]
	info.ExecutablePath = path

	args := d.desc.VersionArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}
	out, err := d.runner.Run(ctx, path, args...)
	if err != nil {
		return info, fmt.Errorf("%s %s failed: %w", path, strings.Join(args, " "), err)
	}

	v, err := version.ExtractFromOutput(out, d.desc.VersionRegex)
	if err != nil {
		return info, err
	}

	info.Installed = true
	info.Version = v
	info.InstallationType, info.InstallLocation = Classify(path, d.home)
	logger.V(2).Infof("detected %s %s at %s (%s)", d.desc.Name, v, path, info.InstallationType)
	return info, nil
}

// Compatibility detects the tool and compares it against the descriptor thresholds.
func (d *Detector) Compatibility(ctx context.Context) (*types.CompatibilityReport, error) {
	info, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	return AnalyzeCompatibility(d.desc, info), nil
}

// candidates returns every matching executable in search order, with
// symlinks resolved and duplicates removed.
func (d *Detector) candidates() []string {
	var found []string
	for _, dir := range d.searchDirs() {
		for _, name := range d.binaryNames() {
			p := filepath.Join(dir, name)
			if !isExecutable(p) {
				continue
			}
			if resolved, err := filepath.EvalSymlinks(p); err == nil {
				p = resolved
			}
			found = append(found, p)
			break
		}
	}
	return lo.Uniq(found)
}

func (d *Detector) searchDirs() []string {
	dirs := lo.Filter(d.path(), func(dir string, _ int) bool { return dir != "" })
	return lo.Uniq(append(dirs, d.extra...))
}

func (d *Detector) binaryNames() []string {
	binary := d.desc.Binary
	if binary == "" {
		binary = string(d.desc.Name)
	}
	if !d.platform.IsWindows() {
		return []string{binary}
	}
	return []string{binary + ".exe", binary + ".cmd", binary + ".bat", binary}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if isWindowsExt(filepath.Ext(path)) {
		return true
	}
	return info.Mode()&0o111 != 0
}

func isWindowsExt(ext string) bool {
	return lo.Contains([]string{".exe", ".cmd", ".bat", ".com"}, strings.ToLower(ext))
}
