package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/cache"
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/detect"
	"github.com/flanksource/toolchain/pkg/download"
	toolhttp "github.com/flanksource/toolchain/pkg/http"
	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/releases"
	"github.com/flanksource/toolchain/pkg/supervisor"
	"github.com/flanksource/toolchain/pkg/system"
	"github.com/flanksource/toolchain/pkg/template"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/utils"
	"github.com/flanksource/toolchain/pkg/verify"
	"github.com/flanksource/toolchain/pkg/version"
)

// Orchestrator runs the fixed install pipeline:
// configuring -> downloading -> installing -> verifying -> completed, with
// failed reachable from any stage. No stage is retried.
type Orchestrator struct {
	cfg            *config.Config
	platform       platform.Platform
	variants       map[types.Tool]Variant
	supervisor     *supervisor.Supervisor
	exec           system.Executor
	lookPath       system.LookPathFunc
	detectOpts     []detect.Option
	github         *releases.GitHubReleases
	http           *http.Client
	transport      http.RoundTripper
	freeSpace      FreeSpaceFunc
	elevationProbe ElevationProbe
	defaults       InstallOptions
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithPlatform(p platform.Platform) Option {
	return func(o *Orchestrator) { o.platform = p }
}

// WithVariant registers or replaces the variant for v.Tool()
func WithVariant(v Variant) Option {
	return func(o *Orchestrator) { o.variants[v.Tool()] = v }
}

// WithExecutor replaces the supervisor backed executor
func WithExecutor(e system.Executor) Option {
	return func(o *Orchestrator) { o.exec = e }
}

func WithLookPath(fn system.LookPathFunc) Option {
	return func(o *Orchestrator) { o.lookPath = fn }
}

// WithDetectorOptions is applied to every detector the pipeline creates
func WithDetectorOptions(opts ...detect.Option) Option {
	return func(o *Orchestrator) { o.detectOpts = append(o.detectOpts, opts...) }
}

func WithGitHub(g *releases.GitHubReleases) Option {
	return func(o *Orchestrator) { o.github = g }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.http = c }
}

// WithDownloadTransport replaces the transport used for artifact downloads
func WithDownloadTransport(rt http.RoundTripper) Option {
	return func(o *Orchestrator) { o.transport = rt }
}

func WithFreeSpace(fn FreeSpaceFunc) Option {
	return func(o *Orchestrator) { o.freeSpace = fn }
}

func WithElevationProbe(fn ElevationProbe) Option {
	return func(o *Orchestrator) { o.elevationProbe = fn }
}

// WithDefaults applies install options to every install
func WithDefaults(opts ...InstallOption) Option {
	return func(o *Orchestrator) {
		for _, opt := range opts {
			opt(&o.defaults)
		}
	}
}

// New creates an orchestrator for the tools in cfg. sup runs installer
// subprocesses unless WithExecutor is given.
func New(cfg *config.Config, sup *supervisor.Supervisor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		platform:   platform.Current(),
		supervisor: sup,
		variants: map[types.Tool]Variant{
			types.ToolGit:       Git{},
			types.ToolNode:      Node{},
			types.ToolAssistant: Assistant{},
		},
		lookPath:       exec.LookPath,
		freeSpace:      system.FreeSpace,
		elevationProbe: defaultElevationProbe,
		defaults:       DefaultOptions(cfg),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.http == nil {
		o.http = toolhttp.GetHttpClient()
	}
	if o.github == nil {
		o.github = releases.NewGitHubReleases()
	}
	return o
}

// Platform returns the platform installs target
func (o *Orchestrator) Platform() platform.Platform { return o.platform }

// Detector creates a detector for tool configured like the pipeline's own
func (o *Orchestrator) Detector(tool types.Tool) (*detect.Detector, error) {
	desc, err := o.cfg.Descriptor(tool)
	if err != nil {
		return nil, err
	}
	return o.detector(desc), nil
}

func (o *Orchestrator) detector(desc types.ToolDescriptor) *detect.Detector {
	opts := append([]detect.Option{detect.WithPlatform(o.platform)}, o.detectOpts...)
	return detect.New(desc, opts...)
}

// Install runs the pipeline for tool. requested may be empty, "latest", a
// partial version ("20") or an exact version. The result is never nil;
// failures carry an ErrorCode and the captured logs.
func (o *Orchestrator) Install(ctx context.Context, tool types.Tool, requested string, report ProgressFunc, opts ...InstallOption) *types.InstallResult {
	start := time.Now()
	options := o.defaults
	for _, opt := range opts {
		opt(&options)
	}

	logs := NewLogBuffer(options.LogLimit)
	tr := newTracker(tool, report, logs)
	cleanup := NewCleanupManager(options.KeepDownloads)
	defer cleanup.Cleanup()

	result, reqs, err := o.run(ctx, tool, requested, options, tr, logs, cleanup)
	if err != nil {
		if ctx.Err() != nil && !types.IsCode(err, types.ErrCancelled) {
			err = types.NewError(types.ErrCancelled, tool, "install", err, "cancelled")
		}
		logger.Warnf("%s install failed: %v", tool, err)
		tr.fail(err)
		failed := types.Failed(tool, err, logs.Lines())
		failed.Requirements = reqs
		failed.Duration = time.Since(start)
		return failed
	}

	result.Requirements = reqs
	result.Logs = logs.Lines()
	result.Duration = time.Since(start)
	logger.Infof("%s %s installed in %s", tool, result.InstalledVersion, utils.FormatDuration(result.Duration))
	return result
}

func (o *Orchestrator) run(ctx context.Context, tool types.Tool, requested string, options InstallOptions,
	tr *tracker, logs *LogBuffer, cleanup *CleanupManager) (*types.InstallResult, *types.InstallationRequirements, error) {

	// configuring: compatibility
	tr.emit(types.StageConfiguring, 0, "Checking compatibility of %s on %s", tool, o.platform)
	desc, err := o.cfg.Descriptor(tool)
	if err != nil {
		return nil, nil, types.NewError(types.ErrUnknown, tool, "configure", err, "")
	}
	variant, ok := o.variants[tool]
	if !ok {
		return nil, nil, types.NewError(types.ErrUnknown, tool, "configure", nil, "no installer registered")
	}
	if !o.platform.Supported() {
		return nil, nil, types.IncompatibleVersionError(tool, "platform %s is not supported", o.platform)
	}
	if exact(requested) && desc.MinVersion != "" && !version.AtLeast(requested, desc.MinVersion) {
		return nil, nil, types.IncompatibleVersionError(tool, "requested %s is older than the minimum supported %s", requested, desc.MinVersion)
	}

	env := o.newEnv(tool, desc, options, logs, cleanup)
	if err := ctx.Err(); err != nil {
		return nil, nil, types.CancelledError(tool, "install")
	}

	current, err := env.Detector.Detect(ctx)
	if err != nil {
		env.Logf("existing installation could not be queried: %v", err)
	}
	if skip(current, desc, requested, options.Force) {
		tr.emit(types.StageCompleted, 1, "%s %s is already installed", tool, current.Version)
		return &types.InstallResult{
			Tool:             tool,
			Success:          true,
			Skipped:          true,
			InstallPath:      current.InstallLocation,
			ExecutablePath:   current.ExecutablePath,
			InstalledVersion: current.Version,
		}, nil, nil
	}

	prerequisites, err := variant.Prerequisites(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	// configuring: package resolution
	tr.emit(types.StageConfiguring, 0.3, "Resolving %s package", tool)
	spec, err := template.SelectPackage(desc, o.platform, requested)
	if err != nil {
		return nil, nil, types.IncompatibleVersionError(tool, "%v", err)
	}
	pkg, err := variant.Resolve(ctx, env, spec, requested)
	if err != nil {
		var pe *types.ProvisionError
		if errors.As(err, &pe) {
			return nil, nil, err
		}
		return nil, nil, types.DownloadError(tool, fmt.Errorf("failed to resolve package: %w", err))
	}
	if exact(pkg.Version) && desc.MinVersion != "" && !version.AtLeast(pkg.Version, desc.MinVersion) {
		return nil, nil, types.IncompatibleVersionError(tool, "resolved %s is older than the minimum supported %s", pkg.Version, desc.MinVersion)
	}
	env.Logf("resolved %s %s via %s %s", tool, pkg.Version, pkg.Spec.Method, utils.ShortenURL(pkg.DownloadURL))

	// configuring: disk and permission preflight
	tr.emit(types.StageConfiguring, 0.7, "Checking disk space and permissions")
	reqs, err := o.preflight(ctx, env, pkg, prerequisites)
	if err != nil {
		return nil, reqs, err
	}

	// downloading
	artifact := ""
	if pkg.IsEmpty() {
		tr.emit(types.StageDownloading, 1, "Nothing to download for %s", pkg.Spec.Method)
	} else {
		artifact, err = o.download(ctx, env, pkg, tr)
		if err != nil {
			return nil, reqs, err
		}
	}

	// installing
	tr.emit(types.StageInstalling, 0, "Installing %s %s", tool, pkg.Version)
	installPath, err := variant.Install(ctx, env, pkg, artifact)
	if err != nil {
		if ctx.Err() != nil {
			return nil, reqs, types.NewError(types.ErrCancelled, tool, "install", err, "cancelled")
		}
		var pe *types.ProvisionError
		if errors.As(err, &pe) && pe.Code != types.ErrProcessSpawnFailed && pe.Code != types.ErrProcessTimeout {
			return nil, reqs, err
		}
		return nil, reqs, types.InstallError(tool, err)
	}

	// verifying
	tr.emit(types.StageVerifying, 0, "Verifying %s", tool)
	info, err := o.detector(desc).Detect(ctx)
	if err != nil {
		return nil, reqs, types.VerifyError(tool, err)
	}
	if !info.Installed {
		return nil, reqs, types.VerifyError(tool, fmt.Errorf("%s not found after installation", desc.Binary))
	}
	if desc.MinVersion != "" && !version.AtLeast(info.Version, desc.MinVersion) {
		return nil, reqs, types.VerifyError(tool, fmt.Errorf("found %s %s at %s, which is older than %s",
			tool, info.Version, info.ExecutablePath, desc.MinVersion))
	}
	if err := installedMatches(info.Version, requested, pkg); err != nil {
		return nil, reqs, types.VerifyError(tool, fmt.Errorf("found %s at %s: %w", info.Version, info.ExecutablePath, err))
	}
	tr.emit(types.StageVerifying, 0.5, "%s %s found at %s", tool, info.Version, info.ExecutablePath)
	if err := variant.Verify(ctx, env, info); err != nil {
		return nil, reqs, types.VerifyError(tool, err)
	}

	if installPath == "" {
		installPath = info.InstallLocation
	}
	tr.emit(types.StageCompleted, 1, "Installed %s %s", tool, info.Version)
	return &types.InstallResult{
		Tool:             tool,
		Success:          true,
		InstallPath:      installPath,
		ExecutablePath:   info.ExecutablePath,
		InstalledVersion: info.Version,
	}, reqs, nil
}

func (o *Orchestrator) newEnv(tool types.Tool, desc types.ToolDescriptor, options InstallOptions, logs *LogBuffer, cleanup *CleanupManager) *Env {
	executor := o.exec
	if executor == nil {
		executor = timeoutExecutor{
			Executor: system.SupervisedExecutor{
				Supervisor: o.supervisor,
				Label:      "install " + string(tool),
				Log:        logs.Addf,
			},
			timeout: options.Timeout,
		}
	}
	workDir := filepath.Join(options.TmpDir, "toolchain-work", fmt.Sprintf("%s-%d", tool, time.Now().UnixNano()))
	cleanup.AddDirectory(workDir)

	return &Env{
		Tool:       tool,
		Descriptor: desc,
		Platform:   o.platform,
		Options:    options,
		Exec:       executor,
		System: &system.Installer{
			Exec:     executor,
			Platform: o.platform,
			Elevate:  options.AllowElevation,
		},
		Detector: o.detector(desc),
		GitHub:   o.github,
		HTTP:     o.http,
		LookPath: o.lookPath,
		Cleanup:  cleanup,
		WorkDir:  workDir,
		Logs:     logs,
	}
}

// download fetches the artifact into the download cache and runs the
// integrity check, which only asserts the file exists.
func (o *Orchestrator) download(ctx context.Context, env *Env, pkg *types.InstallationPackage, tr *tracker) (string, error) {
	dir := filepath.Join(env.Options.TmpDir, "toolchain-downloads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.DownloadError(env.Tool, err)
	}
	filename := pkg.Filename
	if filename == "" {
		filename = filepath.Base(pkg.DownloadURL)
	}
	dest := cache.ArtifactPath(dir, pkg.DownloadURL, filename)
	env.Cleanup.AddFile(dest)

	tr.emit(types.StageDownloading, 0, "Downloading %s", utils.ShortenURL(pkg.DownloadURL))
	opts := []download.Option{
		download.WithTimeout(env.Options.DownloadTimeout),
		download.WithMaxRedirects(env.Options.MaxRedirects),
		download.WithProgress(func(p download.Progress) {
			tr.emit(types.StageDownloading, float64(p.Percent)/100, "")
		}),
	}
	if o.transport != nil {
		opts = append(opts, download.WithTransport(o.transport))
	}
	res, err := download.Download(ctx, pkg.DownloadURL, dest, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", types.NewError(types.ErrCancelled, env.Tool, "download", err, "cancelled")
		}
		return "", types.DownloadError(env.Tool, err)
	}
	if res.Cached {
		env.Logf("using cached %s", utils.LogPath(dest))
	} else {
		env.Logf("downloaded %s (%s, %d redirects)", utils.LogPath(dest), utils.FormatBytes(res.Size), res.Redirects)
	}

	size, err := verify.Artifact(dest, pkg.Checksum)
	if err != nil {
		return "", types.IntegrityError(env.Tool, "%v", err)
	}
	tr.emit(types.StageDownloading, 1, "Downloaded %s (%s)", filename, utils.FormatBytes(size))
	return dest, nil
}

// skip reports whether an existing installation satisfies the request
func skip(current *types.InstallationInfo, desc types.ToolDescriptor, requested string, force bool) bool {
	if force || current == nil || !current.Installed {
		return false
	}
	if desc.MinVersion != "" && !version.AtLeast(current.Version, desc.MinVersion) {
		return false
	}
	if requested == "" || requested == "latest" {
		return true
	}
	ok, err := version.SatisfiesConstraint(current.Version, version.ToConstraint(requested, ""))
	return err == nil && ok
}

// installedMatches checks the detected version against the request and the
// resolved package. Distribution packages choose their own version, so
// package-manager installs are only held to the minimum.
func installedMatches(installed, requested string, pkg *types.InstallationPackage) error {
	if pkg.Spec.Method == MethodPackageManager {
		return nil
	}
	if requested != "" && requested != "latest" {
		constraint := version.ToConstraint(requested, "")
		if ok, err := version.SatisfiesConstraint(installed, constraint); err != nil || !ok {
			return fmt.Errorf("requested %s", requested)
		}
	}
	if exact(pkg.Version) && version.Compare(installed, pkg.Version) != 0 {
		return fmt.Errorf("resolved %s", pkg.Version)
	}
	return nil
}

func exact(v string) bool {
	return v != "" && v != "latest" && !version.IsPartialVersion(v)
}

// timeoutExecutor bounds every command by the install timeout
type timeoutExecutor struct {
	system.Executor
	timeout time.Duration
}

func (t timeoutExecutor) Run(ctx context.Context, command string, args ...string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.Executor.Run(ctx, command, args...)
}
