package provision

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/toolchain/pkg/gate"
	"github.com/flanksource/toolchain/pkg/installer"
	"github.com/flanksource/toolchain/pkg/types"
)

type activeInstall struct {
	tool    types.Tool
	version string
	started time.Time
	cancel  context.CancelFunc
	logs    *installer.LogBuffer

	mu   sync.Mutex
	last *types.InstallationProgress
}

func (a *activeInstall) record(p types.InstallationProgress) {
	a.mu.Lock()
	a.last = &p
	a.mu.Unlock()
	if p.Message != "" {
		a.logs.Addf("[%s %d%%] %s", p.Stage, p.Percent, p.Message)
	}
	if p.Error != "" {
		a.logs.Addf("[%s] %s", p.Stage, p.Error)
	}
}

func (a *activeInstall) lastProgress() *types.InstallationProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	p := *a.last
	return &p
}

// InstallStatus answers getInstallProgress
type InstallStatus struct {
	Tool         types.Tool                  `json:"tool"`
	IsInstalling bool                        `json:"is_installing"`
	Version      string                      `json:"version,omitempty"`
	StartedAt    time.Time                   `json:"started_at,omitempty"`
	Progress     *types.InstallationProgress `json:"progress,omitempty"`
	Logs         []string                    `json:"logs"`
}

// Install installs tool, or skips it when a compatible version is present.
// Concurrent installs of the same tool share one pipeline run and result.
// The result is never nil.
func (s *Service) Install(ctx context.Context, tool types.Tool, version string, opts ...installer.InstallOption) *types.InstallResult {
	if _, err := s.cfg.Descriptor(tool); err != nil {
		return types.Failed(tool, types.NewError(types.ErrUnknown, tool, "install", err, ""), nil)
	}
	result, _ := gate.Do(&s.gate, installKey(tool), func() (*types.InstallResult, error) {
		return s.install(ctx, tool, version, opts...), nil
	})
	return result
}

func installKey(tool types.Tool) string {
	return "install:" + string(tool)
}

func (s *Service) install(ctx context.Context, tool types.Tool, version string, opts ...installer.InstallOption) *types.InstallResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	active := &activeInstall{
		tool:    tool,
		version: version,
		started: time.Now(),
		cancel:  cancel,
		logs:    installer.NewLogBuffer(s.cfg.Settings.Installer.LogLimit),
	}
	if !s.installs.TryAdd(string(tool), active) {
		return types.Failed(tool, types.NewError(types.ErrUnknown, tool, "install", nil, "an install of %s is already running", tool), nil)
	}

	result := s.orchestrator.Install(ctx, tool, version, func(p types.InstallationProgress) {
		active.record(p)
		s.publish(p)
	}, opts...)

	if current, ok := s.installs.Get(string(tool)); ok && current == active {
		s.installs.Remove(string(tool))
	}
	s.closeSubscribers(tool)
	s.finished.Set(string(tool), result.Logs)
	s.Invalidate(tool)

	if result.Success {
		logger.Infof("%s: %s", tool, lo.Ternary(result.Skipped, "already installed", "installed "+result.InstalledVersion))
	}
	return result
}

// CancelInstall cancels the running install of tool, removing its registry
// entry and closing its progress subscriptions. Subprocesses are killed by
// the supervisor as the install unwinds. Returns false when tool is not
// being installed.
func (s *Service) CancelInstall(tool types.Tool) bool {
	active, ok := s.installs.Remove(string(tool))
	if !ok {
		return false
	}
	logger.Infof("cancelling %s install", tool)
	active.cancel()
	s.closeSubscribers(tool)
	return true
}

// InstallProgress reports whether tool is installing, with its live logs,
// or the logs of its last finished install
func (s *Service) InstallProgress(tool types.Tool) InstallStatus {
	if active, ok := s.installs.Get(string(tool)); ok {
		return InstallStatus{
			Tool:         tool,
			IsInstalling: true,
			Version:      active.version,
			StartedAt:    active.started,
			Progress:     active.lastProgress(),
			Logs:         active.logs.Lines(),
		}
	}
	logs, _ := s.finished.Get(string(tool))
	return InstallStatus{Tool: tool, Logs: logs}
}

// ActiveInstalls returns the tools currently installing
func (s *Service) ActiveInstalls() []types.Tool {
	return lo.Map(s.installs.Keys(), func(k string, _ int) types.Tool { return types.Tool(k) })
}

// BatchResult holds one result per tool in the order they ran
type BatchResult struct {
	Order   []types.Tool                       `json:"order"`
	Results map[types.Tool]*types.InstallResult `json:"results"`
}

// Success reports whether every tool installed or was skipped
func (b *BatchResult) Success() bool {
	return lo.EveryBy(lo.Values(b.Results), func(r *types.InstallResult) bool { return r.Success })
}

// Failed returns the tools that did not install
func (b *BatchResult) Failed() []types.Tool {
	return lo.Filter(b.Order, func(t types.Tool, _ int) bool { return !b.Results[t].Success })
}

// BatchInstall installs tools in dependency order (git, node, claude)
// regardless of the order given. A failed tool does not stop the batch.
func (s *Service) BatchInstall(ctx context.Context, tools []types.Tool, opts ...installer.InstallOption) (*BatchResult, error) {
	tools, err := s.normalize(tools)
	if err != nil {
		return nil, err
	}
	key := "batch:" + strings.Join(lo.Map(tools, func(t types.Tool, _ int) string { return string(t) }), ",")
	return gate.Do(&s.gate, key, func() (*BatchResult, error) {
		batch := &BatchResult{Results: make(map[types.Tool]*types.InstallResult, len(tools))}
		for _, tool := range tools {
			result := s.Install(ctx, tool, "", opts...)
			batch.Order = append(batch.Order, tool)
			batch.Results[tool] = result
			if !result.Success {
				logger.Warnf("%s failed, continuing with the remaining tools: %s", tool, result.Error)
			}
		}
		return batch, nil
	})
}
