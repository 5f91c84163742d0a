// Package provision is the caller-facing surface of the engine: environment
// detection, install, cancel, batch install and managed processes, all
// gated per key and torn down together by Shutdown.
package provision

import (
	"context"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/cache"
	"github.com/flanksource/toolchain/pkg/config"
	"github.com/flanksource/toolchain/pkg/gate"
	"github.com/flanksource/toolchain/pkg/installer"
	"github.com/flanksource/toolchain/pkg/supervisor"
	"github.com/flanksource/toolchain/pkg/types"
)

const (
	DefaultEnvironmentTTL = 60 * time.Second
	DefaultStatusTTL      = 5 * time.Minute
)

// Service owns the caches, the active install registry, the progress
// subscribers and the process supervisor
type Service struct {
	cfg          *config.Config
	supervisor   *supervisor.Supervisor
	orchestrator *installer.Orchestrator

	gate         gate.Gate
	installs     *gate.Registry[*activeInstall]
	environments *cache.Memo[*Environment]
	statuses     *cache.Memo[*types.ToolStatus]
	// logs of the last finished install per tool
	finished *cache.Memo[[]string]

	subsMu           sync.Mutex
	subscribers      map[types.Tool]map[*progressSubscriber]struct{}
	subscriberBuffer int

	installerOpts []installer.Option
}

// Option configures a Service
type Option func(*Service)

// WithSupervisor shares an existing supervisor instead of creating one
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Service) { s.supervisor = sup }
}

// WithInstallerOptions is passed to the installation orchestrator
func WithInstallerOptions(opts ...installer.Option) Option {
	return func(s *Service) { s.installerOpts = append(s.installerOpts, opts...) }
}

// WithSubscriberBuffer sets the channel size of progress subscriptions
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// New creates a service for the tools in cfg
func New(cfg *config.Config, opts ...Option) *Service {
	settings := cfg.Settings
	s := &Service{
		cfg:              cfg,
		installs:         gate.NewRegistry[*activeInstall](),
		environments:     cache.NewMemo[*Environment](ttl(settings.Cache.EnvironmentTTL, DefaultEnvironmentTTL)),
		statuses:         cache.NewMemo[*types.ToolStatus](ttl(settings.Cache.StatusTTL, DefaultStatusTTL)),
		finished:         cache.NewMemo[[]string](ttl(settings.Cache.StatusTTL, DefaultStatusTTL)),
		subscribers:      map[types.Tool]map[*progressSubscriber]struct{}{},
		subscriberBuffer: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.supervisor == nil {
		s.supervisor = supervisor.New(supervisorOptions(settings.Supervisor)...)
	}
	s.orchestrator = installer.New(cfg, s.supervisor, s.installerOpts...)
	return s
}

func supervisorOptions(settings config.SupervisorSettings) []supervisor.Option {
	var opts []supervisor.Option
	if settings.KillGrace > 0 {
		opts = append(opts, supervisor.WithKillGrace(settings.KillGrace))
	}
	if settings.ShutdownDeadline > 0 {
		opts = append(opts, supervisor.WithShutdownDeadline(settings.ShutdownDeadline))
	}
	if settings.OutputChunks > 0 {
		opts = append(opts, supervisor.WithOutputChunks(settings.OutputChunks))
	}
	return opts
}

func ttl(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (s *Service) Config() *config.Config { return s.cfg }

func (s *Service) Supervisor() *supervisor.Supervisor { return s.supervisor }

// ParseTool resolves a user supplied tool name, suggesting close matches
func (s *Service) ParseTool(name string) (types.Tool, error) {
	return s.cfg.ParseTool(name)
}

// Invalidate drops cached detection results for tool, or for every tool
// when none is given
func (s *Service) Invalidate(tools ...types.Tool) {
	s.environments.Flush()
	if len(tools) == 0 {
		s.statuses.Flush()
		return
	}
	for _, tool := range tools {
		s.statuses.Delete(string(tool))
	}
}

// Shutdown cancels every active install, closes all progress subscriptions
// and terminates every tracked process within the supervisor's deadline.
// It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	for tool, active := range s.installs.Clear() {
		logger.Infof("cancelling %s install", tool)
		active.cancel()
	}
	s.closeAllSubscribers()
	s.Invalidate()
	return s.supervisor.Shutdown(ctx)
}
