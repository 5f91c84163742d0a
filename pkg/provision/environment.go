package provision

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/flanksource/toolchain/pkg/detect"
	"github.com/flanksource/toolchain/pkg/gate"
	"github.com/flanksource/toolchain/pkg/types"
)

// DetectRequest selects the tools to check. An empty Tools checks all of them.
type DetectRequest struct {
	Tools []types.Tool
	// Force bypasses both caches
	Force bool
}

// Environment is the aggregate result of a detection scan
type Environment struct {
	Tools           map[types.Tool]*types.ToolStatus `json:"tools"`
	Recommendations []string                         `json:"recommendations"`
	FromCache       bool                             `json:"from_cache"`
	CheckedAt       time.Time                        `json:"checked_at"`
}

// Ordered returns the statuses in install order
func (e *Environment) Ordered() []*types.ToolStatus {
	tools := lo.Keys(e.Tools)
	sortTools(tools)
	return lo.Map(tools, func(t types.Tool, _ int) *types.ToolStatus { return e.Tools[t] })
}

// Ready reports whether every checked tool is installed and compatible
func (e *Environment) Ready() bool {
	return lo.EveryBy(lo.Values(e.Tools), func(s *types.ToolStatus) bool {
		return s.Compatibility != nil && s.Compatibility.Compatible
	})
}

// DetectEnvironment checks the requested tools concurrently. A failure in
// one tool or one stage is recorded in that tool's Errors and never fails
// the scan. Concurrent scans of the same tools share one execution.
func (s *Service) DetectEnvironment(ctx context.Context, req DetectRequest) (*Environment, error) {
	tools, err := s.normalize(req.Tools)
	if err != nil {
		return nil, err
	}
	key := "detect:" + strings.Join(lo.Map(tools, func(t types.Tool, _ int) string { return string(t) }), ",")

	if !req.Force {
		if env, ok := s.environments.Get(key); ok {
			cached := *env
			cached.FromCache = true
			return &cached, nil
		}
	}

	return gate.Do(&s.gate, key, func() (*Environment, error) {
		env := s.scan(ctx, tools, req.Force)
		s.environments.Set(key, env)
		return env, nil
	})
}

func (s *Service) scan(ctx context.Context, tools []types.Tool, force bool) *Environment {
	start := time.Now()
	env := &Environment{Tools: make(map[types.Tool]*types.ToolStatus, len(tools)), CheckedAt: start}

	var mu sync.Mutex
	var g errgroup.Group
	for _, tool := range tools {
		g.Go(func() error {
			status := s.ToolStatus(ctx, tool, force)
			mu.Lock()
			env.Tools[tool] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range env.Ordered() {
		if status.Compatibility != nil {
			env.Recommendations = append(env.Recommendations, status.Compatibility.Recommendations...)
		}
	}
	env.Recommendations = lo.Uniq(env.Recommendations)
	logger.V(2).Infof("detected %d tools in %s", len(tools), time.Since(start))
	return env
}

// ToolStatus runs detection, compatibility analysis and the environment
// check for one tool. Each stage runs even when an earlier one failed.
// Results without errors are cached.
func (s *Service) ToolStatus(ctx context.Context, tool types.Tool, force bool) *types.ToolStatus {
	if !force {
		if status, ok := s.statuses.Get(string(tool)); ok {
			return status
		}
	}
	status, _ := gate.Do(&s.gate, "status:"+string(tool), func() (*types.ToolStatus, error) {
		return s.status(ctx, tool), nil
	})
	return status
}

func (s *Service) status(ctx context.Context, tool types.Tool) *types.ToolStatus {
	status := &types.ToolStatus{Tool: tool, Errors: map[string]string{}, CheckedAt: time.Now()}
	d, err := s.orchestrator.Detector(tool)
	if err != nil {
		status.Errors["info"] = err.Error()
		return status
	}

	info, err := d.Detect(ctx)
	if err != nil {
		status.Errors["info"] = err.Error()
	}
	status.Info = info

	if info != nil {
		status.Compatibility = detect.AnalyzeCompatibility(d.Descriptor(), info)
	} else {
		status.Errors["compatibility"] = "installation info unavailable"
	}

	status.Environment = d.CheckEnvironment(ctx)

	if len(status.Errors) == 0 {
		s.statuses.Set(string(tool), status)
	} else {
		logger.Warnf("%s detection incomplete: %v", tool, status.Errors)
	}
	return status
}

func (s *Service) normalize(tools []types.Tool) ([]types.Tool, error) {
	if len(tools) == 0 {
		return types.AllTools(), nil
	}
	for _, tool := range tools {
		if _, err := s.cfg.Descriptor(tool); err != nil {
			return nil, err
		}
	}
	tools = lo.Uniq(tools)
	sortTools(tools)
	return tools, nil
}

// sortTools orders tools by install order
func sortTools(tools []types.Tool) {
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Rank() < tools[j].Rank() })
}
