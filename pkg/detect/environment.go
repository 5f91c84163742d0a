package detect

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/flanksource/toolchain/pkg/platform"
	"github.com/flanksource/toolchain/pkg/types"
)

const defaultNpmRegistry = "https://registry.npmjs.org/"

// CheckEnvironment reports PATH wiring, shadowing installs and tool specific
// configuration. Individual probe failures are recorded in Errors; the
// check itself never fails.
func (d *Detector) CheckEnvironment(ctx context.Context) *types.EnvironmentCheck {
	check := &types.EnvironmentCheck{
		Tool:   d.desc.Name,
		Config: map[string]string{},
		Errors: map[string]string{},
	}

	var onPath []string
	for _, dir := range lo.Filter(d.path(), func(dir string, _ int) bool { return dir != "" }) {
		for _, name := range d.binaryNames() {
			if isExecutable(filepath.Join(dir, name)) {
				check.PathEntries = append(check.PathEntries, dir)
				onPath = append(onPath, resolve(filepath.Join(dir, name)))
				break
			}
		}
	}
	check.InPath = len(onPath) > 0

	all := append(append([]string{}, onPath...), d.candidates()...)
	for _, pattern := range conflictPatterns(d.desc.Name, d.platform, d.home) {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			check.Errors["conflicts"] = err.Error()
			continue
		}
		for _, m := range matches {
			if isExecutable(m) {
				all = append(all, resolve(m))
			}
		}
	}
	all = lo.Uniq(all)
	if len(all) > 1 {
		check.Conflicts = all[1:]
	}

	if probe, ok := configProbes[d.desc.Name]; ok {
		probe(ctx, d, check)
	}

	if len(check.Conflicts) > 0 {
		logger.V(2).Infof("%s has %d shadowed installation(s): %s", d.desc.Name, len(check.Conflicts), strings.Join(check.Conflicts, ", "))
	}
	return check
}

func resolve(path string) string {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r
	}
	return path
}

// conflictPatterns lists locations where version managers keep additional
// copies of a tool.
func conflictPatterns(tool types.Tool, p platform.Platform, home string) []string {
	if home == "" {
		return nil
	}
	home = filepath.ToSlash(home)
	switch tool {
	case types.ToolNode:
		if p.IsWindows() {
			return []string{home + "/AppData/Roaming/nvm/*/node.exe"}
		}
		return []string{
			home + "/.nvm/versions/node/*/bin/node",
			home + "/.volta/bin/node",
			home + "/.fnm/node-versions/*/installation/bin/node",
			home + "/.asdf/installs/nodejs/*/bin/node",
		}
	case types.ToolGit:
		if p.IsWindows() {
			return nil
		}
		return []string{"/usr/bin/git", "/usr/local/bin/git", "/opt/homebrew/bin/git"}
	case types.ToolAssistant:
		return []string{
			home + "/.claude/local/claude",
			home + "/.npm-global/bin/claude",
			home + "/.nvm/versions/node/*/bin/claude",
		}
	}
	return nil
}

type configProbe func(ctx context.Context, d *Detector, check *types.EnvironmentCheck)

var configProbes = map[types.Tool]configProbe{
	types.ToolGit: func(ctx context.Context, d *Detector, check *types.EnvironmentCheck) {
		for _, key := range []string{"user.name", "user.email"} {
			out, err := d.runner.Run(ctx, "git", "config", "--global", key)
			if err != nil || strings.TrimSpace(out) == "" {
				check.Config[key] = "unset"
				continue
			}
			check.Config[key] = "set"
		}
	},
	types.ToolNode: func(ctx context.Context, d *Detector, check *types.EnvironmentCheck) {
		registry, err := d.runner.Run(ctx, "npm", "config", "get", "registry")
		if err != nil {
			check.Errors["registry"] = err.Error()
			return
		}
		registry = strings.TrimSpace(registry)
		check.Config["registry"] = registry
		if registry != "" && strings.TrimSuffix(registry, "/") != strings.TrimSuffix(defaultNpmRegistry, "/") {
			check.Config["mirror"] = "true"
		}
	},
	types.ToolAssistant: func(ctx context.Context, d *Detector, check *types.EnvironmentCheck) {
		check.Config["ANTHROPIC_API_KEY"] = lo.Ternary(os.Getenv("ANTHROPIC_API_KEY") != "", "set", "unset")
		prefix, err := d.runner.Run(ctx, "npm", "config", "get", "prefix")
		if err != nil {
			check.Errors["npm_prefix"] = err.Error()
			return
		}
		check.Config["npm_prefix"] = strings.TrimSpace(prefix)
	},
}
