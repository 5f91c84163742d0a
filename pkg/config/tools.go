package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/flanksource/toolchain/pkg/types"
)

var aliases = map[string]types.Tool{
	"nodejs":      types.ToolNode,
	"npm":         types.ToolNode,
	"claude-code": types.ToolAssistant,
}

// ParseTool resolves a tool name (or alias) against the configured tools,
// suggesting the closest names when it is unknown
func (c *Config) ParseTool(name string) (types.Tool, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if tool, ok := aliases[name]; ok {
		return tool, nil
	}
	if _, ok := c.Tools[types.Tool(name)]; ok {
		return types.Tool(name), nil
	}
	if suggestions := c.Suggest(name, 2); len(suggestions) > 0 {
		return "", fmt.Errorf("unknown tool %q, did you mean %s?", name, strings.Join(suggestions, " or "))
	}
	return "", fmt.Errorf("unknown tool %q, supported tools: %s", name, strings.Join(c.ToolNames(), ", "))
}

// Suggest returns the tool names within distance of name, closest first
func (c *Config) Suggest(name string, distance int) []string {
	type candidate struct {
		name string
		dist int
	}
	var candidates []candidate
	for tool := range c.Tools {
		d := levenshtein.ComputeDistance(name, string(tool))
		if d <= distance {
			candidates = append(candidates, candidate{string(tool), d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist == candidates[j].dist {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].dist < candidates[j].dist
	})
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

// ToolNames returns the configured tools in install order
func (c *Config) ToolNames() []string {
	tools := make([]types.Tool, 0, len(c.Tools))
	for tool := range c.Tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Rank() == tools[j].Rank() {
			return tools[i] < tools[j]
		}
		return tools[i].Rank() < tools[j].Rank()
	})
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = string(t)
	}
	return names
}
