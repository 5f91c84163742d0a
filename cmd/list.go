package cmd

import (
	"sort"
	"strings"

	"github.com/flanksource/clicky"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/spf13/cobra"
)

// ToolInfo represents a supported tool for table display
type ToolInfo struct {
	Name        string `json:"name" pretty:"label=Tool"`
	Binary      string `json:"binary" pretty:"label=Binary"`
	Minimum     string `json:"minimum" pretty:"label=Min"`
	Recommended string `json:"recommended" pretty:"label=Recommended"`
	Requires    string `json:"requires,omitempty" pretty:"label=Requires"`
	Platforms   string `json:"platforms" pretty:"label=Platforms"`
}

type ToolList struct {
	Tools []ToolInfo `json:"tools" pretty:"table"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the supported tools and how each platform installs them",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// describePlatforms renders "key=method" for every package spec, sorted
func describePlatforms(desc types.ToolDescriptor) string {
	var platforms []string
	for key, spec := range desc.PlatformPackageMap {
		platforms = append(platforms, key+"="+spec.Method)
	}
	sort.Strings(platforms)
	if len(platforms) == 0 {
		return "unknown"
	}
	return strings.Join(platforms, ", ")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	var list ToolList
	for _, tool := range types.AllTools() {
		desc, err := cfg.Descriptor(tool)
		if err != nil {
			return err
		}
		var requires []string
		for _, r := range desc.Requires {
			requires = append(requires, r.String())
		}
		list.Tools = append(list.Tools, ToolInfo{
			Name:        tool.String(),
			Binary:      desc.Binary,
			Minimum:     desc.MinVersion,
			Recommended: desc.RecommendedVersion,
			Requires:    strings.Join(requires, ", "),
			Platforms:   describePlatforms(desc),
		})
	}

	result, err := clicky.Format(list)
	if err != nil {
		return err
	}
	cmd.Println(result)
	return nil
}
