package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/flanksource/clicky"
	"github.com/flanksource/toolchain/pkg/provision"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/spf13/cobra"
)

var detectForce bool

// ToolRow is one line of the detection table
type ToolRow struct {
	Tool        string `json:"tool" pretty:"label=Tool"`
	Status      string `json:"status" pretty:"label=Status"`
	Version     string `json:"version" pretty:"label=Version"`
	Minimum     string `json:"minimum" pretty:"label=Min"`
	Recommended string `json:"recommended" pretty:"label=Recommended"`
	Type        string `json:"type" pretty:"label=Type"`
	Path        string `json:"path" pretty:"label=Path"`
	Notes       string `json:"notes,omitempty" pretty:"label=Notes"`
}

// DetectReport is rendered by clicky as a table plus recommendations
type DetectReport struct {
	Tools           []ToolRow `json:"tools" pretty:"table"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

var detectCmd = &cobra.Command{
	Use:     "detect [tool...]",
	Aliases: []string{"check"},
	Short:   "Detect installed tools and check their versions",
	Long: `Detect git, node and claude: whether each is installed, its version
against the configured minimum and recommended versions, how it was installed
and whether it is correctly wired into PATH.

Results are cached; use --force to rescan.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().BoolVar(&detectForce, "force", false, "Bypass the detection cache")
}

func runDetect(cmd *cobra.Command, args []string) error {
	svc := newService()
	defer shutdown(svc)

	var tools []types.Tool
	for _, arg := range args {
		tool, err := svc.ParseTool(arg)
		if err != nil {
			return err
		}
		tools = append(tools, tool)
	}

	env, err := svc.DetectEnvironment(context.Background(), provision.DetectRequest{Tools: tools, Force: detectForce})
	if err != nil {
		return err
	}

	report := DetectReport{Recommendations: env.Recommendations}
	var summary types.CheckSummary
	for _, status := range env.Ordered() {
		report.Tools = append(report.Tools, toolRow(status))
		summary.AddResult(*status)
	}

	result, err := clicky.Format(report)
	if err != nil {
		return err
	}
	cmd.Println(result)

	cmd.Printf("\nSummary: %d tools checked", summary.Total)
	if summary.OK > 0 {
		cmd.Printf(", %d OK", summary.OK)
	}
	if summary.Outdated > 0 {
		cmd.Printf(", %d outdated", summary.Outdated)
	}
	if summary.Missing > 0 {
		cmd.Printf(", %d missing", summary.Missing)
	}
	if summary.Errors > 0 {
		cmd.Printf(", %d errors", summary.Errors)
	}
	if env.FromCache {
		cmd.Printf(" (cached %s)", env.CheckedAt.Format("15:04:05"))
	}
	cmd.Println()

	if summary.Errors > 0 || summary.Missing > 0 {
		return fmt.Errorf("%d tools missing or failed detection", summary.Errors+summary.Missing)
	}
	return nil
}

func toolRow(status *types.ToolStatus) ToolRow {
	row := ToolRow{Tool: status.Tool.String(), Status: formatCheckStatus(status.Status())}
	if info := status.Info; info != nil {
		row.Version = info.Version
		row.Type = string(info.InstallationType)
		row.Path = info.ExecutablePath
	}
	if compat := status.Compatibility; compat != nil {
		row.Minimum = compat.MinimumVersion
		row.Recommended = compat.RecommendedVersion
	}

	var notes []string
	if env := status.Environment; env != nil {
		if !env.InPath && status.Info != nil && status.Info.Installed {
			notes = append(notes, "not in PATH")
		}
		notes = append(notes, env.Conflicts...)
	}
	for stage, msg := range status.Errors {
		notes = append(notes, stage+": "+msg)
	}
	row.Notes = strings.Join(notes, "; ")
	return row
}

func formatCheckStatus(status types.CheckStatus) string {
	switch status {
	case types.CheckStatusOK:
		return "✅ OK"
	case types.CheckStatusOutdated:
		return "⚠️ OUTDATED"
	case types.CheckStatusMissing:
		return "❌ MISSING"
	case types.CheckStatusError:
		return "❌ ERROR"
	default:
		return "❓ UNKNOWN"
	}
}
