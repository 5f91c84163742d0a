package detect

import (
	"fmt"

	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/version"
)

// AnalyzeCompatibility compares a detection result against the descriptor's
// minimum and recommended versions. Compatible means installed and at or above
// the minimum; NeedsUpgrade means below the recommended version.
func AnalyzeCompatibility(desc types.ToolDescriptor, info *types.InstallationInfo) *types.CompatibilityReport {
	report := &types.CompatibilityReport{
		Tool:               desc.Name,
		MinimumVersion:     desc.MinVersion,
		RecommendedVersion: desc.RecommendedVersion,
		Issues:             []string{},
		Recommendations:    []string{},
	}
	target := desc.RecommendedVersion
	if target == "" {
		target = desc.MinVersion
	}

	if info == nil || !info.Installed {
		report.NeedsUpgrade = true
		report.Issues = append(report.Issues, fmt.Sprintf("%s is not installed", desc.Name))
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("Install %s %s or later", desc.Name, target))
		return report
	}

	report.CurrentVersion = info.Version
	report.Compatible = desc.MinVersion == "" || version.AtLeast(info.Version, desc.MinVersion)
	report.NeedsUpgrade = target != "" && !version.AtLeast(info.Version, target)

	switch {
	case !report.Compatible:
		report.Issues = append(report.Issues,
			fmt.Sprintf("%s %s is older than the minimum supported version %s", desc.Name, info.Version, desc.MinVersion))
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("Upgrade %s to %s", desc.Name, target))
	case report.NeedsUpgrade:
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%s %s works, %s is recommended", desc.Name, info.Version, target))
	}

	if info.InstallationType == types.InstallationUnknown {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%s at %s was not installed from a recognised location", desc.Name, info.ExecutablePath))
	}
	return report
}
