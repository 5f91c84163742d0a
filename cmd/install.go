package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flanksource/clicky"
	"github.com/flanksource/clicky/task"
	flanksourceContext "github.com/flanksource/commons/context"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/toolchain/pkg/provision"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/utils"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install [tool[@version]...]",
	Short: "Install or upgrade one or more tools",
	Long: `Install or upgrade tools with an optional exact version.

Without arguments every supported tool is installed, in dependency order.

Examples:
  toolchain install                  # git, node and claude
  toolchain install node             # recommended node version
  toolchain install node@20.11.1     # exact node version
  toolchain install --force git      # reinstall even if compatible`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

// InstallSpec is a parsed tool[@version] argument
type InstallSpec struct {
	Tool    types.Tool
	Version string
}

// parseInstallArgs validates tool[@version] arguments and orders them by
// dependency rank. No arguments means every tool.
func parseInstallArgs(svc *provision.Service, args []string) ([]InstallSpec, error) {
	if len(args) == 0 {
		var specs []InstallSpec
		for _, tool := range types.AllTools() {
			specs = append(specs, InstallSpec{Tool: tool})
		}
		return specs, nil
	}

	seen := map[types.Tool]bool{}
	var specs []InstallSpec
	for _, arg := range args {
		name, version := types.ParseToolSpec(arg)
		tool, err := svc.ParseTool(string(name))
		if err != nil {
			return nil, err
		}
		if seen[tool] {
			return nil, fmt.Errorf("%s specified more than once", tool)
		}
		seen[tool] = true
		specs = append(specs, InstallSpec{Tool: tool, Version: strings.TrimPrefix(version, "v")})
	}
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Tool.Rank() < specs[j].Tool.Rank() })
	return specs, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	svc := newService()
	defer shutdown(svc)

	specs, err := parseInstallArgs(svc, args)
	if err != nil {
		return err
	}

	stop := onInterrupt(func() {
		for _, spec := range specs {
			if svc.CancelInstall(spec.Tool) {
				logger.Warnf("Cancelling %s installation", spec.Tool)
			}
		}
	})
	defer stop()

	// Each tool gets its own task but waits for the previous one, since
	// claude is installed through node's npm.
	results := make([]*types.InstallResult, len(specs))
	previous := make(chan struct{})
	close(previous)
	for i, spec := range specs {
		wait, done := previous, make(chan struct{})
		previous = done
		task.StartTask("install "+spec.Tool.String(), func(ctx flanksourceContext.Context, t *task.Task) (interface{}, error) {
			defer close(done)
			<-wait
			result := installWithTask(ctx, svc, spec, t)
			results[i] = result
			if !result.Success {
				return result, fmt.Errorf("%s", result.Error)
			}
			return result, nil
		})
	}

	exitCode := clicky.WaitForGlobalCompletion()
	printInstallSummary(cmd, results)
	if exitCode != 0 {
		return fmt.Errorf("installation failed with exit code %d", exitCode)
	}
	return nil
}

// installWithTask mirrors the install's progress stream onto t
func installWithTask(ctx flanksourceContext.Context, svc *provision.Service, spec InstallSpec, t *task.Task) *types.InstallResult {
	events, unsubscribe := svc.SubscribeProgress(spec.Tool)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range events {
			t.SetProgress(p.Percent, 100)
			if p.Message != "" {
				t.SetDescription(fmt.Sprintf("%s: %s", p.Stage, p.Message))
			}
		}
	}()

	result := svc.Install(ctx.Context, spec.Tool, spec.Version)
	unsubscribe()
	<-drained

	for _, line := range result.Logs {
		t.V(4).Infof("%s", line)
	}
	switch {
	case result.Skipped:
		t.Infof("%s %s already installed", spec.Tool, result.InstalledVersion)
	case result.Success:
		t.Infof("Installed %s %s in %s", spec.Tool, result.InstalledVersion, utils.FormatDuration(result.Duration))
	}
	if result.Success {
		t.Success()
	}
	return result
}

func printInstallSummary(cmd *cobra.Command, results []*types.InstallResult) {
	for _, result := range results {
		if result == nil {
			continue
		}
		switch {
		case result.Skipped:
			cmd.Printf("  %s: ✅ already installed (%s)\n", result.Tool, result.InstalledVersion)
		case result.Success:
			cmd.Printf("  %s: ✅ installed %s at %s\n", result.Tool, result.InstalledVersion, result.ExecutablePath)
		default:
			cmd.Printf("  %s: ❌ %s [%s]\n", result.Tool, result.Error, result.ErrorCode)
		}
	}
}
