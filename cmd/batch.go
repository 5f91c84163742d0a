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
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// BatchRow is one tool of a batch install
type BatchRow struct {
	Tool     string `json:"tool" pretty:"label=Tool"`
	Result   string `json:"result" pretty:"label=Result"`
	Version  string `json:"version" pretty:"label=Version"`
	Duration string `json:"duration" pretty:"label=Duration"`
	Error    string `json:"error,omitempty" pretty:"label=Error"`
}

type BatchReport struct {
	Results []BatchRow `json:"results" pretty:"table"`
}

var batchCmd = &cobra.Command{
	Use:   "batch [tool...]",
	Short: "Install several tools in dependency order, continuing past failures",
	Long: `Install the given tools (default: all) one after another in the order
git, node, claude. A failure is reported and the remaining tools still run.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
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
	if len(tools) == 0 {
		tools = types.AllTools()
	}
	tools = lo.Uniq(tools)
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Rank() < tools[j].Rank() })

	stop := onInterrupt(func() {
		for _, tool := range svc.ActiveInstalls() {
			if svc.CancelInstall(tool) {
				logger.Warnf("Cancelling %s installation", tool)
			}
		}
	})
	defer stop()

	var batch *provision.BatchResult
	var batchErr error
	name := "batch " + strings.Join(lo.Map(tools, func(t types.Tool, _ int) string { return t.String() }), ",")
	task.StartTask(name, func(ctx flanksourceContext.Context, t *task.Task) (interface{}, error) {
		unsubscribe := followProgress(svc, tools, t)
		defer unsubscribe()

		batch, batchErr = svc.BatchInstall(ctx.Context, tools)
		if batchErr != nil {
			return nil, batchErr
		}
		if failed := batch.Failed(); len(failed) > 0 {
			return batch, fmt.Errorf("%d of %d tools failed", len(failed), len(batch.Order))
		}
		t.Success()
		return batch, nil
	})

	exitCode := clicky.WaitForGlobalCompletion()
	if batchErr != nil {
		return batchErr
	}
	if batch != nil {
		result, err := clicky.Format(batchReport(batch))
		if err != nil {
			return err
		}
		cmd.Println(result)
	}
	if exitCode != 0 {
		return fmt.Errorf("batch install failed with exit code %d", exitCode)
	}
	return nil
}

// followProgress reports every tool's progress on t, scaled so that the
// batch as a whole moves from 0 to 100
func followProgress(svc *provision.Service, tools []types.Tool, t *task.Task) func() {
	var cancels []func()
	for i, tool := range tools {
		events, cancel := svc.SubscribeProgress(tool)
		cancels = append(cancels, cancel)
		go func() {
			for p := range events {
				t.SetProgress(i*100+p.Percent, len(tools)*100)
				if p.Message != "" {
					t.SetDescription(fmt.Sprintf("%s %s: %s", p.Tool, p.Stage, p.Message))
				}
			}
		}()
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func batchReport(batch *provision.BatchResult) BatchReport {
	var report BatchReport
	for _, tool := range batch.Order {
		r := batch.Results[tool]
		row := BatchRow{
			Tool:     tool.String(),
			Version:  r.InstalledVersion,
			Duration: utils.FormatDuration(r.Duration),
			Error:    r.Error,
		}
		switch {
		case r.Skipped:
			row.Result = "✅ skipped"
		case r.Success:
			row.Result = "✅ installed"
		case r.ErrorCode != "":
			row.Result = "❌ " + string(r.ErrorCode)
		default:
			row.Result = "❌ failed"
		}
		report.Results = append(report.Results, row)
	}
	return report
}
