package installer

import (
	"fmt"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/flanksource/toolchain/pkg/types"
)

// ProgressFunc receives the progress events of one install in order
type ProgressFunc func(types.InstallationProgress)

type band struct{ from, to int }

// Every tool maps its stages onto the same percentage ranges so a single
// progress bar works across installers.
var bands = map[types.Stage]band{
	types.StageConfiguring: {0, 25},
	types.StageDownloading: {25, 80},
	types.StageInstalling:  {80, 95},
	types.StageVerifying:   {95, 100},
	types.StageCompleted:   {100, 100},
}

// StagePercent maps a fraction (0..1) of stage onto the overall percentage
func StagePercent(stage types.Stage, fraction float64) int {
	b, ok := bands[stage]
	if !ok {
		return 0
	}
	fraction = min(max(fraction, 0), 1)
	return b.from + int(fraction*float64(b.to-b.from))
}

// tracker enforces forward-only stages and non-decreasing percentages
type tracker struct {
	mu      sync.Mutex
	tool    types.Tool
	report  ProgressFunc
	logs    *LogBuffer
	stage   types.Stage
	percent int
	done    bool
}

func newTracker(tool types.Tool, report ProgressFunc, logs *LogBuffer) *tracker {
	return &tracker{tool: tool, report: report, logs: logs, stage: types.StageConfiguring}
}

func (t *tracker) emit(stage types.Stage, fraction float64, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || stage.Order() < t.stage.Order() {
		return
	}
	percent := max(StagePercent(stage, fraction), t.percent)
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	t.stage, t.percent = stage, percent
	if msg != "" {
		t.logs.Addf("[%s] %s", stage, msg)
		logger.V(2).Infof("%s: [%s %d%%] %s", t.tool, stage, percent, msg)
	}
	t.send(types.InstallationProgress{Tool: t.tool, Stage: stage, Percent: percent, Message: msg})
	if stage.Terminal() {
		t.done = true
	}
}

func (t *tracker) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.logs.Addf("[%s] %v", types.StageFailed, err)
	t.stage = types.StageFailed
	t.send(types.InstallationProgress{
		Tool:    t.tool,
		Stage:   types.StageFailed,
		Percent: t.percent,
		Message: "installation failed",
		Error:   err.Error(),
	})
}

func (t *tracker) send(p types.InstallationProgress) {
	if t.report == nil {
		return
	}
	p.Time = time.Now()
	t.report(p)
}
