package system

import (
	"context"
	"strings"

	"github.com/flanksource/toolchain/pkg/supervisor"
)

// Executor runs the commands behind a platform install action.
type Executor interface {
	Run(ctx context.Context, command string, args ...string) (string, error)
}

// SupervisedExecutor runs every command as a supervisor managed task so
// cancelling the install kills the installer process tree.
type SupervisedExecutor struct {
	Supervisor *supervisor.Supervisor
	Label      string
	Env        map[string]string
	// Log receives every non-empty output line after the command exits.
	Log func(format string, args ...any)
}

func (e SupervisedExecutor) Run(ctx context.Context, command string, args ...string) (string, error) {
	result, err := e.Supervisor.Run(ctx, supervisor.SpawnRequest{
		Command: command,
		Args:    args,
		Env:     e.Env,
		Type:    supervisor.ManagedTask,
		Label:   e.Label,
	})
	var out string
	if result != nil {
		out = result.Output
		e.Supervisor.Unregister(result.RunID)
	}
	if e.Log != nil {
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				e.Log("%s", line)
			}
		}
	}
	return out, err
}
