package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flanksource/clicky"
)

// Runner executes short, non-interactive probe commands
type Runner interface {
	Run(ctx context.Context, command string, args ...string) (string, error)
}

// ExecRunner runs probes through clicky exec
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, command string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	process := clicky.Exec(command, args...).WithTimeout(timeout)
	result := process.Run()

	out := strings.TrimSpace(result.Out())
	if out == "" {
		out = strings.TrimSpace(result.GetStderr())
	}
	if result.Err != nil {
		return out, fmt.Errorf("%s %s: %w", command, strings.Join(args, " "), result.Err)
	}
	return out, nil
}
