package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/toolchain/pkg/provision"
	"github.com/flanksource/toolchain/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	runDir         string
	runEnv         []string
	runLabel       string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command under supervision",
	Long: `Run a command as a supervised process, streaming its output.

Ctrl-C terminates the whole process tree: a graceful signal first, then a
forced kill after the configured grace period.

Examples:
  toolchain run -- npm install
  toolchain run --dir ./repo --env CI=1 -- git status
  toolchain run --interactive -- claude -p "hello" --output-format stream-json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDir, "dir", "", "Working directory")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().StringVar(&runLabel, "label", "", "Label shown in logs")
	runCmd.Flags().BoolVar(&runInteractive, "interactive", false, "Treat the process as an assistant session and report its session id")
}

// parseEnv converts KEY=VALUE pairs into a map
func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := parseEnv(runEnv)
	if err != nil {
		return err
	}

	svc := newService()
	defer shutdown(svc)

	runID, events, unsubscribe, err := svc.StreamManagedProcess(context.Background(), provision.ProcessRequest{
		Command:     args[0],
		Args:        args[1:],
		Dir:         runDir,
		Env:         env,
		Label:       runLabel,
		Interactive: runInteractive,
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	stop := onInterrupt(func() {
		logger.Warnf("Stopping %s", runID)
		svc.KillProcess(runID)
	})
	defer stop()

	exitCode, err := streamProcess(events, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%s exited with code %d", args[0], exitCode)
	}
	return nil
}

// streamProcess copies output events to stdout/stderr until the terminal event
func streamProcess(events <-chan supervisor.Event, stdout, stderr io.Writer) (int, error) {
	for ev := range events {
		switch ev.Type {
		case supervisor.EventOutput:
			if ev.Stream == "stderr" {
				_, _ = stderr.Write([]byte(ev.Data))
			} else {
				_, _ = stdout.Write([]byte(ev.Data))
			}
		case supervisor.EventSession:
			logger.Infof("Session %s", ev.SessionID)
		case supervisor.EventCompleted:
			return ev.ExitCode, nil
		case supervisor.EventError:
			if ev.ExitCode != 0 {
				return ev.ExitCode, nil
			}
			return 1, fmt.Errorf("%s", ev.Error)
		case supervisor.EventKilled:
			return 130, fmt.Errorf("process was killed")
		}
	}
	// the stream closed without a terminal event
	return 0, nil
}
