package provision

import (
	"context"

	"github.com/flanksource/toolchain/pkg/supervisor"
)

// ProcessRequest describes a process to run under supervision
type ProcessRequest struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Label   string
	// Interactive marks a long-running assistant session; its stdout is
	// scanned for a session id
	Interactive bool
}

func (r ProcessRequest) spawnRequest() supervisor.SpawnRequest {
	typ := supervisor.ManagedTask
	if r.Interactive {
		typ = supervisor.InteractiveSession
	}
	return supervisor.SpawnRequest{
		Command: r.Command,
		Args:    r.Args,
		Dir:     r.Dir,
		Env:     r.Env,
		Type:    typ,
		Label:   r.Label,
	}
}

// SpawnManagedProcess starts a supervised process and returns its runId
func (s *Service) SpawnManagedProcess(ctx context.Context, req ProcessRequest) (string, error) {
	return s.supervisor.Spawn(ctx, req.spawnRequest())
}

// StreamManagedProcess starts a supervised process already subscribed to its
// events, so no early output is lost
func (s *Service) StreamManagedProcess(ctx context.Context, req ProcessRequest) (string, <-chan supervisor.Event, func(), error) {
	return s.supervisor.SpawnSubscribed(ctx, req.spawnRequest())
}

// KillProcess terminates runId's process tree and forgets it
func (s *Service) KillProcess(runID string) bool {
	return s.supervisor.Kill(runID)
}

func (s *Service) ProcessOutput(runID string) string {
	return s.supervisor.Output(runID)
}

func (s *Service) IsProcessRunning(runID string) bool {
	return s.supervisor.IsRunning(runID)
}

// ProcessSession returns the session id sniffed from runId's output, if any
func (s *Service) ProcessSession(runID string) string {
	return s.supervisor.Session(runID)
}

func (s *Service) RunningProcesses() []supervisor.ProcessInfo {
	return s.supervisor.Running()
}

// SubscribeProcess streams runId's output and lifecycle events
func (s *Service) SubscribeProcess(runID string) (<-chan supervisor.Event, func()) {
	return s.supervisor.Subscribe(runID)
}

// WaitProcess blocks until runId exits or ctx is done
func (s *Service) WaitProcess(ctx context.Context, runID string) (*supervisor.RunResult, error) {
	return s.supervisor.Wait(ctx, runID)
}
