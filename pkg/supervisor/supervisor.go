// Package supervisor spawns, tracks, streams and terminates child processes.
// Every process is addressed by an opaque runId; the OS handle never leaves
// the package.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/flanksource/toolchain/pkg/cache"
	"github.com/flanksource/toolchain/pkg/gate"
	"github.com/flanksource/toolchain/pkg/types"
	"github.com/flanksource/toolchain/pkg/utils"
)

var (
	ErrUnknownRun = errors.New("unknown run id")
	ErrShutdown   = errors.New("supervisor is shut down")
)

// SpawnRequest describes a process to start
type SpawnRequest struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Type    ProcessType
	Label   string
	// SniffSessions scans stdout for JSON lines carrying a session_id.
	// Always on for InteractiveSession.
	SniffSessions bool
	// Timeout bounds Run; zero means no limit
	Timeout time.Duration
	// Secrets are masked wherever the command line is logged or reported
	Secrets []string
}

func (r SpawnRequest) String() string {
	return utils.Sanitize(strings.TrimSpace(r.Command+" "+strings.Join(r.Args, " ")), r.Secrets...)
}

// RunResult is returned once a process has exited
type RunResult struct {
	RunID    string
	ExitCode int
	Output   string
	Duration time.Duration
}

// Options configures a Supervisor
type Options struct {
	KillGrace        time.Duration
	ShutdownDeadline time.Duration
	OutputChunks     int
	SubscriberBuffer int
	SessionKey       string
	// ResultTTL is how long Wait can still collect a process that exited
	ResultTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		KillGrace:        2 * time.Second,
		ShutdownDeadline: 10 * time.Second,
		OutputChunks:     1000,
		SubscriberBuffer: 256,
		SessionKey:       "session_id",
		ResultTTL:        10 * time.Minute,
	}
}

// Option mutates Options
type Option func(*Options)

func WithKillGrace(d time.Duration) Option {
	return func(o *Options) { o.KillGrace = d }
}

func WithShutdownDeadline(d time.Duration) Option {
	return func(o *Options) { o.ShutdownDeadline = d }
}

func WithOutputChunks(n int) Option {
	return func(o *Options) { o.OutputChunks = n }
}

func WithSubscriberBuffer(n int) Option {
	return func(o *Options) { o.SubscriberBuffer = n }
}

func WithResultTTL(d time.Duration) Option {
	return func(o *Options) { o.ResultTTL = d }
}

// Supervisor owns every process it spawns
type Supervisor struct {
	opts    Options
	running *gate.Registry[*handle]
	// results of exited processes, kept for late Wait calls
	results *cache.Memo[*RunResult]

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	closeMu      sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(opts ...Option) *Supervisor {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Supervisor{
		opts:    o,
		running: gate.NewRegistry[*handle](),
		results: cache.NewMemo[*RunResult](o.ResultTTL),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (s *Supervisor) newRunID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Spawn starts a process and returns its runId. The context only bounds the
// start; use Kill or Run to stop the process.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	h, err := s.spawn(ctx, req)
	if err != nil {
		return "", err
	}
	return h.runID, nil
}

// SpawnSubscribed is Spawn with a subscription attached before the process
// starts, so even the first line of output is delivered
func (s *Supervisor) SpawnSubscribed(ctx context.Context, req SpawnRequest) (string, <-chan Event, func(), error) {
	sub := &subscriber{ch: make(chan Event, s.opts.SubscriberBuffer)}
	h, err := s.spawn(ctx, req, sub)
	if err != nil {
		return "", nil, nil, err
	}
	return h.runID, sub.ch, h.unsubscribe(sub), nil
}

func (s *Supervisor) spawn(ctx context.Context, req SpawnRequest, subs ...*subscriber) (*handle, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, types.SpawnError(req.Command, ErrShutdown, "")
	}
	if err := ctx.Err(); err != nil {
		return nil, types.SpawnError(req.Command, err, "")
	}
	if req.Type == "" {
		req.Type = ManagedTask
	}

	path, err := lookPath(req.Command, req.Env)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.SysProcAttr = sysProcAttr()
	// pipes held open by orphaned descendants must not block Wait forever
	cmd.WaitDelay = s.opts.KillGrace

	h := &handle{
		runID:   s.newRunID(),
		typ:     req.Type,
		label:   req.Label,
		command: req.String(),
		cmd:     cmd,
		dir:     req.Dir,
		output:  NewRingBuffer(s.opts.OutputChunks),
		subs:    subs,
		done:    make(chan struct{}),
	}
	sniff := req.SniffSessions || req.Type == InteractiveSession
	if sniff {
		h.sniffer = newSessionSniffer(s.opts.SessionKey, func(id string) { s.correlate(h, id) })
	}
	cmd.Stdout = &streamWriter{h: h, stream: "stdout", sniff: sniff}
	cmd.Stderr = &streamWriter{h: h, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return nil, types.SpawnError(req.Command, err, "failed to start %s", req.String())
	}
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	s.running.TryAdd(h.runID, h)

	s.logger(h).Debugf("started %s", h.command)
	go s.wait(h)
	return h, nil
}

func (s *Supervisor) logger(h *handle) *log.Entry {
	return log.WithFields(log.Fields{
		"run_id": h.runID,
		"pid":    h.pid,
		"type":   h.typ,
	})
}

func (s *Supervisor) correlate(h *handle, id string) {
	h.mu.Lock()
	h.sessionID = id
	h.mu.Unlock()
	s.logger(h).WithField("session_id", id).Debugf("session correlated")
	h.publish(Event{RunID: h.runID, Type: EventSession, SessionID: id, Time: time.Now()})
}

func (s *Supervisor) wait(h *handle) {
	err := h.cmd.Wait()
	if h.sniffer != nil {
		h.sniffer.Flush()
	}

	h.mu.Lock()
	h.waitErr = err
	h.exitCode = exitCode(h.cmd, err)
	killed := h.killed
	h.mu.Unlock()
	close(h.done)

	if killed {
		// Kill finalizes
		return
	}
	ev := Event{RunID: h.runID, Type: EventCompleted, ExitCode: h.exitCode}
	if err != nil {
		ev.Type = EventError
		ev.Error = err.Error()
		s.logger(h).Debugf("exited with code %d: %v", h.exitCode, err)
	} else {
		s.logger(h).Debugf("completed in %s", time.Since(h.startedAt).Round(time.Millisecond))
	}
	s.finalize(h, ev)
}

// finalize marks the handle finished, removes it from the registry, emits the
// terminal event and closes subscriber channels, once
func (s *Supervisor) finalize(h *handle, ev Event) {
	h.finalizeOnce.Do(func() {
		h.mu.Lock()
		h.finished = true
		h.mu.Unlock()
		if h.exited() {
			s.results.Set(h.runID, h.result())
		}
		s.running.Remove(h.runID)
		ev.Time = time.Now()
		h.publish(ev)
		h.closeSubscribers()
	})
}

// Run spawns a managed task and waits for it. Cancelling ctx or exceeding
// req.Timeout kills the process tree. A non-zero exit is returned as an error
// alongside the result.
func (s *Supervisor) Run(ctx context.Context, req SpawnRequest) (*RunResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	h, err := s.spawn(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, h, req)
}

// Wait blocks until runId exits or ctx is done. It does not kill the process
// when ctx ends. A process that already exited returns its result for up to
// ResultTTL.
func (s *Supervisor) Wait(ctx context.Context, runID string) (*RunResult, error) {
	h, ok := s.running.Get(runID)
	if !ok {
		if result, ok := s.results.Get(runID); ok {
			return result, nil
		}
		return nil, ErrUnknownRun
	}
	select {
	case <-h.done:
		return h.result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) await(ctx context.Context, h *handle, req SpawnRequest) (*RunResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		s.Kill(h.runID)
		result := h.result()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, types.TimeoutError(req.Command, "%s did not finish within %s", req.String(), req.Timeout)
		}
		return result, types.CancelledError("", req.String())
	}

	result := h.result()
	if result.ExitCode != 0 || h.waitErr != nil {
		tail := utils.Sanitize(strings.TrimSpace(utils.Tail(result.Output, 10)), req.Secrets...)
		return result, fmt.Errorf("%s exited with code %d: %s", req.String(), result.ExitCode, tail)
	}
	return result, nil
}

func (h *handle) result() *RunResult {
	h.mu.Lock()
	code := h.exitCode
	h.mu.Unlock()
	return &RunResult{
		RunID:    h.runID,
		ExitCode: code,
		Output:   h.output.String(),
		Duration: time.Since(h.startedAt),
	}
}

// Kill terminates the process tree of runId: a graceful signal, up to
// KillGrace for exit, then a forced kill. The entry is always removed, even if
// signalling fails. Returns false for an unknown runId.
func (s *Supervisor) Kill(runID string) bool {
	h, ok := s.running.Get(runID)
	if !ok {
		return false
	}
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()

	logger := s.logger(h)
	if !h.exited() {
		if err := terminateTree(h.pid); err != nil {
			logger.Debugf("graceful terminate failed: %v", err)
		}
		select {
		case <-h.done:
		case <-time.After(s.opts.KillGrace):
			logger.Debugf("still running after %s, forcing", s.opts.KillGrace)
			if err := killTree(h.pid); err != nil {
				logger.Warnf("force kill failed: %v", err)
			}
			select {
			case <-h.done:
			case <-time.After(s.opts.KillGrace):
				logger.Warnf("process did not exit after force kill")
			}
		}
	}

	s.finalize(h, Event{RunID: runID, Type: EventKilled, ExitCode: -1})
	logger.Debugf("killed")
	return true
}

// Unregister stops tracking runId without signalling it and forgets any
// retained result
func (s *Supervisor) Unregister(runID string) bool {
	h, ok := s.running.Get(runID)
	if ok {
		s.finalize(h, Event{RunID: runID, Type: EventKilled, ExitCode: -1, Error: "unregistered"})
	}
	_, retained := s.results.Get(runID)
	s.results.Delete(runID)
	return ok || retained
}

// Output returns the retained output of a tracked process
func (s *Supervisor) Output(runID string) string {
	h, ok := s.running.Get(runID)
	if !ok {
		return ""
	}
	return h.output.String()
}

// IsRunning reports whether runId is tracked and has not finished
func (s *Supervisor) IsRunning(runID string) bool {
	h, ok := s.running.Get(runID)
	return ok && !h.isFinished()
}

// Info returns a snapshot of runId
func (s *Supervisor) Info(runID string) (ProcessInfo, bool) {
	h, ok := s.running.Get(runID)
	if !ok {
		return ProcessInfo{}, false
	}
	return h.info(), true
}

// Session returns the session id sniffed from runId's output, if any
func (s *Supervisor) Session(runID string) string {
	info, _ := s.Info(runID)
	return info.SessionID
}

// Running lists tracked processes, oldest first
func (s *Supervisor) Running() []ProcessInfo {
	var out []ProcessInfo
	for _, key := range s.running.Keys() {
		if h, ok := s.running.Get(key); ok {
			out = append(out, h.info())
		}
	}
	return out
}

// Subscribe returns an ordered stream of events for runId and a cancel
// function. The channel is closed after the terminal event, on cancel, or
// immediately for an unknown runId.
func (s *Supervisor) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, s.opts.SubscriberBuffer)
	h, ok := s.running.Get(runID)
	if !ok {
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{ch: ch}
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return ch, h.unsubscribe(sub)
}

// Shutdown force-kills every tracked process and clears the registry. It
// returns once everything exited or the deadline passed, whichever is first,
// and is safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		deadline := s.opts.ShutdownDeadline
		if d, ok := ctx.Deadline(); ok && time.Until(d) < deadline {
			deadline = time.Until(d)
		}
		until := time.Now().Add(deadline)

		handles := s.running.Values()
		log.Debugf("shutting down %d processes", len(handles))

		var wg sync.WaitGroup
		for _, h := range handles {
			wg.Add(1)
			go func(h *handle) {
				defer wg.Done()
				h.mu.Lock()
				h.killed = true
				h.mu.Unlock()
				if !h.exited() {
					if err := killTree(h.pid); err != nil {
						s.logger(h).Debugf("force kill failed: %v", err)
					}
					select {
					case <-h.done:
					case <-time.After(time.Until(until)):
					}
				}
				s.finalize(h, Event{RunID: h.runID, Type: EventKilled, ExitCode: -1})
			}(h)
		}

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Until(until)):
			s.shutdownErr = fmt.Errorf("shutdown deadline of %s exceeded", deadline)
		}

		for _, h := range s.running.Clear() {
			s.finalize(h, Event{RunID: h.runID, Type: EventKilled, ExitCode: -1})
		}
	})
	return s.shutdownErr
}

func lookPath(command string, env map[string]string) (string, error) {
	if strings.ContainsRune(command, filepath.Separator) || filepath.IsAbs(command) {
		if _, err := os.Stat(command); err != nil {
			return "", types.SpawnError(command, err, "%s does not exist", command)
		}
		return command, nil
	}
	pathEnv := os.Getenv("PATH")
	if p, ok := env["PATH"]; ok {
		pathEnv = p
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		for _, candidate := range executableNames(command) {
			path := filepath.Join(dir, candidate)
			if isExecutable(path) {
				return path, nil
			}
		}
	}
	return "", types.SpawnError(command, exec.ErrNotFound, "command %q not found, searched PATH: %s",
		command, strings.Join(filepath.SplitList(pathEnv), string(os.PathListSeparator)))
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
