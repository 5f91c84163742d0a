package supervisor

import (
	"os/exec"
	"sync"
	"time"
)

// ProcessType distinguishes short installer subprocesses from long-running sessions
type ProcessType string

const (
	ManagedTask        ProcessType = "managed-task"
	InteractiveSession ProcessType = "interactive-session"
)

// ProcessInfo is a snapshot of a tracked process
type ProcessInfo struct {
	RunID      string      `json:"run_id"`
	Type       ProcessType `json:"type"`
	Label      string      `json:"label,omitempty"`
	Command    string      `json:"command"`
	PID        int         `json:"pid"`
	StartedAt  time.Time   `json:"started_at"`
	WorkingDir string      `json:"working_dir,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	IsFinished bool        `json:"is_finished"`
}

// handle is owned by the Supervisor; callers only ever see its runId
type handle struct {
	runID     string
	typ       ProcessType
	label     string
	command   string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	dir       string
	output    *RingBuffer
	sniffer   *sessionSniffer

	mu        sync.Mutex
	finished  bool
	killed    bool
	exitCode  int
	waitErr   error
	sessionID string
	subs      []*subscriber

	done         chan struct{}
	finalizeOnce sync.Once
}

func (h *handle) info() ProcessInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ProcessInfo{
		RunID:      h.runID,
		Type:       h.typ,
		Label:      h.label,
		Command:    h.command,
		PID:        h.pid,
		StartedAt:  h.startedAt,
		WorkingDir: h.dir,
		SessionID:  h.sessionID,
		IsFinished: h.finished,
	}
}

func (h *handle) isFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// publish delivers ev to every subscriber without blocking; a full
// subscriber misses the event and must fall back to Output/IsRunning
func (h *handle) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

func (h *handle) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}

// unsubscribe returns a func detaching sub and closing its channel, once
func (h *handle) unsubscribe(sub *subscriber) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, candidate := range h.subs {
				if candidate == sub {
					h.subs = append(h.subs[:i], h.subs[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
}

// streamWriter receives a process's stdout or stderr
type streamWriter struct {
	h      *handle
	stream string
	sniff  bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.h.output.Append(p)
	if w.sniff && w.h.sniffer != nil {
		w.h.sniffer.Write(p)
	}
	w.h.publish(Event{
		RunID:  w.h.runID,
		Type:   EventOutput,
		Stream: w.stream,
		Data:   string(p),
		Time:   time.Now(),
	})
	return len(p), nil
}
