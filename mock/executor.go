// Package mock provides predictable command runners for tests that exercise
// detection and installation without touching the host.
package mock

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Handler answers a command; args exclude the command itself
type Handler func(args []string) (string, error)

// Executor records every command and answers from canned outputs. It
// satisfies both system.Executor and detect.Runner.
type Executor struct {
	mu       sync.Mutex
	outputs  map[string]string
	errors   map[string]error
	handlers map[string]Handler
	unwrap   []string
	commands []string
}

func NewExecutor() *Executor {
	return &Executor{
		outputs:  map[string]string{},
		errors:   map[string]error{},
		handlers: map[string]Handler{},
	}
}

// Key is how a command line is matched: the command's base name and its
// arguments joined by spaces
func Key(command string, args ...string) string {
	return strings.TrimSpace(filepath.Base(command) + " " + strings.Join(args, " "))
}

// Set answers key (see Key) with output
func (e *Executor) Set(key, output string) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[key] = output
	return e
}

// Fail answers key with err
func (e *Executor) Fail(key string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
	return e
}

// Handle answers every invocation of the command base name with h, unless
// an exact key matches first
func (e *Executor) Handle(base string, h Handler) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[base] = h
	return e
}

// Unwrap records and answers "prefix... cmd args" as "cmd args", e.g.
// Unwrap("sudo", "-n")
func (e *Executor) Unwrap(prefix ...string) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unwrap = prefix
	return e
}

func (e *Executor) Run(_ context.Context, command string, args ...string) (string, error) {
	e.mu.Lock()
	prefix := e.unwrap
	e.mu.Unlock()
	if n := len(prefix); n > 0 && command == prefix[0] && len(args) >= n && slices.Equal(args[:n-1], prefix[1:]) {
		command, args = args[n-1], args[n:]
	}

	key := Key(command, args...)
	e.mu.Lock()
	e.commands = append(e.commands, key)
	out, hasOut := e.outputs[key]
	err, hasErr := e.errors[key]
	h := e.handlers[filepath.Base(command)]
	e.mu.Unlock()

	switch {
	case hasErr:
		return out, err
	case hasOut:
		return out, nil
	case h != nil:
		return h(args)
	}
	return "", nil
}

// Calls returns every command line in the order it ran
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Reset forgets recorded commands, keeping canned answers
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = nil
}

func (e *Executor) String() string {
	return fmt.Sprintf("mock executor (%d calls)", len(e.Calls()))
}
