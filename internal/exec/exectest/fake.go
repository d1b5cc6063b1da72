// Package exectest provides a scripted Runner for stage tests.
package exectest

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
)

// Handler simulates one tool. It may write output files and returns the
// error the real runner would have returned.
type Handler func(inv exec.Invocation) error

// Runner dispatches invocations to handlers keyed by Invocation.Tool and
// records every call in order.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []exec.Invocation
}

// NewRunner creates an empty fake runner
func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// Handle registers the handler for a tool
func (r *Runner) Handle(tool string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tool] = h
	return r
}

// Run implements exec.Runner
func (r *Runner) Run(_ context.Context, inv exec.Invocation) (*exec.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	h, ok := r.handlers[inv.Tool]
	r.mu.Unlock()

	if !ok {
		return nil, errors.NewToolError(errors.KindToolNotFound, inv.Tool, inv.Path, -1, "", nil)
	}
	if err := h(inv); err != nil {
		return &exec.Result{ExitCode: exitCode(err)}, err
	}
	return &exec.Result{}, nil
}

// Calls returns the invocations seen so far
func (r *Runner) Calls() []exec.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]exec.Invocation(nil), r.calls...)
}

// Tools returns the tool names of the recorded invocations in call order
func (r *Runner) Tools() []string {
	var tools []string
	for _, c := range r.Calls() {
		tools = append(tools, c.Tool)
	}
	return tools
}

// Fail returns a handler failing with the given tool error kind
func Fail(kind errors.Kind) Handler {
	return func(inv exec.Invocation) error {
		code := -1
		if kind == errors.KindToolExitedNonZero {
			code = 1
		}
		return errors.NewToolError(kind, inv.Tool, inv.Path, code, "simulated failure", nil)
	}
}

// Succeed returns a handler that exits 0 without producing anything
func Succeed() Handler {
	return func(exec.Invocation) error { return nil }
}

// WriteFile creates a file with content, creating parent directories.
func WriteFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func exitCode(err error) int {
	if te, ok := err.(*errors.ToolError); ok {
		return te.ExitCode
	}
	return -1
}
