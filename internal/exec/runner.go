package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
)

// waitDelay bounds how long Run waits for output pipes after the child is
// killed (grandchildren may keep them open).
const waitDelay = 2 * time.Second

// Invocation is a request to run one external executable
type Invocation struct {
	Tool    string // display name: "audiveris", "musescore", "fluidsynth", "ffmpeg"
	Path    string // executable path or name resolved through PATH
	Args    []string
	Dir     string
	Timeout time.Duration
	LogPath string // optional file receiving both output streams
}

// Result holds command execution output
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes external tools. It is the only way stages reach an
// external process.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ProcessRunner runs invocations as child processes
type ProcessRunner struct {
	// DefaultTimeout applies when an invocation carries no timeout
	DefaultTimeout time.Duration
}

// NewRunner creates a new process runner
func NewRunner(defaultTimeout time.Duration) *ProcessRunner {
	return &ProcessRunner{DefaultTimeout: defaultTimeout}
}

// Resolve returns the absolute executable path for an invocation path
func Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty executable path")
	}
	return exec.LookPath(path)
}

// Run spawns exactly one child process and waits for it to exit or for the
// timeout to fire. It never retries.
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	tool := inv.Tool
	if tool == "" {
		tool = inv.Path
	}

	resolved, err := Resolve(inv.Path)
	if err != nil {
		return nil, apperrors.NewToolError(apperrors.KindToolNotFound, tool, inv.Path, -1, "", err)
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, resolved, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if inv.LogPath != "" {
		logFile, err := os.Create(inv.LogPath)
		if err != nil {
			return nil, fmt.Errorf("create tool log: %w", err)
		}
		defer logFile.Close()
		cmd.Stdout = io.MultiWriter(&stdout, logFile)
		cmd.Stderr = io.MultiWriter(&stderr, logFile)
	}

	log.Debug("tool.start", "tool", tool, "path", resolved, "args", inv.Args, "timeout", timeout)

	start := time.Now()
	err = cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case err == nil:
		log.Debug("tool.done", "tool", tool, "duration", result.Duration)
		return result, nil
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s cancelled: %w", tool, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		log.Warn("tool.timeout", "tool", tool, "timeout", timeout)
		return result, apperrors.NewToolError(apperrors.KindToolTimedOut, tool, resolved, result.ExitCode, result.Stderr, runCtx.Err())
	case exitErr != nil:
		log.Warn("tool.failed", "tool", tool, "exit_code", result.ExitCode)
		return result, apperrors.NewToolError(apperrors.KindToolExitedNonZero, tool, resolved, result.ExitCode, result.Stderr, err)
	default:
		// The binary resolved but could not be started (permissions, bad format).
		return result, apperrors.NewToolError(apperrors.KindToolNotFound, tool, resolved, -1, "", err)
	}
}
