package exec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner(time.Minute)

	res, err := r.Run(context.Background(), Invocation{
		Tool: "sh",
		Path: "sh",
		Args: []string{"-c", "echo hello; echo warn >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunToolNotFound(t *testing.T) {
	r := NewRunner(time.Minute)

	_, err := r.Run(context.Background(), Invocation{
		Tool: "audiveris",
		Path: filepath.Join(t.TempDir(), "no-such-binary"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrToolNotFound))

	var te *apperrors.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "audiveris", te.Tool)
}

func TestRunExitedNonZero(t *testing.T) {
	r := NewRunner(time.Minute)

	res, err := r.Run(context.Background(), Invocation{
		Tool: "sh",
		Path: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrToolExitedNonZero))
	assert.Equal(t, 3, res.ExitCode)

	var te *apperrors.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.ExitCode)
	assert.Equal(t, "broken\n", te.Stderr)
}

func TestRunTimeoutKillsChild(t *testing.T) {
	r := NewRunner(time.Minute)

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{
		Tool:    "sleep",
		Path:    "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrToolTimedOut))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunParentCancelIsNotTimeout(t *testing.T) {
	r := NewRunner(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Invocation{Tool: "sleep", Path: "sleep", Args: []string{"10"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, apperrors.ErrToolTimedOut))
}

func TestRunWritesLogFile(t *testing.T) {
	r := NewRunner(time.Minute)
	logPath := filepath.Join(t.TempDir(), "tool.log")

	_, err := r.Run(context.Background(), Invocation{
		Path:    "sh",
		Args:    []string{"-c", "echo to-log"},
		LogPath: logPath,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "to-log\n", string(data))
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	r := NewRunner(time.Minute)
	dir := t.TempDir()

	_, err := r.Run(context.Background(), Invocation{
		Path: "sh",
		Args: []string{"-c", "echo x > out.txt"},
		Dir:  dir,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "out.txt"))
}
