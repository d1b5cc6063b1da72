// Package playback opens rendered audio in the platform's player.
package playback

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
)

// Player launches an external audio player through a Runner
type Player struct {
	runner  exec.Runner
	command []string // executable followed by leading arguments
}

// New creates a player. An empty command selects the platform default.
func New(runner exec.Runner, command string) *Player {
	if runner == nil {
		runner = exec.NewRunner(0)
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = DefaultCommand(runtime.GOOS)
	}
	return &Player{runner: runner, command: fields}
}

// DefaultCommand returns the player command for an operating system
func DefaultCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"afplay"}
	case "windows":
		return []string{"cmd", "/c", "start", ""}
	default:
		return []string{"xdg-open"}
	}
}

// Play starts the player on the audio file and waits for it to return.
// afplay blocks until playback ends; openers like xdg-open return at once.
func (p *Player) Play(ctx context.Context, audioPath string) error {
	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("audio file: %w", err)
	}
	args := append(append([]string(nil), p.command[1:]...), audioPath)
	_, err := p.runner.Run(ctx, exec.Invocation{
		Tool: "player",
		Path: p.command[0],
		Args: args,
	})
	if err != nil {
		return fmt.Errorf("play %s: %w", audioPath, err)
	}
	return nil
}
