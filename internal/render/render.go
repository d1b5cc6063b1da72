package render

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// Supported encoded audio formats
var Formats = []string{"mp3", "ogg", "flac", "wav", "m4a"}

// Options configures synthesis and encoding
type Options struct {
	FluidSynthPath string
	FFmpegPath     string
	SampleRate     int
	Gain           float64
	Loudnorm       bool
	KeepWaveform   bool

	SynthTimeout  time.Duration
	EncodeTimeout time.Duration
}

// DefaultOptions returns the renderer defaults
func DefaultOptions() Options {
	return Options{
		FluidSynthPath: "fluidsynth",
		FFmpegPath:     "ffmpeg",
		SampleRate:     44100,
		Gain:           1.0,
		SynthTimeout:   5 * time.Minute,
		EncodeTimeout:  5 * time.Minute,
	}
}

// Renderer turns MIDI into an encoded audio file
type Renderer struct {
	runner exec.Runner
	opts   Options
}

// NewRenderer creates a renderer
func NewRenderer(runner exec.Runner, opts Options) *Renderer {
	return &Renderer{runner: runner, opts: opts}
}

// Render synthesizes the MIDI with the soundfont into a waveform, then
// encodes it into the workspace's audio format. The encoder reads the
// synthesizer's output file directly.
func (r *Renderer) Render(ctx context.Context, midi workspace.Artifact, soundfont string, ws *workspace.Workspace) (workspace.Artifact, error) {
	if info, err := os.Stat(soundfont); err != nil || info.IsDir() || info.Size() == 0 {
		return workspace.Artifact{}, apperrors.NewStageError(apperrors.StageRendering, apperrors.KindSoundfontNotFound, soundfont, err)
	}

	wav, err := r.synthesize(ctx, midi, soundfont, ws)
	if err != nil {
		return workspace.Artifact{}, apperrors.NewStageError(apperrors.StageRendering, apperrors.KindSynthesisFailed, "fluidsynth", err)
	}

	out, err := r.encode(ctx, wav, ws)
	if err != nil {
		return workspace.Artifact{}, apperrors.NewStageError(apperrors.StageRendering, apperrors.KindEncodingFailed, "ffmpeg", err)
	}

	if !r.opts.KeepWaveform {
		if err := os.Remove(wav.Path); err != nil {
			log.Warn("render.cleanup_failed", "path", wav.Path, "error", err)
		} else {
			ws.Forget(workspace.Waveform)
		}
	}
	return out, nil
}

func (r *Renderer) synthesize(ctx context.Context, midi workspace.Artifact, soundfont string, ws *workspace.Workspace) (workspace.Artifact, error) {
	wavPath, err := ws.Allocate(workspace.Waveform)
	if err != nil {
		return workspace.Artifact{}, err
	}
	rate := r.opts.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	gain := r.opts.Gain
	if gain <= 0 {
		gain = 1.0
	}

	start := time.Now()
	if _, err := r.runner.Run(ctx, exec.Invocation{
		Tool: "fluidsynth",
		Path: r.opts.FluidSynthPath,
		Args: []string{"-ni", soundfont, midi.Path,
			"-F", wavPath,
			"-r", strconv.Itoa(rate),
			"-g", strconv.FormatFloat(gain, 'f', -1, 64)},
		Dir:     ws.Dir,
		Timeout: r.opts.SynthTimeout,
	}); err != nil {
		return workspace.Artifact{}, err
	}
	wav, err := ws.Produce(workspace.Waveform, apperrors.StageRendering)
	if err != nil {
		return workspace.Artifact{}, err
	}
	log.Info("render.synthesized", "path", wav.Path, "duration", time.Since(start))
	return wav, nil
}

func (r *Renderer) encode(ctx context.Context, wav workspace.Artifact, ws *workspace.Workspace) (workspace.Artifact, error) {
	outPath, err := ws.Allocate(workspace.EncodedAudio)
	if err != nil {
		return workspace.Artifact{}, err
	}
	args := []string{"-y", "-i", wav.Path}
	if r.opts.Loudnorm {
		args = append(args, "-filter:a", "loudnorm")
	}
	args = append(args, outPath)

	start := time.Now()
	if _, err := r.runner.Run(ctx, exec.Invocation{
		Tool:    "ffmpeg",
		Path:    r.opts.FFmpegPath,
		Args:    args,
		Dir:     ws.Dir,
		Timeout: r.opts.EncodeTimeout,
	}); err != nil {
		return workspace.Artifact{}, err
	}
	out, err := ws.Produce(workspace.EncodedAudio, apperrors.StageRendering)
	if err != nil {
		return workspace.Artifact{}, err
	}
	log.Info("render.encoded", "path", out.Path, "format", ws.AudioFormat, "duration", time.Since(start))
	return out, nil
}

// ValidFormat reports whether the encoder output format is supported
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Describe summarizes the render settings for progress output
func (o Options) Describe(format string) string {
	s := fmt.Sprintf("%s, %d Hz, gain %.2f", format, o.SampleRate, o.Gain)
	if o.Loudnorm {
		s += ", loudnorm"
	}
	return s
}
