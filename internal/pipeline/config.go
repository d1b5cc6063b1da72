package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/recognition"
	"github.com/ruturajsinh-rathod/TuneReader/internal/render"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

// Config holds pipeline configuration. It is passed explicitly to every run.
type Config struct {
	InputPath string
	OutputDir string
	BaseName  string // run directory and file base name; defaults to the input's

	AudiverisPath  string
	MuseScorePath  string
	FluidSynthPath string
	FFmpegPath     string
	PdftoppmPath   string // empty disables PDF rasterization before OMR
	Soundfont      string

	OMRTimeout    time.Duration
	EditorTimeout time.Duration
	RasterTimeout time.Duration
	SynthTimeout  time.Duration
	EncodeTimeout time.Duration

	AudioFormat  string
	SampleRate   int
	Gain         float64
	Loudnorm     bool
	KeepWaveform bool
	TempoBPM     float64 // 0 keeps the score's tempo
	Transpose    int     // semitones
	Hand         score.Hand
	Monophonic   score.Voicing

	UseCache bool
	CacheDir string
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		OutputDir:      "output",
		AudiverisPath:  "audiveris",
		MuseScorePath:  "musescore",
		FluidSynthPath: "fluidsynth",
		FFmpegPath:     "ffmpeg",
		OMRTimeout:     10 * time.Minute,
		EditorTimeout:  3 * time.Minute,
		RasterTimeout:  3 * time.Minute,
		SynthTimeout:   5 * time.Minute,
		EncodeTimeout:  5 * time.Minute,
		AudioFormat:    "mp3",
		SampleRate:     44100,
		Gain:           1.0,
	}
}

// Validate checks the configuration before any tool runs. Executables are
// only required to be configured; resolving them is the runner's job so a
// missing OMR engine can still fall back for PDFs.
func (c Config) Validate() error {
	if strings.TrimSpace(c.InputPath) == "" {
		return &apperrors.ConfigError{Which: "input", Reason: "not set"}
	}
	if info, err := os.Stat(c.InputPath); err != nil {
		return &apperrors.ConfigError{Which: "input", Path: c.InputPath, Reason: "file not found"}
	} else if info.IsDir() {
		return &apperrors.ConfigError{Which: "input", Path: c.InputPath, Reason: "is a directory"}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return &apperrors.ConfigError{Which: "output_dir", Reason: "not set"}
	}
	if strings.TrimSpace(c.AudiverisPath) == "" {
		return &apperrors.ConfigError{Which: "omr_engine", Reason: "not set"}
	}
	if strings.TrimSpace(c.Soundfont) == "" {
		return &apperrors.ConfigError{Which: "soundfont", Reason: "not set"}
	}
	if info, err := os.Stat(c.Soundfont); err != nil || info.IsDir() {
		return &apperrors.ConfigError{Which: "soundfont", Path: c.Soundfont, Reason: "file not found"}
	}
	if !render.ValidFormat(c.AudioFormat) {
		return &apperrors.ConfigError{Which: "format", Reason: fmt.Sprintf("unsupported audio format %q", c.AudioFormat)}
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return &apperrors.ConfigError{Which: "sample_rate", Reason: fmt.Sprintf("%d Hz out of range", c.SampleRate)}
	}
	if c.Gain <= 0 || c.Gain > 10 {
		return &apperrors.ConfigError{Which: "gain", Reason: fmt.Sprintf("%.2f out of range (0, 10]", c.Gain)}
	}
	if c.TempoBPM < 0 || c.TempoBPM > 400 {
		return &apperrors.ConfigError{Which: "tempo", Reason: fmt.Sprintf("%.1f BPM out of range", c.TempoBPM)}
	}
	if c.Transpose < -48 || c.Transpose > 48 {
		return &apperrors.ConfigError{Which: "transpose", Reason: fmt.Sprintf("%d semitones out of range", c.Transpose)}
	}
	if !c.Hand.Valid() {
		return &apperrors.ConfigError{Which: "hand", Reason: fmt.Sprintf("unknown hand %q", c.Hand)}
	}
	if !c.Monophonic.Valid() {
		return &apperrors.ConfigError{Which: "monophonic", Reason: fmt.Sprintf("unknown voicing %q", c.Monophonic)}
	}
	return nil
}

func (c Config) recognitionConfig() recognition.Config {
	return recognition.Config{
		AudiverisPath: c.AudiverisPath,
		MuseScorePath: c.MuseScorePath,
		PdftoppmPath:  c.PdftoppmPath,
		OMRTimeout:    c.OMRTimeout,
		EditorTimeout: c.EditorTimeout,
		RasterTimeout: c.RasterTimeout,
	}
}

func (c Config) normalizerOptions() (score.Options, score.MIDIOptions) {
	return score.Options{TempoBPM: c.TempoBPM, Hand: c.Hand, Monophonic: c.Monophonic},
		score.MIDIOptions{Transpose: c.Transpose, DefaultTempo: c.TempoBPM}
}

func (c Config) renderOptions() render.Options {
	return render.Options{
		FluidSynthPath: c.FluidSynthPath,
		FFmpegPath:     c.FFmpegPath,
		SampleRate:     c.SampleRate,
		Gain:           c.Gain,
		Loudnorm:       c.Loudnorm,
		KeepWaveform:   c.KeepWaveform,
		SynthTimeout:   c.SynthTimeout,
		EncodeTimeout:  c.EncodeTimeout,
	}
}

// fingerprint covers every setting that changes the rendered audio. Tool
// paths and timeouts are left out.
func (c Config) fingerprint() string {
	sf := c.Soundfont
	if info, err := os.Stat(c.Soundfont); err == nil {
		sf = fmt.Sprintf("%s:%d:%d", c.Soundfont, info.Size(), info.ModTime().Unix())
	}
	return fmt.Sprintf("format=%s|rate=%d|gain=%g|loudnorm=%t|tempo=%g|transpose=%d|hand=%s|mono=%s|sf=%s|raster=%t",
		c.AudioFormat, c.SampleRate, c.Gain, c.Loudnorm, c.TempoBPM, c.Transpose, c.Hand, c.Monophonic, sf, c.PdftoppmPath != "")
}
