package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

// Config is the top-level configuration structure.
type Config struct {
	OutputDir string         `yaml:"output_dir"`
	Soundfont string         `yaml:"soundfont"`
	LogLevel  string         `yaml:"log_level"`
	LogFile   string         `yaml:"log_file"`
	Tools     ToolsConfig    `yaml:"tools"`
	Timeouts  TimeoutsConfig `yaml:"timeouts"`
	Audio     AudioConfig    `yaml:"audio"`
	Score     ScoreConfig    `yaml:"score"`
	Cache     CacheConfig    `yaml:"cache"`
	Server    ServerConfig   `yaml:"server"`
}

type ToolsConfig struct {
	Audiveris  string `yaml:"audiveris"`
	MuseScore  string `yaml:"musescore"`
	FluidSynth string `yaml:"fluidsynth"`
	FFmpeg     string `yaml:"ffmpeg"`
	Pdftoppm   string `yaml:"pdftoppm"`
	Player     string `yaml:"player"`
}

type TimeoutsConfig struct {
	OMR    string `yaml:"omr"`
	Editor string `yaml:"editor"`
	Raster string `yaml:"raster"`
	Synth  string `yaml:"synth"`
	Encode string `yaml:"encode"`
}

type AudioConfig struct {
	Format       string  `yaml:"format"`
	SampleRate   int     `yaml:"sample_rate"`
	Gain         float64 `yaml:"gain"`
	Loudnorm     bool    `yaml:"loudnorm"`
	KeepWaveform bool    `yaml:"keep_waveform"`
}

type ScoreConfig struct {
	Tempo      float64 `yaml:"tempo"`
	Transpose  int     `yaml:"transpose"`
	Hand       string  `yaml:"hand"`       // left, right or both
	Monophonic string  `yaml:"monophonic"` // top, bottom, first or last
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	MaxJobs     int    `yaml:"max_jobs"`
}

// Load resolves config from project → user → defaults.
func Load() (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tunereader", "config.yaml"))
	}
	paths = append(paths, filepath.Join(".tunereader", "config.yaml"))
	return LoadFrom(paths...)
}

// LoadFrom merges the given files over the defaults in order. Missing files
// are skipped.
func LoadFrom(paths ...string) (*Config, error) {
	cfg := defaults()
	for _, p := range paths {
		if err := mergeFile(cfg, p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading config %s: %w", p, err)
		}
	}
	return cfg, nil
}

func mergeFile(dst *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dst)
}

func defaults() *Config {
	d := pipeline.DefaultConfig()
	return &Config{
		OutputDir: d.OutputDir,
		LogLevel:  "info",
		Tools: ToolsConfig{
			Audiveris:  d.AudiverisPath,
			MuseScore:  d.MuseScorePath,
			FluidSynth: d.FluidSynthPath,
			FFmpeg:     d.FFmpegPath,
		},
		Timeouts: TimeoutsConfig{
			OMR:    d.OMRTimeout.String(),
			Editor: d.EditorTimeout.String(),
			Raster: d.RasterTimeout.String(),
			Synth:  d.SynthTimeout.String(),
			Encode: d.EncodeTimeout.String(),
		},
		Audio: AudioConfig{
			Format:     d.AudioFormat,
			SampleRate: d.SampleRate,
			Gain:       d.Gain,
		},
		Cache: CacheConfig{Enabled: true},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 100,
			MaxJobs:     2,
		},
	}
}

// Pipeline maps the file configuration onto a pipeline run configuration.
// The input path is left for the caller.
func (c *Config) Pipeline() (pipeline.Config, error) {
	p := pipeline.DefaultConfig()
	p.OutputDir = c.OutputDir
	p.Soundfont = expandHome(c.Soundfont)
	p.AudiverisPath = expandHome(c.Tools.Audiveris)
	p.MuseScorePath = expandHome(c.Tools.MuseScore)
	p.FluidSynthPath = expandHome(c.Tools.FluidSynth)
	p.FFmpegPath = expandHome(c.Tools.FFmpeg)
	p.PdftoppmPath = expandHome(c.Tools.Pdftoppm)

	timeouts := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"omr", c.Timeouts.OMR, &p.OMRTimeout},
		{"editor", c.Timeouts.Editor, &p.EditorTimeout},
		{"raster", c.Timeouts.Raster, &p.RasterTimeout},
		{"synth", c.Timeouts.Synth, &p.SynthTimeout},
		{"encode", c.Timeouts.Encode, &p.EncodeTimeout},
	}
	for _, t := range timeouts {
		if t.raw == "" {
			continue
		}
		d, err := time.ParseDuration(t.raw)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("timeouts.%s: %w", t.name, err)
		}
		if d <= 0 {
			return pipeline.Config{}, fmt.Errorf("timeouts.%s must be positive", t.name)
		}
		*t.dst = d
	}

	if c.Audio.Format != "" {
		p.AudioFormat = c.Audio.Format
	}
	if c.Audio.SampleRate != 0 {
		p.SampleRate = c.Audio.SampleRate
	}
	if c.Audio.Gain != 0 {
		p.Gain = c.Audio.Gain
	}
	p.Loudnorm = c.Audio.Loudnorm
	p.KeepWaveform = c.Audio.KeepWaveform
	p.TempoBPM = c.Score.Tempo
	p.Transpose = c.Score.Transpose
	hand, err := score.ParseHand(c.Score.Hand)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("score.hand: %w", err)
	}
	p.Hand = hand
	voicing, err := score.ParseVoicing(c.Score.Monophonic)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("score.monophonic: %w", err)
	}
	p.Monophonic = voicing
	p.UseCache = c.Cache.Enabled
	p.CacheDir = expandHome(c.Cache.Dir)
	return p, nil
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
