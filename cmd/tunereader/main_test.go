package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruturajsinh-rathod/TuneReader/internal/config"
	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

func TestExitCode(t *testing.T) {
	stageErr := func(stage apperrors.Stage) error {
		return &apperrors.PipelineError{Stage: stage, Cause: errors.New("boom")}
	}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"config error", &apperrors.ConfigError{Which: "soundfont"}, exitConfiguration},
		{"configuration stage", stageErr(apperrors.StageConfiguration), exitConfiguration},
		{"recognition", stageErr(apperrors.StageRecognition), exitRecognition},
		{"normalization", stageErr(apperrors.StageNormalization), exitNormalization},
		{"rendering", fmt.Errorf("run: %w", stageErr(apperrors.StageRendering)), exitRendering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCheckDependencies(t *testing.T) {
	sf := filepath.Join(t.TempDir(), "piano.sf2")
	require.NoError(t, os.WriteFile(sf, []byte("sfbk"), 0o644))

	p := pipeline.DefaultConfig()
	p.Soundfont = sf
	p.PdftoppmPath = "pdftoppm"
	installed := map[string]bool{"audiveris": true, "fluidsynth": true}
	resolve := func(path string) (string, error) {
		if installed[path] {
			return "/usr/bin/" + path, nil
		}
		return "", errors.New("not found")
	}

	byName := map[string]check{}
	for _, c := range checkDependencies(p, resolve) {
		byName[c.Name] = c
	}

	assert.True(t, byName["audiveris"].ok())
	assert.Equal(t, "/usr/bin/audiveris", byName["audiveris"].Found)
	assert.False(t, byName["musescore"].ok())
	assert.True(t, byName["musescore"].Optional)
	assert.False(t, byName["ffmpeg"].ok())
	assert.False(t, byName["ffmpeg"].Optional)
	assert.True(t, byName["pdftoppm"].Optional)
	assert.True(t, byName["soundfont"].ok())

	p.Soundfont = ""
	for _, c := range checkDependencies(p, resolve) {
		if c.Name == "soundfont" {
			assert.False(t, c.ok())
		}
	}
}

func newConvertCmd() *cobra.Command {
	c := &cobra.Command{Use: "convert"}
	c.Flags().StringVar(&soundfont, "soundfont", "", "")
	c.Flags().StringVar(&audiveris, "audiveris", "", "")
	c.Flags().StringVar(&pdftoppm, "pdftoppm", "", "")
	c.Flags().BoolVar(&noRasterize, "no-rasterize", false, "")
	c.Flags().StringVarP(&audioFormat, "format", "f", "", "")
	c.Flags().Float64Var(&tempoBPM, "tempo", 0, "")
	c.Flags().BoolVar(&noCache, "no-cache", false, "")
	c.Flags().StringVar(&omrTimeout, "omr-timeout", "", "")
	c.Flags().StringVar(&hand, "hand", "", "")
	c.Flags().StringVar(&monophonic, "monophonic", "", "")
	return c
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
soundfont: /from/config.sf2
tools:
  audiveris: /opt/audiveris
  pdftoppm: pdftoppm
audio:
  format: flac
score:
  tempo: 80
`), 0o644))

	var err error
	cfg, err = config.LoadFrom(file)
	require.NoError(t, err)

	cmd := newConvertCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--soundfont", "/from/flag.sf2", "-f", "ogg", "--no-cache", "--no-rasterize", "--omr-timeout", "90s",
		"--hand", "left", "--monophonic", "bottom",
	}))

	p, err := pipelineConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.sf2", p.Soundfont)
	assert.Equal(t, "/opt/audiveris", p.AudiverisPath, "unset flags keep config values")
	assert.Equal(t, "ogg", p.AudioFormat)
	assert.Equal(t, 80.0, p.TempoBPM)
	assert.False(t, p.UseCache)
	assert.Empty(t, p.PdftoppmPath)
	assert.Equal(t, 90*time.Second, p.OMRTimeout)
	assert.Equal(t, score.HandLeft, p.Hand)
	assert.Equal(t, score.VoicingBottom, p.Monophonic)
}

func TestBadVoicingFlagIsConfigError(t *testing.T) {
	var err error
	cfg, err = config.LoadFrom()
	require.NoError(t, err)

	cmd := newConvertCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--monophonic", "loudest"}))

	_, err = pipelineConfig(cmd)
	var ce *apperrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "monophonic", ce.Which)
}

func TestBadTimeoutFlagIsConfigError(t *testing.T) {
	var err error
	cfg, err = config.LoadFrom()
	require.NoError(t, err)

	cmd := newConvertCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--omr-timeout", "never"}))

	_, err = pipelineConfig(cmd)
	var ce *apperrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "omr-timeout", ce.Which)
	assert.Equal(t, exitConfiguration, exitCode(err))
}
