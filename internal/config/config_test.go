package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, "mp3", cfg.Audio.Format)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, "10m0s", cfg.Timeouts.OMR)
	assert.True(t, cfg.Cache.Enabled)

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, p.OMRTimeout)
	assert.Equal(t, "audiveris", p.AudiverisPath)
	assert.True(t, p.UseCache)
}

func TestLaterFilesOverrideEarlier(t *testing.T) {
	user := writeConfig(t, t.TempDir(), `
soundfont: /usr/share/sounds/sf2/FluidR3_GM.sf2
tools:
  audiveris: /opt/audiveris/bin/Audiveris
audio:
  format: ogg
`)
	project := writeConfig(t, t.TempDir(), `
audio:
  format: flac
  loudnorm: true
score:
  tempo: 96
  transpose: -2
timeouts:
  omr: 20m
`)

	cfg, err := LoadFrom(user, project, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, "/usr/share/sounds/sf2/FluidR3_GM.sf2", p.Soundfont)
	assert.Equal(t, "/opt/audiveris/bin/Audiveris", p.AudiverisPath)
	assert.Equal(t, "musescore", p.MuseScorePath, "untouched fields keep defaults")
	assert.Equal(t, "flac", p.AudioFormat)
	assert.True(t, p.Loudnorm)
	assert.Equal(t, 96.0, p.TempoBPM)
	assert.Equal(t, -2, p.Transpose)
	assert.Equal(t, 20*time.Minute, p.OMRTimeout)
	assert.Equal(t, 3*time.Minute, p.EditorTimeout)
}

func TestLoadFromRejectsBrokenYAML(t *testing.T) {
	p := writeConfig(t, t.TempDir(), "audio: [not, a, map")
	_, err := LoadFrom(p)
	assert.Error(t, err)
}

func TestPipelineRejectsBadDurations(t *testing.T) {
	cfg := defaults()
	cfg.Timeouts.Synth = "soon"
	_, err := cfg.Pipeline()
	assert.ErrorContains(t, err, "timeouts.synth")

	cfg = defaults()
	cfg.Timeouts.Encode = "-1s"
	_, err = cfg.Pipeline()
	assert.ErrorContains(t, err, "timeouts.encode")
}

func TestPipelineReadsReductions(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `
score:
  hand: right
  monophonic: top
`)
	cfg, err := LoadFrom(p)
	require.NoError(t, err)
	pc, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, score.HandRight, pc.Hand)
	assert.Equal(t, score.VoicingTop, pc.Monophonic)

	cfg = defaults()
	cfg.Score.Monophonic = "loudest"
	_, err = cfg.Pipeline()
	assert.ErrorContains(t, err, "score.monophonic")

	cfg = defaults()
	cfg.Score.Hand = "third"
	_, err = cfg.Pipeline()
	assert.ErrorContains(t, err, "score.hand")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "sf", "piano.sf2"), expandHome("~/sf/piano.sf2"))
	assert.Equal(t, "/abs/piano.sf2", expandHome("/abs/piano.sf2"))
	assert.Equal(t, "", expandHome(""))
}
