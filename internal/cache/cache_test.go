package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestKeyDependsOnContentAndSettings(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.pdf", "same bytes")
	b := writeFile(t, dir, "b.pdf", "same bytes")
	c := writeFile(t, dir, "c.pdf", "other bytes")

	ka, err := Key(a, "mp3|44100")
	require.NoError(t, err)
	kb, err := Key(b, "mp3|44100")
	require.NoError(t, err)
	kc, err := Key(c, "mp3|44100")
	require.NoError(t, err)
	kd, err := Key(a, "ogg|44100")
	require.NoError(t, err)

	assert.Equal(t, ka, kb, "file name does not matter")
	assert.NotEqual(t, ka, kc)
	assert.NotEqual(t, ka, kd)
	assert.Len(t, ka, len("conv_")+20)

	_, err = Key(filepath.Join(dir, "missing.pdf"), "")
	assert.Error(t, err)
}

func TestPutThenGet(t *testing.T) {
	src := t.TempDir()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	files := Files{
		Audio:    writeFile(t, src, "song.mp3", "audio"),
		MIDI:     writeFile(t, src, "song.mid", "midi"),
		Notation: writeFile(t, src, "normalized.xml", "<score-partwise/>"),
	}
	put, err := c.Put("conv_1", files, Entry{Title: "Song", Source: "song.pdf", Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "conv_1", "audio.mp3"), put.AudioPath)

	got, ok := c.Get("conv_1")
	require.True(t, ok)
	assert.Equal(t, "Song", got.Title)
	assert.Equal(t, "mp3", got.Format)
	assert.Equal(t, put.AudioPath, got.AudioPath)
	assert.FileExists(t, got.MIDIPath)
	assert.FileExists(t, got.NotationPath)

	data, err := os.ReadFile(got.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestGetRejectsStaleOrBrokenEntries(t *testing.T) {
	src := t.TempDir()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, ok := c.Get("conv_missing")
	assert.False(t, ok)

	e, err := c.Put("conv_stale", Files{Audio: writeFile(t, src, "a.mp3", "x")}, Entry{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "conv_stale", versionFile), []byte("old"), 0o644))
	_, ok = c.Get("conv_stale")
	assert.False(t, ok, "version mismatch")

	e, err = c.Put("conv_gone", Files{Audio: writeFile(t, src, "b.mp3", "x")}, Entry{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(e.AudioPath))
	_, ok = c.Get("conv_gone")
	assert.False(t, ok, "audio removed")
}

func TestPutRequiresAudio(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	_, err = c.Put("conv_x", Files{Audio: filepath.Join(t.TempDir(), "none.mp3")}, Entry{})
	assert.Error(t, err)
}

func TestListSizeAndClear(t *testing.T) {
	src := t.TempDir()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, err = c.Put("conv_a", Files{Audio: writeFile(t, src, "a.mp3", "aaaa")}, Entry{Title: "A"})
	require.NoError(t, err)
	_, err = c.Put("conv_b", Files{Audio: writeFile(t, src, "b.mp3", "bb")}, Entry{Title: "B"})
	require.NoError(t, err)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	size, count, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Greater(t, size, int64(6))

	require.NoError(t, c.Remove("conv_a"))
	entries, err = c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].Title)

	require.NoError(t, c.Clear())
	entries, err = c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	size, count, err = c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, count)
}

func TestRestoreIntoWorkspace(t *testing.T) {
	src := t.TempDir()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, err = c.Put("conv_2", Files{
		Audio: writeFile(t, src, "song.ogg", "audio"),
		MIDI:  writeFile(t, src, "song.mid", "midi"),
	}, Entry{Title: "Song", Format: "ogg", Duration: 12.5, Parts: 1, Measures: 8, Notes: 30, Sounding: 28})
	require.NoError(t, err)

	entry, ok := c.Get("conv_2")
	require.True(t, ok)
	assert.Equal(t, 12.5, entry.Duration)
	assert.Equal(t, 8, entry.Measures)
	assert.Equal(t, 30, entry.Notes)

	ws, err := workspace.Create(t.TempDir(), "song")
	require.NoError(t, err)
	ws.AudioFormat = "ogg"

	r, err := entry.Restore(ws)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "song.ogg"), r.Audio.Path)
	assert.Equal(t, filepath.Join(ws.Dir, "song.mid"), r.MIDI.Path)
	assert.Empty(t, r.Notation.Path, "entry had no notation")

	data, err := os.ReadFile(r.Audio.Path)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
	assert.Len(t, ws.Manifest(), 2)
}
