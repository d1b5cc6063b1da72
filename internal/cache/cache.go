package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// formatVersion changes whenever the cached layout or the derivation of its
// contents changes. Entries written under another version are ignored.
const formatVersion = "tunereader-2"

const (
	entryFile   = "entry.json"
	versionFile = ".version"
)

// Cache stores finished conversions keyed by input content and settings
type Cache struct {
	dir string
}

// Entry describes one cached conversion
type Entry struct {
	Key          string    `json:"key"`
	Title        string    `json:"title,omitempty"`
	Source       string    `json:"source"`
	Format       string    `json:"format"`
	AudioPath    string    `json:"audio"`
	MIDIPath     string    `json:"midi,omitempty"`
	NotationPath string    `json:"notation,omitempty"`
	CachedAt     time.Time `json:"cached_at"`

	// What the conversion measured, restored with the files
	Duration float64 `json:"duration_seconds,omitempty"`
	Parts    int     `json:"parts,omitempty"`
	Measures int     `json:"measures,omitempty"`
	Notes    int     `json:"notes,omitempty"`
	Sounding int     `json:"sounding,omitempty"`
}

// Restored holds the workspace artifacts copied out of an entry. MIDI and
// Notation are zero when the entry lost them.
type Restored struct {
	Audio    workspace.Artifact
	MIDI     workspace.Artifact
	Notation workspace.Artifact
}

// Files are the artifacts of a finished run worth keeping
type Files struct {
	Audio    string
	MIDI     string
	Notation string
}

// DefaultDir returns the per-user cache location
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "tunereader", "conversions"), nil
}

// New opens or creates a cache rooted at dir
func New(dir string) (*Cache, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root
func (c *Cache) Dir() string {
	return c.dir
}

// Key hashes the input document's content together with a fingerprint of
// every setting that changes the rendered output.
func Key(inputPath, fingerprint string) (string, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	hash.Write([]byte{0})
	hash.Write([]byte(fingerprint))
	hash.Write([]byte{0})
	hash.Write([]byte(formatVersion))

	return "conv_" + hex.EncodeToString(hash.Sum(nil))[:20], nil
}

// Get retrieves a cached conversion
func (c *Cache) Get(key string) (*Entry, bool) {
	sub := filepath.Join(c.dir, key)

	versionData, err := os.ReadFile(filepath.Join(sub, versionFile))
	if err != nil || strings.TrimSpace(string(versionData)) != formatVersion {
		return nil, false
	}

	entry, err := readEntry(sub)
	if err != nil {
		return nil, false
	}
	if !fileExists(entry.AudioPath) {
		return nil, false
	}
	if entry.MIDIPath != "" && !fileExists(entry.MIDIPath) {
		entry.MIDIPath = ""
	}
	if entry.NotationPath != "" && !fileExists(entry.NotationPath) {
		entry.NotationPath = ""
	}
	return entry, true
}

// Put copies the run's artifacts into the cache. The audio file is required.
func (c *Cache) Put(key string, files Files, meta Entry) (*Entry, error) {
	if files.Audio == "" || !fileExists(files.Audio) {
		return nil, fmt.Errorf("cache %s: audio file missing", key)
	}
	sub := filepath.Join(c.dir, key)
	if err := os.MkdirAll(sub, 0755); err != nil {
		return nil, fmt.Errorf("create cache subdir: %w", err)
	}

	entry := meta
	entry.Key = key
	entry.CachedAt = time.Now()

	var err error
	if entry.AudioPath, err = copyInto(sub, "audio", files.Audio); err != nil {
		return nil, fmt.Errorf("cache audio: %w", err)
	}
	if files.MIDI != "" {
		if entry.MIDIPath, err = copyInto(sub, "score", files.MIDI); err != nil {
			return nil, fmt.Errorf("cache midi: %w", err)
		}
	}
	if files.Notation != "" {
		if entry.NotationPath, err = copyInto(sub, "notation", files.Notation); err != nil {
			return nil, fmt.Errorf("cache notation: %w", err)
		}
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sub, entryFile), data, 0644); err != nil {
		return nil, fmt.Errorf("write entry: %w", err)
	}
	// The version marker goes last so a half-written entry is never served.
	if err := os.WriteFile(filepath.Join(sub, versionFile), []byte(formatVersion), 0644); err != nil {
		return nil, fmt.Errorf("write cache version: %w", err)
	}
	return &entry, nil
}

// Restore copies the entry's files into a run workspace and records each
// one as an artifact of the stage that would have produced it.
func (e *Entry) Restore(ws *workspace.Workspace) (Restored, error) {
	var r Restored
	files := []struct {
		src   string
		name  string
		stage apperrors.Stage
		dst   *workspace.Artifact
	}{
		{e.AudioPath, workspace.EncodedAudio, apperrors.StageRendering, &r.Audio},
		{e.MIDIPath, workspace.MIDI, apperrors.StageNormalization, &r.MIDI},
		{e.NotationPath, workspace.NormalizedNotation, apperrors.StageNormalization, &r.Notation},
	}
	for _, f := range files {
		if f.src == "" {
			continue
		}
		if _, err := ws.CopyIn(f.src, f.name); err != nil {
			return Restored{}, fmt.Errorf("restore %s: %w", f.name, err)
		}
		a, err := ws.Produce(f.name, f.stage)
		if err != nil {
			return Restored{}, fmt.Errorf("restore %s: %w", f.name, err)
		}
		*f.dst = a
	}
	return r, nil
}

// List returns the valid entries, newest first
func (c *Cache) List() ([]*Entry, error) {
	dirs, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var entries []*Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if e, ok := c.Get(d.Name()); ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CachedAt.After(entries[j].CachedAt)
	})
	return entries, nil
}

// Remove deletes a single entry
func (c *Cache) Remove(key string) error {
	return os.RemoveAll(filepath.Join(c.dir, key))
}

// Clear removes all cached conversions
func (c *Cache) Clear() error {
	return os.RemoveAll(c.dir)
}

// Size returns the total size of cached files in bytes and the entry count
func (c *Cache) Size() (int64, int, error) {
	var totalSize int64
	var count int

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		count++

		subdir := filepath.Join(c.dir, entry.Name())
		files, _ := os.ReadDir(subdir)
		for _, f := range files {
			info, err := f.Info()
			if err == nil {
				totalSize += info.Size()
			}
		}
	}

	return totalSize, count, nil
}

func readEntry(sub string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(sub, entryFile))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// copyInto copies src to dir/<stem><ext of src>
func copyInto(dir, stem, src string) (string, error) {
	dst := filepath.Join(dir, stem+filepath.Ext(src))
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}
