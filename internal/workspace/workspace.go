package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

// Logical artifact names
const (
	PageImages         = "page-images"
	OMROutput          = "omr-output"
	EditorExport       = "editor-export"
	RawNotation        = "raw-notation"
	NormalizedNotation = "normalized-notation"
	MIDI               = "midi"
	NoteSequence       = "note-sequence"
	Waveform           = "waveform"
	EncodedAudio       = "encoded-audio"
)

const manifestFile = "manifest.json"

// Artifact is a named file produced by a stage
type Artifact struct {
	Name  string          `json:"name"`
	Path  string          `json:"path"`
	Stage apperrors.Stage `json:"stage"`
}

// Workspace owns every intermediate file of a single pipeline run
type Workspace struct {
	Dir       string
	RunID     string
	BaseName  string
	CreatedAt time.Time

	// AudioFormat is the extension of the encoded-audio artifact
	AudioFormat string

	mu       sync.Mutex
	created  bool
	paths    map[string]string
	owners   map[string]string
	produced map[string]Artifact
}

// Create prepares a run-unique workspace under root. The directory itself is
// created lazily on the first Allocate.
func Create(root, baseName string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	now := time.Now()
	runID := uuid.New().String()
	base := sanitize(baseName)
	if base == "" {
		base = "score"
	}

	return &Workspace{
		Dir:         filepath.Join(abs, fmt.Sprintf("%s-%s-%s", base, now.Format("20060102-150405"), runID[:8])),
		RunID:       runID,
		BaseName:    base,
		CreatedAt:   now,
		AudioFormat: "mp3",
		paths:       make(map[string]string),
		owners:      make(map[string]string),
		produced:    make(map[string]Artifact),
	}, nil
}

// fileName maps a logical name to its on-disk name
func (w *Workspace) fileName(name string) string {
	switch name {
	case PageImages:
		return "images"
	case OMROutput:
		return "omr"
	case EditorExport:
		return "editor-export.musicxml"
	case RawNotation:
		return "raw-notation.xml"
	case NormalizedNotation:
		return "normalized.xml"
	case MIDI:
		return w.BaseName + ".mid"
	case NoteSequence:
		return w.BaseName + ".json"
	case Waveform:
		return w.BaseName + ".wav"
	case EncodedAudio:
		return w.BaseName + "." + w.AudioFormat
	}
	return sanitize(name)
}

func (w *Workspace) ensureDir() error {
	if w.created {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	w.created = true
	return nil
}

// Allocate returns the deterministic path for a logical artifact name,
// creating the workspace directory on first use. No two names share a path.
func (w *Workspace) Allocate(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureDir(); err != nil {
		return "", err
	}
	if p, ok := w.paths[name]; ok {
		return p, nil
	}

	file := w.fileName(name)
	if file == "" || file == manifestFile {
		file = "artifact-" + sanitize(name)
	}
	candidate := file
	for i := 2; ; i++ {
		if _, taken := w.owners[candidate]; !taken {
			break
		}
		ext := filepath.Ext(file)
		candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(file, ext), i, ext)
	}

	p := filepath.Join(w.Dir, candidate)
	w.paths[name] = p
	w.owners[candidate] = name
	return p, nil
}

// Path returns the allocated path for a name, allocating it if needed
func (w *Workspace) Path(name string) string {
	p, err := w.Allocate(name)
	if err != nil {
		return filepath.Join(w.Dir, w.fileName(name))
	}
	return p
}

// Exists reports whether the artifact file is present on disk
func (w *Workspace) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// Validate checks the artifact exists and is non-empty. Directory artifacts
// must contain at least one entry.
func (w *Workspace) Validate(name string) (Artifact, error) {
	p := w.Path(name)
	info, err := os.Stat(p)
	if err != nil {
		return Artifact{}, &apperrors.ArtifactError{Kind: apperrors.KindMissingArtifact, Name: name, Path: p}
	}
	if info.IsDir() {
		entries, err := os.ReadDir(p)
		if err != nil || len(entries) == 0 {
			return Artifact{}, &apperrors.ArtifactError{Kind: apperrors.KindEmptyArtifact, Name: name, Path: p}
		}
	} else if info.Size() == 0 {
		return Artifact{}, &apperrors.ArtifactError{Kind: apperrors.KindEmptyArtifact, Name: name, Path: p}
	}
	return Artifact{Name: name, Path: p}, nil
}

// Produce validates an artifact and records the stage that produced it
func (w *Workspace) Produce(name string, stage apperrors.Stage) (Artifact, error) {
	a, err := w.Validate(name)
	if err != nil {
		return Artifact{}, err
	}
	a.Stage = stage

	w.mu.Lock()
	w.produced[name] = a
	w.mu.Unlock()
	return a, nil
}

// Forget drops an artifact from the manifest after its file was removed
func (w *Workspace) Forget(name string) {
	w.mu.Lock()
	delete(w.produced, name)
	w.mu.Unlock()
}

// Manifest lists produced artifacts sorted by name
func (w *Workspace) Manifest() []Artifact {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Artifact, 0, len(w.produced))
	for _, a := range w.produced {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type manifest struct {
	RunID     string     `json:"run_id"`
	CreatedAt time.Time  `json:"created_at"`
	Artifacts []Artifact `json:"artifacts"`
	Error     string     `json:"error,omitempty"`
}

// SaveManifest writes manifest.json describing the run for later diagnosis
func (w *Workspace) SaveManifest(runErr error) error {
	m := manifest{
		RunID:     w.RunID,
		CreatedAt: w.CreatedAt,
		Artifacts: w.Manifest(),
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}

	w.mu.Lock()
	err := w.ensureDir()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(w.Dir, manifestFile), data, 0o644)
}

// CopyIn copies a file into the workspace under a logical name
func (w *Workspace) CopyIn(src, name string) (string, error) {
	dst, err := w.Allocate(name)
	if err != nil {
		return "", err
	}
	input, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dst, input, 0o644); err != nil {
		return "", fmt.Errorf("write destination: %w", err)
	}
	return dst, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "._")
}
