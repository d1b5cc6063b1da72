package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ruturajsinh-rathod/TuneReader/internal/document"
	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// Strategy is one way of turning a document into notation
type Strategy string

const (
	StrategyOMR          Strategy = "omr"
	StrategyEditorExport Strategy = "editor-export"
)

// RasterDPI is the resolution PDF pages are rendered at before OMR
const RasterDPI = 400

// Config holds the tool paths and limits used by the stage
type Config struct {
	AudiverisPath string
	MuseScorePath string
	// PdftoppmPath enables page rasterization of PDFs before OMR when set
	PdftoppmPath string

	OMRTimeout    time.Duration
	EditorTimeout time.Duration
	RasterTimeout time.Duration
}

// Events receives strategy attempts and fallbacks as they happen
type Events interface {
	Attempt(strategy string)
	Fallback(from, to string, cause error)
}

type noEvents struct{}

func (noEvents) Attempt(string)                 {}
func (noEvents) Fallback(string, string, error) {}

// Stage produces raw notation from a document
type Stage struct {
	runner exec.Runner
	cfg    Config
	events Events
}

// NewStage creates a recognition stage
func NewStage(runner exec.Runner, cfg Config) *Stage {
	return &Stage{runner: runner, cfg: cfg, events: noEvents{}}
}

// WithEvents reports attempts and fallbacks to e
func (s *Stage) WithEvents(e Events) *Stage {
	if e != nil {
		s.events = e
	}
	return s
}

// Plan returns the strategies for a document kind, primary first. Only PDFs
// have an alternate.
func Plan(kind document.Kind) []Strategy {
	switch kind {
	case document.KindRaster:
		return []Strategy{StrategyOMR}
	case document.KindScannedPDF:
		return []Strategy{StrategyOMR, StrategyEditorExport}
	case document.KindVectorPDF:
		return []Strategy{StrategyEditorExport, StrategyOMR}
	default:
		return nil
	}
}

// ShouldFallback decides whether a failed primary strategy may be followed
// by the alternate one. The document must be a PDF and the failure must be
// a missing tool, a non-zero exit or a missing/empty output. Timeouts and
// cancellation never qualify.
func ShouldFallback(doc document.Document, err error) bool {
	if err == nil || !doc.Kind.IsPDF() {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if apperrors.IsKind(err, apperrors.KindToolTimedOut) {
		return false
	}
	for _, k := range []apperrors.Kind{
		apperrors.KindToolNotFound,
		apperrors.KindToolExitedNonZero,
		apperrors.KindMissingArtifact,
		apperrors.KindEmptyArtifact,
	} {
		if apperrors.IsKind(err, k) {
			return true
		}
	}
	return false
}

// Recognize runs the primary strategy for the document and, when the
// failure qualifies, the alternate one. The returned artifact is the
// validated raw-notation file.
func (s *Stage) Recognize(ctx context.Context, doc document.Document, ws *workspace.Workspace) (workspace.Artifact, error) {
	plan := Plan(doc.Kind)
	if len(plan) == 0 {
		return workspace.Artifact{}, apperrors.NewStageError(apperrors.StageRecognition, apperrors.KindUnsupportedInputKind,
			fmt.Sprintf("%s (%s)", filepath.Base(doc.Path), doc.Kind), nil)
	}

	var attempts []error
	for i, strategy := range plan {
		start := time.Now()
		log.Info("recognition.attempt", "strategy", strategy, "kind", doc.Kind, "path", doc.Path)
		s.events.Attempt(string(strategy))

		art, err := s.run(ctx, strategy, doc, ws)
		if err == nil {
			log.Info("recognition.done", "strategy", strategy, "path", art.Path, "duration", time.Since(start))
			return art, nil
		}
		log.Warn("recognition.failed", "strategy", strategy, "error", err, "duration", time.Since(start))

		failed := apperrors.NewStageError(apperrors.StageRecognition, apperrors.KindRecognitionFailed,
			"strategy "+string(strategy), err)
		attempts = append(attempts, failed)

		if i == 0 && len(plan) > 1 && !ShouldFallback(doc, err) {
			return workspace.Artifact{}, failed
		}
		if i+1 < len(plan) {
			log.Info("recognition.fallback", "from", strategy, "to", plan[i+1])
			s.events.Fallback(string(strategy), string(plan[i+1]), err)
		}
	}

	msg := "no alternate strategy for " + string(doc.Kind)
	if len(plan) > 1 {
		msg = "all strategies failed"
	}
	return workspace.Artifact{}, apperrors.NewStageError(apperrors.StageRecognition, apperrors.KindNoFallbackAvailable,
		msg, errors.Join(attempts...))
}

func (s *Stage) run(ctx context.Context, strategy Strategy, doc document.Document, ws *workspace.Workspace) (workspace.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return workspace.Artifact{}, err
	}
	switch strategy {
	case StrategyOMR:
		return s.runOMR(ctx, doc, ws)
	case StrategyEditorExport:
		return s.runEditorExport(ctx, doc, ws)
	}
	return workspace.Artifact{}, fmt.Errorf("unknown strategy %q", strategy)
}

// runOMR rasterizes PDFs when configured, runs the OMR engine in batch mode
// and folds its per-page outputs into one raw notation document.
func (s *Stage) runOMR(ctx context.Context, doc document.Document, ws *workspace.Workspace) (workspace.Artifact, error) {
	inputs := []string{doc.Path}
	if doc.Kind.IsPDF() && s.cfg.PdftoppmPath != "" {
		pages, err := s.rasterize(ctx, doc, ws)
		if err != nil {
			return workspace.Artifact{}, err
		}
		inputs = pages
	}

	outDir, err := ws.Allocate(workspace.OMROutput)
	if err != nil {
		return workspace.Artifact{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return workspace.Artifact{}, fmt.Errorf("create omr output dir: %w", err)
	}
	logPath, err := ws.Allocate("audiveris.log")
	if err != nil {
		return workspace.Artifact{}, err
	}

	args := append([]string{"-batch", "-export", "-output", outDir, "--"}, inputs...)
	if _, err := s.runner.Run(ctx, exec.Invocation{
		Tool:    "audiveris",
		Path:    s.cfg.AudiverisPath,
		Args:    args,
		Dir:     ws.Dir,
		Timeout: s.cfg.OMRTimeout,
		LogPath: logPath,
	}); err != nil {
		return workspace.Artifact{}, err
	}

	if _, err := ws.Produce(workspace.OMROutput, apperrors.StageRecognition); err != nil {
		return workspace.Artifact{}, err
	}
	files, err := collectNotation(outDir)
	if err != nil {
		return workspace.Artifact{}, err
	}
	if len(files) == 0 {
		return workspace.Artifact{}, &apperrors.ArtifactError{Kind: apperrors.KindMissingArtifact, Name: workspace.RawNotation, Path: outDir}
	}
	log.Debug("recognition.omr_outputs", "count", len(files))
	return writeRawNotation(ws, files)
}

// rasterize renders every PDF page to a grayscale PNG in page-images
func (s *Stage) rasterize(ctx context.Context, doc document.Document, ws *workspace.Workspace) ([]string, error) {
	dir, err := ws.Allocate(workspace.PageImages)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create page images dir: %w", err)
	}

	if _, err := s.runner.Run(ctx, exec.Invocation{
		Tool:    "pdftoppm",
		Path:    s.cfg.PdftoppmPath,
		Args:    []string{"-r", strconv.Itoa(RasterDPI), "-gray", "-png", doc.Path, filepath.Join(dir, "page")},
		Dir:     ws.Dir,
		Timeout: s.cfg.RasterTimeout,
	}); err != nil {
		return nil, err
	}
	if _, err := ws.Produce(workspace.PageImages, apperrors.StageRecognition); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &apperrors.ArtifactError{Kind: apperrors.KindEmptyArtifact, Name: workspace.PageImages, Path: dir}
	}
	sortNatural(matches)
	return matches, nil
}

// runEditorExport asks the notation editor to export the document directly
func (s *Stage) runEditorExport(ctx context.Context, doc document.Document, ws *workspace.Workspace) (workspace.Artifact, error) {
	target, err := ws.Allocate(workspace.EditorExport)
	if err != nil {
		return workspace.Artifact{}, err
	}
	if _, err := s.runner.Run(ctx, exec.Invocation{
		Tool:    "musescore",
		Path:    s.cfg.MuseScorePath,
		Args:    []string{doc.Path, "--export-to", target},
		Dir:     ws.Dir,
		Timeout: s.cfg.EditorTimeout,
	}); err != nil {
		return workspace.Artifact{}, err
	}
	exported, err := ws.Produce(workspace.EditorExport, apperrors.StageRecognition)
	if err != nil {
		return workspace.Artifact{}, err
	}
	return writeRawNotation(ws, []string{exported.Path})
}
