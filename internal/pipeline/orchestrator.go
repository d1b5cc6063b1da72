package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	"github.com/ruturajsinh-rathod/TuneReader/internal/document"
	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/progress"
	"github.com/ruturajsinh-rathod/TuneReader/internal/recognition"
	"github.com/ruturajsinh-rathod/TuneReader/internal/render"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// Result contains all pipeline outputs
type Result struct {
	RunID        string
	RunDir       string
	DocumentKind document.Kind
	AudioPath    string
	MIDIPath     string
	NotationPath string
	Title        string
	Duration     float64 // seconds of rendered music
	Stats        score.Stats
	Artifacts    []workspace.Artifact
	CacheKey     string
	Cached       bool
	Elapsed      time.Duration
}

// Orchestrator coordinates the full processing pipeline
type Orchestrator struct {
	runner   exec.Runner
	prober   document.Prober
	cache    *cache.Cache
	progress *progress.Reporter
}

// NewOrchestrator creates a new pipeline orchestrator. A nil runner uses
// child processes.
func NewOrchestrator(runner exec.Runner, out io.Writer, verbose bool) *Orchestrator {
	if runner == nil {
		runner = exec.NewRunner(0)
	}
	return &Orchestrator{
		runner:   runner,
		prober:   document.PDFProber{},
		progress: progress.NewReporter(out, verbose),
	}
}

// WithCache enables reuse of finished conversions for configs with UseCache
func (o *Orchestrator) WithCache(c *cache.Cache) *Orchestrator {
	o.cache = c
	return o
}

// WithProber replaces the PDF vector/raster probe
func (o *Orchestrator) WithProber(p document.Prober) *Orchestrator {
	o.prober = p
	return o
}

// ExecutePath opens cfg.InputPath as a document, then runs the pipeline
func (o *Orchestrator) ExecutePath(ctx context.Context, cfg Config) (*Result, error) {
	o.progress.StartStage(progress.StageValidate)
	if err := cfg.Validate(); err != nil {
		o.progress.Error(err)
		return nil, &apperrors.PipelineError{Stage: apperrors.StageConfiguration, Cause: err}
	}
	doc, err := document.Open(cfg.InputPath, o.prober)
	if err != nil {
		stage := apperrors.StageConfiguration
		if apperrors.IsKind(err, apperrors.KindUnsupportedInputKind) {
			stage = apperrors.StageRecognition
		}
		o.progress.Error(err)
		return nil, &apperrors.PipelineError{Stage: stage, Cause: err}
	}
	return o.execute(ctx, doc, cfg)
}

// Execute runs recognition, normalization and rendering strictly in order
// and stops at the first failure. The returned error is always a
// *errors.PipelineError naming the failed stage.
func (o *Orchestrator) Execute(ctx context.Context, doc document.Document, cfg Config) (*Result, error) {
	o.progress.StartStage(progress.StageValidate)
	if cfg.InputPath == "" {
		cfg.InputPath = doc.Path
	}
	if err := cfg.Validate(); err != nil {
		o.progress.Error(err)
		return nil, &apperrors.PipelineError{Stage: apperrors.StageConfiguration, Cause: err}
	}
	return o.execute(ctx, doc, cfg)
}

func (o *Orchestrator) execute(ctx context.Context, doc document.Document, cfg Config) (result *Result, err error) {
	start := time.Now()
	o.progress.StageComplete("%s (%s)", doc.Path, doc.Kind)

	base := cfg.BaseName
	if base == "" {
		base = doc.BaseName()
	}
	ws, err := workspace.Create(cfg.OutputDir, base)
	if err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageConfiguration, Cause: err}
	}
	ws.AudioFormat = cfg.AudioFormat

	logger := log.L().With("run_id", ws.RunID)
	logger.Info("run.start", "input", doc.Path, "kind", doc.Kind, "dir", ws.Dir)

	defer func() {
		if mErr := ws.SaveManifest(err); mErr != nil {
			logger.Warn("run.manifest_failed", "error", mErr)
		}
		if err != nil {
			logger.Error("run.failed", "error", err, "kind", apperrors.KindOf(err), "duration", time.Since(start))
			o.progress.Error(err)
			return
		}
		result.Artifacts = ws.Manifest()
		result.Elapsed = time.Since(start)
		logger.Info("run.done", "audio", result.AudioPath, "cached", result.Cached, "duration", result.Elapsed)
	}()

	result = &Result{
		RunID:        ws.RunID,
		RunDir:       ws.Dir,
		DocumentKind: doc.Kind,
	}

	var cacheKey string
	if o.cache != nil && cfg.UseCache {
		cacheKey, err = cache.Key(doc.Path, cfg.fingerprint())
		if err != nil {
			o.progress.Warning("Cache key failed: %v", err)
			cacheKey, err = "", nil
		} else if entry, ok := o.cache.Get(cacheKey); ok {
			restored, rErr := restore(entry, ws, result)
			if rErr == nil {
				result = restored
				result.CacheKey = cacheKey
				o.progress.Cached(cacheKey)
				return result, nil
			}
			o.progress.Warning("Cache restore failed: %v", rErr)
		}
		result.CacheKey = cacheKey
	}

	// Stage 2: recognition
	o.progress.StartStage(progress.StageRecognize)
	raw, err := recognition.NewStage(o.runner, cfg.recognitionConfig()).
		WithEvents(o.progress).
		Recognize(ctx, doc, ws)
	if err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageRecognition, Cause: err}
	}
	o.progress.StageComplete("Raw notation: %s", raw.Path)

	// Stage 3: normalization and MIDI
	o.progress.StartStage(progress.StageNormalize)
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageNormalization, Cause: err}
	}
	normOpts, midiOpts := cfg.normalizerOptions()
	norm, err := score.NewNormalizer(normOpts, midiOpts).Normalize(ctx, raw, ws)
	if err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageNormalization, Cause: err}
	}
	st := norm.Stats
	o.progress.StageComplete("%d part(s), %d measure(s), %d note(s)", st.PartsOut, st.Measures, st.Sounding)
	if len(st.DroppedParts) > 0 || st.DroppedVoices > 0 {
		o.progress.Update("Dropped %d silent part(s) and %d silent voice(s)", len(st.DroppedParts), st.DroppedVoices)
	}
	if st.PaddedMeasures+st.TruncatedMeasures+st.PlaceholderMeasures > 0 {
		o.progress.Update("Repaired measures: %d padded, %d truncated, %d empty",
			st.PaddedMeasures, st.TruncatedMeasures, st.PlaceholderMeasures)
	}
	result.MIDIPath = norm.MIDI.Path
	result.NotationPath = norm.Notation.Path
	result.Title = norm.Title
	result.Duration = norm.Duration
	result.Stats = st

	// Stage 4: synthesis and encoding
	o.progress.StartStage(progress.StageRender)
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageRendering, Cause: err}
	}
	ropts := cfg.renderOptions()
	o.progress.Update("Rendering %s", ropts.Describe(cfg.AudioFormat))
	audio, err := render.NewRenderer(o.runner, ropts).Render(ctx, norm.MIDI, cfg.Soundfont, ws)
	if err != nil {
		return nil, &apperrors.PipelineError{Stage: apperrors.StageRendering, Cause: err}
	}
	result.AudioPath = audio.Path
	o.progress.StageComplete("Audio: %s (%.1fs)", audio.Path, result.Duration)

	if cacheKey != "" {
		_, cErr := o.cache.Put(cacheKey, cache.Files{
			Audio:    result.AudioPath,
			MIDI:     result.MIDIPath,
			Notation: result.NotationPath,
		}, cache.Entry{
			Title:    result.Title,
			Source:   doc.Path,
			Format:   cfg.AudioFormat,
			Duration: result.Duration,
			Parts:    st.PartsOut,
			Measures: st.Measures,
			Notes:    st.PlayableOut,
			Sounding: st.Sounding,
		})
		if cErr != nil {
			o.progress.Warning("Cache save failed: %v", cErr)
		}
	}
	return result, nil
}

// restore fills a result from a cache entry whose files were copied into
// this run's workspace
func restore(entry *cache.Entry, ws *workspace.Workspace, base *Result) (*Result, error) {
	files, err := entry.Restore(ws)
	if err != nil {
		return nil, err
	}
	r := *base
	r.Cached = true
	r.Title = entry.Title
	r.Duration = entry.Duration
	r.Stats = score.Stats{
		PartsOut:    entry.Parts,
		Measures:    entry.Measures,
		PlayableOut: entry.Notes,
		Sounding:    entry.Sounding,
	}
	r.AudioPath = files.Audio.Path
	r.MIDIPath = files.MIDI.Path
	r.NotationPath = files.Notation.Path
	return &r, nil
}

// FailedStage returns the stage named by a pipeline error, or "" otherwise
func FailedStage(err error) apperrors.Stage {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
