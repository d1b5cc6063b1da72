package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

// Stage is one step of a conversion as shown to the user
type Stage struct {
	Number int
	Name   apperrors.Stage
	Label  string
}

var (
	StageValidate  = Stage{1, apperrors.StageConfiguration, "Checking input and settings"}
	StageRecognize = Stage{2, apperrors.StageRecognition, "Recognizing notation (OMR can take minutes per page)"}
	StageNormalize = Stage{3, apperrors.StageNormalization, "Cleaning notation and deriving MIDI"}
	StageRender    = Stage{4, apperrors.StageRendering, "Synthesizing and encoding audio"}
)

// Stages lists the conversion stages in run order
var Stages = []Stage{StageValidate, StageRecognize, StageNormalize, StageRender}

const indent = "       "

// Reporter prints conversion progress for a terminal or a job log. It also
// receives recognition attempts, so fallbacks show up as their own line.
type Reporter struct {
	mu         sync.Mutex
	out        io.Writer
	verbose    bool
	current    Stage
	stageStart time.Time
	now        func() time.Time
}

// NewReporter creates a reporter writing to out; nil discards everything
func NewReporter(out io.Writer, verbose bool) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{out: out, verbose: verbose, now: time.Now}
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// StartStage announces a stage and starts its clock
func (r *Reporter) StartStage(stage Stage) {
	r.mu.Lock()
	r.current = stage
	r.stageStart = r.now()
	r.mu.Unlock()
	r.printf("[%d/%d] %s...\n", stage.Number, len(Stages), stage.Label)
}

// Update shows detail within a stage, only in verbose mode
func (r *Reporter) Update(format string, args ...any) {
	if r.verbose {
		r.printf(indent+"%s\n", fmt.Sprintf(format, args...))
	}
}

// StageComplete reports a stage's outcome with the time it took
func (r *Reporter) StageComplete(format string, args ...any) {
	r.mu.Lock()
	elapsed := r.now().Sub(r.stageStart)
	r.mu.Unlock()
	r.printf(indent+"%s (%.1fs)\n", fmt.Sprintf(format, args...), elapsed.Seconds())
}

// Attempt notes that a recognition strategy is starting
func (r *Reporter) Attempt(strategy string) {
	r.Update("Trying %s", strategy)
}

// Fallback reports a failed recognition strategy and the one tried next
func (r *Reporter) Fallback(from, to string, cause error) {
	reason := string(apperrors.KindOf(cause))
	if reason == "" {
		reason = cause.Error()
	}
	r.printf(indent+"%s failed (%s), falling back to %s\n", from, reason, to)
}

// Cached reports that a finished conversion is being reused
func (r *Reporter) Cached(key string) {
	if len(key) > 13 {
		key = key[:13]
	}
	r.printf(indent+"Reusing cached conversion %s\n", key)
}

// Error announces a failure of the current stage
func (r *Reporter) Error(err error) {
	r.mu.Lock()
	stage := r.current.Name
	r.mu.Unlock()
	if stage == "" {
		r.printf("Error: %s\n", err)
		return
	}
	r.printf("Error: %s failed: %s\n", stage, err)
}

// Warning announces a non-fatal problem
func (r *Reporter) Warning(format string, args ...any) {
	r.printf("Warning: %s\n", fmt.Sprintf(format, args...))
}
