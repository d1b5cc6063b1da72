package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure independently of the stage that raised it
type Kind string

const (
	KindConfigurationInvalid Kind = "configuration_invalid"

	KindToolNotFound      Kind = "tool_not_found"
	KindToolTimedOut      Kind = "tool_timed_out"
	KindToolExitedNonZero Kind = "tool_exited_non_zero"

	KindMissingArtifact Kind = "missing_artifact"
	KindEmptyArtifact   Kind = "empty_artifact"

	KindUnsupportedInputKind Kind = "unsupported_input_kind"
	KindRecognitionFailed    Kind = "recognition_failed"
	KindNoFallbackAvailable  Kind = "no_fallback_available"

	KindUnparsableNotation Kind = "unparsable_notation"
	KindEmptyScore         Kind = "empty_score"

	KindSoundfontNotFound Kind = "soundfont_not_found"
	KindSynthesisFailed   Kind = "synthesis_failed"
	KindEncodingFailed    Kind = "encoding_failed"

	KindPipelineFailed Kind = "pipeline_failed"
)

// Sentinel errors for expected failure modes, one per Kind.
var (
	ErrConfigurationInvalid = errors.New("configuration invalid")

	ErrToolNotFound      = errors.New("tool not found")
	ErrToolTimedOut      = errors.New("tool timed out")
	ErrToolExitedNonZero = errors.New("tool exited non-zero")

	ErrMissingArtifact = errors.New("artifact missing")
	ErrEmptyArtifact   = errors.New("artifact empty")

	ErrUnsupportedInputKind = errors.New("unsupported input kind")
	ErrRecognitionFailed    = errors.New("recognition failed")
	ErrNoFallbackAvailable  = errors.New("no fallback available")

	ErrUnparsableNotation = errors.New("notation unparsable")
	ErrEmptyScore         = errors.New("score has no playable events")

	ErrSoundfontNotFound = errors.New("soundfont not found")
	ErrSynthesisFailed   = errors.New("synthesis failed")
	ErrEncodingFailed    = errors.New("encoding failed")

	ErrPipelineFailed = errors.New("pipeline failed")
)

var sentinels = map[Kind]error{
	KindConfigurationInvalid: ErrConfigurationInvalid,
	KindToolNotFound:         ErrToolNotFound,
	KindToolTimedOut:         ErrToolTimedOut,
	KindToolExitedNonZero:    ErrToolExitedNonZero,
	KindMissingArtifact:      ErrMissingArtifact,
	KindEmptyArtifact:        ErrEmptyArtifact,
	KindUnsupportedInputKind: ErrUnsupportedInputKind,
	KindRecognitionFailed:    ErrRecognitionFailed,
	KindNoFallbackAvailable:  ErrNoFallbackAvailable,
	KindUnparsableNotation:   ErrUnparsableNotation,
	KindEmptyScore:           ErrEmptyScore,
	KindSoundfontNotFound:    ErrSoundfontNotFound,
	KindSynthesisFailed:      ErrSynthesisFailed,
	KindEncodingFailed:       ErrEncodingFailed,
	KindPipelineFailed:       ErrPipelineFailed,
}

// Sentinel returns the sentinel error matching a kind
func Sentinel(kind Kind) error {
	return sentinels[kind]
}

// Stage names a pipeline stage
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StageRecognition   Stage = "recognition"
	StageNormalization Stage = "normalization"
	StageRendering     Stage = "rendering"
)

// ConfigError reports a required path that is missing or unusable
type ConfigError struct {
	Which  string // "input", "output_dir", "omr_engine", "soundfont"
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration invalid: %s", e.Which)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfigurationInvalid }

// ToolError represents a failure of one external process invocation
type ToolError struct {
	Kind     Kind // KindToolNotFound, KindToolTimedOut or KindToolExitedNonZero
	Tool     string
	Path     string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case KindToolNotFound:
		return fmt.Sprintf("%s not found at %q", e.Tool, e.Path)
	case KindToolTimedOut:
		return fmt.Sprintf("%s timed out", e.Tool)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, tail(stderr, 512))
	}
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
}

func (e *ToolError) Unwrap() error { return e.Cause }

func (e *ToolError) Is(target error) bool { return target == Sentinel(e.Kind) }

// NewToolError creates a ToolError
func NewToolError(kind Kind, tool, path string, exitCode int, stderr string, cause error) *ToolError {
	return &ToolError{
		Kind:     kind,
		Tool:     tool,
		Path:     path,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// ArtifactError reports a failed artifact validation
type ArtifactError struct {
	Kind   Kind // KindMissingArtifact or KindEmptyArtifact
	Name   string
	Path   string
	Reason string // set when the file exists but its content is unusable
}

func (e *ArtifactError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("artifact %q is unusable (path=%s): %s", e.Name, e.Path, e.Reason)
	}
	if e.Kind == KindEmptyArtifact {
		return fmt.Sprintf("artifact %q is empty (path=%s)", e.Name, e.Path)
	}
	return fmt.Sprintf("artifact %q is missing (path=%s)", e.Name, e.Path)
}

func (e *ArtifactError) Is(target error) bool { return target == Sentinel(e.Kind) }

// StageError is the failure outcome of a single stage
type StageError struct {
	Stage   Stage
	Kind    Kind
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Cause }

func (e *StageError) Is(target error) bool { return target == Sentinel(e.Kind) }

// NewStageError creates a StageError
func NewStageError(stage Stage, kind Kind, message string, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: message, Cause: cause}
}

// PipelineError is the terminal failure of a run. Stage always names the
// stage the failure originated in.
type PipelineError struct {
	Stage Stage
	Cause error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

func (e *PipelineError) Is(target error) bool { return target == ErrPipelineFailed }

// KindOf returns the kind of the outermost classified error in the chain,
// looking through a PipelineError to its cause.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		err = pe.Cause
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfigurationInvalid
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	var ae *ArtifactError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the kind
func IsKind(err error, kind Kind) bool {
	s := Sentinel(kind)
	return s != nil && errors.Is(err, s)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
