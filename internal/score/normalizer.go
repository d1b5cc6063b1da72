package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

// Result contains the normalization outputs
type Result struct {
	Notation workspace.Artifact
	MIDI     workspace.Artifact
	Sequence workspace.Artifact
	Stats    Stats
	Duration float64 // seconds of playback derived from the timeline
	Title    string
}

// Normalizer cleans raw notation and derives MIDI from the cleaned tree
type Normalizer struct {
	Options Options
	MIDI    MIDIOptions
}

// NewNormalizer creates a new normalizer
func NewNormalizer(opts Options, midiOpts MIDIOptions) *Normalizer {
	return &Normalizer{Options: opts, MIDI: midiOpts}
}

// Normalize parses the raw notation, cleans it, writes the normalized
// document and derives the MIDI file from the same in-memory tree.
func (n *Normalizer) Normalize(ctx context.Context, raw workspace.Artifact, ws *workspace.Workspace) (*Result, error) {
	s, err := Load(raw.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := Normalize(s, n.Options)
	if err != nil {
		return nil, err
	}

	// Notes can still fall silent here: transposed out of the MIDI range
	// or removed by the hand and voicing reductions.
	tl := BuildTimeline(s, n.MIDI.Transpose).Reduce(n.Options)
	stats.Sounding = len(tl.Notes)
	log.Info("normalize.cleaned",
		"parts_in", stats.PartsIn, "parts_out", stats.PartsOut,
		"dropped_voices", stats.DroppedVoices,
		"padded", stats.PaddedMeasures, "truncated", stats.TruncatedMeasures,
		"playable", stats.PlayableOut, "sounding", stats.Sounding)
	if stats.Sounding == 0 {
		return nil, apperrors.NewStageError(apperrors.StageNormalization, apperrors.KindEmptyScore,
			fmt.Sprintf("%d playable note(s) after cleanup, none left to sound", stats.PlayableOut), nil)
	}

	notationPath, err := ws.Allocate(workspace.NormalizedNotation)
	if err != nil {
		return nil, err
	}
	if err := Save(notationPath, s); err != nil {
		return nil, fmt.Errorf("write normalized notation: %w", err)
	}
	notation, err := ws.Produce(workspace.NormalizedNotation, apperrors.StageNormalization)
	if err != nil {
		return nil, err
	}

	midiPath, err := ws.Allocate(workspace.MIDI)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteTimeline(&buf, s, tl, n.MIDI); err != nil {
		return nil, err
	}
	if err := os.WriteFile(midiPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	midiArtifact, err := ws.Produce(workspace.MIDI, apperrors.StageNormalization)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Notation: notation,
		MIDI:     midiArtifact,
		Stats:    stats,
		Duration: tl.Seconds(n.MIDI.withDefaults().DefaultTempo),
		Title:    s.Title(),
	}

	// The note sequence is a debugging aid; failing to write it is not fatal.
	seq, err := writeSequence(ws, tl.NoteSequence(s))
	if err != nil {
		log.Warn("normalize.sequence_failed", "error", err)
	} else {
		result.Sequence = seq
	}
	return result, nil
}

func writeSequence(ws *workspace.Workspace, entries []SequenceEntry) (workspace.Artifact, error) {
	p, err := ws.Allocate(workspace.NoteSequence)
	if err != nil {
		return workspace.Artifact{}, err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return workspace.Artifact{}, err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return workspace.Artifact{}, err
	}
	return ws.Produce(workspace.NoteSequence, apperrors.StageNormalization)
}
