package score

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/workspace"
)

func rawArtifact(t *testing.T, doc string) (workspace.Artifact, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.Create(t.TempDir(), "score")
	require.NoError(t, err)
	p, err := ws.Allocate(workspace.RawNotation)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	raw, err := ws.Produce(workspace.RawNotation, apperrors.StageRecognition)
	require.NoError(t, err)
	return raw, ws
}

func singleNote(step string, octave int) string {
	part := `<part id="P1"><measure number="1">` + attrs44 + noteXML(step, octave, 4, "1") + `</measure></part>`
	return scoreXML(scorePart("P1", "Piano", 0), part)
}

// chordsScore has a C major triad on beat one, then A3 against a held E5
func chordsScore() string {
	part := `<part id="P1"><measure number="1">` + attrs44 +
		noteXML("C", 4, 2, "1") + noteXML("E", 4, 2, "1", "chord") + noteXML("G", 4, 2, "1", "chord") +
		noteXML("A", 3, 2, "1") +
		`<backup><duration>4</duration></backup>` +
		noteXML("E", 5, 4, "2") +
		`</measure></part>`
	return scoreXML(scorePart("P1", "Piano", 0), part)
}

func keysOf(notes []TimedNote) []int {
	keys := make([]int, 0, len(notes))
	for _, n := range notes {
		keys = append(keys, n.Key)
	}
	return keys
}

func TestNormalizerRejectsNotesTransposedOutOfRange(t *testing.T) {
	raw, ws := rawArtifact(t, singleNote("C", 8))

	_, err := NewNormalizer(Options{}, MIDIOptions{Transpose: 48}).Normalize(context.Background(), raw, ws)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindEmptyScore))
	assert.False(t, ws.Exists(workspace.MIDI))
}

func TestUnknownStepIsNotPlayable(t *testing.T) {
	s := mustDecode(t, singleNote("X", 4))
	assert.Zero(t, s.PlayableCount())

	raw, ws := rawArtifact(t, singleNote("X", 4))
	_, err := NewNormalizer(Options{}, MIDIOptions{}).Normalize(context.Background(), raw, ws)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindEmptyScore))
	assert.False(t, ws.Exists(workspace.MIDI))
}

func TestReduceHands(t *testing.T) {
	s := mustDecode(t, chordsScore())
	tl := BuildTimeline(s, 0)
	require.Len(t, tl.Notes, 5)

	left := tl.Reduce(Options{Hand: HandLeft})
	assert.ElementsMatch(t, []int{60, 57}, keysOf(left.Notes))

	right := tl.Reduce(Options{Hand: HandRight})
	assert.ElementsMatch(t, []int{64, 67, 76}, keysOf(right.Notes))

	assert.Len(t, tl.Notes, 5, "reducing leaves the source timeline alone")
	assert.Equal(t, tl.End, left.End)
}

func TestReduceHandUsesWrittenPitch(t *testing.T) {
	s := mustDecode(t, chordsScore())
	tl := BuildTimeline(s, 12)

	left := tl.Reduce(Options{Hand: HandLeft})
	assert.ElementsMatch(t, []int{72, 69}, keysOf(left.Notes))
}

func TestReduceMonophonic(t *testing.T) {
	s := mustDecode(t, chordsScore())
	tl := BuildTimeline(s, 0)

	tests := []struct {
		voicing Voicing
		want    []int
	}{
		{VoicingTop, []int{76, 57}},
		{VoicingBottom, []int{60, 57}},
		{VoicingFirst, []int{60, 57}},
		{VoicingLast, []int{76, 57}},
	}
	for _, tt := range tests {
		t.Run(string(tt.voicing), func(t *testing.T) {
			mono := tl.Reduce(Options{Monophonic: tt.voicing})
			require.Equal(t, tt.want, keysOf(mono.Notes))
			for i := 1; i < len(mono.Notes); i++ {
				prev := mono.Notes[i-1]
				assert.LessOrEqual(t, prev.Start+prev.Length, mono.Notes[i].Start, "one note sounds at a time")
			}
		})
	}
}

func TestReduceHandThenVoicing(t *testing.T) {
	s := mustDecode(t, chordsScore())
	mono := BuildTimeline(s, 0).Reduce(Options{Hand: HandRight, Monophonic: VoicingBottom})
	assert.Equal(t, []int{64}, keysOf(mono.Notes))
	assert.Equal(t, 2*TicksPerQuarter, mono.Notes[0].Length)
}

func TestNormalizerAppliesReduction(t *testing.T) {
	raw, ws := rawArtifact(t, chordsScore())

	res, err := NewNormalizer(Options{Monophonic: VoicingTop}, MIDIOptions{}).Normalize(context.Background(), raw, ws)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Stats.PlayableOut)
	assert.Equal(t, 2, res.Stats.Sounding)

	data, err := os.ReadFile(res.MIDI.Path)
	require.NoError(t, err)
	_, starts, _ := readMIDI(t, data)
	require.Len(t, starts, 2)
	assert.Equal(t, uint8(76), starts[0].key)
	assert.Equal(t, uint8(57), starts[1].key)

	// the cleaned notation keeps every note
	cleaned, err := Load(res.Notation.Path)
	require.NoError(t, err)
	assert.Equal(t, 5, cleaned.PlayableCount())
}

func TestHandFilterCanLeaveNothing(t *testing.T) {
	raw, ws := rawArtifact(t, singleNote("C", 6))

	_, err := NewNormalizer(Options{Hand: HandLeft}, MIDIOptions{}).Normalize(context.Background(), raw, ws)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindEmptyScore))
}

func TestParseHandAndVoicing(t *testing.T) {
	h, err := ParseHand("Left")
	require.NoError(t, err)
	assert.Equal(t, HandLeft, h)
	h, err = ParseHand("both")
	require.NoError(t, err)
	assert.Equal(t, HandBoth, h)
	_, err = ParseHand("middle")
	assert.Error(t, err)

	v, err := ParseVoicing(" top ")
	require.NoError(t, err)
	assert.Equal(t, VoicingTop, v)
	v, err = ParseVoicing("")
	require.NoError(t, err)
	assert.Equal(t, VoicingAll, v)
	_, err = ParseVoicing("loudest")
	assert.Error(t, err)
}
