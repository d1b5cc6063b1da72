package progress

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
)

// fixedClock advances by step on every reading
func fixedClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestReporterFormatsStages(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)
	r.now = fixedClock(1500 * time.Millisecond)

	r.StartStage(StageRecognize)
	r.Update("hidden unless verbose")
	r.StageComplete("Raw notation: %s", "raw.xml")
	r.Warning("kept %d files", 2)

	out := buf.String()
	assert.Contains(t, out, "[2/4] Recognizing notation")
	assert.NotContains(t, out, "hidden unless verbose")
	assert.Contains(t, out, "       Raw notation: raw.xml (1.5s)\n")
	assert.Contains(t, out, "Warning: kept 2 files\n")
}

func TestErrorNamesCurrentStage(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)
	r.Error(errors.New("early"))
	r.StartStage(StageRender)
	r.Error(errors.New("boom"))

	assert.Contains(t, buf.String(), "Error: early\n")
	assert.Contains(t, buf.String(), "Error: rendering failed: boom\n")
}

func TestFallbackIsReportedWithoutVerbose(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, false)

	r.Attempt("omr")
	r.Fallback("omr", "editor-export", apperrors.NewToolError(apperrors.KindToolNotFound, "audiveris", "audiveris", -1, "", nil))
	r.Fallback("editor-export", "omr", errors.New("odd failure"))

	assert.Equal(t,
		"       omr failed (tool_not_found), falling back to editor-export\n"+
			"       editor-export failed (odd failure), falling back to omr\n",
		buf.String())
}

func TestReporterVerbose(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)
	r.Update("page %d", 3)
	r.Attempt("omr")
	assert.Equal(t, "       page 3\n       Trying omr\n", buf.String())
}

func TestCachedShortensKey(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf, false).Cached("conv_0123456789abcdef0123")
	assert.Equal(t, "       Reusing cached conversion conv_01234567\n", buf.String())
}

func TestStagesAreNumberedInOrder(t *testing.T) {
	want := []apperrors.Stage{
		apperrors.StageConfiguration, apperrors.StageRecognition,
		apperrors.StageNormalization, apperrors.StageRendering,
	}
	for i, s := range Stages {
		assert.Equal(t, i+1, s.Number)
		assert.Equal(t, want[i], s.Name)
	}
}
