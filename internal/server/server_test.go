package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec/exectest"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
)

const pageXML = `<score-partwise version="3.1">
  <work><work-title>Upload</work-title></work>
  <part-list><score-part id="P1"><part-name>Piano</part-name></score-part></part-list>
  <part id="P1">
    <measure number="1">
      <attributes><divisions>1</divisions><time><beats>4</beats><beat-type>4</beat-type></time></attributes>
      <note><pitch><step>C</step><octave>4</octave></pitch><duration>4</duration><voice>1</voice></note>
    </measure>
  </part>
</score-partwise>`

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func fullRunner() *exectest.Runner {
	return exectest.NewRunner().
		Handle("audiveris", func(inv exec.Invocation) error {
			return exectest.WriteFile(filepath.Join(inv.Args[3], "page.xml"), []byte(pageXML))
		}).
		Handle("fluidsynth", func(inv exec.Invocation) error {
			for i, a := range inv.Args {
				if a == "-F" {
					return exectest.WriteFile(inv.Args[i+1], []byte("RIFFwave"))
				}
			}
			return errors.New("no -F argument")
		}).
		Handle("ffmpeg", func(inv exec.Invocation) error {
			return exectest.WriteFile(inv.Args[len(inv.Args)-1], []byte("ID3audio"))
		})
}

func newTestServer(t *testing.T, runner exec.Runner, opts ...func(*Config)) *Server {
	t.Helper()
	dir := t.TempDir()
	sf := filepath.Join(dir, "piano.sf2")
	require.NoError(t, os.WriteFile(sf, []byte("sfbk"), 0o644))

	p := pipeline.DefaultConfig()
	p.Soundfont = sf
	cfg := DefaultConfig(p)
	cfg.JobsDir = filepath.Join(dir, "jobs")
	cfg.JobTTL = 0
	for _, o := range opts {
		o(&cfg)
	}

	s, err := New(cfg, runner)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func upload(t *testing.T, s *Server, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func status(t *testing.T, s *Server, id string) JobView {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func waitFinished(t *testing.T, s *Server, id string) JobView {
	t.Helper()
	var v JobView
	require.Eventually(t, func() bool {
		v = status(t, s, id)
		return v.Status == StatusComplete || v.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	return v
}

func accepted(t *testing.T, rec *httptest.ResponseRecorder) JobView {
	t.Helper()
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var v JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.NotEmpty(t, v.ID)
	assert.Equal(t, "/status/"+v.ID, rec.Header().Get("Location"))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, exectest.NewRunner())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestConvertAndDownload(t *testing.T) {
	s := newTestServer(t, fullRunner())

	job := accepted(t, upload(t, s, "sonata.png", pngHeader, map[string]string{"format": "ogg", "tempo": "60"}))
	assert.Equal(t, "sonata.png", job.Filename)
	assert.Equal(t, "ogg", job.Format)

	v := waitFinished(t, s, job.ID)
	require.Equal(t, StatusComplete, v.Status, v.Error)
	assert.Equal(t, "Upload", v.Title)
	assert.Equal(t, "raster", v.Kind)
	assert.Equal(t, 1, v.Measures)
	assert.InDelta(t, 4.0, v.Duration, 1e-9, "one 4/4 measure at 60 BPM")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/ogg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="sonata.ogg"`)
	assert.Equal(t, "ID3audio", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.ID+"/midi", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/midi", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("MThd")))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.ID+"/stems", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCachedJobKeepsMeasurements(t *testing.T) {
	c, err := cache.New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	runner := fullRunner()
	s := newTestServer(t, runner, func(cfg *Config) {
		cfg.Pipeline.UseCache = true
		cfg.Cache = c
	})
	fields := map[string]string{"tempo": "60"}

	first := waitFinished(t, s, accepted(t, upload(t, s, "etude.png", pngHeader, fields)).ID)
	require.Equal(t, StatusComplete, first.Status, first.Error)
	assert.False(t, first.Cached)
	calls := len(runner.Calls())

	second := waitFinished(t, s, accepted(t, upload(t, s, "etude.png", pngHeader, fields)).ID)
	require.Equal(t, StatusComplete, second.Status, second.Error)
	assert.True(t, second.Cached)
	assert.Len(t, runner.Calls(), calls, "no tool runs on a cache hit")
	assert.Equal(t, first.Measures, second.Measures)
	assert.Equal(t, 1, second.Notes)
	assert.InDelta(t, 4.0, second.Duration, 1e-9)
}

func TestFailedJobReportsKindAndStage(t *testing.T) {
	s := newTestServer(t, exectest.NewRunner())

	job := accepted(t, upload(t, s, "scan.png", pngHeader, nil))
	v := waitFinished(t, s, job.ID)

	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "no_fallback_available", v.ErrorKind)
	assert.Equal(t, "recognition", v.FailedStage)
	assert.NotEmpty(t, v.Error)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+job.ID, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConvertRejectsBadRequests(t *testing.T) {
	tests := map[string]struct {
		filename string
		fields   map[string]string
		code     int
	}{
		"no file":        {"", nil, http.StatusBadRequest},
		"text file":      {"notes.txt", nil, http.StatusUnsupportedMediaType},
		"bad format":     {"page.png", map[string]string{"format": "aiff"}, http.StatusBadRequest},
		"bad tempo":      {"page.png", map[string]string{"tempo": "fast"}, http.StatusBadRequest},
		"bad transpose":  {"page.png", map[string]string{"transpose": "99"}, http.StatusBadRequest},
		"bad loudnorm":   {"page.png", map[string]string{"loudnorm": "loud"}, http.StatusBadRequest},
		"negative tempo": {"page.png", map[string]string{"tempo": "-10"}, http.StatusBadRequest},
		"bad hand":       {"page.png", map[string]string{"hand": "third"}, http.StatusBadRequest},
		"bad voicing":    {"page.png", map[string]string{"monophonic": "loudest"}, http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			runner := exectest.NewRunner()
			s := newTestServer(t, runner)
			rec := upload(t, s, tt.filename, pngHeader, tt.fields)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Empty(t, runner.Calls())
			assert.Empty(t, s.jobs.List())
		})
	}
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, exectest.NewRunner())
	for _, path := range []string{"/status/nope", "/download/nope"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	s := newTestServer(t, fullRunner())
	first := accepted(t, upload(t, s, "a.png", pngHeader, nil))
	time.Sleep(5 * time.Millisecond)
	second := accepted(t, upload(t, s, "b.png", pngHeader, nil))
	waitFinished(t, s, first.ID)
	waitFinished(t, s, second.ID)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var views []JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.Equal(t, first.ID, views[1].ID)
}

func TestJobsUseSeparateDirectories(t *testing.T) {
	s := newTestServer(t, fullRunner())
	a := accepted(t, upload(t, s, "same.png", pngHeader, nil))
	b := accepted(t, upload(t, s, "same.png", pngHeader, nil))
	waitFinished(t, s, a.ID)
	waitFinished(t, s, b.ID)

	ja, ok := s.jobs.Get(a.ID)
	require.True(t, ok)
	jb, ok := s.jobs.Get(b.ID)
	require.True(t, ok)
	assert.NotEqual(t, ja.WorkDir, jb.WorkDir)
	assert.NotEqual(t, ja.Result.AudioPath, jb.Result.AudioPath)
	assert.FileExists(t, ja.Result.AudioPath)
	assert.FileExists(t, jb.Result.AudioPath)
}

func TestStageWriterTracksLastLine(t *testing.T) {
	m, err := NewJobManager(ManagerConfig{Root: t.TempDir()}, exectest.NewRunner())
	require.NoError(t, err)
	job, err := m.Create("x.png", bytes.NewReader(pngHeader), pipeline.DefaultConfig())
	require.NoError(t, err)

	w := &stageWriter{m: m, id: job.ID}
	_, _ = w.Write([]byte("[2/4] Recognizing notation...\n       partial"))
	got, _ := m.Get(job.ID)
	assert.Equal(t, "[2/4] Recognizing notation...", got.Stage)

	_, _ = w.Write([]byte(" line\n"))
	got, _ = m.Get(job.ID)
	assert.Equal(t, "partial line", got.Stage)
}

func TestCreateSanitizesFilename(t *testing.T) {
	m, err := NewJobManager(ManagerConfig{Root: t.TempDir()}, exectest.NewRunner())
	require.NoError(t, err)
	job, err := m.Create("../../etc/evil.PNG", bytes.NewReader(pngHeader), pipeline.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "evil.PNG", job.Filename)
	assert.Equal(t, filepath.Join(job.WorkDir, "input.png"), job.InputPath)
	assert.Equal(t, "evil", job.Config.BaseName)
	assert.Equal(t, filepath.Join(job.WorkDir, "out"), job.Config.OutputDir)
	assert.FileExists(t, job.InputPath)
}
