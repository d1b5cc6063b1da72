package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ruturajsinh-rathod/TuneReader/internal/document"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
	"github.com/ruturajsinh-rathod/TuneReader/internal/render"
	"github.com/ruturajsinh-rathod/TuneReader/internal/score"
)

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".mid":  "audio/midi",
	".xml":  "application/vnd.recordare.musicxml+xml",
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConvert accepts a score upload and queues its conversion
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d MB", s.config.MaxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a \"file\" field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "please upload a PDF or image of a score in the \"file\" field")
		return
	}
	defer file.Close()

	if document.KindFromExtension(header.Filename) == document.KindUnknown {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type; expected .pdf, .png, .jpg or .tiff")
		return
	}

	cfg, err := s.conversionConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobs.Create(header.Filename, file, cfg)
	if err != nil {
		s.logger.Error("create job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}
	view := job.view()
	s.jobs.Start(job)

	w.Header().Set("Location", "/status/"+job.ID)
	writeJSON(w, http.StatusAccepted, view)
}

// conversionConfig applies the optional form overrides to the server's
// pipeline defaults
func (s *Server) conversionConfig(r *http.Request) (pipeline.Config, error) {
	cfg := s.config.Pipeline

	if v := strings.ToLower(strings.TrimSpace(r.FormValue("format"))); v != "" {
		if !render.ValidFormat(v) {
			return cfg, fmt.Errorf("unsupported format %q", v)
		}
		cfg.AudioFormat = v
	}
	if v := strings.TrimSpace(r.FormValue("tempo")); v != "" {
		bpm, err := strconv.ParseFloat(v, 64)
		if err != nil || bpm <= 0 || bpm > 400 {
			return cfg, fmt.Errorf("tempo must be a number of BPM in (0, 400]")
		}
		cfg.TempoBPM = bpm
	}
	if v := strings.TrimSpace(r.FormValue("transpose")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < -48 || n > 48 {
			return cfg, fmt.Errorf("transpose must be whole semitones in [-48, 48]")
		}
		cfg.Transpose = n
	}
	if v := strings.TrimSpace(r.FormValue("loudnorm")); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("loudnorm must be true or false")
		}
		cfg.Loudnorm = on
	}
	if v := r.FormValue("hand"); v != "" {
		h, err := score.ParseHand(v)
		if err != nil {
			return cfg, err
		}
		cfg.Hand = h
	}
	if v := r.FormValue("monophonic"); v != "" {
		m, err := score.ParseVoicing(v)
		if err != nil {
			return cfg, err
		}
		cfg.Monophonic = m
	}
	return cfg, nil
}

// handleListJobs returns every known job
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	views := make([]JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].view())
	}
	writeJSON(w, http.StatusOK, views)
}

// handleStatus returns the current job status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.view())
}

// handleDownload serves the rendered audio, or the MIDI or normalized
// notation when named
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != StatusComplete || job.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	var path string
	switch artifact := chi.URLParam(r, "artifact"); artifact {
	case "", "audio":
		path = job.Result.AudioPath
	case "midi":
		path = job.Result.MIDIPath
	case "notation":
		path = job.Result.NotationPath
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown artifact %q", artifact))
		return
	}

	if path == "" || !fileExists(path) {
		writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	ext := filepath.Ext(path)
	if ct, ok := contentTypes[ext]; ok {
		w.Header().Set("Content-Type", ct)
	}
	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+ext))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
