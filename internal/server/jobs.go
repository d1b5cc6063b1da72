package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	apperrors "github.com/ruturajsinh-rathod/TuneReader/internal/errors"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
)

// Job status constants
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

// Job represents one uploaded conversion
type Job struct {
	ID          string
	Status      JobStatus
	Stage       string
	Filename    string
	InputPath   string
	WorkDir     string
	Config      pipeline.Config
	Result      *pipeline.Result
	Error       string
	ErrorKind   apperrors.Kind
	FailedStage apperrors.Stage
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// JobView is the JSON shape of a job
type JobView struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title,omitempty"`
	Kind        string    `json:"document_kind,omitempty"`
	Format      string    `json:"format"`
	Duration    float64   `json:"duration_seconds,omitempty"`
	Measures    int       `json:"measures,omitempty"`
	Notes       int       `json:"notes,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	FailedStage string    `json:"failed_stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (j *Job) view() JobView {
	v := JobView{
		ID:          j.ID,
		Status:      j.Status,
		Stage:       j.Stage,
		Filename:    j.Filename,
		Format:      j.Config.AudioFormat,
		Error:       j.Error,
		ErrorKind:   string(j.ErrorKind),
		FailedStage: string(j.FailedStage),
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
	if r := j.Result; r != nil {
		v.Title = r.Title
		v.Kind = string(r.DocumentKind)
		v.Duration = r.Duration
		v.Measures = r.Stats.Measures
		v.Notes = r.Stats.PlayableOut
		v.Cached = r.Cached
	}
	return v
}

// ManagerConfig configures a JobManager
type ManagerConfig struct {
	Root    string        // parent of the per-job directories
	MaxJobs int           // conversions running at once
	TTL     time.Duration // how long finished jobs are kept; 0 keeps them
	Base    pipeline.Config
	Cache   *cache.Cache
}

// JobManager manages processing jobs
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	cfg    ManagerConfig
	runner exec.Runner
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewJobManager creates a new job manager. A nil runner uses child processes.
func NewJobManager(cfg ManagerConfig, runner exec.Runner) (*JobManager, error) {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = 1
	}
	if cfg.Root == "" {
		dir, err := os.MkdirTemp("", "tunereader-jobs-*")
		if err != nil {
			return nil, fmt.Errorf("create job root: %w", err)
		}
		cfg.Root = dir
	} else if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create job root: %w", err)
	}
	if runner == nil {
		runner = exec.NewRunner(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]*Job),
		cfg:    cfg,
		runner: runner,
		sem:    make(chan struct{}, cfg.MaxJobs),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Create registers a job and saves the upload into its own directory
func (m *JobManager) Create(filename string, upload io.Reader, cfg pipeline.Config) (*Job, error) {
	id := uuid.NewString()
	workDir := filepath.Join(m.cfg.Root, id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	name := filepath.Base(filepath.Clean("/" + filename))
	inputPath := filepath.Join(workDir, "input"+strings.ToLower(filepath.Ext(name)))
	dst, err := os.Create(inputPath)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("save upload: %w", err)
	}
	_, err = io.Copy(dst, upload)
	if cErr := dst.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	cfg.InputPath = inputPath
	cfg.OutputDir = filepath.Join(workDir, "out")
	cfg.BaseName = strings.TrimSuffix(name, filepath.Ext(name))

	job := &Job{
		ID:        id,
		Status:    StatusPending,
		Stage:     "Queued",
		Filename:  name,
		InputPath: inputPath,
		WorkDir:   workDir,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()
	return job, nil
}

// Get returns a snapshot of a job by ID
func (m *JobManager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns snapshots of all jobs, newest first
func (m *JobManager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (m *JobManager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

// Start runs the job in the background once a slot is free
func (m *JobManager) Start(job *Job) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case m.sem <- struct{}{}:
		case <-m.ctx.Done():
			m.finish(job.ID, nil, m.ctx.Err())
			return
		}
		defer func() { <-m.sem }()
		m.Process(m.ctx, job)
	}()
}

// Process runs the conversion pipeline for a job
func (m *JobManager) Process(ctx context.Context, job *Job) {
	m.update(job.ID, func(j *Job) {
		j.Status = StatusProcessing
		j.Stage = "Starting"
	})
	logger := log.L().With("job_id", job.ID)
	logger.Info("job.start", "file", job.Filename)

	orch := pipeline.NewOrchestrator(m.runner, &stageWriter{m: m, id: job.ID}, false)
	if m.cfg.Cache != nil {
		orch.WithCache(m.cfg.Cache)
	}
	res, err := orch.ExecutePath(ctx, job.Config)
	m.finish(job.ID, res, err)

	if err != nil {
		logger.Warn("job.failed", "error", err, "kind", apperrors.KindOf(err))
	} else {
		logger.Info("job.done", "audio", res.AudioPath, "cached", res.Cached)
	}

	if m.cfg.TTL > 0 {
		time.AfterFunc(m.cfg.TTL, func() { m.remove(job.ID) })
	}
}

func (m *JobManager) finish(id string, res *pipeline.Result, err error) {
	m.update(id, func(j *Job) {
		j.FinishedAt = time.Now()
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.ErrorKind = apperrors.KindOf(err)
			j.FailedStage = pipeline.FailedStage(err)
			if errors.Is(err, context.Canceled) {
				j.Stage = "Cancelled"
			}
			return
		}
		j.Status = StatusComplete
		j.Stage = "Done"
		j.Result = res
	})
}

func (m *JobManager) remove(id string) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	delete(m.jobs, id)
	m.mu.Unlock()
	if ok {
		os.RemoveAll(j.WorkDir)
	}
}

// Close cancels running jobs and waits for them to stop
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()
}

// stageWriter turns progress lines into the job's current stage
type stageWriter struct {
	m   *JobManager
	id  string
	buf bytes.Buffer
}

func (w *stageWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if s := strings.TrimSpace(line); s != "" {
			w.m.update(w.id, func(j *Job) { j.Stage = s })
		}
	}
	return len(p), nil
}
