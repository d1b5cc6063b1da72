package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/log"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
)

// Config holds server configuration
type Config struct {
	Addr           string
	JobsDir        string // per-job upload and output directories; empty uses a temp dir
	MaxUploadBytes int64
	MaxJobs        int
	JobTTL         time.Duration
	Pipeline       pipeline.Config // defaults for every conversion
	Cache          *cache.Cache
}

// DefaultConfig returns the server defaults around a pipeline config
func DefaultConfig(p pipeline.Config) Config {
	return Config{
		Addr:           ":8080",
		MaxUploadBytes: 100 << 20,
		MaxJobs:        2,
		JobTTL:         30 * time.Minute,
		Pipeline:       p,
	}
}

// Server is the HTTP server
type Server struct {
	config Config
	router *chi.Mux
	logger *slog.Logger
	jobs   *JobManager
}

// New creates a new server. A nil runner uses child processes.
func New(cfg Config, runner exec.Runner) (*Server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	jobs, err := NewJobManager(ManagerConfig{
		Root:    cfg.JobsDir,
		MaxJobs: cfg.MaxJobs,
		TTL:     cfg.JobTTL,
		Base:    cfg.Pipeline,
		Cache:   cfg.Cache,
	}, runner)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: log.L().With("component", "server"),
		jobs:   jobs,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	r.Get("/health", s.handleHealth)

	// API
	r.Post("/convert", s.handleConvert)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/download/{id}", s.handleDownload)
	r.Get("/download/{id}/{artifact}", s.handleDownload)
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops running jobs
func (s *Server) Close() {
	s.jobs.Close()
}

// Run serves until ctx is cancelled or the process is interrupted
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute, // uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		<-ctx.Done()

		s.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", slog.Any("error", err))
		}
		s.jobs.Close()
		close(done)
	}()

	s.logger.Info("server starting", slog.String("addr", s.config.Addr))
	fmt.Printf("\n  TuneReader API listening on %s\n\n", s.config.Addr)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-done
		return err
	}

	<-done
	return nil
}
