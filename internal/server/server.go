// Package server exposes the preprocessing pipeline and analysis queue
// over HTTP: uploads, job submission, job snapshots, and per-job progress
// over WebSocket. The queue and preprocessor are injected by the
// application wiring, never constructed here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/config"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/preprocess"
	"github.com/keller/filmstrip/internal/queue"
)

// Preprocessor runs the segmentation pipeline for one video
type Preprocessor interface {
	Run(ctx context.Context, videoPath string, opts preprocess.Options) (*manifest.Manifest, error)
	Resume(ctx context.Context, m *manifest.Manifest, workers int) error
}

// Analyzer is the opaque vision model boundary
type Analyzer interface {
	Analyze(ctx context.Context, lens string, frameURLs []string) (string, error)
}

// Server owns the HTTP surface and the job registry
type Server struct {
	logger   zerolog.Logger
	cfg      config.ServerConfig
	defaults config.PreprocessConfig
	queue    *queue.Queue
	pre      Preprocessor
	analyzer Analyzer
	registry *jobRegistry
	router   *chi.Mux
	upgrader websocket.Upgrader
}

// New wires the server from its collaborators and registers routes
func New(logger zerolog.Logger, cfg *config.Config, q *queue.Queue, pre Preprocessor, analyzer Analyzer) *Server {
	s := &Server{
		logger:   logger.With().Str("component", "server").Logger(),
		cfg:      cfg.Server,
		defaults: cfg.Preprocess,
		queue:    q,
		pre:      pre,
		analyzer: analyzer,
		registry: newJobRegistry(),
		router:   chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

// Router returns the configured handler for mounting in an http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Route("/api", func(r chi.Router) {
		// preprocessing and analysis can run for a long time; the
		// timeout only bounds request handling, not the jobs
		r.Use(middleware.Timeout(time.Minute))

		r.Post("/videos/upload", s.handleUpload)
		r.Post("/videos/preprocess", s.handlePreprocess)
		r.Post("/videos/analyze", s.handleAnalyze)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/queue", s.handleQueueStats)
		r.Get("/manifests", s.handleManifest)
	})

	s.router.Get("/ws/jobs/{id}", s.handleJobEvents)
	s.router.Get("/healthz", s.handleHealth)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
