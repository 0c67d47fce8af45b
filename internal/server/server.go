// Package server exposes the transcription pipeline over HTTP: session
// lifecycle, chunked audio ingest (multipart and WebSocket), transcript reads,
// summarization, and incremental case saves, plus health and metrics
// endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verbamed/verbamed/internal/config"
	"github.com/verbamed/verbamed/internal/health"
	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/internal/session"
	"github.com/verbamed/verbamed/internal/summary"
	"github.com/verbamed/verbamed/internal/transcript"
	"github.com/verbamed/verbamed/pkg/recognizer"
)

// Option is a functional option for New. Use these to inject test doubles or
// optional subsystems.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSummarizer wires the conversation summarization service. Without it the
// summarize endpoint reports failure.
func WithSummarizer(svc *summary.Service) Option {
	return func(s *Server) { s.summarizer = svc }
}

// WithHealth wires readiness checkers into /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// Server owns the HTTP surface and the per-session audio pipelines. It holds
// one shared recognizer; concurrent normalize+recognize rounds are bounded by
// the worker pool.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	metrics    *observe.Metrics
	sessions   *session.Registry
	rec        recognizer.Recognizer
	trimmer    *transcript.OverlapTrimmer
	summarizer *summary.Service
	pool       *Pool
	health     *health.Handler
	backend    string

	mu        sync.Mutex
	pipelines map[string]*pipeline

	httpSrv *http.Server
}

// New creates a Server around the given recognizer and session registry.
// The overlap trimmer is constructed from cfg.Audio when dedup is enabled.
func New(cfg config.Config, rec recognizer.Recognizer, sessions *session.Registry, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		log:       slog.Default(),
		sessions:  sessions,
		rec:       rec,
		pool:      NewPool(cfg.Workers.MaxConcurrent),
		backend:   string(cfg.Recognizer.Backend),
		pipelines: make(map[string]*pipeline),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if cfg.Audio.DedupOverlap {
		var topts []transcript.TrimmerOption
		if cfg.Audio.DedupSimilarity > 0 {
			topts = append(topts, transcript.WithSimilarityThreshold(cfg.Audio.DedupSimilarity))
		}
		s.trimmer = transcript.NewOverlapTrimmer(topts...)
	}
	return s
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/transcription/start-session", s.handleStartSession)
	mux.HandleFunc("POST /api/transcription/stop-session", s.handleStopSession)
	mux.HandleFunc("GET /api/transcription/session-status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/transcription/get-latest-transcription", s.handleLatestTranscription)
	mux.HandleFunc("POST /api/transcription/transcribe-chunk", s.handleTranscribeChunk)
	mux.HandleFunc("POST /api/transcription/summarize-conversation", s.handleSummarize)
	mux.HandleFunc("PUT /api/cases/{caseID}/transcription/incremental", s.handleIncrementalSave)
	mux.HandleFunc("GET /api/transcription/stream", s.handleStream)

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// Start begins serving on cfg.Server.ListenAddr and blocks until the listener
// fails or Shutdown is called. A closed-server error is reported as nil.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("server listening", "addr", s.cfg.Server.ListenAddr, "backend", s.backend)

	var err error
	if tls := s.cfg.Server.TLS; tls != nil {
		err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the recognizer.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.rec.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// pipelineFor returns the session's pipeline, creating it on first use.
func (s *Server) pipelineFor(sessionID string) *pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[sessionID]
	if !ok {
		p = newPipeline(s.cfg.Audio.WindowLength, s.cfg.Audio.Overlap)
		s.pipelines[sessionID] = p
	}
	return p
}

// dropPipeline discards the session's audio state after stop or archive.
func (s *Server) dropPipeline(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, sessionID)
}
