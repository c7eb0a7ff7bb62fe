// Package api exposes the interview engine over HTTP.
//
// It provides RESTful endpoints to create interviews, submit patient turns,
// inspect interview state and fetch GP summary outputs. The API integrates
// with the checklist, interview, summary and store modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/interview"
	"github.com/oakhealth/preconsult/internal/store"
	"github.com/oakhealth/preconsult/internal/summary"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds API server configuration.
type Opts struct {
	// Addr is the HTTP listen address.
	Addr string
	// SummaryDir is where generated summary files are written; empty disables
	// file output (summaries are still served over HTTP).
	SummaryDir string
	// TopicDetector enables dynamic optional-topic activation when set.
	TopicDetector interview.TopicDetector
	// Summarizer generates GP outputs for finished interviews when set.
	Summarizer *summary.Generator
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSummaryDir sets the directory where summary files are saved.
func WithSummaryDir(dir string) Option {
	return func(o *Opts) { o.SummaryDir = dir }
}

// WithTopicDetector enables dynamic topic activation.
func WithTopicDetector(d interview.TopicDetector) Option {
	return func(o *Opts) { o.TopicDetector = d }
}

// WithSummarizer enables summary generation for finished interviews.
func WithSummarizer(g *summary.Generator) Option {
	return func(o *Opts) { o.Summarizer = g }
}

// session holds one live interview and its lazily generated summary. The
// mutex serializes turns: the engine is single-threaded per conversation.
type session struct {
	mu      sync.Mutex
	orch    *interview.Orchestrator
	outputs *summary.Outputs
}

// Server routes HTTP requests to the interview engine.
type Server struct {
	addr       string
	summaryDir string
	template   *checklist.Template
	decider    interview.DecisionClient
	screener   interview.Screener
	detector   interview.TopicDetector
	summarizer *summary.Generator
	st         store.Store

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewServer creates an API server over the given checklist template,
// collaborators and record store.
func NewServer(tmpl *checklist.Template, decider interview.DecisionClient, screener interview.Screener, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("api.NewServer: server configured", "addr", cfg.Addr, "detector_set", cfg.TopicDetector != nil, "summarizer_set", cfg.Summarizer != nil)

	return &Server{
		addr:       cfg.Addr,
		summaryDir: cfg.SummaryDir,
		template:   tmpl,
		decider:    decider,
		screener:   screener,
		detector:   cfg.TopicDetector,
		summarizer: cfg.Summarizer,
		st:         st,
		sessions:   make(map[string]*session),
	}
}

// Handler returns the HTTP handler with all routes registered. Exposed
// separately from Run for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /interviews", s.createInterviewHandler)
	mux.HandleFunc("POST /interviews/{id}/messages", s.patientMessageHandler)
	mux.HandleFunc("GET /interviews/{id}", s.getInterviewHandler)
	mux.HandleFunc("GET /interviews/{id}/summary", s.getSummaryHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// getSession looks up a live session by conversation id.
func (s *Server) getSession(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// addSession registers a new live session.
func (s *Server) addSession(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}
