package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"form-coach/internal/coaching"
	"form-coach/internal/config"
	"form-coach/internal/envelope"
	"form-coach/internal/models"
	"form-coach/internal/pipeline"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrSessionNotFound = errors.New("session not found")

const sinkTimeout = 2 * time.Second

// EventSink receives everything a session publishes. *cache.RedisClient is
// the production implementation.
type EventSink interface {
	PublishIssue(ctx context.Context, sessionID string, issue models.FormIssue) error
	PublishCapture(ctx context.Context, sessionID string, rep models.RepResult) error
	EnqueueCoaching(ctx context.Context, req coaching.Request) error
	GetRecentIssues(ctx context.Context, sessionID string, count int64) ([]models.FormIssue, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type eventKind int

const (
	eventIssue eventKind = iota
	eventCapture
	eventCoaching
	eventClear
)

func (k eventKind) String() string {
	switch k {
	case eventIssue:
		return "issue"
	case eventCapture:
		return "capture"
	case eventCoaching:
		return "coaching"
	case eventClear:
		return "clear"
	}
	return "unknown"
}

type event struct {
	kind      eventKind
	sessionID string
	issue     models.FormIssue
	rep       models.RepResult
	request   coaching.Request
}

// sessionEntry serializes frame delivery for one session.
type sessionEntry struct {
	mu      sync.Mutex
	id      string
	session *pipeline.Session
	advisor *coaching.Advisor
}

type Server struct {
	router   *mux.Router
	cfg      *config.Config
	registry *envelope.Registry
	sink     EventSink
	logger   *slog.Logger

	events    chan event
	drained   chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewServer(cfg *config.Config, registry *envelope.Registry, sink EventSink, logger *slog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		logger:   logger,
		events:   make(chan event, cfg.Server.EventBuffer),
		drained:  make(chan struct{}),
		sessions: make(map[string]*sessionEntry),
	}

	s.setupRoutes()
	go s.processEvents()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/exercises", s.exercisesHandler).Methods("GET")
	s.router.HandleFunc("/sessions", s.createSessionHandler).Methods("POST")
	s.router.HandleFunc("/sessions/{id}", s.deleteSessionHandler).Methods("DELETE")
	s.router.HandleFunc("/sessions/{id}/exercise", s.setExerciseHandler).Methods("PUT")
	s.router.HandleFunc("/sessions/{id}/reset", s.resetHandler).Methods("POST")
	s.router.HandleFunc("/sessions/{id}/frames", s.framesHandler).Methods("POST")
	s.router.HandleFunc("/sessions/{id}/issues", s.issuesHandler).Methods("GET")
	s.router.HandleFunc("/sessions/{id}/issues/history", s.issueHistoryHandler).Methods("GET")
	s.router.HandleFunc("/sessions/{id}/stats", s.statsHandler).Methods("GET")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument labels requests by route template so session IDs stay out of
// the metric labels.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) createSession(exercise string) (*sessionEntry, error) {
	sess, err := pipeline.NewSession(s.registry, exercise, s.cfg.PipelineConfig())
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	entry := &sessionEntry{
		id:      id,
		session: sess,
		advisor: coaching.NewAdvisor(id, coaching.NewThrottle(s.cfg.CoachingIntervals())),
	}
	sess.OnIssue(func(issue models.FormIssue) {
		formIssues.WithLabelValues(string(issue.Type), string(issue.Severity)).Inc()
		s.emit(event{kind: eventIssue, sessionID: id, issue: issue})
	})
	sess.OnCapture(func(rep models.RepResult) {
		s.emit(event{kind: eventCapture, sessionID: id, rep: rep})
	})

	s.mu.Lock()
	s.sessions[id] = entry
	n := len(s.sessions)
	s.mu.Unlock()
	activeSessions.Set(float64(n))

	s.logger.Info("session started", "session", id, "exercise", sess.Exercise())
	return entry, nil
}

func (s *Server) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry, nil
}

func (s *Server) removeSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	activeSessions.Set(float64(n))

	s.emit(event{kind: eventClear, sessionID: id})
	s.logger.Info("session closed", "session", id)
	return nil
}

func (s *Server) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// processFrame runs one frame for a session whose lock the caller holds.
func (s *Server) processFrame(entry *sessionEntry, frame models.Frame) models.FrameResult {
	start := time.Now()
	result := entry.session.ProcessFrame(frame)
	frameDuration.Observe(time.Since(start).Seconds())
	framesProcessed.Inc()

	if n := len(result.Suppressed); n > 0 {
		formIssuesSuppressed.Add(float64(n))
	}
	if result.Rep != nil {
		switch result.Rep.Status {
		case models.RepStatusCaptured, models.RepStatusShallow, models.RepStatusNoBodyHeight:
			repsTotal.WithLabelValues(string(result.Rep.Status)).Inc()
		}
	}

	if s.cfg.Coaching.Enabled {
		s.advise(entry, frame, result)
	}
	return result
}

func (s *Server) advise(entry *sessionEntry, frame models.Frame, result models.FrameResult) {
	triggered := result.Rep != nil && result.Rep.Triggered
	if len(result.Issues) == 0 && !triggered {
		return
	}

	pose := coaching.Pose{
		Angles:    result.Smoothed,
		Landmarks: coaching.RelevantLandmarks(frame, entry.session.Envelope().Landmarks, s.cfg.Pipeline.ConfidenceThreshold),
	}
	for _, issue := range result.Issues {
		if req, ok := entry.advisor.ForIssue(result.Exercise, issue, pose); ok {
			s.emit(event{kind: eventCoaching, sessionID: entry.id, request: req})
		}
	}
	if triggered {
		req := entry.advisor.ForCapture(result.Exercise, *result.Rep, pose, entry.session.RecentIssues(5))
		s.emit(event{kind: eventCoaching, sessionID: entry.id, request: req})
	}
}

// emit never blocks the frame path. Overflow is counted and dropped.
func (s *Server) emit(ev event) {
	select {
	case s.events <- ev:
	default:
		eventsDropped.Inc()
		s.logger.Warn("event queue full", "kind", ev.kind, "session", ev.sessionID)
	}
}

func (s *Server) processEvents() {
	defer close(s.drained)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		var err error
		switch ev.kind {
		case eventIssue:
			err = s.sink.PublishIssue(ctx, ev.sessionID, ev.issue)
		case eventCapture:
			err = s.sink.PublishCapture(ctx, ev.sessionID, ev.rep)
		case eventCoaching:
			err = s.sink.EnqueueCoaching(ctx, ev.request)
		case eventClear:
			err = s.sink.ClearSession(ctx, ev.sessionID)
		}
		cancel()

		if err != nil {
			s.logger.Error("failed to deliver event", "kind", ev.kind, "session", ev.sessionID, "err", err)
		}
	}
}

// Close flushes queued events. Nothing may emit after it is called.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.events) })
	<-s.drained
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.logger.Info("server is shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("could not gracefully shut down the server", "err", err)
		}
		close(done)
	}()

	s.logger.Info("server is ready to handle requests", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.Close()
	s.logger.Info("server stopped")
	return nil
}
