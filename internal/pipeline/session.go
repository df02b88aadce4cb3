// Package pipeline wires the per-frame components into one exercise session.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"form-coach/internal/analytics"
	"form-coach/internal/envelope"
	"form-coach/internal/geometry"
	"form-coach/internal/models"
	"form-coach/internal/repetition"
	"form-coach/internal/smoothing"
)

// Config gathers the tunables of every stage.
type Config struct {
	BufferSize          int
	Alpha               float64
	ConfidenceThreshold float64
	UseDepth            bool
	IssueCooldown       time.Duration
	Repetition          repetition.Config
}

func DefaultConfig() Config {
	return Config{
		BufferSize:          smoothing.DefaultBufferSize,
		Alpha:               smoothing.DefaultAlpha,
		ConfidenceThreshold: geometry.DefaultConfidenceThreshold,
		IssueCooldown:       analytics.DefaultCooldown,
		Repetition:          repetition.DefaultConfig(),
	}
}

// CaptureHandler is called synchronously when a repetition bottoms out deep
// enough to capture.
type CaptureHandler func(result models.RepResult)

// Session owns the mutable state of one exercise session. Frames must be
// delivered one at a time.
type Session struct {
	cfg      Config
	registry *envelope.Registry
	env      *envelope.Envelope

	smoother  *smoothing.Smoother
	detector  *analytics.Detector
	reps      *repetition.Detector
	onCapture []CaptureHandler
	onIssue   []analytics.IssueHandler

	frames    int64
	startedAt time.Time
}

// NewSession starts a session for exercise.
func NewSession(registry *envelope.Registry, exercise string, cfg Config) (*Session, error) {
	env, err := registry.Get(exercise)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		registry: registry,
		smoother: smoothing.New(cfg.BufferSize, cfg.Alpha),
		reps:     repetition.NewDetector(cfg.Repetition),
	}
	s.use(env)
	return s, nil
}

func (s *Session) use(env *envelope.Envelope) {
	s.env = env
	s.detector = analytics.NewDetector(env, s.cfg.IssueCooldown)
	for _, h := range s.onIssue {
		s.detector.Subscribe(h)
	}
}

// OnIssue subscribes h to accepted form issues. Subscriptions survive exercise
// switches.
func (s *Session) OnIssue(h analytics.IssueHandler) {
	s.onIssue = append(s.onIssue, h)
	s.detector.Subscribe(h)
}

// OnCapture subscribes h to capture triggers.
func (s *Session) OnCapture(h CaptureHandler) {
	s.onCapture = append(s.onCapture, h)
}

func (s *Session) Exercise() string { return s.env.Name }

func (s *Session) Envelope() *envelope.Envelope { return s.env }

// SetExercise switches the envelope and clears all temporal state.
func (s *Session) SetExercise(exercise string) error {
	env, err := s.registry.Get(exercise)
	if err != nil {
		return fmt.Errorf("switch exercise: %w", err)
	}
	s.Reset()
	s.use(env)
	return nil
}

// ProcessFrame runs one frame through every stage. A zero timestamp is
// stamped with the wall clock.
func (s *Session) ProcessFrame(frame models.Frame) models.FrameResult {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	if s.frames == 0 {
		s.startedAt = frame.Timestamp
	}
	s.frames++

	raw := geometry.ComputeAllAngles(frame, geometry.Options{
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		UseDepth:            s.cfg.UseDepth,
	})
	smoothed := s.smoother.SmoothAngles(raw)
	ready := s.smoother.Ready(smoothed)

	report := s.detector.Evaluate(ready, frame.Timestamp)

	result := models.FrameResult{
		Exercise:   s.env.Name,
		Timestamp:  frame.Timestamp,
		Raw:        raw,
		Smoothed:   smoothed,
		Ready:      sortedKeys(ready),
		Issues:     report.Issues,
		Suppressed: report.Suppressed,
	}
	if result.Issues == nil {
		result.Issues = []models.FormIssue{}
	}

	if s.env.TracksRepetitions {
		rep := s.reps.Process(frame)
		result.Rep = &rep
		if rep.Triggered {
			for _, h := range s.onCapture {
				h(rep)
			}
		}
	}

	return result
}

// RecentIssues returns up to limit of the latest accepted issues.
func (s *Session) RecentIssues(limit int) []models.FormIssue {
	return s.detector.RecentIssues(limit)
}

func (s *Session) Stats() models.SessionStats {
	return models.SessionStats{
		Exercise:  s.env.Name,
		Frames:    s.frames,
		StartedAt: s.startedAt,
		Detector:  s.detector.Stats(),
		Reps:      s.reps.Stats(),
	}
}

// Reset clears smoothing buffers, cooldowns and the repetition cycle.
func (s *Session) Reset() {
	s.smoother.Reset()
	s.detector.Reset()
	s.reps.Reset()
	s.frames = 0
	s.startedAt = time.Time{}
}

func sortedKeys(a models.Angles) []models.AngleKey {
	keys := make([]models.AngleKey, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
