package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"form-coach/internal/envelope"
	"form-coach/internal/models"

	"github.com/gorilla/mux"
)

const (
	defaultIssueLimit = 10
	maxIssueLimit     = 1000
)

type exerciseRequest struct {
	Exercise string `json:"exercise"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Exercise  string `json:"exercise"`
}

type exerciseInfo struct {
	Name              string                                  `json:"name"`
	Landmarks         []models.JointName                      `json:"landmarks"`
	TracksRepetitions bool                                    `json:"tracks_repetitions"`
	Ranges            map[models.AngleKey]envelope.AngleRange `json:"ranges"`
}

// frameRequest is one pose estimate. Unrecognised joint names are ignored and
// a missing timestamp is stamped on arrival.
type frameRequest struct {
	TimestampMs *int64                     `json:"timestamp_ms,omitempty"`
	Landmarks   map[string]models.Landmark `json:"landmarks"`
}

func (f frameRequest) toFrame() models.Frame {
	frame := models.Frame{Landmarks: make(map[models.JointName]models.Landmark, len(f.Landmarks))}
	if f.TimestampMs != nil {
		frame.Timestamp = time.UnixMilli(*f.TimestampMs).UTC()
	}
	for name, lm := range f.Landmarks {
		joint := models.JointName(name)
		if !joint.IsKnown() {
			continue
		}
		frame.Landmarks[joint] = lm
	}
	return frame
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, envelope.ErrUnknownExercise):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
		"sessions":  s.sessionCount(),
	})
}

func (s *Server) exercisesHandler(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	out := make([]exerciseInfo, 0, len(names))
	for _, name := range names {
		env, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		out = append(out, exerciseInfo{
			Name:              env.Name,
			Landmarks:         env.Landmarks,
			TracksRepetitions: env.TracksRepetitions,
			Ranges:            env.Ranges,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req exerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.createSession(req.Exercise)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: entry.id, Exercise: entry.session.Exercise()})
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.removeSession(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setExerciseHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req exerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry.mu.Lock()
	err = entry.session.SetExercise(req.Exercise)
	if err == nil {
		entry.advisor.Reset()
	}
	exercise := entry.session.Exercise()
	entry.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	s.emit(event{kind: eventClear, sessionID: entry.id})
	s.logger.Info("exercise switched", "session", entry.id, "exercise", exercise)
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: entry.id, Exercise: exercise})
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	entry.mu.Lock()
	entry.session.Reset()
	entry.advisor.Reset()
	entry.mu.Unlock()

	s.emit(event{kind: eventClear, sessionID: entry.id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) framesHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A frame arriving while the previous one is still in the pipeline is
	// stale by the time the lock frees up.
	if !entry.mu.TryLock() {
		framesDropped.Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "dropped"})
		return
	}
	result := s.processFrame(entry, req.toFrame())
	entry.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultIssueLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxIssueLimit {
		limit = maxIssueLimit
	}
	return limit, nil
}

func (s *Server) issuesHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry.mu.Lock()
	issues := entry.session.RecentIssues(limit)
	entry.mu.Unlock()

	writeJSON(w, http.StatusOK, issues)
}

// issueHistoryHandler reads the published issue list, newest first.
func (s *Server) issueHistoryHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	issues, err := s.sink.GetRecentIssues(r.Context(), entry.id, int64(limit))
	if err != nil {
		s.logger.Error("failed to read issue history", "session", entry.id, "err", err)
		http.Error(w, "issue history unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookup(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	entry.mu.Lock()
	stats := entry.session.Stats()
	entry.mu.Unlock()

	stats.SessionID = entry.id
	writeJSON(w, http.StatusOK, stats)
}
