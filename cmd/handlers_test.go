package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"form-coach/internal/coaching"
	"form-coach/internal/config"
	"form-coach/internal/envelope"
	"form-coach/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	issues   map[string][]models.FormIssue
	captures []models.RepResult
	requests []coaching.Request
	cleared  []string
	err      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{issues: make(map[string][]models.FormIssue)}
}

func (f *fakeSink) PublishIssue(_ context.Context, id string, issue models.FormIssue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[id] = append([]models.FormIssue{issue}, f.issues[id]...)
	return f.err
}

func (f *fakeSink) PublishCapture(_ context.Context, _ string, rep models.RepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, rep)
	return f.err
}

func (f *fakeSink) EnqueueCoaching(_ context.Context, req coaching.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeSink) GetRecentIssues(_ context.Context, id string, count int64) ([]models.FormIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	list := f.issues[id]
	if int64(len(list)) > count {
		list = list[:count]
	}
	return append([]models.FormIssue{}, list...), nil
}

func (f *fakeSink) ClearSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.issues, id)
	f.cleared = append(f.cleared, id)
	return f.err
}

func newTestServer(t *testing.T) (*Server, *fakeSink) {
	t.Helper()
	registry := envelope.Default()
	require.NoError(t, registry.Register(&envelope.Envelope{
		Name:              "knee-drill",
		TracksRepetitions: true,
		Landmarks:         []models.JointName{models.LeftHip, models.LeftKnee, models.LeftAnkle},
		Ranges: map[models.AngleKey]envelope.AngleRange{
			models.LeftKneeAngle: {MinIdeal: 80, MaxIdeal: 110, MinAcceptable: 70, MaxAcceptable: 130},
		},
	}))

	sink := newFakeSink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(config.Default(), registry, sink, logger)
	t.Cleanup(s.Close)
	return s, sink
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, s *Server, exercise string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/sessions", `{"exercise":"`+exercise+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

const legFrame = `{"timestamp_ms": %d, "landmarks": {
	"leftHip": {"x": 100, "y": 200, "confidence": 0.9},
	"leftKnee": {"x": 100, "y": 260, "confidence": 0.9},
	"leftAnkle": {"x": 100, "y": 320, "confidence": 0.9},
	"tailbone": {"x": 1, "y": 1, "confidence": 1}
}}`

func sendLegFrames(t *testing.T, s *Server, id string, n int) models.FrameResult {
	t.Helper()
	var result models.FrameResult
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(legFrame, 1_700_000_000_000+int64(i)*33)
		rec := do(t, s, http.MethodPost, "/sessions/"+id+"/frames", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	}
	return result
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	startSession(t, s, "squat")

	rec := do(t, s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestExercises(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/exercises", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var list []exerciseInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))

	byName := make(map[string]exerciseInfo)
	for _, e := range list {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "squat")
	assert.True(t, byName["squat"].TracksRepetitions)
	assert.NotEmpty(t, byName["squat"].Ranges)
	assert.False(t, byName["plank"].TracksRepetitions)
}

func TestCreateSession_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/sessions", `{"exercise":"burpee"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/sessions", `{not json`).Code)
}

func TestCreateSession_NormalizesName(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/sessions", `{"exercise":" Squat "}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "squat", resp.Exercise)
}

func TestUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/sessions/nope/frames", `{"landmarks":{}}`},
		{http.MethodGet, "/sessions/nope/stats", ""},
		{http.MethodGet, "/sessions/nope/issues", ""},
		{http.MethodPost, "/sessions/nope/reset", ""},
		{http.MethodPut, "/sessions/nope/exercise", `{"exercise":"squat"}`},
		{http.MethodDelete, "/sessions/nope", ""},
	} {
		assert.Equal(t, http.StatusNotFound, do(t, s, tc.method, tc.path, tc.body).Code, tc.method+" "+tc.path)
	}
}

func TestFrames_PublishesIssuesAndCoaching(t *testing.T) {
	s, sink := newTestServer(t)
	id := startSession(t, s, "knee-drill")

	last := sendLegFrames(t, s, id, 5)

	assert.InDelta(t, 180.0, last.Smoothed[models.LeftKneeAngle], 1e-9)
	assert.Empty(t, last.Issues)
	assert.Equal(t, []string{"leftKnee-angle-deviation"}, last.Suppressed)

	rec := do(t, s, http.MethodGet, "/sessions/"+id+"/issues?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues []models.FormIssue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, models.SeverityCritical, issues[0].Severity)

	s.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.issues[id], 1)
	assert.Equal(t, issues[0].ID, sink.issues[id][0].ID)
	require.Len(t, sink.requests, 1)
	assert.Equal(t, coaching.EndpointAnalyzeFormIssue, sink.requests[0].Endpoint)
	assert.Equal(t, id, sink.requests[0].SessionID)

	body, ok := sink.requests[0].Body.(coaching.FormIssueRequest)
	require.True(t, ok)
	assert.Len(t, body.Landmarks, 3, "only the drill's joints above the confidence threshold")
	assert.NotContains(t, body.Landmarks, models.JointName("tailbone"))
}

func TestFrames_BadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	id := startSession(t, s, "squat")

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/sessions/"+id+"/frames", `{"landmarks": [`).Code)
}

func TestFrames_DroppedWhileBusy(t *testing.T) {
	s, _ := newTestServer(t)
	id := startSession(t, s, "squat")

	entry, err := s.lookup(id)
	require.NoError(t, err)
	entry.mu.Lock()
	rec := do(t, s, http.MethodPost, "/sessions/"+id+"/frames", `{"landmarks":{}}`)
	entry.mu.Unlock()

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"status":"dropped"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/sessions/"+id+"/stats", "")
	var stats models.SessionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.Frames)
}

func TestIssues_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	id := startSession(t, s, "squat")

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/sessions/"+id+"/issues?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/sessions/"+id+"/issues?limit=0", "").Code)
}

func TestIssueHistory(t *testing.T) {
	s, sink := newTestServer(t)
	id := startSession(t, s, "squat")
	sink.mu.Lock()
	sink.issues[id] = []models.FormIssue{{Key: "b"}, {Key: "a"}}
	sink.mu.Unlock()

	rec := do(t, s, http.MethodGet, "/sessions/"+id+"/issues/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues []models.FormIssue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "b", issues[0].Key)

	sink.mu.Lock()
	sink.err = errors.New("connection refused")
	sink.mu.Unlock()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/sessions/"+id+"/issues/history", "").Code)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)
	id := startSession(t, s, "knee-drill")
	sendLegFrames(t, s, id, 3)

	rec := do(t, s, http.MethodGet, "/sessions/"+id+"/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.SessionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, id, stats.SessionID)
	assert.Equal(t, "knee-drill", stats.Exercise)
	assert.Equal(t, int64(3), stats.Frames)
	assert.Equal(t, int64(1), stats.Detector.TotalIssues)
}

func TestResetAndSwitchExercise(t *testing.T) {
	s, sink := newTestServer(t)
	id := startSession(t, s, "knee-drill")
	sendLegFrames(t, s, id, 3)

	rec := do(t, s, http.MethodPost, "/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPut, "/sessions/"+id+"/exercise", `{"exercise":"burpee"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/sessions/"+id+"/exercise", `{"exercise":"pushup"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "push-up", resp.Exercise)

	rec = do(t, s, http.MethodGet, "/sessions/"+id+"/stats", "")
	var stats models.SessionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.Frames)

	s.Close()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{id, id}, sink.cleared)
	assert.Empty(t, sink.issues[id])
}

func TestDeleteSession(t *testing.T) {
	s, sink := newTestServer(t)
	id := startSession(t, s, "squat")

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/sessions/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/sessions/"+id+"/stats", "").Code)
	assert.Equal(t, 0, s.sessionCount())

	s.Close()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{id}, sink.cleared)
}

func TestFrameRequest_ToFrame(t *testing.T) {
	ms := int64(1_700_000_000_123)
	req := frameRequest{
		TimestampMs: &ms,
		Landmarks: map[string]models.Landmark{
			"nose":      {X: 1, Y: 2, Confidence: 0.8},
			"tailbone":  {X: 3, Y: 4, Confidence: 0.8},
		},
	}

	frame := req.toFrame()

	assert.Equal(t, ms, frame.Timestamp.UnixMilli())
	assert.Len(t, frame.Landmarks, 1)
	assert.Contains(t, frame.Landmarks, models.Nose)
	assert.NotContains(t, frame.Landmarks, models.JointName("tailbone"))

	assert.True(t, frameRequest{}.toFrame().Timestamp.IsZero())
}
