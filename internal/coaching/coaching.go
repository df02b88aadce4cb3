// Package coaching turns pipeline output into request bodies for the external
// advisory service and decides which issues deserve one.
package coaching

import (
	"maps"
	"time"

	"form-coach/internal/models"
)

const (
	EndpointAnalyzeAngles    = "/analyze-angles"
	EndpointAnalyzeFormIssue = "/analyze-form-issue"
)

type IssueSummary struct {
	Type        models.IssueType `json:"type"`
	Description string           `json:"description"`
	Severity    models.Severity  `json:"severity"`
}

func Summarize(issue models.FormIssue) IssueSummary {
	return IssueSummary{Type: issue.Type, Description: issue.Description, Severity: issue.Severity}
}

// Pose is the frame state a request describes.
type Pose struct {
	Angles    models.Angles
	Landmarks map[models.JointName]models.Landmark
}

// RelevantLandmarks keeps the joints in joints detected with confidence
// strictly above threshold. An empty joint list keeps every confident landmark.
func RelevantLandmarks(frame models.Frame, joints []models.JointName, threshold float64) map[models.JointName]models.Landmark {
	out := make(map[models.JointName]models.Landmark)
	keep := func(name models.JointName) {
		if lm, ok := frame.Landmarks[name]; ok && lm.Confidence > threshold {
			out[name] = lm
		}
	}
	if len(joints) == 0 {
		for name := range frame.Landmarks {
			keep(name)
		}
		return out
	}
	for _, name := range joints {
		keep(name)
	}
	return out
}

// AnglesRequest asks for an overall assessment of the current position.
type AnglesRequest struct {
	ExerciseName string                               `json:"exercise_name"`
	Angles       models.Angles                        `json:"angles"`
	Landmarks    map[models.JointName]models.Landmark `json:"landmarks,omitempty"`
	FormIssues   []IssueSummary                       `json:"form_issues"`
}

// FormIssueRequest asks for targeted coaching on one issue.
type FormIssueRequest struct {
	ExerciseName string                               `json:"exercise_name"`
	Issue        IssueSummary                         `json:"issue"`
	Angles       models.Angles                        `json:"angles"`
	Landmarks    map[models.JointName]models.Landmark `json:"landmarks,omitempty"`
}

// Request is a queued call for the advisory service.
type Request struct {
	SessionID string    `json:"session_id"`
	Endpoint  string    `json:"endpoint"`
	Body      any       `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAnglesRequest(exercise string, pose Pose, issues []models.FormIssue) AnglesRequest {
	summaries := make([]IssueSummary, 0, len(issues))
	for _, issue := range issues {
		summaries = append(summaries, Summarize(issue))
	}
	return AnglesRequest{
		ExerciseName: exercise,
		Angles:       copyAngles(pose.Angles),
		Landmarks:    maps.Clone(pose.Landmarks),
		FormIssues:   summaries,
	}
}

func NewFormIssueRequest(exercise string, issue models.FormIssue, pose Pose) FormIssueRequest {
	return FormIssueRequest{
		ExerciseName: exercise,
		Issue:        Summarize(issue),
		Angles:       copyAngles(pose.Angles),
		Landmarks:    maps.Clone(pose.Landmarks),
	}
}

func copyAngles(a models.Angles) models.Angles {
	out := make(models.Angles, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Throttle spaces advisory requests per severity. Severities without an
// interval are never forwarded.
type Throttle struct {
	intervals map[models.Severity]time.Duration
	last      map[models.Severity]time.Time
}

func DefaultIntervals() map[models.Severity]time.Duration {
	return map[models.Severity]time.Duration{
		models.SeverityCritical: 5 * time.Second,
		models.SeverityWarning:  10 * time.Second,
		models.SeverityMinor:    30 * time.Second,
	}
}

func NewThrottle(intervals map[models.Severity]time.Duration) *Throttle {
	if intervals == nil {
		intervals = DefaultIntervals()
	}
	return &Throttle{intervals: intervals, last: make(map[models.Severity]time.Time)}
}

// Allow reports whether an issue of severity may go out at now, and if so
// records it.
func (t *Throttle) Allow(severity models.Severity, now time.Time) bool {
	interval, ok := t.intervals[severity]
	if !ok {
		return false
	}
	if last, seen := t.last[severity]; seen && now.Sub(last) < interval {
		return false
	}
	t.last[severity] = now
	return true
}

func (t *Throttle) Reset() {
	t.last = make(map[models.Severity]time.Time)
}

// Advisor builds throttled requests for one session.
type Advisor struct {
	sessionID string
	throttle  *Throttle
}

func NewAdvisor(sessionID string, throttle *Throttle) *Advisor {
	if throttle == nil {
		throttle = NewThrottle(nil)
	}
	return &Advisor{sessionID: sessionID, throttle: throttle}
}

// ForIssue returns a form-issue request when the throttle lets the issue through.
func (a *Advisor) ForIssue(exercise string, issue models.FormIssue, pose Pose) (Request, bool) {
	if !a.throttle.Allow(issue.Severity, issue.Timestamp) {
		return Request{}, false
	}
	return Request{
		SessionID: a.sessionID,
		Endpoint:  EndpointAnalyzeFormIssue,
		Body:      NewFormIssueRequest(exercise, issue, pose),
		CreatedAt: issue.Timestamp,
	}, true
}

// ForCapture returns an angles request for the bottom of a repetition. Captures
// are already debounced upstream so they bypass the throttle.
func (a *Advisor) ForCapture(exercise string, rep models.RepResult, pose Pose, recent []models.FormIssue) Request {
	return Request{
		SessionID: a.sessionID,
		Endpoint:  EndpointAnalyzeAngles,
		Body:      NewAnglesRequest(exercise, pose, recent),
		CreatedAt: rep.Timestamp,
	}
}

func (a *Advisor) Reset() { a.throttle.Reset() }
