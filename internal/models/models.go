package models

import "time"

// JointName identifies a body keypoint in the pose estimator's vocabulary.
type JointName string

const (
	Nose          JointName = "nose"
	LeftShoulder  JointName = "leftShoulder"
	RightShoulder JointName = "rightShoulder"
	LeftElbow     JointName = "leftElbow"
	RightElbow    JointName = "rightElbow"
	LeftWrist     JointName = "leftWrist"
	RightWrist    JointName = "rightWrist"
	LeftHip       JointName = "leftHip"
	RightHip      JointName = "rightHip"
	LeftKnee      JointName = "leftKnee"
	RightKnee     JointName = "rightKnee"
	LeftAnkle     JointName = "leftAnkle"
	RightAnkle    JointName = "rightAnkle"
)

var knownJoints = map[JointName]bool{
	Nose: true, LeftShoulder: true, RightShoulder: true, LeftElbow: true, RightElbow: true,
	LeftWrist: true, RightWrist: true, LeftHip: true, RightHip: true, LeftKnee: true,
	RightKnee: true, LeftAnkle: true, RightAnkle: true,
}

// IsKnown reports whether the joint belongs to the supported vocabulary.
func (j JointName) IsKnown() bool { return knownJoints[j] }

type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Frame is the landmark set delivered by the pose estimator for one image.
type Frame struct {
	Timestamp time.Time              `json:"timestamp"`
	Landmarks map[JointName]Landmark `json:"landmarks"`
}

// Landmark returns the named landmark when it is present and at least as
// confident as threshold.
func (f Frame) Landmark(name JointName, threshold float64) (Landmark, bool) {
	lm, ok := f.Landmarks[name]
	if !ok || lm.Confidence < threshold {
		return Landmark{}, false
	}
	return lm, true
}

// AngleKey names one entry of the joint angle catalog.
type AngleKey string

const (
	LeftKneeAngle      AngleKey = "leftKnee"
	RightKneeAngle     AngleKey = "rightKnee"
	LeftHipAngle       AngleKey = "leftHip"
	RightHipAngle      AngleKey = "rightHip"
	LeftElbowAngle     AngleKey = "leftElbow"
	RightElbowAngle    AngleKey = "rightElbow"
	LeftShoulderAngle  AngleKey = "leftShoulder"
	RightShoulderAngle AngleKey = "rightShoulder"
	TorsoLeanAngle     AngleKey = "torsoLean"
)

// AngleKeys lists the catalog in a stable order.
var AngleKeys = []AngleKey{
	LeftKneeAngle, RightKneeAngle,
	LeftHipAngle, RightHipAngle,
	LeftElbowAngle, RightElbowAngle,
	LeftShoulderAngle, RightShoulderAngle,
	TorsoLeanAngle,
}

// IsKnown reports whether the key is part of the angle catalog.
func (k AngleKey) IsKnown() bool {
	for _, known := range AngleKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Angles maps angle keys to degrees. A key that could not be measured is
// absent rather than zero.
type Angles map[AngleKey]float64

type IssueType string

const (
	IssueAngleDeviation IssueType = "angle-deviation"
	IssueTechnique      IssueType = "technique"
	IssueSafety         IssueType = "safety"
	IssueMinor          IssueType = "minor"
)

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from minor (1) to critical (3). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// Bounds is an inclusive degree interval.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type FormIssue struct {
	ID          string    `json:"id"`
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Exercise    string    `json:"exercise,omitempty"`
	Joint       AngleKey  `json:"joint,omitempty"`
	Measured    *float64  `json:"measured,omitempty"`
	Expected    *Bounds   `json:"expected,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type DetectorStats struct {
	TotalEvaluations int64              `json:"total_evaluations"`
	TotalIssues      int64              `json:"total_issues"`
	TotalSuppressed  int64              `json:"total_suppressed"`
	BySeverity       map[Severity]int64 `json:"by_severity"`
	LastIssueTime    time.Time          `json:"last_issue_time,omitempty"`
	Cooldown         time.Duration      `json:"cooldown_ns"`
}

type RepState string

const (
	RepIdle       RepState = "idle"
	RepDescending RepState = "descending"
	RepAscending  RepState = "ascending"
)

// RepStatus explains what the repetition detector did with a frame.
type RepStatus string

const (
	RepStatusTracking     RepStatus = "tracking"
	RepStatusCalibrating  RepStatus = "calibrating"
	RepStatusDebouncing   RepStatus = "debouncing"
	RepStatusNoHip        RepStatus = "no-hip"
	RepStatusCaptured     RepStatus = "captured"
	RepStatusShallow      RepStatus = "shallow"
	RepStatusNoBodyHeight RepStatus = "no-body-height"
)

type RepResult struct {
	Triggered       bool      `json:"triggered"`
	State           RepState  `json:"state"`
	Status          RepStatus `json:"status"`
	SmoothedHipY    float64   `json:"smoothed_hip_y"`
	Velocity        float64   `json:"velocity"`
	BodyHeight      float64   `json:"body_height"`
	HasBodyHeight   bool      `json:"has_body_height"`
	DescentStart    float64   `json:"descent_start"`
	HasDescentStart bool      `json:"has_descent_start"`
	DepthRatio      float64   `json:"depth_ratio,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type RepStats struct {
	Captured    int64     `json:"captured"`
	Rejected    int64     `json:"rejected"`
	LastCapture time.Time `json:"last_capture,omitempty"`
}

// FrameResult is everything the session pipeline derived from one frame.
type FrameResult struct {
	Exercise   string      `json:"exercise"`
	Timestamp  time.Time   `json:"timestamp"`
	Raw        Angles      `json:"raw_angles"`
	Smoothed   Angles      `json:"angles"`
	Ready      []AngleKey  `json:"ready"`
	Issues     []FormIssue `json:"issues"`
	Suppressed []string    `json:"suppressed,omitempty"`
	Rep        *RepResult  `json:"rep,omitempty"`
}

type SessionStats struct {
	SessionID string        `json:"session_id"`
	Exercise  string        `json:"exercise"`
	Frames    int64         `json:"frames"`
	StartedAt time.Time     `json:"started_at"`
	Detector  DetectorStats `json:"detector"`
	Reps      RepStats      `json:"reps"`
}
