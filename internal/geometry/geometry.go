// Package geometry derives joint angles from pose landmarks.
package geometry

import (
	"math"

	"form-coach/internal/models"

	"github.com/golang/geo/r3"
)

const DefaultConfidenceThreshold = 0.5

// Options controls how landmarks are turned into angles.
type Options struct {
	// ConfidenceThreshold gates landmarks; anything less confident is treated
	// as undetected.
	ConfidenceThreshold float64
	// UseDepth includes the estimator's z coordinate in the vector math.
	// Most estimators report z on a different scale than x/y, so this is off
	// by default.
	UseDepth bool
}

func DefaultOptions() Options {
	return Options{ConfidenceThreshold: DefaultConfidenceThreshold}
}

// triple names the landmarks of an angle measured at Vertex.
type triple struct {
	A, Vertex, C models.JointName
}

var catalog = map[models.AngleKey]triple{
	models.LeftKneeAngle:      {models.LeftHip, models.LeftKnee, models.LeftAnkle},
	models.RightKneeAngle:     {models.RightHip, models.RightKnee, models.RightAnkle},
	models.LeftHipAngle:       {models.LeftShoulder, models.LeftHip, models.LeftKnee},
	models.RightHipAngle:      {models.RightShoulder, models.RightHip, models.RightKnee},
	models.LeftElbowAngle:     {models.LeftShoulder, models.LeftElbow, models.LeftWrist},
	models.RightElbowAngle:    {models.RightShoulder, models.RightElbow, models.RightWrist},
	models.LeftShoulderAngle:  {models.LeftHip, models.LeftShoulder, models.LeftElbow},
	models.RightShoulderAngle: {models.RightHip, models.RightShoulder, models.RightElbow},
}

// screen y grows downward, so "down" is +Y.
var vertical = r3.Vector{X: 0, Y: 1, Z: 0}

// AngleAt returns the angle in degrees at b between the rays b->a and b->c.
// A zero-length ray yields 0.
func AngleAt(a, b, c r3.Vector) float64 {
	return angleBetween(a.Sub(b), c.Sub(b))
}

func angleBetween(u, v r3.Vector) float64 {
	nu, nv := u.Norm(), v.Norm()
	if nu == 0 || nv == 0 {
		return 0
	}
	cos := u.Dot(v) / (nu * nv)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// Vector converts a landmark into a point. Depth is dropped unless useDepth.
func Vector(lm models.Landmark, useDepth bool) r3.Vector {
	v := r3.Vector{X: lm.X, Y: lm.Y}
	if useDepth {
		v.Z = lm.Z
	}
	return v
}

// ComputeAllAngles measures every catalog angle the frame supports. Keys whose
// landmarks are missing or below the confidence threshold are left out.
func ComputeAllAngles(frame models.Frame, opts Options) models.Angles {
	angles := make(models.Angles, len(models.AngleKeys))

	for key, t := range catalog {
		a, okA := frame.Landmark(t.A, opts.ConfidenceThreshold)
		b, okB := frame.Landmark(t.Vertex, opts.ConfidenceThreshold)
		c, okC := frame.Landmark(t.C, opts.ConfidenceThreshold)
		if !okA || !okB || !okC {
			continue
		}
		angles[key] = AngleAt(Vector(a, opts.UseDepth), Vector(b, opts.UseDepth), Vector(c, opts.UseDepth))
	}

	if lean, ok := TorsoLean(frame, opts); ok {
		angles[models.TorsoLeanAngle] = lean
	}

	return angles
}

// TorsoLean is the angle between the shoulder-midpoint to hip-midpoint segment
// and screen vertical. An upright torso reads 0.
func TorsoLean(frame models.Frame, opts Options) (float64, bool) {
	var pts [4]r3.Vector
	for i, name := range []models.JointName{models.LeftShoulder, models.RightShoulder, models.LeftHip, models.RightHip} {
		lm, ok := frame.Landmark(name, opts.ConfidenceThreshold)
		if !ok {
			return 0, false
		}
		// lean is a screen-plane measurement
		pts[i] = Vector(lm, false)
	}

	shoulders := pts[0].Add(pts[1]).Mul(0.5)
	hips := pts[2].Add(pts[3]).Mul(0.5)
	return angleBetween(hips.Sub(shoulders), vertical), true
}
