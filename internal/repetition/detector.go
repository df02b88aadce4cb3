// Package repetition finds the bottom of a cyclic lower-body movement from
// hip height and raises a capture trigger there.
package repetition

import (
	"math"
	"time"

	"form-coach/internal/models"

	"gonum.org/v1/gonum/stat"
)

type Config struct {
	Window              int
	VelocityThreshold   float64
	MinDescentRatio     float64
	Debounce            time.Duration
	MinBodyHeight       float64
	ConfidenceThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Window:              5,
		VelocityThreshold:   0.5,
		MinDescentRatio:     0.15,
		Debounce:            2000 * time.Millisecond,
		MinBodyHeight:       100,
		ConfidenceThreshold: 0.5,
	}
}

// Detector runs the idle -> descending -> ascending -> idle cycle over the
// moving average of hip height. Screen y grows downward, so descending means
// hip y increasing. It is not safe for concurrent use.
type Detector struct {
	cfg Config

	state           models.RepState
	buffer          []float64
	descentStart    float64
	hasDescentStart bool
	bodyHeight      float64
	hasBodyHeight   bool
	lastCapture     time.Time
	hasCapture      bool
	stats           models.RepStats
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	if cfg.MinDescentRatio <= 0 {
		cfg.MinDescentRatio = def.MinDescentRatio
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MinBodyHeight <= 0 {
		cfg.MinBodyHeight = def.MinBodyHeight
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	d := &Detector{cfg: cfg}
	d.Reset()
	return d
}

// Process consumes one frame.
func (d *Detector) Process(frame models.Frame) models.RepResult {
	now := frame.Timestamp
	result := models.RepResult{Timestamp: now}

	hipY, ok := d.hipHeight(frame)
	if !ok {
		return d.fill(result, models.RepStatusNoHip)
	}

	d.buffer = append(d.buffer, hipY)
	if len(d.buffer) > d.cfg.Window {
		d.buffer = d.buffer[1:]
	}
	smoothed := stat.Mean(d.buffer, nil)
	result.SmoothedHipY = smoothed

	if len(d.buffer) < d.cfg.Window {
		return d.fill(result, models.RepStatusCalibrating)
	}

	if !d.hasBodyHeight {
		d.estimateBodyHeight(frame)
	}

	if d.hasCapture && now.Sub(d.lastCapture) < d.cfg.Debounce {
		return d.fill(result, models.RepStatusDebouncing)
	}

	baseline := stat.Mean(d.buffer[:len(d.buffer)-1], nil)
	velocity := smoothed - baseline
	result.Velocity = velocity
	status := models.RepStatusTracking

	switch {
	case velocity > d.cfg.VelocityThreshold:
		if d.state != models.RepDescending {
			d.descentStart = baseline
			d.hasDescentStart = true
		}
		d.state = models.RepDescending

	case velocity < -d.cfg.VelocityThreshold:
		if d.state == models.RepDescending {
			status = d.inflection(smoothed, now, &result)
		}
		d.state = models.RepAscending

	default:
		if d.state == models.RepAscending {
			d.state = models.RepIdle
			d.descentStart = 0
			d.hasDescentStart = false
		}
	}

	return d.fill(result, status)
}

// inflection judges the rep that just bottomed out.
func (d *Detector) inflection(smoothed float64, now time.Time, result *models.RepResult) models.RepStatus {
	if !d.hasBodyHeight || d.bodyHeight <= 0 || !d.hasDescentStart {
		d.stats.Rejected++
		return models.RepStatusNoBodyHeight
	}

	ratio := (smoothed - d.descentStart) / d.bodyHeight
	result.DepthRatio = ratio
	if ratio < d.cfg.MinDescentRatio {
		d.stats.Rejected++
		return models.RepStatusShallow
	}

	result.Triggered = true
	d.lastCapture = now
	d.hasCapture = true
	d.stats.Captured++
	d.stats.LastCapture = now
	return models.RepStatusCaptured
}

func (d *Detector) fill(r models.RepResult, status models.RepStatus) models.RepResult {
	r.State = d.state
	r.Status = status
	r.BodyHeight = d.bodyHeight
	r.HasBodyHeight = d.hasBodyHeight
	r.DescentStart = d.descentStart
	r.HasDescentStart = d.hasDescentStart
	return r
}

// hipHeight averages whichever hips are confidently detected.
func (d *Detector) hipHeight(frame models.Frame) (float64, bool) {
	var ys []float64
	for _, name := range []models.JointName{models.LeftHip, models.RightHip} {
		if lm, ok := frame.Landmark(name, d.cfg.ConfidenceThreshold); ok {
			ys = append(ys, lm.Y)
		}
	}
	if len(ys) == 0 {
		return 0, false
	}
	return stat.Mean(ys, nil), true
}

// estimateBodyHeight takes shoulder-to-ankle extent on the left side, or the
// right side when the left is not visible. Implausibly small extents are
// ignored so a later frame can try again.
func (d *Detector) estimateBodyHeight(frame models.Frame) {
	sides := [][2]models.JointName{
		{models.LeftShoulder, models.LeftAnkle},
		{models.RightShoulder, models.RightAnkle},
	}
	for _, side := range sides {
		shoulder, ok1 := frame.Landmark(side[0], d.cfg.ConfidenceThreshold)
		ankle, ok2 := frame.Landmark(side[1], d.cfg.ConfidenceThreshold)
		if !ok1 || !ok2 {
			continue
		}
		h := math.Abs(ankle.Y - shoulder.Y)
		if h < d.cfg.MinBodyHeight {
			return
		}
		d.bodyHeight = h
		d.hasBodyHeight = true
		return
	}
}

func (d *Detector) State() models.RepState { return d.state }

func (d *Detector) Stats() models.RepStats { return d.stats }

// Reset returns the detector to its initial state.
func (d *Detector) Reset() {
	d.state = models.RepIdle
	d.buffer = make([]float64, 0, d.cfg.Window)
	d.descentStart = 0
	d.hasDescentStart = false
	d.bodyHeight = 0
	d.hasBodyHeight = false
	d.lastCapture = time.Time{}
	d.hasCapture = false
	d.stats = models.RepStats{}
}
