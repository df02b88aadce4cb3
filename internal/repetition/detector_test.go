package repetition

import (
	"testing"
	"time"

	"form-coach/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// frame places both hips at hipY on a body 400 units tall.
func frame(hipY float64, ts time.Time) models.Frame {
	return models.Frame{
		Timestamp: ts,
		Landmarks: map[models.JointName]models.Landmark{
			models.LeftShoulder: {X: 100, Y: 100, Confidence: 0.9},
			models.LeftAnkle:    {X: 100, Y: 500, Confidence: 0.9},
			models.LeftHip:      {X: 100, Y: hipY, Confidence: 0.9},
			models.RightHip:     {X: 140, Y: hipY, Confidence: 0.9},
		},
	}
}

// cycle stands at base for flat frames, sinks to base+depth in steps of
// 10, then rises back to base.
func cycle(base, depth float64) []float64 {
	var ys []float64
	for y := base + 10; y <= base+depth; y += 10 {
		ys = append(ys, y)
	}
	for y := base + depth - 10; y >= base; y -= 10 {
		ys = append(ys, y)
	}
	return ys
}

func flat(y float64, n int) []float64 {
	ys := make([]float64, n)
	for i := range ys {
		ys[i] = y
	}
	return ys
}

func run(d *Detector, ys []float64, step time.Duration) []models.RepResult {
	results := make([]models.RepResult, len(ys))
	for i, y := range ys {
		results[i] = d.Process(frame(y, t0.Add(time.Duration(i)*step)))
	}
	return results
}

func triggers(results []models.RepResult) []int {
	var idx []int
	for i, r := range results {
		if r.Triggered {
			idx = append(idx, i)
		}
	}
	return idx
}

func TestProcess_Calibrating(t *testing.T) {
	d := NewDetector(DefaultConfig())

	results := run(d, flat(300, 5), 33*time.Millisecond)

	for _, r := range results[:4] {
		assert.Equal(t, models.RepStatusCalibrating, r.Status)
		assert.Equal(t, models.RepIdle, r.State)
	}
	assert.Equal(t, models.RepStatusTracking, results[4].Status)
	assert.True(t, results[4].HasBodyHeight)
	assert.Equal(t, 400.0, results[4].BodyHeight)
	assert.Equal(t, 300.0, results[4].SmoothedHipY)
}

func TestProcess_DeepRepTriggersOnceAtInflection(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := append(flat(300, 5), cycle(300, 100)...)
	ys = append(ys, flat(300, 5)...)
	peak := 5 + 9

	results := run(d, ys, 33*time.Millisecond)

	idx := triggers(results)
	require.Len(t, idx, 1)
	trigger := idx[0]
	assert.Greater(t, trigger, peak)

	firstAscending := -1
	for i, r := range results {
		if r.State == models.RepAscending {
			firstAscending = i
			break
		}
	}
	assert.Equal(t, firstAscending, trigger)

	r := results[trigger]
	assert.Equal(t, models.RepStatusCaptured, r.Status)
	assert.True(t, r.HasDescentStart)
	assert.Equal(t, 300.0, r.DescentStart)
	assert.GreaterOrEqual(t, r.DepthRatio, 0.15)
	assert.Equal(t, int64(1), d.Stats().Captured)
}

func TestProcess_ShallowRepRejected(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := append(flat(300, 5), cycle(300, 40)...)
	ys = append(ys, flat(300, 10)...)

	results := run(d, ys, 100*time.Millisecond)

	assert.Empty(t, triggers(results))
	var shallow int
	for _, r := range results {
		if r.Status == models.RepStatusShallow {
			shallow++
			assert.Less(t, r.DepthRatio, 0.15)
		}
	}
	assert.Equal(t, 1, shallow)
	assert.Equal(t, int64(1), d.Stats().Rejected)
	assert.Equal(t, models.RepIdle, d.State(), "settling after the rep completes the cycle")
	assert.False(t, results[len(results)-1].HasDescentStart)
}

func TestProcess_DebounceSuppressesSecondRep(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := flat(300, 5)
	for i := 0; i < 2; i++ {
		ys = append(ys, cycle(300, 100)...)
		ys = append(ys, flat(300, 5)...)
	}

	results := run(d, ys, 20*time.Millisecond)

	assert.Len(t, triggers(results), 1)
	var debouncing int
	for _, r := range results {
		if r.Status == models.RepStatusDebouncing {
			debouncing++
		}
	}
	assert.Positive(t, debouncing)
}

func TestProcess_RepsBeyondDebounceBothTrigger(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := flat(300, 5)
	ys = append(ys, cycle(300, 100)...)
	ys = append(ys, flat(300, 20)...)
	ys = append(ys, cycle(300, 100)...)
	ys = append(ys, flat(300, 5)...)

	results := run(d, ys, 100*time.Millisecond)

	idx := triggers(results)
	require.Len(t, idx, 2)
	assert.GreaterOrEqual(t, results[idx[1]].Timestamp.Sub(results[idx[0]].Timestamp), 2*time.Second)
}

func TestProcess_NoHip(t *testing.T) {
	d := NewDetector(DefaultConfig())
	run(d, flat(300, 3), 33*time.Millisecond)

	r := d.Process(models.Frame{Timestamp: t0.Add(time.Second)})

	assert.Equal(t, models.RepStatusNoHip, r.Status)
	assert.Len(t, d.buffer, 3)
}

func TestProcess_SingleHipIsEnough(t *testing.T) {
	d := NewDetector(DefaultConfig())
	f := frame(300, t0)
	delete(f.Landmarks, models.RightHip)

	r := d.Process(f)

	assert.Equal(t, models.RepStatusCalibrating, r.Status)
	assert.Equal(t, 300.0, r.SmoothedHipY)
}

func TestProcess_UnknownBodyHeightRejectsRep(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := append(flat(300, 5), cycle(300, 100)...)

	var statuses []models.RepStatus
	for i, y := range ys {
		f := frame(y, t0.Add(time.Duration(i)*33*time.Millisecond))
		// shoulder and ankle only 50 apart: not a plausible body
		f.Landmarks[models.LeftAnkle] = models.Landmark{X: 100, Y: 150, Confidence: 0.9}
		r := d.Process(f)
		assert.False(t, r.Triggered)
		assert.False(t, r.HasBodyHeight)
		statuses = append(statuses, r.Status)
	}

	assert.Contains(t, statuses, models.RepStatusNoBodyHeight)
	assert.Equal(t, int64(1), d.Stats().Rejected)
}

func TestProcess_BodyHeightFallsBackToRightSide(t *testing.T) {
	d := NewDetector(DefaultConfig())

	var r models.RepResult
	for i := 0; i < 5; i++ {
		f := frame(300, t0.Add(time.Duration(i)*33*time.Millisecond))
		delete(f.Landmarks, models.LeftAnkle)
		f.Landmarks[models.RightShoulder] = models.Landmark{Y: 90, Confidence: 0.9}
		f.Landmarks[models.RightAnkle] = models.Landmark{Y: 510, Confidence: 0.9}
		r = d.Process(f)
	}

	assert.True(t, r.HasBodyHeight)
	assert.Equal(t, 420.0, r.BodyHeight)
}

func TestReset(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := append(flat(300, 5), cycle(300, 100)...)
	run(d, ys[:17], 33*time.Millisecond)
	require.Equal(t, int64(1), d.Stats().Captured)

	d.Reset()

	assert.Equal(t, models.RepIdle, d.State())
	assert.Empty(t, d.buffer)
	assert.Equal(t, models.RepStats{}, d.Stats())
	r := d.Process(frame(300, t0.Add(time.Second)))
	assert.Equal(t, models.RepStatusCalibrating, r.Status)
	assert.False(t, r.HasBodyHeight)
	assert.False(t, r.HasDescentStart)
}

func TestNewDetector_ZeroConfigUsesDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), NewDetector(Config{}).cfg)

	cfg := DefaultConfig()
	cfg.MinBodyHeight = -5
	cfg.MinDescentRatio = 0
	assert.Equal(t, DefaultConfig(), NewDetector(cfg).cfg)
}

func TestProcess_CollapsedBodyNeverCaptures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBodyHeight = 0
	d := NewDetector(cfg)
	ys := append(flat(300, 5), cycle(300, 20)...)
	ys = append(ys, flat(300, 5)...)

	var statuses []models.RepStatus
	for i, y := range ys {
		f := frame(y, t0.Add(time.Duration(i)*33*time.Millisecond))
		f.Landmarks[models.LeftShoulder] = models.Landmark{X: 100, Y: 300, Confidence: 0.9}
		f.Landmarks[models.LeftAnkle] = models.Landmark{X: 100, Y: 300, Confidence: 0.9}
		r := d.Process(f)
		assert.False(t, r.Triggered)
		assert.False(t, r.HasBodyHeight)
		statuses = append(statuses, r.Status)
	}

	assert.Contains(t, statuses, models.RepStatusNoBodyHeight)
	assert.Equal(t, int64(0), d.Stats().Captured)
}

func TestInflection_ZeroBodyHeight(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.hasBodyHeight = true
	d.bodyHeight = 0
	d.hasDescentStart = true
	d.descentStart = 300

	var r models.RepResult
	status := d.inflection(310, t0, &r)

	assert.Equal(t, models.RepStatusNoBodyHeight, status)
	assert.False(t, r.Triggered)
	assert.Zero(t, r.DepthRatio)
}

func TestProcess_DebounceWithoutTimestamps(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ys := flat(300, 5)
	for i := 0; i < 2; i++ {
		ys = append(ys, cycle(300, 100)...)
		ys = append(ys, flat(300, 5)...)
	}

	var results []models.RepResult
	for _, y := range ys {
		results = append(results, d.Process(frame(y, time.Time{})))
	}

	assert.Len(t, triggers(results), 1)

	d.Reset()
	assert.False(t, d.hasCapture)
}
