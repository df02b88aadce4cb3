// Package smoothing filters per-angle sample streams with a bounded-window
// exponential moving average.
package smoothing

import (
	"form-coach/internal/models"
)

const (
	DefaultBufferSize = 5
	DefaultAlpha      = 0.3

	// readyFraction of the buffer must be filled before output is trusted.
	readyFraction = 0.6
)

type angleBuffer struct {
	samples []float64
}

// Smoother keeps one buffer per angle key. It is not safe for concurrent use.
type Smoother struct {
	bufferSize int
	alpha      float64
	buffers    map[models.AngleKey]*angleBuffer
}

// New creates a Smoother. Non-positive sizes and alphas outside (0,1] fall
// back to the defaults.
func New(bufferSize int, alpha float64) *Smoother {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Smoother{
		bufferSize: bufferSize,
		alpha:      alpha,
		buffers:    make(map[models.AngleKey]*angleBuffer),
	}
}

// Smooth records raw for key and returns the smoothed value.
func (s *Smoother) Smooth(key models.AngleKey, raw float64) float64 {
	buf, ok := s.buffers[key]
	if !ok {
		buf = &angleBuffer{samples: make([]float64, 0, s.bufferSize)}
		s.buffers[key] = buf
	}

	buf.samples = append(buf.samples, raw)
	if len(buf.samples) > s.bufferSize {
		buf.samples = buf.samples[1:]
	}

	if len(buf.samples) == 1 {
		return raw
	}

	// Fold the whole window every call so the output depends only on what is
	// buffered, not on history that has already been evicted.
	ema := buf.samples[0]
	for _, sample := range buf.samples[1:] {
		ema = s.alpha*sample + (1-s.alpha)*ema
	}
	return ema
}

// SmoothAngles smooths every measured angle. Keys absent from angles are
// absent from the result and their buffers are left untouched.
func (s *Smoother) SmoothAngles(angles models.Angles) models.Angles {
	out := make(models.Angles, len(angles))
	for key, raw := range angles {
		out[key] = s.Smooth(key, raw)
	}
	return out
}

// HasEnoughData reports whether key's buffer is at least 60% full.
func (s *Smoother) HasEnoughData(key models.AngleKey) bool {
	return float64(s.Len(key)) >= readyFraction*float64(s.bufferSize)
}

// Ready filters angles down to the keys that pass HasEnoughData.
func (s *Smoother) Ready(angles models.Angles) models.Angles {
	out := make(models.Angles, len(angles))
	for key, v := range angles {
		if s.HasEnoughData(key) {
			out[key] = v
		}
	}
	return out
}

// Len returns the number of buffered samples for key.
func (s *Smoother) Len(key models.AngleKey) int {
	buf, ok := s.buffers[key]
	if !ok {
		return 0
	}
	return len(buf.samples)
}

func (s *Smoother) BufferSize() int { return s.bufferSize }

// Reset drops every buffer.
func (s *Smoother) Reset() {
	s.buffers = make(map[models.AngleKey]*angleBuffer)
}
