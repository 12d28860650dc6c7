// Package posesmoother implements a per-axis 1-euro low-pass filter over
// wrapped angles, used to optionally smooth the relative orientation the
// head tracker publishes. Grounded on the small, stateful
// per-metric accumulators (internal/radar and internal/lidar/l5tracks use
// the same "accumulate, then low-pass with an adaptive cutoff" shape for
// track smoothing) adapted here from Cartesian position smoothing to
// angular smoothing with explicit unwrap/re-wrap at the boundary.
package posesmoother

import "math"

// Config parameterizes the filter. MinCutoff and Beta follow the
// conventional 1-euro parameter names; MaxDeltaSec bounds how stale a
// sample can be before the filter re-primes instead of low-passing a
// huge, meaningless jump.
type Config struct {
	MinCutoff   float64
	Beta        float64
	MaxDeltaSec float64
}

// axisState tracks one angle's unwrapped accumulator and the previous
// low-passed value, needed for the adaptive-cutoff derivative estimate.
type axisState struct {
	primed       bool
	unwrapped    float64
	filtered     float64
	prevFiltered float64
}

func (a *axisState) prime(angleDeg float64) {
	a.primed = true
	a.unwrapped = angleDeg
	a.filtered = angleDeg
	a.prevFiltered = angleDeg
}

func (a *axisState) reset() {
	*a = axisState{}
}

// Vec3 is a plain (pitch,yaw,roll)-shaped triple of wrapped degree angles.
type Vec3 struct{ X, Y, Z float64 }

// Smoother holds three independent axisStates, one per component of a
// Vec3, plus the shared filter configuration.
type Smoother struct {
	cfg  Config
	axes [3]axisState
}

// New returns an unprimed Smoother.
func New(cfg Config) *Smoother {
	return &Smoother{cfg: cfg}
}

// Prime seeds all three axes from one sample, with no smoothing applied
// to that first sample.
func (s *Smoother) Prime(v Vec3) {
	s.axes[0].prime(v.X)
	s.axes[1].prime(v.Y)
	s.axes[2].prime(v.Z)
}

// Reset clears initialization; the next Step call re-primes instead of
// filtering.
func (s *Smoother) Reset() {
	for i := range s.axes {
		s.axes[i].reset()
	}
}

// Primed reports whether Prime has been called (and Reset has not since).
func (s *Smoother) Primed() bool {
	return s.axes[0].primed
}

// Step filters v at deltaTSec since the previous step. An invalid
// deltaTSec (non-finite, <= 0, or above Config.MaxDeltaSec) re-primes the
// filter from v and returns v unmodified, since there is nothing
// meaningful to low-pass against.
func (s *Smoother) Step(v Vec3, deltaTSec float64) Vec3 {
	if math.IsNaN(deltaTSec) || math.IsInf(deltaTSec, 0) || deltaTSec <= 0 || deltaTSec > s.cfg.MaxDeltaSec {
		s.Prime(v)
		return v
	}
	if !s.Primed() {
		s.Prime(v)
		return v
	}
	return Vec3{
		X: s.stepAxis(0, v.X, deltaTSec),
		Y: s.stepAxis(1, v.Y, deltaTSec),
		Z: s.stepAxis(2, v.Z, deltaTSec),
	}
}

func (s *Smoother) stepAxis(i int, angleDeg, dt float64) float64 {
	a := &s.axes[i]

	delta := wrapAngle(angleDeg - wrapAngle(a.unwrapped))
	a.unwrapped += delta

	derivative := (a.unwrapped - a.prevFiltered) / dt
	cutoff := s.cfg.MinCutoff + s.cfg.Beta*math.Abs(derivative)
	alpha := lowPassAlpha(cutoff, dt)

	a.prevFiltered = a.filtered
	a.filtered = alpha*a.unwrapped + (1-alpha)*a.filtered

	return wrapAngle(a.filtered)
}

func lowPassAlpha(cutoffHz, dt float64) float64 {
	tau := 1.0 / (2 * math.Pi * cutoffHz)
	return 1.0 / (1.0 + tau/dt)
}

// wrapAngle wraps a degree value to (-180, 180].
func wrapAngle(a float64) float64 {
	for a <= -180 {
		a += 360
	}
	for a > 180 {
		a -= 360
	}
	return a
}
