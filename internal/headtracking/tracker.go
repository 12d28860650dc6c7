// Package headtracking integrates IMU samples into a fused head-orientation
// estimate: stillness calibration against a temperature-indexed factory
// bias, a complementary filter over gyro integration and accelerometer
// tilt, recentering, and strict device-time monotonicity.
//
// The filter shape is grounded on a sibling reference implementation
// (relabs-tech-inertial_computer/internal/orientation/orientation.go:
// atan2-based tilt from accel) generalized from accel-only tilt to a
// gyro/accel complementary blend, and the calibrate-then-track state split
// is grounded on a UDP listener's own lifecycle shape
// (internal/lidar/network/listener.go), adapted from "ready once the first
// datagram arrives" to "calibrated once N still samples have accumulated".
package headtracking

import (
	"math"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// Vec3 is a plain (x,y,z) triple used throughout the tracker; it does not
// alias reportframer.Vec3 because the tracker operates in float64 for
// integration precision while wire reports carry float32.
type Vec3 struct {
	X, Y, Z float64
}

func sub(a, b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func addScaled(a, b Vec3, dt float64) Vec3 {
	return Vec3{a.X + b.X*dt, a.Y + b.Y*dt, a.Z + b.Z*dt}
}

// GyroTempSample is one entry of a temperature-sorted factory gyro bias
// table; it mirrors deviceconfig.GyroBiasSample without importing that
// package, keeping the tracker decoupled from the config parser.
type GyroTempSample struct {
	TemperatureC float64
	Bias         Vec3
}

// BiasConfig is the factory bias correction the tracker subtracts before
// integrating. GyroTempCurve must be non-empty and temperature-sorted;
// callers (the orchestrator, via C4's DeviceConfig) are responsible for
// that invariant — the tracker assumes it.
type BiasConfig struct {
	AccelBias     Vec3
	GyroTempCurve []GyroTempSample
}

func (b BiasConfig) gyroAt(temperatureC float64) Vec3 {
	table := b.GyroTempCurve
	if temperatureC <= table[0].TemperatureC {
		return table[0].Bias
	}
	last := table[len(table)-1]
	if temperatureC >= last.TemperatureC {
		return last.Bias
	}
	for i := 1; i < len(table); i++ {
		lo, hi := table[i-1], table[i]
		if temperatureC > hi.TemperatureC {
			continue
		}
		if hi.TemperatureC == lo.TemperatureC {
			return lo.Bias
		}
		frac := (temperatureC - lo.TemperatureC) / (hi.TemperatureC - lo.TemperatureC)
		return Vec3{
			lo.Bias.X + (hi.Bias.X-lo.Bias.X)*frac,
			lo.Bias.Y + (hi.Bias.Y-lo.Bias.Y)*frac,
			lo.Bias.Z + (hi.Bias.Z-lo.Bias.Z)*frac,
		}
	}
	return last.Bias
}

// Config parameterizes a Tracker.
type Config struct {
	CalibrationTarget int
	Alpha             float64
	OutputScale       Vec3
	Bias              BiasConfig
}

// Sample is one IMU reading, already axis-remapped into the tracker's
// frame by the caller (the stream session, per spec §4.7).
type Sample struct {
	Gyro         Vec3
	Accel        Vec3
	TemperatureC float64
}

// TrackingSample is emitted on every successful Update.
type TrackingSample struct {
	Absolute     Vec3
	Relative     Vec3
	DeltaTSec    float64
	DeviceTimeNs uint64
	ResidualBias Vec3
	FactoryGyro  Vec3
}

// Tracker is single-owner, mutable state. It is not safe for concurrent
// use; per spec §5, only the stream task touches it.
type Tracker struct {
	cfg Config

	calibrated  bool
	sampleCount int
	accum       Vec3

	residualBias Vec3
	euler        Vec3
	zeroOffsets  Vec3
	haveLastTS   bool
	lastTS       uint64
}

// New returns an Uncalibrated Tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Calibrated reports whether calibration has completed.
func (t *Tracker) Calibrated() bool { return t.calibrated }

// CalibrationProgress returns (samplesSoFar, target).
func (t *Tracker) CalibrationProgress() (int, int) {
	return t.sampleCount, t.cfg.CalibrationTarget
}

// Calibrate accumulates one stillness sample. It returns true exactly on
// the call that completes calibration (count reaches target), at which
// point residualBias is fixed and the Euler/zero/last-timestamp state is
// cleared so the next call to Update starts a fresh integration.
func (t *Tracker) Calibrate(s Sample) bool {
	if t.calibrated {
		return false
	}
	factoryGyro := t.cfg.Bias.gyroAt(s.TemperatureC)
	t.accum = Vec3{
		t.accum.X + (s.Gyro.X - factoryGyro.X),
		t.accum.Y + (s.Gyro.Y - factoryGyro.Y),
		t.accum.Z + (s.Gyro.Z - factoryGyro.Z),
	}
	t.sampleCount++
	if t.sampleCount < t.cfg.CalibrationTarget {
		return false
	}
	n := float64(t.sampleCount)
	t.residualBias = Vec3{t.accum.X / n, t.accum.Y / n, t.accum.Z / n}
	t.euler = Vec3{}
	t.zeroOffsets = Vec3{}
	t.haveLastTS = false
	t.calibrated = true
	return true
}

// Update integrates one post-calibration sample at device timestamp
// deviceTimeNs. The very first call after calibration only records the
// timestamp and returns ok=false with no error — there is no prior sample
// to derive a Δt from. Every call after that either returns a fresh
// TrackingSample or a fail-fast ProtocolError-class error if the device
// timestamp did not strictly advance.
func (t *Tracker) Update(s Sample, deviceTimeNs uint64) (sample TrackingSample, ok bool, err error) {
	if !t.calibrated {
		return TrackingSample{}, false, xrerr.New(xrerr.InvalidArgument, "headtracking: Update called before calibration completed", nil)
	}
	if !t.haveLastTS {
		t.lastTS = deviceTimeNs
		t.haveLastTS = true
		return TrackingSample{}, false, nil
	}

	if deviceTimeNs <= t.lastTS {
		return TrackingSample{}, false, xrerr.Newf(xrerr.ProtocolError, nil,
			"headtracking: device timestamp did not advance (prev=%d, got=%d)", t.lastTS, deviceTimeNs)
	}
	dt := float64(deviceTimeNs-t.lastTS) / 1e9
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt <= 0 {
		return TrackingSample{}, false, xrerr.Newf(xrerr.ProtocolError, nil, "headtracking: non-finite or non-positive delta-t %v", dt)
	}
	t.lastTS = deviceTimeNs

	factoryGyro := t.cfg.Bias.gyroAt(s.TemperatureC)
	correctedGyro := sub(sub(s.Gyro, factoryGyro), t.residualBias)
	gyroEuler := addScaled(t.euler, correctedGyro, dt)

	correctedAccel := sub(s.Accel, t.cfg.Bias.AccelBias)
	mag := math.Sqrt(correctedAccel.X*correctedAccel.X + correctedAccel.Y*correctedAccel.Y + correctedAccel.Z*correctedAccel.Z)

	euler := gyroEuler
	if mag > 0.01 {
		pitchAcc := radToDeg(math.Atan2(-correctedAccel.X, math.Sqrt(correctedAccel.Y*correctedAccel.Y+correctedAccel.Z*correctedAccel.Z)))
		rollAcc := radToDeg(math.Atan2(correctedAccel.Y, correctedAccel.Z))
		alpha := t.cfg.Alpha
		euler.X = alpha*gyroEuler.X + (1-alpha)*pitchAcc // pitch
		euler.Z = alpha*gyroEuler.Z + (1-alpha)*rollAcc  // roll
		// yaw (euler.Y) has no absolute reference; gyro-only.
	}
	euler.X = wrapAngle(euler.X)
	euler.Y = wrapAngle(euler.Y)
	euler.Z = wrapAngle(euler.Z)
	t.euler = euler

	relative := wrapVec3(scale(sub(euler, t.zeroOffsets), t.cfg.OutputScale))

	return TrackingSample{
		Absolute:     euler,
		Relative:     relative,
		DeltaTSec:    dt,
		DeviceTimeNs: deviceTimeNs,
		ResidualBias: t.residualBias,
		FactoryGyro:  factoryGyro,
	}, true, nil
}

// ZeroView recenters: the current absolute orientation becomes the new
// zero offset for subsequent relative orientations.
func (t *Tracker) ZeroView() {
	t.zeroOffsets = t.euler
}

// CurrentRelative returns the relative orientation as of the last Update,
// without requiring a new sample. Immediately after ZeroView this is the
// zero vector (modulo wrap).
func (t *Tracker) CurrentRelative() Vec3 {
	return wrapVec3(scale(sub(t.euler, t.zeroOffsets), t.cfg.OutputScale))
}

// Reset clears all tracker state, including calibration progress, zero
// offsets and the last device timestamp, returning the tracker to its
// just-constructed Uncalibrated state.
func (t *Tracker) Reset() {
	*t = Tracker{cfg: t.cfg}
}

func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }

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

func wrapVec3(v Vec3) Vec3 {
	return Vec3{wrapAngle(v.X), wrapAngle(v.Y), wrapAngle(v.Z)}
}

func scale(v Vec3, s Vec3) Vec3 {
	return Vec3{v.X * s.X, v.Y * s.Y, v.Z * s.Z}
}
