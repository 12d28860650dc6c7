// Package streamsession owns the sensor-stream socket: it reads raw bytes,
// feeds them to the report framer, drives the head tracker, and publishes
// everything the orchestrator and public surface need as immutable
// snapshots. Grounded on a background receive loop
// (internal/lidar/network/listener.go: short read timeout, silent retry
// on timeout, context-cancellable for-select loop, EOF/error
// classification) adapted from UDP datagrams to a TCP byte stream feeding
// a stateful framer instead of one-shot datagram decode.
package streamsession

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/xreal-go/glasses/internal/broadcast"
	"github.com/xreal-go/glasses/internal/headtracking"
	"github.com/xreal-go/glasses/internal/reportframer"
	"github.com/xreal-go/glasses/internal/xrerr"
)

const readTimeout = 50 * time.Millisecond

// diagnosticsInterval is how many samples elapse between Diagnostics
// snapshots, per spec §4.7 ("every N samples").
const diagnosticsInterval = 100

// TerminationReason classifies why Run returned.
type TerminationReason string

const (
	ReasonEOF    TerminationReason = "eof"
	ReasonError  TerminationReason = "error"
	ReasonClosed TerminationReason = "closed"
)

// CalibrationProgress is published at sample 1, every 10th sample during
// calibration, and once more on completion.
type CalibrationProgress struct {
	SampleIndex int
	Target      int
	Done        bool
}

// Diagnostics is a periodic snapshot of framer counters plus observed
// throughput, published every diagnosticsInterval samples.
type Diagnostics struct {
	Framer            reportframer.Diagnostics
	ObservedHz        float64
	ReceiveDeltaMinMs float64
	ReceiveDeltaAvgMs float64
	ReceiveDeltaMaxMs float64
}

// AxisRemap maps (x,y,z) as the device reports accel into the tracker's
// expected gravity frame: (ax,ay,az) -> (az,ay,ax). Kept as a named
// function (rather than inlined) so the orchestrator can apply the exact
// same mapping to the factory accel bias it loads from C4, per spec open
// question (b).
func AxisRemap(x, y, z float64) (float64, float64, float64) {
	return z, y, x
}

// Session reads one TCP stream socket, decodes reports, and drives a
// single Tracker. It is not safe for concurrent use beyond the public
// Request* methods, which may be called from any goroutine: they set
// atomic flags consumed on the next sample processed by Run's goroutine.
type Session struct {
	conn    net.Conn
	framer  *reportframer.Framer
	tracker *headtracking.Tracker

	RawReports  *broadcast.Broadcaster[reportframer.SensorReport]
	Tracking    *broadcast.Broadcaster[headtracking.TrackingSample]
	Calibration *broadcast.Broadcaster[CalibrationProgress]
	Diag        *broadcast.Broadcaster[Diagnostics]

	zeroViewRequested  atomic.Bool
	recalibrateRequest atomic.Bool

	sampleCount  int
	lastReceived time.Time
	deltaMinMs   float64
	deltaMaxMs   float64
	deltaSumMs   float64
	deltaCount   int
	windowStart  time.Time
}

// New wraps conn with a fresh framer and the given tracker.
func New(conn net.Conn, tracker *headtracking.Tracker) *Session {
	return &Session{
		conn:        conn,
		framer:      reportframer.New(),
		tracker:     tracker,
		RawReports:  broadcast.New[reportframer.SensorReport](),
		Tracking:    broadcast.New[headtracking.TrackingSample](),
		Calibration: broadcast.New[CalibrationProgress](),
		Diag:        broadcast.New[Diagnostics](),
	}
}

// RequestZeroView enqueues a zero_view, applied to the tracker on the
// next sample processed by the read loop.
func (s *Session) RequestZeroView() { s.zeroViewRequested.Store(true) }

// RequestRecalibrate enqueues a recalibrate, applied on the next sample.
func (s *Session) RequestRecalibrate() { s.recalibrateRequest.Store(true) }

// Run blocks, reading and processing until ctx is cancelled or the
// connection terminates. It always returns a non-nil reason; err is nil
// for ReasonClosed (caller-initiated cancellation) and ReasonEOF, and
// non-nil for ReasonError.
func (s *Session) Run(ctx context.Context) (TerminationReason, error) {
	defer func() {
		s.RawReports.Close()
		s.Tracking.Close()
		s.Calibration.Close()
		s.Diag.Close()
	}()

	buf := make([]byte, 4096)
	s.windowStart = time.Now()
	for {
		select {
		case <-ctx.Done():
			return ReasonClosed, nil
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return ReasonEOF, nil
			}
			return ReasonError, xrerr.New(xrerr.IoError, "streamsession: read failed", err)
		}

		reports := s.framer.Append(buf[:n])
		for _, report := range reports {
			s.recordReceipt(report)
			s.RawReports.Publish(report)
			if report.Kind != reportframer.KindIMU {
				continue
			}
			if err := s.processIMU(report); err != nil {
				return ReasonError, err
			}
		}
	}
}

func (s *Session) processIMU(report reportframer.SensorReport) error {
	if s.recalibrateRequest.CompareAndSwap(true, false) {
		s.tracker.Reset()
	}

	rax, ray, raz := AxisRemap(float64(report.Accel.X), float64(report.Accel.Y), float64(report.Accel.Z))
	sample := headtracking.Sample{
		Gyro:         headtracking.Vec3{X: float64(report.Gyro.X), Y: float64(report.Gyro.Y), Z: float64(report.Gyro.Z)},
		Accel:        headtracking.Vec3{X: rax, Y: ray, Z: raz},
		TemperatureC: float64(report.TemperatureC),
	}

	if !s.tracker.Calibrated() {
		done := s.tracker.Calibrate(sample)
		count, target := s.tracker.CalibrationProgress()
		if count == 1 || count%10 == 0 || done {
			s.Calibration.Publish(CalibrationProgress{SampleIndex: count, Target: target, Done: done})
		}
		return nil
	}

	if s.zeroViewRequested.CompareAndSwap(true, false) {
		s.tracker.ZeroView()
	}

	ts, ok, err := s.tracker.Update(sample, report.HMDTimeNs)
	if err != nil {
		return err
	}
	if ok {
		s.Tracking.Publish(ts)
	}
	return nil
}

func (s *Session) recordReceipt(report reportframer.SensorReport) {
	now := report.ReceivedAt
	if !s.lastReceived.IsZero() {
		deltaMs := float64(now.Sub(s.lastReceived).Microseconds()) / 1000.0
		if s.deltaCount == 0 || deltaMs < s.deltaMinMs {
			s.deltaMinMs = deltaMs
		}
		if deltaMs > s.deltaMaxMs {
			s.deltaMaxMs = deltaMs
		}
		s.deltaSumMs += deltaMs
		s.deltaCount++
	}
	s.lastReceived = now
	s.sampleCount++

	if s.sampleCount%diagnosticsInterval == 0 {
		elapsed := time.Since(s.windowStart).Seconds()
		hz := 0.0
		if elapsed > 0 {
			hz = float64(diagnosticsInterval) / elapsed
		}
		avg := 0.0
		if s.deltaCount > 0 {
			avg = s.deltaSumMs / float64(s.deltaCount)
		}
		s.Diag.Publish(Diagnostics{
			Framer:            s.framer.Diagnostics(),
			ObservedHz:        hz,
			ReceiveDeltaMinMs: s.deltaMinMs,
			ReceiveDeltaAvgMs: avg,
			ReceiveDeltaMaxMs: s.deltaMaxMs,
		})
		s.windowStart = time.Now()
		s.deltaMinMs, s.deltaMaxMs, s.deltaSumMs = 0, 0, 0
		s.deltaCount = 0
	}
}
