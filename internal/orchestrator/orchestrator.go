// Package orchestrator implements the session lifecycle state machine:
// connect, load config, activate factory bias, open the stream, drive
// calibration to streaming, and tear down on error or stop(). Grounded on
// main.go's top-level wiring (construct subsystems, start
// background loops, cancel everything on shutdown) and on
// internal/serialmux.SerialMux's own lazy-connect-and-reuse shape,
// generalized from a fixed service topology to an explicit state-tagged
// lifecycle with a public start/stop/zero_view/recalibrate surface.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xreal-go/glasses/internal/broadcast"
	"github.com/xreal-go/glasses/internal/controlsession"
	"github.com/xreal-go/glasses/internal/deviceconfig"
	"github.com/xreal-go/glasses/internal/headtracking"
	"github.com/xreal-go/glasses/internal/monitoring"
	"github.com/xreal-go/glasses/internal/netselect"
	"github.com/xreal-go/glasses/internal/propertywire"
	"github.com/xreal-go/glasses/internal/reportframer"
	"github.com/xreal-go/glasses/internal/streamsession"
	"github.com/xreal-go/glasses/internal/timeutil"
	"github.com/xreal-go/glasses/internal/xrerr"
)

const defaultControlTimeout = 2 * time.Second

// TrackerTuning is the caller-supplied part of the head-tracking config
// that doesn't come from the device (spec §4.5: calibration_target,
// complementary-filter alpha, per-axis output scale).
type TrackerTuning struct {
	CalibrationTarget int
	Alpha             float64
	OutputScale       headtracking.Vec3
}

// Config parameterizes an Orchestrator. ControlAddr and StreamAddr are
// "host:port" pairs; Dialer defaults to netselect.NewDialer() if nil.
type Config struct {
	ControlAddr    string
	StreamAddr     string
	Dialer         netselect.Dialer
	Clock          timeutil.Clock
	StartupTimeout time.Duration
	ControlTimeout time.Duration
	Tracker        TrackerTuning
}

func (c *Config) setDefaults() {
	if c.Dialer == nil {
		c.Dialer = netselect.NewDialer()
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 3500 * time.Millisecond
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = defaultControlTimeout
	}
	if c.Tracker.CalibrationTarget <= 0 {
		c.Tracker.CalibrationTarget = 200
	}
	if c.Tracker.Alpha <= 0 {
		c.Tracker.Alpha = 0.98
	}
	if c.Tracker.OutputScale == (headtracking.Vec3{}) {
		c.Tracker.OutputScale = headtracking.Vec3{X: 1, Y: 1, Z: 1}
	}
}

// StartResult is resolved to the start() caller once the first stream
// report has been successfully parsed (spec §4.8 step 7).
type StartResult struct {
	FSN     string
	Version int
}

// Orchestrator owns every mutable subsystem state; every other type in
// this module only ever sees immutable snapshots broadcast from here.
type Orchestrator struct {
	cfg Config

	mu      sync.Mutex
	state   SessionState
	bias    BiasState
	control *controlsession.Session
	stream  *streamsession.Session
	device  *deviceconfig.DeviceConfig

	runCancel context.CancelFunc
	eg        *errgroup.Group
	streaming bool

	SessionStates *broadcast.Broadcaster[SessionState]
	BiasStates    *broadcast.Broadcaster[BiasState]
}

// New returns an Idle Orchestrator.
func New(cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg:           cfg,
		state:         SessionState{Phase: PhaseIdle},
		bias:          BiasState{Phase: BiasInactive},
		SessionStates: broadcast.New[SessionState](),
		BiasStates:    broadcast.New[BiasState](),
	}
}

func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.SessionStates.Publish(s)
}

func (o *Orchestrator) setBias(b BiasState) {
	o.mu.Lock()
	o.bias = b
	o.mu.Unlock()
	o.BiasStates.Publish(b)
}

// State returns the current SessionState.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Bias returns the current BiasState.
func (o *Orchestrator) Bias() BiasState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bias
}

// DeviceConfig returns the last-loaded, validated device configuration,
// or nil if bias activation hasn't completed yet.
func (o *Orchestrator) DeviceConfig() *deviceconfig.DeviceConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.device
}

// controlSession returns a healthy control session, reusing the existing
// one if it's still open, dialing a fresh one otherwise (spec §4.8 step 2:
// "Open a control session lazily (reuse if healthy)").
func (o *Orchestrator) controlSession(ctx context.Context) (*controlsession.Session, error) {
	o.mu.Lock()
	existing := o.control
	o.mu.Unlock()
	if existing != nil && !existing.Closed() {
		return existing, nil
	}

	conn, err := o.cfg.Dialer.Dial("tcp", o.cfg.ControlAddr)
	if err != nil {
		return nil, xrerr.New(xrerr.ConnectionFailed, "orchestrator: control dial failed", err)
	}
	sess := controlsession.FromConn(conn)
	o.mu.Lock()
	o.control = sess
	o.mu.Unlock()
	return sess, nil
}

// Start runs the connect -> load-config -> activate-bias -> stream ->
// calibrate sequence (spec §4.8) and resolves once the first report has
// been successfully decoded, or fails fast on any step's error. ctx
// governs the stream task: cancelling it ends the stream read loop, but
// it does not close the control session or move SessionState/BiasState
// to Stopped/Inactive; Stop does that.
func (o *Orchestrator) Start(ctx context.Context) (StartResult, error) {
	o.setState(SessionState{Phase: PhaseConnecting})
	o.setBias(BiasState{Phase: BiasLoadingConfig})

	ctrl, err := o.controlSession(ctx)
	if err != nil {
		o.fail(xrerr.New(xrerr.ConnectionFailed, "control session", err), false)
		return StartResult{}, err
	}

	device, err := o.loadConfig(ctx, ctrl)
	if err != nil {
		o.fail(err, false)
		return StartResult{}, err
	}
	o.mu.Lock()
	o.device = device
	o.mu.Unlock()

	tracker := o.buildTracker(device)

	o.setBias(BiasState{Phase: BiasActive, FSN: device.FSN, Version: device.GlassesVersion})

	conn, err := o.cfg.Dialer.Dial("tcp", o.cfg.StreamAddr)
	if err != nil {
		wrapped := xrerr.New(xrerr.ConnectionFailed, "orchestrator: stream dial failed", err)
		o.fail(wrapped, true)
		return StartResult{}, wrapped
	}
	stream := streamsession.New(conn, tracker)

	o.mu.Lock()
	o.stream = stream
	o.mu.Unlock()

	_, target := tracker.CalibrationProgress()
	o.setState(SessionState{Phase: PhaseCalibrating, CalibrationTarget: target})

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.runCancel = cancel
	o.streaming = true
	o.mu.Unlock()

	eg := &errgroup.Group{}
	o.eg = eg

	firstReportID, firstReport := stream.RawReports.Subscribe(1)
	defer stream.RawReports.Unsubscribe(firstReportID)

	eg.Go(func() error {
		reason, runErr := stream.Run(runCtx)
		o.onStreamDone(reason, runErr)
		return runErr
	})

	eg.Go(func() error {
		o.watchCalibration(stream)
		return nil
	})

	timer := o.cfg.Clock.NewTimer(o.cfg.StartupTimeout)
	defer timer.Stop()
	select {
	case report, ok := <-firstReport:
		if !ok {
			cancel()
			err := xrerr.New(xrerr.ConnectionClosed, "orchestrator: stream closed before any report arrived", nil)
			o.fail(err, true)
			return StartResult{}, err
		}
		_ = report
		monitoring.Infof("orchestrator: first report received, fsn=%s version=%d", device.FSN, device.GlassesVersion)
		return StartResult{FSN: device.FSN, Version: device.GlassesVersion}, nil
	case <-timer.C():
		cancel()
		err := xrerr.New(xrerr.Timeout, "orchestrator: startup timed out waiting for the first report", nil)
		o.fail(err, true)
		return StartResult{}, err
	case <-ctx.Done():
		cancel()
		err := xrerr.New(xrerr.ConnectionClosed, "orchestrator: start cancelled", ctx.Err())
		o.fail(err, true)
		return StartResult{}, err
	}
}

// loadConfig issues get_config and parses the response per spec §4.4.
func (o *Orchestrator) loadConfig(ctx context.Context, ctrl *controlsession.Session) (*deviceconfig.DeviceConfig, error) {
	body, err := ctrl.SendTransaction(ctx, controlsession.MagicGetConfig, propertywire.EncodeGetPropertyRequest(), o.cfg.ControlTimeout)
	if err != nil {
		return nil, err
	}
	raw, err := propertywire.ParseStringResponse(body)
	if err != nil {
		return nil, err
	}
	device, err := deviceconfig.Parse([]byte(raw))
	if err != nil {
		return nil, err
	}
	return device, nil
}

// buildTracker constructs the head tracker's bias table from device,
// applying the same accel axis remap the stream session applies to every
// accel sample, so that subtraction commutes with the remap (spec open
// question (b)).
func (o *Orchestrator) buildTracker(device *deviceconfig.DeviceConfig) *headtracking.Tracker {
	rax, ray, raz := streamsession.AxisRemap(device.IMU.AccelBias[0], device.IMU.AccelBias[1], device.IMU.AccelBias[2])

	curve := make([]headtracking.GyroTempSample, len(device.IMU.GyroBiasTempData))
	for i, s := range device.IMU.GyroBiasTempData {
		curve[i] = headtracking.GyroTempSample{
			TemperatureC: s.TemperatureC,
			Bias:         headtracking.Vec3{X: s.Bias[0], Y: s.Bias[1], Z: s.Bias[2]},
		}
	}

	return headtracking.New(headtracking.Config{
		CalibrationTarget: o.cfg.Tracker.CalibrationTarget,
		Alpha:             o.cfg.Tracker.Alpha,
		OutputScale:       o.cfg.Tracker.OutputScale,
		Bias: headtracking.BiasConfig{
			AccelBias:     headtracking.Vec3{X: rax, Y: ray, Z: raz},
			GyroTempCurve: curve,
		},
	})
}

// watchCalibration transitions SessionState from Calibrating to Streaming
// once the stream session reports calibration complete.
func (o *Orchestrator) watchCalibration(stream *streamsession.Session) {
	id, ch := stream.Calibration.Subscribe(8)
	defer stream.Calibration.Unsubscribe(id)
	for progress := range ch {
		o.mu.Lock()
		cur := o.state
		o.mu.Unlock()
		if progress.Done && cur.Phase == PhaseCalibrating {
			o.setState(SessionState{Phase: PhaseStreaming})
			monitoring.Infof("orchestrator: calibration complete after %d samples", progress.SampleIndex)
		} else if cur.Phase == PhaseCalibrating {
			o.setState(SessionState{Phase: PhaseCalibrating, CalibrationProgress: progress.SampleIndex, CalibrationTarget: progress.Target})
		}
	}
}

// onStreamDone reacts to the stream task terminating on its own (EOF or a
// transport/tracker error), per spec §4.8's "on stream error ->
// SessionState::Error, teardown, preserve BiasState" and §7's propagation
// policy. A caller-initiated Stop also ends up here via ReasonClosed,
// which is not reported as an Error transition.
func (o *Orchestrator) onStreamDone(reason streamsession.TerminationReason, err error) {
	o.mu.Lock()
	alreadyStopped := o.state.Phase == PhaseStopped
	o.streaming = false
	o.mu.Unlock()
	if alreadyStopped || reason == streamsession.ReasonClosed {
		return
	}
	cause := err
	if cause == nil {
		cause = xrerr.New(xrerr.ConnectionClosed, "orchestrator: stream ended ("+string(reason)+")", nil)
	}
	monitoring.Errorf("orchestrator: stream terminated: %v", cause)
	o.fail(cause, true)
}

// fail transitions SessionState to Error. preserveBias controls whether
// BiasState is left untouched (stream-time failures preserve the already-
// activated bias, per spec) or also marked Error (config-load failures).
func (o *Orchestrator) fail(err error, preserveBias bool) {
	code, recoverable := classify(err)
	o.setState(SessionState{Phase: PhaseError, ErrorCode: code, ErrorMsg: err.Error(), ErrorRecoverable: recoverable})
	if !preserveBias {
		o.setBias(BiasState{Phase: BiasError, ErrorCode: code, ErrorMsg: err.Error()})
	}
}

func classify(err error) (code string, recoverable bool) {
	var xe *xrerr.Error
	if !errors.As(err, &xe) {
		return "Unknown", false
	}
	switch xe.Kind {
	case xrerr.ProtocolError, xrerr.Timeout, xrerr.CommandRejected:
		return xe.Kind.String(), true
	default:
		return xe.Kind.String(), false
	}
}

// ZeroView recenters the head tracker. It only succeeds while a stream
// task is running (spec §4.8).
func (o *Orchestrator) ZeroView() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.streaming || o.stream == nil {
		return xrerr.New(xrerr.InvalidArgument, "orchestrator: zero_view requires an active stream", nil)
	}
	o.stream.RequestZeroView()
	return nil
}

// Recalibrate resets the tracker to Uncalibrated and re-enters the
// Calibrating phase. It only succeeds while a stream task is running.
func (o *Orchestrator) Recalibrate() error {
	o.mu.Lock()
	stream := o.stream
	streaming := o.streaming
	o.mu.Unlock()
	if !streaming || stream == nil {
		return xrerr.New(xrerr.InvalidArgument, "orchestrator: recalibrate requires an active stream", nil)
	}
	stream.RequestRecalibrate()
	o.setState(SessionState{Phase: PhaseCalibrating, CalibrationTarget: o.cfg.Tracker.CalibrationTarget})
	return nil
}

// Stop cancels the stream task, closes the control session, fails all
// pending control requests and resets every subsystem to its idle shape
// (spec §4.8). It is safe to call more than once.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel := o.runCancel
	ctrl := o.control
	eg := o.eg
	o.streaming = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if eg != nil {
		_ = eg.Wait()
	}
	var closeErr error
	if ctrl != nil {
		closeErr = ctrl.Close()
	}

	o.setBias(BiasState{Phase: BiasInactive})
	o.setState(SessionState{Phase: PhaseStopped})
	return closeErr
}

// RawReports exposes the current stream session's decoded-report
// broadcaster, or nil if no stream is running.
func (o *Orchestrator) RawReports() *broadcast.Broadcaster[reportframer.SensorReport] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	return o.stream.RawReports
}

// Tracking exposes the current stream session's tracking-sample
// broadcaster, or nil if no stream is running.
func (o *Orchestrator) Tracking() *broadcast.Broadcaster[headtracking.TrackingSample] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	return o.stream.Tracking
}

// Diagnostics exposes the current stream session's diagnostics
// broadcaster, or nil if no stream is running.
func (o *Orchestrator) Diagnostics() *broadcast.Broadcaster[streamsession.Diagnostics] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	return o.stream.Diag
}

// SubscribeControlEvents subscribes to the current control session's
// unsolicited-event stream (key presses, unrecognized inbound messages).
// It fails with InvalidArgument if no control session is open yet.
func (o *Orchestrator) SubscribeControlEvents(buffer int) (string, <-chan controlsession.Event, error) {
	o.mu.Lock()
	ctrl := o.control
	o.mu.Unlock()
	if ctrl == nil {
		return "", nil, xrerr.New(xrerr.InvalidArgument, "orchestrator: no control session is open", nil)
	}
	id, ch := ctrl.Subscribe(buffer)
	return id, ch, nil
}

// UnsubscribeControlEvents removes a subscription created by
// SubscribeControlEvents. It is a no-op if the control session has since
// been replaced or closed.
func (o *Orchestrator) UnsubscribeControlEvents(id string) {
	o.mu.Lock()
	ctrl := o.control
	o.mu.Unlock()
	if ctrl != nil {
		ctrl.Unsubscribe(id)
	}
}

// SendTransaction issues a one-shot control request through the current
// control session, opening one lazily if necessary (spec §4.8 step 2).
func (o *Orchestrator) SendTransaction(ctx context.Context, magic controlsession.Magic, body []byte, timeout time.Duration) ([]byte, error) {
	ctrl, err := o.controlSession(ctx)
	if err != nil {
		return nil, err
	}
	return ctrl.SendTransaction(ctx, magic, body, timeout)
}
