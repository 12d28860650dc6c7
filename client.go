// Package xreal is a client library for XREAL One / One Pro smart glasses:
// it opens the control and sensor-stream TCP sessions, decodes IMU reports,
// drives a fused head-orientation estimate, and exposes a synchronous
// control surface for the device's scene/display/brightness/dimmer
// settings. See internal/orchestrator for the session lifecycle this
// package's Client is a thin, options-configured wrapper around.
package xreal

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xreal-go/glasses/internal/broadcast"
	"github.com/xreal-go/glasses/internal/controlsession"
	"github.com/xreal-go/glasses/internal/deviceconfig"
	"github.com/xreal-go/glasses/internal/headtracking"
	"github.com/xreal-go/glasses/internal/netselect"
	"github.com/xreal-go/glasses/internal/orchestrator"
	"github.com/xreal-go/glasses/internal/posesmoother"
	"github.com/xreal-go/glasses/internal/propertywire"
	"github.com/xreal-go/glasses/internal/reportframer"
	"github.com/xreal-go/glasses/internal/streamsession"
	"github.com/xreal-go/glasses/internal/timeutil"
	"github.com/xreal-go/glasses/internal/xrerr"
)

// Default network parameters (spec §6).
const (
	DefaultHost        = "169.254.2.1"
	DefaultControlPort = 52999
	DefaultStreamPort  = 52998
)

// PoseDataMode selects whether Tracking samples are published raw or
// passed through the 1-euro smoother first.
type PoseDataMode int

const (
	PoseDataRaw PoseDataMode = iota
	PoseDataSmooth
)

// Config holds every caller-adjustable parameter of a Client, built up
// through functional options in the style of
// internal/serialmux/options.go's PortOptions.
type Config struct {
	host        string
	controlPort int
	streamPort  int

	dialer         netselect.Dialer
	clock          timeutil.Clock
	startupTimeout time.Duration
	controlTimeout time.Duration

	calibrationTarget int
	filterAlpha       float64
	outputScale       headtracking.Vec3

	smootherMinCutoff   float64
	smootherBeta        float64
	smootherMaxDeltaSec float64
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithHost overrides the device host (default 169.254.2.1).
func WithHost(host string) Option { return func(c *Config) { c.host = host } }

// WithPorts overrides the control and stream TCP ports.
func WithPorts(control, stream int) Option {
	return func(c *Config) { c.controlPort = control; c.streamPort = stream }
}

// WithDialer overrides socket acquisition, mainly for tests and embedders
// that need to bypass link-local interface selection (internal/netselect).
func WithDialer(d netselect.Dialer) Option { return func(c *Config) { c.dialer = d } }

// WithClock overrides the time source used for the startup-timeout timer.
func WithClock(clk timeutil.Clock) Option { return func(c *Config) { c.clock = clk } }

// WithStartupTimeout overrides how long Start waits for the first decoded
// report before failing (default 3.5s, per spec §4.8 step 7).
func WithStartupTimeout(d time.Duration) Option { return func(c *Config) { c.startupTimeout = d } }

// WithControlTimeout overrides the budget of the get_config transaction
// that Start issues on the control socket (default 2s). The one-shot RPC
// methods (SetBrightness, GetID, GetConfigRaw and the rest) always use a
// fixed 2s budget.
func WithControlTimeout(d time.Duration) Option { return func(c *Config) { c.controlTimeout = d } }

// WithTrackerTuning overrides the head tracker's calibration target,
// complementary-filter alpha, and per-axis output scale.
func WithTrackerTuning(calibrationTarget int, alpha float64, outputScale headtracking.Vec3) Option {
	return func(c *Config) {
		c.calibrationTarget = calibrationTarget
		c.filterAlpha = alpha
		c.outputScale = outputScale
	}
}

// WithPoseSmoothing overrides the 1-euro filter's parameters used when
// SetPoseDataMode(PoseDataSmooth) is active.
func WithPoseSmoothing(minCutoff, beta, maxDeltaSec float64) Option {
	return func(c *Config) {
		c.smootherMinCutoff = minCutoff
		c.smootherBeta = beta
		c.smootherMaxDeltaSec = maxDeltaSec
	}
}

func defaultConfig() Config {
	return Config{
		host:                DefaultHost,
		controlPort:         DefaultControlPort,
		streamPort:          DefaultStreamPort,
		startupTimeout:      3500 * time.Millisecond,
		controlTimeout:      2 * time.Second,
		calibrationTarget:   200,
		filterAlpha:         0.98,
		outputScale:         headtracking.Vec3{X: 1, Y: 1, Z: 1},
		smootherMinCutoff:   1.0,
		smootherBeta:        0.05,
		smootherMaxDeltaSec: 0.5,
	}
}

// Client is the public handle to one glasses session. It is safe for
// concurrent use: every method either delegates to the orchestrator's own
// mutex-guarded state or reads one of its broadcaster fields.
type Client struct {
	orch *orchestrator.Orchestrator

	poseMode atomic.Int32
	smoother *posesmoother.Smoother

	tracking *broadcast.Broadcaster[headtracking.TrackingSample]
}

// New returns an unconnected Client. Call Start to open the device
// sessions.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	orch := orchestrator.New(orchestrator.Config{
		ControlAddr:    joinHostPort(cfg.host, cfg.controlPort),
		StreamAddr:     joinHostPort(cfg.host, cfg.streamPort),
		Dialer:         cfg.dialer,
		Clock:          cfg.clock,
		StartupTimeout: cfg.startupTimeout,
		ControlTimeout: cfg.controlTimeout,
		Tracker: orchestrator.TrackerTuning{
			CalibrationTarget: cfg.calibrationTarget,
			Alpha:             cfg.filterAlpha,
			OutputScale:       cfg.outputScale,
		},
	})

	return &Client{
		orch: orch,
		smoother: posesmoother.New(posesmoother.Config{
			MinCutoff:   cfg.smootherMinCutoff,
			Beta:        cfg.smootherBeta,
			MaxDeltaSec: cfg.smootherMaxDeltaSec,
		}),
		tracking: broadcast.New[headtracking.TrackingSample](),
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Start opens the control and stream sessions and blocks until the first
// sensor report is decoded, or fails fast per spec §4.8.
func (c *Client) Start(ctx context.Context) (orchestrator.StartResult, error) {
	result, err := c.orch.Start(ctx)
	if err != nil {
		return result, err
	}
	c.bridgeTracking()
	return result, nil
}

// bridgeTracking re-publishes the orchestrator's raw tracking samples
// through this Client's pose-mode switch (raw passthrough or smoothed).
func (c *Client) bridgeTracking() {
	src := c.orch.Tracking()
	if src == nil {
		return
	}
	id, ch := src.Subscribe(32)
	go func() {
		defer src.Unsubscribe(id)
		for sample := range ch {
			c.tracking.Publish(c.applyPoseMode(sample))
		}
	}()
}

func (c *Client) applyPoseMode(sample headtracking.TrackingSample) headtracking.TrackingSample {
	if PoseDataMode(c.poseMode.Load()) != PoseDataSmooth {
		c.smoother.Reset()
		return sample
	}
	smoothed := c.smoother.Step(posesmoother.Vec3{X: sample.Relative.X, Y: sample.Relative.Y, Z: sample.Relative.Z}, sample.DeltaTSec)
	sample.Relative = headtracking.Vec3{X: smoothed.X, Y: smoothed.Y, Z: smoothed.Z}
	return sample
}

// Stop tears down both sessions and resets session/bias state.
func (c *Client) Stop() error { return c.orch.Stop() }

// ZeroView recenters the head tracker's relative orientation.
func (c *Client) ZeroView() error { return c.orch.ZeroView() }

// Recalibrate re-enters the calibration phase.
func (c *Client) Recalibrate() error { return c.orch.Recalibrate() }

// SetPoseDataMode switches whether Tracking() publishes raw or
// 1-euro-smoothed relative orientation.
func (c *Client) SetPoseDataMode(mode PoseDataMode) {
	c.poseMode.Store(int32(mode))
}

// SetSceneMode issues a numeric scene-mode set request.
func (c *Client) SetSceneMode(ctx context.Context, value int64) error {
	return c.setNumeric(ctx, controlsession.MagicSetScene, value)
}

// SetDisplayInputMode issues a numeric display-input set request.
func (c *Client) SetDisplayInputMode(ctx context.Context, value int64) error {
	return c.setNumeric(ctx, controlsession.MagicSetDisplayInput, value)
}

// SetBrightness sets display brightness; value must be in [0,9].
func (c *Client) SetBrightness(ctx context.Context, value int) error {
	if value < 0 || value > 9 {
		return xrerr.Newf(xrerr.InvalidArgument, nil, "xreal: brightness %d out of range [0,9]", value)
	}
	return c.setNumeric(ctx, controlsession.MagicSetBrightness, int64(value))
}

// SetDimmer issues a numeric dimmer set request.
func (c *Client) SetDimmer(ctx context.Context, value int64) error {
	return c.setNumeric(ctx, controlsession.MagicSetDimmer, value)
}

func (c *Client) setNumeric(ctx context.Context, magic controlsession.Magic, value int64) error {
	body, err := propertywire.EncodeSetNumericRequest(value)
	if err != nil {
		return err
	}
	resp, err := c.orch.SendTransaction(ctx, magic, body, 2*time.Second)
	if err != nil {
		return err
	}
	return propertywire.ParseEmptyResponse(resp)
}

// GetID returns the device's numeric identifier.
func (c *Client) GetID(ctx context.Context) (int32, error) {
	return c.getNumeric(ctx, controlsession.MagicGetID)
}

// GetSoftwareVersion returns the device's software version number.
func (c *Client) GetSoftwareVersion(ctx context.Context) (int32, error) {
	return c.getNumeric(ctx, controlsession.MagicGetSoftwareVer)
}

// GetDSPVersion returns the device's DSP firmware version number.
func (c *Client) GetDSPVersion(ctx context.Context) (int32, error) {
	return c.getNumeric(ctx, controlsession.MagicGetDSPVersion)
}

func (c *Client) getNumeric(ctx context.Context, magic controlsession.Magic) (int32, error) {
	resp, err := c.orch.SendTransaction(ctx, magic, propertywire.EncodeGetPropertyRequest(), 2*time.Second)
	if err != nil {
		return 0, err
	}
	return propertywire.ParseNumericResponse(resp)
}

// GetConfigRaw returns the device's calibration payload as the raw JSON
// string the device sent, bypassing schema validation entirely (spec
// open question (c)): even a config this client's bias activation would
// reject is still returned here unconditionally.
func (c *Client) GetConfigRaw(ctx context.Context) (string, error) {
	resp, err := c.orch.SendTransaction(ctx, controlsession.MagicGetConfig, propertywire.EncodeGetPropertyRequest(), 2*time.Second)
	if err != nil {
		return "", err
	}
	return propertywire.ParseStringResponse(resp)
}

// GetConfig returns the last schema-validated DeviceConfig loaded during
// Start's bias-activation step, or nil if no config has been loaded yet.
// It is set as soon as the config validates, before the first report
// arrives, and Stop does not clear it.
func (c *Client) GetConfig() *deviceconfig.DeviceConfig {
	return c.orch.DeviceConfig()
}

// SessionStates exposes the SessionState broadcaster.
func (c *Client) SessionStates() *broadcast.Broadcaster[orchestrator.SessionState] {
	return c.orch.SessionStates
}

// BiasStates exposes the BiasState broadcaster.
func (c *Client) BiasStates() *broadcast.Broadcaster[orchestrator.BiasState] {
	return c.orch.BiasStates
}

// RawReports exposes the decoded-report broadcaster, or nil before Start.
func (c *Client) RawReports() *broadcast.Broadcaster[reportframer.SensorReport] {
	return c.orch.RawReports()
}

// Tracking exposes this Client's pose-mode-aware tracking-sample
// broadcaster (see SetPoseDataMode).
func (c *Client) Tracking() *broadcast.Broadcaster[headtracking.TrackingSample] {
	return c.tracking
}

// Diagnostics exposes the stream session's periodic diagnostics snapshot
// broadcaster, or nil before Start.
func (c *Client) Diagnostics() *broadcast.Broadcaster[streamsession.Diagnostics] {
	return c.orch.Diagnostics()
}

// SubscribeControlEvents subscribes to unsolicited control-session events
// (key presses, unrecognized inbound messages).
func (c *Client) SubscribeControlEvents(buffer int) (string, <-chan controlsession.Event, error) {
	return c.orch.SubscribeControlEvents(buffer)
}

// UnsubscribeControlEvents removes a subscription created by
// SubscribeControlEvents.
func (c *Client) UnsubscribeControlEvents(id string) {
	c.orch.UnsubscribeControlEvents(id)
}

// State returns the current SessionState.
func (c *Client) State() orchestrator.SessionState { return c.orch.State() }

// Bias returns the current BiasState.
func (c *Client) Bias() orchestrator.BiasState { return c.orch.Bias() }
