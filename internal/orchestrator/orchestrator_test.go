package orchestrator_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xreal-go/glasses/internal/controlsession"
	"github.com/xreal-go/glasses/internal/headtracking"
	"github.com/xreal-go/glasses/internal/netselect"
	"github.com/xreal-go/glasses/internal/orchestrator"
	"github.com/xreal-go/glasses/internal/reportframer"
)

// pipeDialer hands out pre-wired net.Pipe connections keyed by addr,
// standing in for netselect.Dialer in tests (spec §1 treats the socket
// source as an external collaborator with an interface boundary).
type pipeDialer struct {
	conns map[string]net.Conn
}

func (d *pipeDialer) Dial(network, addr string) (net.Conn, error) {
	conn, ok := d.conns[addr]
	if !ok {
		return nil, io.ErrClosedPipe
	}
	return conn, nil
}

var _ netselect.Dialer = (*pipeDialer)(nil)

func identity9() []any { return []any{1.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0} }
func zero3() []any     { return []any{0.0, 0.0, 0.0} }

func validSensorIntrinsics() map[string]any {
	return map[string]any{"peak_to_peak": zero3(), "std": zero3(), "bias": zero3(), "cal_matrix": identity9()}
}

func validDistortionGrid() map[string]any {
	data := make([]any, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, 0.1, 0.2, 0.3, 0.4)
	}
	return map[string]any{"num_row": 2.0, "num_col": 2.0, "data": data}
}

func validConfigJSON(t *testing.T) []byte {
	t.Helper()
	m := map[string]any{
		"glasses_version":    8.0,
		"FSN":                "ABCD1234",
		"last_modified_time": "2024-01-01 12:00:00",
		"display": map[string]any{
			"num_of_displays": 2.0,
			"target_type":     "IMU",
			"left_display":    map[string]any{"intrinsics": identity9(), "transform": identity9()},
			"right_display":   map[string]any{"intrinsics": identity9(), "transform": identity9()},
		},
		"display_distortion": map[string]any{
			"left_display":  validDistortionGrid(),
			"right_display": validDistortionGrid(),
		},
		"RGB_camera":  map[string]any{"num_of_cameras": 0.0},
		"SLAM_camera": map[string]any{"num_of_cameras": 0.0},
		"IMU": map[string]any{
			"device_1": map[string]any{
				"accel_q_gyro": []any{0.0, 0.0, 0.0, 1.0},
				"scale":        identity9(),
				"skew":         zero3(),
				"accel_bias":   zero3(),
				"gyro_bias":    zero3(),
				"gyro_bias_temp_data": []any{
					map[string]any{"temperature": -10.0, "bias": zero3()},
					map[string]any{"temperature": 60.0, "bias": zero3()},
				},
				"mag_transform":      identity9(),
				"accel":              validSensorIntrinsics(),
				"gyro":               validSensorIntrinsics(),
				"static_window_size": 50.0,
				"mean_temperature":   25.0,
				"noise":              []any{0.0, 0.0, 0.0, 0.0},
			},
		},
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// stringResponseBody wraps a UTF-8 payload in the outer [0x22, len, ...]
// String response shape (spec §4.2).
func stringResponseBody(s string) []byte {
	inner := appendVarint([]byte{0x12}, uint64(len(s)))
	inner = append(inner, s...)
	out := appendVarint([]byte{0x22}, uint64(len(inner)))
	return append(out, inner...)
}

func readControlFrame(t *testing.T, r io.Reader) (uint16, int32, []byte) {
	t.Helper()
	var hdr [6]byte
	_, err := io.ReadFull(r, hdr[:])
	require.NoError(t, err)
	magic := binary.BigEndian.Uint16(hdr[0:2])
	length := binary.BigEndian.Uint32(hdr[2:6])
	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	wireTx := int32(binary.BigEndian.Uint32(body[0:4]))
	return magic, wireTx, body[4:]
}

func writeControlFrame(t *testing.T, w io.Writer, magic uint16, wireTx int32, payload []byte) {
	t.Helper()
	body := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(body[0:4], uint32(wireTx))
	copy(body[4:], payload)
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], magic)
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(body)))
	_, err := w.Write(hdr[:])
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
}

func runFakeDevice(t *testing.T, controlDevice net.Conn) {
	t.Helper()
	go func() {
		magic, wireTx, _ := readControlFrame(t, controlDevice)
		require.Equal(t, uint16(controlsession.MagicGetConfig), magic)
		writeControlFrame(t, controlDevice, magic, wireTx, stringResponseBody(string(validConfigJSON(t))))
	}()
}

func newOrchestratorWithPipes(t *testing.T) (*orchestrator.Orchestrator, net.Conn, net.Conn) {
	t.Helper()
	controlClient, controlDevice := net.Pipe()
	streamClient, streamDevice := net.Pipe()
	dialer := &pipeDialer{conns: map[string]net.Conn{
		"control:1": controlClient,
		"stream:1":  streamClient,
	}}
	orch := orchestrator.New(orchestrator.Config{
		ControlAddr:    "control:1",
		StreamAddr:     "stream:1",
		Dialer:         dialer,
		Tracker:        orchestrator.TrackerTuning{CalibrationTarget: 1, Alpha: 0.98, OutputScale: headtracking.Vec3{X: 1, Y: 1, Z: 1}},
		StartupTimeout: 2 * time.Second,
		ControlTimeout: 2 * time.Second,
	})
	return orch, controlDevice, streamDevice
}

func TestStartReachesCalibratingAndResolvesOnFirstReport(t *testing.T) {
	orch, controlDevice, streamDevice := newOrchestratorWithPipes(t)
	defer controlDevice.Close()
	defer streamDevice.Close()

	runFakeDevice(t, controlDevice)

	go func() {
		report := reportframer.SensorReport{Kind: reportframer.KindIMU, HMDTimeNs: 1000}
		_, _ = streamDevice.Write(reportframer.EncodePacket(0x28, report))
	}()

	result, err := orch.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ABCD1234", result.FSN)
	require.Equal(t, 8, result.Version)

	require.Equal(t, orchestrator.BiasActive, orch.Bias().Phase)
	require.NoError(t, orch.Stop())
	require.Equal(t, orchestrator.PhaseStopped, orch.State().Phase)
}

func TestStartFailsFastOnUnparseableConfig(t *testing.T) {
	controlClient, controlDevice := net.Pipe()
	defer controlDevice.Close()
	dialer := &pipeDialer{conns: map[string]net.Conn{"control:1": controlClient}}
	orch := orchestrator.New(orchestrator.Config{ControlAddr: "control:1", StreamAddr: "stream:1", Dialer: dialer, ControlTimeout: time.Second})

	go func() {
		magic, wireTx, _ := readControlFrame(t, controlDevice)
		writeControlFrame(t, controlDevice, magic, wireTx, stringResponseBody("{not json"))
	}()

	_, err := orch.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, orchestrator.PhaseError, orch.State().Phase)
	require.Equal(t, orchestrator.BiasError, orch.Bias().Phase)
}

func TestZeroViewRequiresActiveStream(t *testing.T) {
	orch := orchestrator.New(orchestrator.Config{ControlAddr: "x:1", StreamAddr: "y:1"})
	require.Error(t, orch.ZeroView())
	require.Error(t, orch.Recalibrate())
}
