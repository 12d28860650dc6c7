package deviceconfig_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xreal-go/glasses/internal/deviceconfig"
)

func identity9() []any {
	return []any{1.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0}
}

func zero3() []any { return []any{0.0, 0.0, 0.0} }

func validEye() map[string]any {
	return map[string]any{"intrinsics": identity9(), "transform": identity9()}
}

func validDistortionGrid() map[string]any {
	data := make([]any, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, 0.1, 0.2, 0.3, 0.4)
	}
	return map[string]any{"num_row": 2.0, "num_col": 2.0, "data": data}
}

func validSensorIntrinsics() map[string]any {
	return map[string]any{
		"peak_to_peak": zero3(),
		"std":          zero3(),
		"bias":         zero3(),
		"cal_matrix":   identity9(),
	}
}

// validConfig returns a fresh map[string]any that satisfies every schema
// invariant; tests mutate a copy to exercise individual violations.
func validConfig() map[string]any {
	return map[string]any{
		"glasses_version":    8.0,
		"FSN":                "ABCD1234",
		"last_modified_time": "2024-01-01 12:00:00",
		"display": map[string]any{
			"num_of_displays": 2.0,
			"target_type":     "IMU",
			"left_display":    validEye(),
			"right_display":   validEye(),
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
					map[string]any{"temperature": 25.0, "bias": []any{0.1, 0.1, 0.1}},
					map[string]any{"temperature": 60.0, "bias": []any{0.2, 0.2, 0.2}},
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
}

func marshal(t *testing.T, m map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestParseValidConfig(t *testing.T) {
	cfg, err := deviceconfig.Parse(marshal(t, validConfig()))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.GlassesVersion)
	require.Equal(t, "ABCD1234", cfg.FSN)
	require.Equal(t, 2, cfg.Display.NumOfDisplays)
	require.Equal(t, "IMU", cfg.Display.TargetType)
	require.Len(t, cfg.DistortionLeft.Points, 4)
	require.False(t, cfg.HasRGBCamera)
	require.False(t, cfg.HasSLAMCamera)
	require.Len(t, cfg.IMU.GyroBiasTempData, 3)
	require.JSONEq(t, string(marshal(t, validConfig())), string(cfg.Raw))
}

func TestParseRejectsBadVersion(t *testing.T) {
	m := validConfig()
	m["glasses_version"] = 5.0
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "glasses_version")
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := deviceconfig.Parse([]byte("{not json"))
	require.Error(t, err)
}

func TestParseRejectsMissingField(t *testing.T) {
	m := validConfig()
	delete(m, "FSN")
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "$.FSN")
}

func TestParseRejectsBadTimestamp(t *testing.T) {
	m := validConfig()
	m["last_modified_time"] = "not-a-timestamp"
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "last_modified_time")
}

func TestParseRejectsWrongNumOfDisplays(t *testing.T) {
	m := validConfig()
	display := m["display"].(map[string]any)
	display["num_of_displays"] = 1.0
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "num_of_displays")
}

func TestParseRejectsWrongTargetType(t *testing.T) {
	m := validConfig()
	display := m["display"].(map[string]any)
	display["target_type"] = "LCD"
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "target_type")
}

func TestParseRejectsMisshapenDistortionGrid(t *testing.T) {
	m := validConfig()
	distortion := m["display_distortion"].(map[string]any)
	grid := distortion["left_display"].(map[string]any)
	grid["data"] = []any{0.1, 0.2, 0.3} // length 3, not a multiple of 4
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "multiple of 4")
}

func TestParseRejectsDistortionGridArityMismatch(t *testing.T) {
	m := validConfig()
	distortion := m["display_distortion"].(map[string]any)
	grid := distortion["left_display"].(map[string]any)
	grid["num_row"] = 3.0 // data still has 4 points, 3*2 != 4
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "num_row*num_col")
}

func TestParseAcceptsPresentRGBCamera(t *testing.T) {
	m := validConfig()
	m["RGB_camera"] = map[string]any{
		"num_of_cameras":         1.0,
		"cc":                     []any{320.0, 240.0},
		"fc":                     []any{600.0, 600.0},
		"kc":                     []any{0.0, 0.0, 0.0, 0.0, 0.0},
		"resolution":             []any{640.0, 480.0},
		"rolling_shutter_time_s": 0.0,
	}
	cfg, err := deviceconfig.Parse(marshal(t, m))
	require.NoError(t, err)
	require.True(t, cfg.HasRGBCamera)
	require.Equal(t, deviceconfig.Vec2{320.0, 240.0}, cfg.RGBCamera.CC)
}

func TestParseRejectsIncompleteRGBCamera(t *testing.T) {
	m := validConfig()
	m["RGB_camera"] = map[string]any{"num_of_cameras": 1.0}
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "RGB_camera")
}

func TestParseRejectsNonNeutralAccelQGyro(t *testing.T) {
	m := validConfig()
	device1 := m["IMU"].(map[string]any)["device_1"].(map[string]any)
	device1["accel_q_gyro"] = []any{0.1, 0.0, 0.0, 1.0}
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "accel_q_gyro")
}

func TestParseRejectsNonIdentityScale(t *testing.T) {
	m := validConfig()
	device1 := m["IMU"].(map[string]any)["device_1"].(map[string]any)
	scale := identity9()
	scale[0] = 1.5
	device1["scale"] = scale
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "identity")
}

func TestParseRejectsEmptyGyroBiasTempData(t *testing.T) {
	m := validConfig()
	device1 := m["IMU"].(map[string]any)["device_1"].(map[string]any)
	device1["gyro_bias_temp_data"] = []any{}
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "gyro_bias_temp_data")
}

func TestParseRejectsDecreasingGyroBiasTemperatures(t *testing.T) {
	m := validConfig()
	device1 := m["IMU"].(map[string]any)["device_1"].(map[string]any)
	device1["gyro_bias_temp_data"] = []any{
		map[string]any{"temperature": 25.0, "bias": zero3()},
		map[string]any{"temperature": 10.0, "bias": zero3()},
	}
	_, err := deviceconfig.Parse(marshal(t, m))
	require.ErrorContains(t, err, "non-decreasing")
}

func TestParseRejectsNonNumericMeanTemperature(t *testing.T) {
	m := validConfig()
	device1 := m["IMU"].(map[string]any)["device_1"].(map[string]any)
	device1["mean_temperature"] = "hot"
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	_, err = deviceconfig.Parse(raw)
	require.Error(t, err)
}

func TestGyroBiasAtClampsBelowRange(t *testing.T) {
	imu := deviceconfig.IMUConfig{GyroBiasTempData: []deviceconfig.GyroBiasSample{
		{TemperatureC: 0, Bias: deviceconfig.Vec3{1, 1, 1}},
		{TemperatureC: 50, Bias: deviceconfig.Vec3{2, 2, 2}},
	}}
	got := imu.GyroBiasAt(-40)
	require.Equal(t, deviceconfig.Vec3{1, 1, 1}, got)
}

func TestGyroBiasAtClampsAboveRange(t *testing.T) {
	imu := deviceconfig.IMUConfig{GyroBiasTempData: []deviceconfig.GyroBiasSample{
		{TemperatureC: 0, Bias: deviceconfig.Vec3{1, 1, 1}},
		{TemperatureC: 50, Bias: deviceconfig.Vec3{2, 2, 2}},
	}}
	got := imu.GyroBiasAt(90)
	require.Equal(t, deviceconfig.Vec3{2, 2, 2}, got)
}

func TestGyroBiasAtInterpolatesMidpoint(t *testing.T) {
	imu := deviceconfig.IMUConfig{GyroBiasTempData: []deviceconfig.GyroBiasSample{
		{TemperatureC: 0, Bias: deviceconfig.Vec3{0, 0, 0}},
		{TemperatureC: 100, Bias: deviceconfig.Vec3{10, -10, 1}},
	}}
	got := imu.GyroBiasAt(25)
	require.InDelta(t, 2.5, got[0], 1e-9)
	require.InDelta(t, -2.5, got[1], 1e-9)
	require.InDelta(t, 0.25, got[2], 1e-9)
}

func TestGyroBiasAtThreeSegmentTable(t *testing.T) {
	imu := deviceconfig.IMUConfig{GyroBiasTempData: []deviceconfig.GyroBiasSample{
		{TemperatureC: -10, Bias: deviceconfig.Vec3{0, 0, 0}},
		{TemperatureC: 25, Bias: deviceconfig.Vec3{1, 1, 1}},
		{TemperatureC: 60, Bias: deviceconfig.Vec3{2, 2, 2}},
	}}
	got := imu.GyroBiasAt(42.5)
	require.InDelta(t, 1.5, got[0], 1e-9)
}
