package deviceconfig

import "github.com/xreal-go/glasses/internal/xrerr"

// neutralAccelQGyro, identityScale and zeroSkew are the fixed values the
// device is expected to report for its accel/gyro alignment fields. The
// schema carries them explicitly rather than omitting them, so this parser
// enforces them literally instead of assuming they hold.
var (
	neutralAccelQGyro = Vec4{0, 0, 0, 1}
	identityScale     = Mat3x3{1, 0, 0, 0, 1, 0, 0, 0, 1}
	zeroSkew          = Vec3{0, 0, 0}
)

func parseIMU(n node) (IMUConfig, error) {
	qNode, err := n.field("accel_q_gyro")
	if err != nil {
		return IMUConfig{}, err
	}
	q, err := qNode.vec4()
	if err != nil {
		return IMUConfig{}, err
	}
	if q != neutralAccelQGyro {
		return IMUConfig{}, xrerr.SchemaError(qNode.path, "accel_q_gyro must be %v, got %v", neutralAccelQGyro, q)
	}

	scaleNode, err := n.field("scale")
	if err != nil {
		return IMUConfig{}, err
	}
	scale, err := scaleNode.mat3x3()
	if err != nil {
		return IMUConfig{}, err
	}
	if scale != identityScale {
		return IMUConfig{}, xrerr.SchemaError(scaleNode.path, "scale must be the identity matrix, got %v", scale)
	}

	skewNode, err := n.field("skew")
	if err != nil {
		return IMUConfig{}, err
	}
	skew, err := skewNode.vec3()
	if err != nil {
		return IMUConfig{}, err
	}
	if skew != zeroSkew {
		return IMUConfig{}, xrerr.SchemaError(skewNode.path, "skew must be zero, got %v", skew)
	}

	accelBiasNode, err := n.field("accel_bias")
	if err != nil {
		return IMUConfig{}, err
	}
	accelBias, err := accelBiasNode.vec3()
	if err != nil {
		return IMUConfig{}, err
	}

	gyroBiasNode, err := n.field("gyro_bias")
	if err != nil {
		return IMUConfig{}, err
	}
	gyroBias, err := gyroBiasNode.vec3()
	if err != nil {
		return IMUConfig{}, err
	}

	tempDataNode, err := n.field("gyro_bias_temp_data")
	if err != nil {
		return IMUConfig{}, err
	}
	tempData, err := parseGyroBiasTempData(tempDataNode)
	if err != nil {
		return IMUConfig{}, err
	}

	magNode, err := n.field("mag_transform")
	if err != nil {
		return IMUConfig{}, err
	}
	mag, err := magNode.mat3x3()
	if err != nil {
		return IMUConfig{}, err
	}

	accelNode, err := n.field("accel")
	if err != nil {
		return IMUConfig{}, err
	}
	accel, err := parseSensorIntrinsics(accelNode)
	if err != nil {
		return IMUConfig{}, err
	}

	gyroNode, err := n.field("gyro")
	if err != nil {
		return IMUConfig{}, err
	}
	gyro, err := parseSensorIntrinsics(gyroNode)
	if err != nil {
		return IMUConfig{}, err
	}

	windowNode, err := n.field("static_window_size")
	if err != nil {
		return IMUConfig{}, err
	}
	window, err := windowNode.intVal()
	if err != nil {
		return IMUConfig{}, err
	}
	if window <= 0 {
		return IMUConfig{}, xrerr.SchemaError(windowNode.path, "static_window_size must be positive, got %d", window)
	}

	meanTempNode, err := n.field("mean_temperature")
	if err != nil {
		return IMUConfig{}, err
	}
	meanTemp, err := meanTempNode.num()
	if err != nil {
		return IMUConfig{}, err
	}

	noiseNode, err := n.field("noise")
	if err != nil {
		return IMUConfig{}, err
	}
	noise, err := noiseNode.vec4()
	if err != nil {
		return IMUConfig{}, err
	}

	return IMUConfig{
		AccelBias:        accelBias,
		GyroBias:         gyroBias,
		GyroBiasTempData: tempData,
		MagTransform:     mag,
		Accel:            accel,
		Gyro:             gyro,
		StaticWindowSize: window,
		MeanTemperatureC: meanTemp,
		Noise:            noise,
	}, nil
}

func parseSensorIntrinsics(n node) (SensorIntrinsics, error) {
	ptpNode, err := n.field("peak_to_peak")
	if err != nil {
		return SensorIntrinsics{}, err
	}
	ptp, err := ptpNode.vec3()
	if err != nil {
		return SensorIntrinsics{}, err
	}
	stdNode, err := n.field("std")
	if err != nil {
		return SensorIntrinsics{}, err
	}
	std, err := stdNode.vec3()
	if err != nil {
		return SensorIntrinsics{}, err
	}
	biasNode, err := n.field("bias")
	if err != nil {
		return SensorIntrinsics{}, err
	}
	bias, err := biasNode.vec3()
	if err != nil {
		return SensorIntrinsics{}, err
	}
	calNode, err := n.field("cal_matrix")
	if err != nil {
		return SensorIntrinsics{}, err
	}
	cal, err := calNode.mat3x3()
	if err != nil {
		return SensorIntrinsics{}, err
	}
	return SensorIntrinsics{PeakToPeak: ptp, Std: std, Bias: bias, CalMatrix: cal}, nil
}

func parseGyroBiasTempData(n node) ([]GyroBiasSample, error) {
	arr, err := n.array()
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, xrerr.SchemaError(n.path, "gyro_bias_temp_data must not be empty")
	}
	samples := make([]GyroBiasSample, 0, len(arr))
	prevTemp := 0.0
	for i := range arr {
		entry := node{path: n.index(i).path, v: arr[i]}
		tempNode, err := entry.field("temperature")
		if err != nil {
			return nil, err
		}
		temp, err := tempNode.num()
		if err != nil {
			return nil, err
		}
		if i > 0 && temp < prevTemp {
			return nil, xrerr.SchemaError(tempNode.path, "gyro_bias_temp_data temperatures must be non-decreasing, got %v after %v", temp, prevTemp)
		}
		prevTemp = temp

		biasNode, err := entry.field("bias")
		if err != nil {
			return nil, err
		}
		bias, err := biasNode.vec3()
		if err != nil {
			return nil, err
		}
		samples = append(samples, GyroBiasSample{TemperatureC: temp, Bias: bias})
	}
	return samples, nil
}
