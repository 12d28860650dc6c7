package deviceconfig

import (
	"encoding/json"
	"math"
	"time"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// timestampLayout is the device's "yyyy-MM-dd HH:mm:ss" timestamp format
// expressed as a Go reference-time layout.
const timestampLayout = "2006-01-02 15:04:05"

// acceptedGlassesVersions are the only versions this parser validates
// successfully; anything else fails with SchemaValidationError (spec open
// question (c): this client takes the stricter reject for bias activation
// while GetConfigRaw still returns the unvalidated payload).
var acceptedGlassesVersions = map[int]bool{7: true, 8: true}

// Parse validates raw against the device-calibration schema and returns the
// fully typed model. A JSON syntax error is reported as ParseError; any
// schema violation is reported as SchemaValidationError anchored at the
// offending JSON path.
func Parse(raw []byte) (*DeviceConfig, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, xrerr.New(xrerr.ParseError, "deviceconfig: invalid JSON", err)
	}

	root := rootNode(decoded)

	versionNode, err := root.field("glasses_version")
	if err != nil {
		return nil, err
	}
	version, err := versionNode.intVal()
	if err != nil {
		return nil, err
	}
	if !acceptedGlassesVersions[version] {
		return nil, xrerr.SchemaError(versionNode.path, "unsupported glasses_version %d (accepted: 7, 8)", version)
	}

	fsnNode, err := root.field("FSN")
	if err != nil {
		return nil, err
	}
	fsn, err := fsnNode.str()
	if err != nil {
		return nil, err
	}

	tsNode, err := root.field("last_modified_time")
	if err != nil {
		return nil, err
	}
	ts, err := tsNode.str()
	if err != nil {
		return nil, err
	}
	if _, err := time.Parse(timestampLayout, ts); err != nil {
		return nil, xrerr.SchemaError(tsNode.path, "last_modified_time %q does not match layout %q", ts, timestampLayout)
	}

	displayNode, err := root.field("display")
	if err != nil {
		return nil, err
	}
	display, err := parseDisplay(displayNode)
	if err != nil {
		return nil, err
	}

	distortionNode, err := root.field("display_distortion")
	if err != nil {
		return nil, err
	}
	leftGridNode, err := distortionNode.field("left_display")
	if err != nil {
		return nil, err
	}
	leftGrid, err := parseDistortionGrid(leftGridNode)
	if err != nil {
		return nil, err
	}
	rightGridNode, err := distortionNode.field("right_display")
	if err != nil {
		return nil, err
	}
	rightGrid, err := parseDistortionGrid(rightGridNode)
	if err != nil {
		return nil, err
	}

	rgbNode, err := root.field("RGB_camera")
	if err != nil {
		return nil, err
	}
	hasRGB, rgb, err := parseCamera(rgbNode)
	if err != nil {
		return nil, err
	}

	slamNode, err := root.field("SLAM_camera")
	if err != nil {
		return nil, err
	}
	hasSLAM, slam, err := parseSLAMCamera(slamNode)
	if err != nil {
		return nil, err
	}

	imuNode, err := root.field("IMU")
	if err != nil {
		return nil, err
	}
	device1Node, err := imuNode.field("device_1")
	if err != nil {
		return nil, err
	}
	imu, err := parseIMU(device1Node)
	if err != nil {
		return nil, err
	}

	return &DeviceConfig{
		GlassesVersion:   version,
		FSN:              fsn,
		LastModifiedTime: ts,
		Display:          display,
		DistortionLeft:   leftGrid,
		DistortionRight:  rightGrid,
		HasRGBCamera:     hasRGB,
		RGBCamera:        rgb,
		HasSLAMCamera:    hasSLAM,
		SLAMCamera:       slam,
		IMU:              imu,
		Raw:              json.RawMessage(append([]byte(nil), raw...)),
	}, nil
}

func parseDisplay(n node) (DisplayConfig, error) {
	numNode, err := n.field("num_of_displays")
	if err != nil {
		return DisplayConfig{}, err
	}
	num, err := numNode.intVal()
	if err != nil {
		return DisplayConfig{}, err
	}
	if num != 2 {
		return DisplayConfig{}, xrerr.SchemaError(numNode.path, "num_of_displays must be 2, got %d", num)
	}

	targetNode, err := n.field("target_type")
	if err != nil {
		return DisplayConfig{}, err
	}
	target, err := targetNode.str()
	if err != nil {
		return DisplayConfig{}, err
	}
	if target != "IMU" {
		return DisplayConfig{}, xrerr.SchemaError(targetNode.path, "target_type must be %q, got %q", "IMU", target)
	}

	leftNode, err := n.field("left_display")
	if err != nil {
		return DisplayConfig{}, err
	}
	left, err := parseDisplayEye(leftNode)
	if err != nil {
		return DisplayConfig{}, err
	}
	rightNode, err := n.field("right_display")
	if err != nil {
		return DisplayConfig{}, err
	}
	right, err := parseDisplayEye(rightNode)
	if err != nil {
		return DisplayConfig{}, err
	}

	return DisplayConfig{NumOfDisplays: num, TargetType: target, Left: left, Right: right}, nil
}

func parseDisplayEye(n node) (DisplayEye, error) {
	intrinsicsNode, err := n.field("intrinsics")
	if err != nil {
		return DisplayEye{}, err
	}
	intrinsics, err := intrinsicsNode.mat3x3()
	if err != nil {
		return DisplayEye{}, err
	}
	transformNode, err := n.field("transform")
	if err != nil {
		return DisplayEye{}, err
	}
	transform, err := transformNode.mat3x3()
	if err != nil {
		return DisplayEye{}, err
	}
	return DisplayEye{Intrinsics: intrinsics, Transform: transform}, nil
}

func parseDistortionGrid(n node) (DistortionGrid, error) {
	numRowNode, err := n.field("num_row")
	if err != nil {
		return DistortionGrid{}, err
	}
	numRow, err := numRowNode.intVal()
	if err != nil {
		return DistortionGrid{}, err
	}
	numColNode, err := n.field("num_col")
	if err != nil {
		return DistortionGrid{}, err
	}
	numCol, err := numColNode.intVal()
	if err != nil {
		return DistortionGrid{}, err
	}
	dataNode, err := n.field("data")
	if err != nil {
		return DistortionGrid{}, err
	}
	flat, err := dataNode.array()
	if err != nil {
		return DistortionGrid{}, err
	}
	if len(flat)%4 != 0 {
		return DistortionGrid{}, xrerr.SchemaError(dataNode.path, "data length %d is not a multiple of 4", len(flat))
	}
	if len(flat)/4 != numRow*numCol {
		return DistortionGrid{}, xrerr.SchemaError(dataNode.path, "data length/4 (%d) does not match num_row*num_col (%d*%d=%d)", len(flat)/4, numRow, numCol, numRow*numCol)
	}
	points := make([]DistortionPoint, 0, len(flat)/4)
	for i := 0; i < len(flat); i += 4 {
		vals := make([]float64, 4)
		for j := 0; j < 4; j++ {
			f, ok := flat[i+j].(float64)
			if !ok {
				return DistortionGrid{}, xrerr.SchemaError(dataNode.index(i+j).path, "expected a number, got %T", flat[i+j])
			}
			if isNotFinite(f) {
				return DistortionGrid{}, xrerr.SchemaError(dataNode.index(i+j).path, "numeric field is NaN or Inf")
			}
			vals[j] = f
		}
		points = append(points, DistortionPoint{U: vals[0], V: vals[1], X: vals[2], Y: vals[3]})
	}
	return DistortionGrid{NumRow: numRow, NumCol: numCol, Points: points}, nil
}

func parseCamera(n node) (bool, CameraIntrinsics, error) {
	numNode, err := n.field("num_of_cameras")
	if err != nil {
		return false, CameraIntrinsics{}, err
	}
	num, err := numNode.intVal()
	if err != nil {
		return false, CameraIntrinsics{}, err
	}
	if num != 0 && num != 1 {
		return false, CameraIntrinsics{}, xrerr.SchemaError(numNode.path, "num_of_cameras must be 0 or 1, got %d", num)
	}
	if num == 0 {
		return false, CameraIntrinsics{}, nil
	}
	intr, err := parseCameraIntrinsics(n)
	if err != nil {
		return false, CameraIntrinsics{}, err
	}
	return true, intr, nil
}

func parseSLAMCamera(n node) (bool, SLAMCamera, error) {
	present, intr, err := parseCamera(n)
	if err != nil || !present {
		return present, SLAMCamera{}, err
	}
	transformNode, err := n.field("transform")
	if err != nil {
		return false, SLAMCamera{}, err
	}
	transform, err := transformNode.mat3x3()
	if err != nil {
		return false, SLAMCamera{}, err
	}
	return true, SLAMCamera{CameraIntrinsics: intr, Transform: transform}, nil
}

func parseCameraIntrinsics(n node) (CameraIntrinsics, error) {
	ccNode, err := n.field("cc")
	if err != nil {
		return CameraIntrinsics{}, err
	}
	cc, err := ccNode.vec2()
	if err != nil {
		return CameraIntrinsics{}, err
	}
	fcNode, err := n.field("fc")
	if err != nil {
		return CameraIntrinsics{}, err
	}
	fc, err := fcNode.vec2()
	if err != nil {
		return CameraIntrinsics{}, err
	}
	kcNode, err := n.field("kc")
	if err != nil {
		return CameraIntrinsics{}, err
	}
	kc, err := kcNode.kc5()
	if err != nil {
		return CameraIntrinsics{}, err
	}
	resNode, err := n.field("resolution")
	if err != nil {
		return CameraIntrinsics{}, err
	}
	res, err := resNode.vec2()
	if err != nil {
		return CameraIntrinsics{}, err
	}
	rsNode, err := n.field("rolling_shutter_time_s")
	if err != nil {
		return CameraIntrinsics{}, err
	}
	rs, err := rsNode.num()
	if err != nil {
		return CameraIntrinsics{}, err
	}
	return CameraIntrinsics{CC: cc, FC: fc, KC: kc, Resolution: res, RollingShutterSec: rs}, nil
}

func isNotFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
