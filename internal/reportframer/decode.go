package reportframer

import (
	"encoding/binary"
	"math"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// Wire layout (see spec §4.3):
//
//	header: 6 bytes, big-endian
//	  +0x00 byte   magic0   (0x28 or 0x27)
//	  +0x01 byte   magic1   (0x36)
//	  +0x02 u32    length   (must be 128)
//	body: 128 bytes, little-endian unless noted
//	  +0x00 u64    device_id
//	  +0x08 u64    hmd_time_ns
//	  +0x18 u32    report_kind_wire
//	  +0x1c f32    gx
//	  +0x20 f32    gy
//	  +0x24 f32    gz
//	  +0x28 f32    ax
//	  +0x2c f32    ay
//	  +0x30 f32    az
//	  +0x34 f32    mx
//	  +0x38 f32    my
//	  +0x3c f32    mz
//	  +0x40 f32    temperature_c
//	  +0x44 u8     imu_id
//	  +0x45 u8[3]  frame_id
const (
	headerSize  = 6
	bodySize    = 128
	magic1Byte  = 0x36
	wireKindIMU = 0x0b
	wireKindMag = 0x04
)

func isMagic0(b byte) bool {
	return b == 0x28 || b == 0x27
}

// errUnknownReportKind is returned by decodeBody when report_kind_wire does
// not match a known kind; the caller (Framer) treats this as non-fatal.
var errUnknownReportKind = xrerr.New(xrerr.ProtocolError, "reportframer: unknown report_kind_wire", nil)

func decodeBody(body []byte) (SensorReport, error) {
	if len(body) != bodySize {
		return SensorReport{}, xrerr.Newf(xrerr.ProtocolError, nil, "reportframer: body length %d, want %d", len(body), bodySize)
	}

	kindWire := binary.LittleEndian.Uint32(body[0x18:0x1c])
	var kind ReportKind
	switch kindWire {
	case wireKindIMU:
		kind = KindIMU
	case wireKindMag:
		kind = KindMagnetometer
	default:
		return SensorReport{}, errUnknownReportKind
	}

	readF32 := func(off int) float32 {
		bits := binary.LittleEndian.Uint32(body[off : off+4])
		return math.Float32frombits(bits)
	}

	r := SensorReport{
		DeviceID:     binary.LittleEndian.Uint64(body[0x00:0x08]),
		HMDTimeNs:    binary.LittleEndian.Uint64(body[0x08:0x10]),
		Kind:         kind,
		Gyro:         Vec3{X: readF32(0x1c), Y: readF32(0x20), Z: readF32(0x24)},
		Accel:        Vec3{X: readF32(0x28), Y: readF32(0x2c), Z: readF32(0x30)},
		Mag:          Vec3{X: readF32(0x34), Y: readF32(0x38), Z: readF32(0x3c)},
		TemperatureC: readF32(0x40),
		IMUID:        body[0x44],
	}
	copy(r.FrameID[:], body[0x45:0x48])
	return r, nil
}

// encodeBody is the inverse of decodeBody; used only by tests to build
// synthetic wire bytes for the round-trip and resync properties.
func encodeBody(r SensorReport) []byte {
	body := make([]byte, bodySize)
	binary.LittleEndian.PutUint64(body[0x00:0x08], r.DeviceID)
	binary.LittleEndian.PutUint64(body[0x08:0x10], r.HMDTimeNs)
	var kindWire uint32
	if r.Kind == KindIMU {
		kindWire = wireKindIMU
	} else {
		kindWire = wireKindMag
	}
	binary.LittleEndian.PutUint32(body[0x18:0x1c], kindWire)
	writeF32 := func(off int, v float32) {
		binary.LittleEndian.PutUint32(body[off:off+4], math.Float32bits(v))
	}
	writeF32(0x1c, r.Gyro.X)
	writeF32(0x20, r.Gyro.Y)
	writeF32(0x24, r.Gyro.Z)
	writeF32(0x28, r.Accel.X)
	writeF32(0x2c, r.Accel.Y)
	writeF32(0x30, r.Accel.Z)
	writeF32(0x34, r.Mag.X)
	writeF32(0x38, r.Mag.Y)
	writeF32(0x3c, r.Mag.Z)
	writeF32(0x40, r.TemperatureC)
	body[0x44] = r.IMUID
	copy(body[0x45:0x48], r.FrameID[:])
	return body
}

// EncodePacket builds the 6-byte header + 128-byte body wire encoding of r,
// using magic0 (caller picks 0x28 or 0x27). Exported for use by the stream
// session's tests and by synthetic-device test harnesses.
func EncodePacket(magic0 byte, r SensorReport) []byte {
	body := encodeBody(r)
	header := make([]byte, headerSize)
	header[0] = magic0
	header[1] = magic1Byte
	binary.BigEndian.PutUint32(header[2:6], uint32(len(body)))
	return append(header, body...)
}
