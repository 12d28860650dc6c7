package reportframer_test

import (
	"math/rand"
	"testing"

	"github.com/xreal-go/glasses/internal/reportframer"
)

func sampleReport() reportframer.SensorReport {
	return reportframer.SensorReport{
		DeviceID:     0x0102030405060708,
		HMDTimeNs:    123456789,
		Kind:         reportframer.KindIMU,
		Gyro:         reportframer.Vec3{X: 1.5, Y: -2.25, Z: 0.125},
		Accel:        reportframer.Vec3{X: 9.8, Y: 0.1, Z: -0.2},
		Mag:          reportframer.Vec3{X: 10, Y: 20, Z: 30},
		TemperatureC: 36.6,
		IMUID:        7,
		FrameID:      [3]byte{0x11, 0x22, 0x33},
	}
}

func TestReportRoundTrip(t *testing.T) {
	r := sampleReport()
	pkt := reportframer.EncodePacket(0x28, r)

	f := reportframer.New()
	got := f.Append(pkt)
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	g := got[0]
	if g.DeviceID != r.DeviceID || g.HMDTimeNs != r.HMDTimeNs || g.Kind != r.Kind ||
		g.Gyro != r.Gyro || g.Accel != r.Accel || g.Mag != r.Mag ||
		g.TemperatureC != r.TemperatureC || g.IMUID != r.IMUID || g.FrameID != r.FrameID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", g, r)
	}
}

func TestReportRoundTripBothMagicBytes(t *testing.T) {
	r := sampleReport()
	for _, magic0 := range []byte{0x28, 0x27} {
		f := reportframer.New()
		got := f.Append(reportframer.EncodePacket(magic0, r))
		if len(got) != 1 {
			t.Fatalf("magic0=0x%02x: got %d reports, want 1", magic0, len(got))
		}
	}
}

func TestMagnetometerKind(t *testing.T) {
	r := sampleReport()
	r.Kind = reportframer.KindMagnetometer
	f := reportframer.New()
	got := f.Append(reportframer.EncodePacket(0x28, r))
	if len(got) != 1 || got[0].Kind != reportframer.KindMagnetometer {
		t.Fatalf("got %+v", got)
	}
	if f.Diagnostics().MagnetometerReports != 1 {
		t.Fatalf("diagnostics = %+v", f.Diagnostics())
	}
}

func TestInvalidHeaderLength(t *testing.T) {
	header := []byte{0x28, 0x36, 0x00, 0x00, 0x00, 0x78} // length = 120
	f := reportframer.New()
	got := f.Append(header)
	if len(got) != 0 {
		t.Fatalf("got %d reports, want 0", len(got))
	}
	if f.Diagnostics().InvalidReportLength != 1 {
		t.Fatalf("diagnostics = %+v, want InvalidReportLength=1", f.Diagnostics())
	}
}

func TestUnknownReportType(t *testing.T) {
	r := sampleReport()
	pkt := reportframer.EncodePacket(0x28, r)
	// Overwrite report_kind_wire (little-endian u32 at body offset 0x18,
	// i.e. packet offset 6+0x18) with an unknown value.
	pkt[6+0x18] = 0x99
	pkt[6+0x19] = 0x00
	pkt[6+0x1a] = 0x00
	pkt[6+0x1b] = 0x00

	f := reportframer.New()
	got := f.Append(pkt)
	if len(got) != 0 {
		t.Fatalf("got %d reports, want 0", len(got))
	}
	if f.Diagnostics().UnknownReportType != 1 {
		t.Fatalf("diagnostics = %+v, want UnknownReportType=1", f.Diagnostics())
	}
}

func TestResyncAfterGarbagePrefix(t *testing.T) {
	garbage := []byte{0x44, 0x45, 0x46}
	pkt := reportframer.EncodePacket(0x28, sampleReport())
	stream := append(append([]byte{}, garbage...), pkt...)

	for split := 0; split <= len(stream); split++ {
		f := reportframer.New()
		var got []reportframer.SensorReport
		got = append(got, f.Append(stream[:split])...)
		got = append(got, f.Append(stream[split:])...)
		if len(got) != 1 {
			t.Fatalf("split=%d: got %d reports, want 1", split, len(got))
		}
		if f.Diagnostics().DroppedBytes < uint64(len(garbage)) {
			t.Fatalf("split=%d: dropped_bytes=%d, want >= %d", split, f.Diagnostics().DroppedBytes, len(garbage))
		}
	}
}

func TestResyncAfterRandomPrefix(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(40)
		garbage := make([]byte, n)
		for i := range garbage {
			garbage[i] = byte(rng.Intn(256))
		}
		pkt := reportframer.EncodePacket(0x28, sampleReport())
		stream := append(append([]byte{}, garbage...), pkt...)

		f := reportframer.New()
		got := f.Append(stream)
		if len(got) != 1 {
			t.Fatalf("trial=%d n=%d: got %d reports, want 1", trial, n, len(got))
		}
		if f.Diagnostics().DroppedBytes < uint64(n) {
			t.Fatalf("trial=%d: dropped_bytes=%d, want >= %d", trial, f.Diagnostics().DroppedBytes, n)
		}
	}
}

func TestChunkingInvariance(t *testing.T) {
	garbage := []byte{0x00, 0x28, 0x28, 0x36}
	r1 := sampleReport()
	r2 := sampleReport()
	r2.HMDTimeNs = 999
	stream := append(append(append([]byte{}, garbage...),
		reportframer.EncodePacket(0x28, r1)...),
		reportframer.EncodePacket(0x27, r2)...)

	whole := reportframer.New().Append(stream)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		f := reportframer.New()
		var got []reportframer.SensorReport
		pos := 0
		for pos < len(stream) {
			n := 1 + rng.Intn(5)
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			got = append(got, f.Append(stream[pos:pos+n])...)
			pos += n
		}
		if len(got) != len(whole) {
			t.Fatalf("trial=%d: got %d reports chunked, want %d", trial, len(got), len(whole))
		}
		for i := range got {
			if got[i].HMDTimeNs != whole[i].HMDTimeNs || got[i].Kind != whole[i].Kind {
				t.Fatalf("trial=%d report %d mismatch: %+v vs %+v", trial, i, got[i], whole[i])
			}
		}
	}
}

func TestBufferBoundDropsFromFront(t *testing.T) {
	f := reportframer.New()
	// Feed far more garbage than the 128KiB bound, with no valid magic
	// anywhere, then a trailing valid packet.
	garbage := make([]byte, 200000)
	for i := range garbage {
		garbage[i] = 0x01
	}
	pkt := reportframer.EncodePacket(0x28, sampleReport())
	got := f.Append(append(garbage, pkt...))
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if f.Diagnostics().DroppedBytes == 0 {
		t.Fatalf("expected dropped_bytes > 0 after buffer bound eviction")
	}
}
