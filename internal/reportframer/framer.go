// Package reportframer recovers SensorReport values from a byte stream that
// may start mid-frame, contain garbage, or arrive in arbitrarily small
// chunks. The algorithm is grounded on a UDP receive loop
// (internal/lidar/network/listener.go), adapted from "one datagram is one
// packet" to "resync inside an accumulating byte buffer", and on the
// fixed-offset binary parser (internal/lidar/parser.go) for the
// body decode step.
package reportframer

import "time"

// maxBufferBytes bounds the pending buffer; bytes beyond this are dropped
// from the front and counted, so a stalled resync can't grow without limit.
const maxBufferBytes = 131072

// Diagnostics accumulates the counters the stream session surfaces to
// callers. All fields are monotonically increasing for the lifetime of a
// Framer; callers that want deltas snapshot and subtract.
type Diagnostics struct {
	DroppedBytes        uint64
	InvalidReportLength uint64
	DecodeErrors        uint64
	UnknownReportType   uint64
	IMUReports          uint64
	MagnetometerReports uint64
}

// Framer is a stateful, single-owner byte-stream decoder. It is not safe
// for concurrent use; the stream session owns one Framer per socket.
type Framer struct {
	buf  []byte
	diag Diagnostics
}

// New returns an empty Framer.
func New() *Framer {
	return &Framer{}
}

// Diagnostics returns a snapshot of the accumulated counters.
func (f *Framer) Diagnostics() Diagnostics {
	return f.diag
}

// Append feeds newly-received bytes into the framer and returns every
// SensorReport that can be fully decoded from the accumulated buffer,
// draining as much as possible before returning. Feeding the same overall
// byte stream through any sequence of Append calls — one call per byte,
// or one call for the whole stream — yields the same sequence of reports
// (the chunking-invariance property), because Append never decides
// anything based on where a chunk boundary happened to fall.
func (f *Framer) Append(chunk []byte) []SensorReport {
	f.buf = append(f.buf, chunk...)
	if len(f.buf) > maxBufferBytes {
		overflow := len(f.buf) - maxBufferBytes
		f.diag.DroppedBytes += uint64(overflow)
		f.buf = f.buf[overflow:]
	}

	var out []SensorReport
	for {
		if len(f.buf) < 2 {
			return out
		}

		if !f.resyncToMagic() {
			// Buffer is now at most 1 byte (a trailing possible magic0);
			// nothing more can be drained until more bytes arrive.
			return out
		}

		if len(f.buf) < headerSize {
			return out
		}

		bodyLen := readHeaderLength(f.buf)
		if bodyLen != bodySize {
			f.diag.InvalidReportLength++
			// Drop one byte past the false magic and try resyncing again.
			f.buf = f.buf[1:]
			f.diag.DroppedBytes++
			continue
		}

		total := headerSize + bodySize
		if len(f.buf) < total {
			return out
		}

		body := f.buf[headerSize:total]
		report, err := decodeBody(body)
		f.buf = f.buf[total:]
		switch {
		case err == nil:
			report.ReceivedAt = time.Now()
			out = append(out, report)
			if report.Kind == KindIMU {
				f.diag.IMUReports++
			} else {
				f.diag.MagnetometerReports++
			}
		case err == errUnknownReportKind:
			f.diag.UnknownReportType++
		default:
			f.diag.DecodeErrors++
		}
	}
}

// resyncToMagic discards bytes up to the first valid magic pair, counting
// them as dropped. It returns false if the buffer no longer has enough
// bytes left to hold a magic pair after discarding.
func (f *Framer) resyncToMagic() bool {
	for i := 0; i+1 < len(f.buf); i++ {
		if isMagic0(f.buf[i]) && f.buf[i+1] == magic1Byte {
			if i > 0 {
				f.diag.DroppedBytes += uint64(i)
				f.buf = f.buf[i:]
			}
			return true
		}
	}
	// No magic pair found in the whole buffer; drop everything except a
	// possible trailing magic0 byte that the next Append might complete.
	keep := 0
	if len(f.buf) > 0 && isMagic0(f.buf[len(f.buf)-1]) {
		keep = 1
	}
	dropped := len(f.buf) - keep
	if dropped > 0 {
		f.diag.DroppedBytes += uint64(dropped)
	}
	f.buf = f.buf[len(f.buf)-keep:]
	return false
}

func readHeaderLength(buf []byte) uint32 {
	return uint32(buf[2])<<24 | uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5])
}
