// Package varint implements the little-endian base-128 varint encoding used
// throughout the control protocol's property wire (internal/propertywire),
// plus a bounded Cursor for reading length-delimited byte ranges out of a
// shared buffer without copying. The encoding matches the scheme
// encoding/binary.{Uvarint,PutUvarint} already implement; this package wraps
// those with the stricter 5-byte / int32 bounds the wire format requires,
// since stdlib's Uvarint does not reject longer encodings on its own.
package varint

import (
	"encoding/binary"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// maxVarintLen is the longest encoding this protocol accepts: 5 bytes covers
// the full unsigned 32-bit range with room for the continuation bit.
const maxVarintLen = 5

// Encode returns the base-128 varint encoding of v. v must fit in an
// unsigned 32-bit range per the wire format; callers that need to encode
// negative values reject them before calling Encode (see propertywire).
func Encode(v uint64) []byte {
	buf := make([]byte, maxVarintLen+3) // headroom for values beyond the 31-bit range
	n := binary.PutUvarint(buf, v)
	return buf[:n]
}

// Cursor walks a byte slice, tracking the read position for bounded reads.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential bounded reads starting at offset 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// AtEnd reports whether the cursor has consumed the entire buffer.
func (c *Cursor) AtEnd() bool {
	return c.pos >= len(c.buf)
}

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// ReadBytes returns the next n bytes and advances the cursor. It fails with
// ProtocolError if fewer than n bytes remain.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, xrerr.Newf(xrerr.ProtocolError, nil,
			"varint: read_bytes(%d) at pos %d exceeds buffer of length %d", n, c.pos, len(c.buf))
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// ReadByte reads a single byte and advances the cursor.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodeUint32 decodes a base-128 varint from the cursor into a uint32,
// failing with ProtocolError if the encoding exceeds 5 bytes or the decoded
// value would overflow a signed/unsigned 32-bit integer.
func (c *Cursor) DecodeUint32() (uint32, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarintLen; i++ {
		if c.AtEnd() {
			return 0, xrerr.New(xrerr.ProtocolError, "varint: truncated varint at end of buffer", nil)
		}
		b := c.buf[c.pos]
		c.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if result > 0x7fffffff {
				return 0, xrerr.Newf(xrerr.ProtocolError, nil, "varint: decoded value %d overflows int32", result)
			}
			return uint32(result), nil
		}
		shift += 7
	}
	return 0, xrerr.New(xrerr.ProtocolError, "varint: encoding exceeds 5 bytes", nil)
}

// DecodeInt32 decodes a base-128 varint and returns it as a signed int32,
// applying the same 5-byte / overflow bounds as DecodeUint32.
func (c *Cursor) DecodeInt32() (int32, error) {
	v, err := c.DecodeUint32()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
