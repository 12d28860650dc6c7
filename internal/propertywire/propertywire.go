// Package propertywire encodes the request bodies and decodes the response
// bodies carried inside control-session messages (see internal/
// controlsession). Every shape here is a small, literal byte-tag grammar;
// there is no generic schema, so each shape gets its own encode/decode
// function rather than a shared reflective codec, one-function-per-wire-
// shape, matching the binary packet parser this is grounded on.
package propertywire

import (
	"github.com/xreal-go/glasses/internal/varint"
	"github.com/xreal-go/glasses/internal/xrerr"
)

// Wire tags used inside property bodies.
const (
	tagGetProperty  = 0x18
	tagSetNumeric   = 0x1a
	tagOuterWrapper = 0x22
	tagNumericField = 0x10
	tagStringField  = 0x12
	tagStatusField  = 0x08
)

// EncodeGetPropertyRequest returns the fixed two-byte GetProperty request body.
func EncodeGetPropertyRequest() []byte {
	return []byte{tagGetProperty, 0x00}
}

// EncodeSetNumericRequest returns the SetNumeric request body for v.
// Negative values are rejected with InvalidArgument per spec.
func EncodeSetNumericRequest(v int64) ([]byte, error) {
	if v < 0 {
		return nil, xrerr.Newf(xrerr.InvalidArgument, nil, "propertywire: SetNumeric value %d is negative", v)
	}
	inner := varint.Encode(uint64(v))
	body := make([]byte, 0, 2+2+len(inner))
	body = append(body, tagSetNumeric)
	body = append(body, varint.Encode(uint64(1+len(inner)))...)
	body = append(body, tagStatusField)
	body = append(body, inner...)
	return body, nil
}

// unwrapOuter validates and strips the outer [0x22, varint(len), ...] wrapper,
// returning the inner bytes (which may be empty).
func unwrapOuter(body []byte) ([]byte, error) {
	c := varint.NewCursor(body)
	tag, err := c.ReadByte()
	if err != nil {
		return nil, xrerr.New(xrerr.ProtocolError, "propertywire: response body too short for outer tag", err)
	}
	if tag != tagOuterWrapper {
		return nil, xrerr.Newf(xrerr.ProtocolError, nil, "propertywire: expected outer tag 0x%02x, got 0x%02x", tagOuterWrapper, tag)
	}
	outerLen, err := c.DecodeUint32()
	if err != nil {
		return nil, xrerr.New(xrerr.ProtocolError, "propertywire: bad outer length varint", err)
	}
	inner, err := c.ReadBytes(int(outerLen))
	if err != nil {
		return nil, xrerr.New(xrerr.ProtocolError, "propertywire: outer length exceeds body", err)
	}
	if !c.AtEnd() {
		return nil, xrerr.New(xrerr.ProtocolError, "propertywire: trailing bytes after outer-wrapped response", nil)
	}
	return inner, nil
}

// ParseEmptyResponse parses the Empty (success-acknowledgement) response
// shape. A zero-length outer body means success. A non-empty body that
// decodes as [0x08, varint(status)] with a non-zero status is a device
// command rejection; any other non-empty shape is a protocol violation.
func ParseEmptyResponse(body []byte) error {
	inner, err := unwrapOuter(body)
	if err != nil {
		return err
	}
	if len(inner) == 0 {
		return nil
	}
	c := varint.NewCursor(inner)
	tag, err := c.ReadByte()
	if err != nil || tag != tagStatusField {
		return xrerr.New(xrerr.ProtocolError, "propertywire: non-empty Empty response is not a status shape", err)
	}
	status, err := c.DecodeInt32()
	if err != nil {
		return xrerr.New(xrerr.ProtocolError, "propertywire: bad status varint", err)
	}
	if !c.AtEnd() {
		return xrerr.New(xrerr.ProtocolError, "propertywire: trailing bytes after status shape", nil)
	}
	if status == 0 {
		return xrerr.New(xrerr.ProtocolError, "propertywire: non-empty Empty response carries a zero status", nil)
	}
	return xrerr.Rejected(status)
}

// ParseNumericResponse parses the Numeric response shape: inner
// [0x10, varint(v)] wrapped by the outer tag.
func ParseNumericResponse(body []byte) (int32, error) {
	inner, err := unwrapOuter(body)
	if err != nil {
		return 0, err
	}
	c := varint.NewCursor(inner)
	tag, err := c.ReadByte()
	if err != nil {
		return 0, xrerr.New(xrerr.ProtocolError, "propertywire: numeric response missing field tag", err)
	}
	if tag != tagNumericField {
		return 0, xrerr.Newf(xrerr.ProtocolError, nil, "propertywire: expected numeric tag 0x%02x, got 0x%02x", tagNumericField, tag)
	}
	v, err := c.DecodeInt32()
	if err != nil {
		return 0, xrerr.New(xrerr.ProtocolError, "propertywire: bad numeric varint", err)
	}
	if !c.AtEnd() {
		return 0, xrerr.New(xrerr.ProtocolError, "propertywire: trailing bytes after numeric response", nil)
	}
	return v, nil
}

// ParseStringResponse parses the String response shape: inner
// [0x12, varint(len), utf8 bytes] wrapped by the outer tag.
func ParseStringResponse(body []byte) (string, error) {
	inner, err := unwrapOuter(body)
	if err != nil {
		return "", err
	}
	c := varint.NewCursor(inner)
	tag, err := c.ReadByte()
	if err != nil {
		return "", xrerr.New(xrerr.ProtocolError, "propertywire: string response missing field tag", err)
	}
	if tag != tagStringField {
		return "", xrerr.Newf(xrerr.ProtocolError, nil, "propertywire: expected string tag 0x%02x, got 0x%02x", tagStringField, tag)
	}
	strLen, err := c.DecodeUint32()
	if err != nil {
		return "", xrerr.New(xrerr.ProtocolError, "propertywire: bad string length varint", err)
	}
	raw, err := c.ReadBytes(int(strLen))
	if err != nil {
		return "", xrerr.New(xrerr.ProtocolError, "propertywire: string length exceeds body", err)
	}
	if !c.AtEnd() {
		return "", xrerr.New(xrerr.ProtocolError, "propertywire: trailing bytes after string response", nil)
	}
	return string(raw), nil
}
