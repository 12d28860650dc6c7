package controlsession

import (
	"encoding/binary"
	"io"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// headerSize is the fixed-width control header: magic (u16 BE) + length
// (u32 BE). Length counts the tx-id (4 bytes) plus the property body.
const headerSize = 6

type header struct {
	Magic  Magic
	Length uint32
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	length := binary.BigEndian.Uint32(buf[2:6])
	if int32(length) < 0 {
		return header{}, xrerr.New(xrerr.ProtocolError, "controlsession: negative frame length", nil)
	}
	return header{Magic: Magic(binary.BigEndian.Uint16(buf[0:2])), Length: length}, nil
}

func writeHeader(w io.Writer, magic Magic, length uint32) error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(magic))
	binary.BigEndian.PutUint32(buf[2:6], length)
	_, err := w.Write(buf[:])
	return err
}

// outboundTxID sets the high bit of tx on the wire, matching the device's
// expectation that outbound transaction ids always have bit 31 set.
func outboundTxID(tx uint32) int32 {
	return int32(tx | 0x80000000)
}

// normalizeTxID strips a possibly-set high bit, returning the same value
// for already-normalized ids (normalize(tx) == tx for tx in [1, 2^31)).
func normalizeTxID(wire int32) uint32 {
	return uint32(wire) & 0x7FFFFFFF
}
