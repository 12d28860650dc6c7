package controlsession_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xreal-go/glasses/internal/controlsession"
)

// readFrame reads one control frame off the device-side end of the pipe
// and returns its magic, wire tx-id, and body (tx-id stripped).
func readFrame(t *testing.T, r io.Reader) (uint16, int32, []byte) {
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

// writeRawFrame writes a header followed by body verbatim, with no
// tx-id prefixing — used for magics that don't carry a transaction id
// (key-state-change events).
func writeRawFrame(t *testing.T, w io.Writer, magic uint16, body []byte) {
	t.Helper()
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], magic)
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(body)))
	_, err := w.Write(hdr[:])
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
}

func writeFrame(t *testing.T, w io.Writer, magic uint16, wireTx int32, payload []byte) {
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

func TestSendTransactionRoundTrip(t *testing.T) {
	client, device := net.Pipe()
	sess := controlsession.FromConn(client)
	defer sess.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		magic, wireTx, body := readFrame(t, device)
		require.Equal(t, uint16(controlsession.MagicGetID), magic)
		require.True(t, wireTx < 0, "wire tx-id must have its high bit set")
		require.Equal(t, []byte{0x18, 0x00}, body)
		writeFrame(t, device, magic, wireTx, []byte{0x22, 0x02, 0x10, 0x05})
	}()

	resp, err := sess.SendTransaction(context.Background(), controlsession.MagicGetID, []byte{0x18, 0x00}, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{0x22, 0x02, 0x10, 0x05}, resp)
	<-done
}

func TestSendTransactionTimeout(t *testing.T) {
	client, device := net.Pipe()
	sess := controlsession.FromConn(client)
	defer sess.Close()
	defer device.Close()

	go func() {
		_, _, _ = readFrame(t, device) // drain the request, never reply
	}()

	_, err := sess.SendTransaction(context.Background(), controlsession.MagicGetID, []byte{0x18, 0x00}, 30*time.Millisecond)
	require.Error(t, err)
}

func TestSendTransactionAfterCloseIsConnectionClosed(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()
	sess := controlsession.FromConn(client)
	require.NoError(t, sess.Close())

	_, err := sess.SendTransaction(context.Background(), controlsession.MagicGetID, []byte{0x18, 0x00}, time.Second)
	require.Error(t, err)
}

func TestSendTransactionRejectsNonPositiveTimeout(t *testing.T) {
	client, device := net.Pipe()
	defer device.Close()
	sess := controlsession.FromConn(client)
	defer sess.Close()

	_, err := sess.SendTransaction(context.Background(), controlsession.MagicGetID, []byte{0x18, 0x00}, 0)
	require.Error(t, err)
}

func TestKeyStateEventPublished(t *testing.T) {
	client, device := net.Pipe()
	sess := controlsession.FromConn(client)
	defer sess.Close()
	defer device.Close()

	id, events := sess.Subscribe(4)
	defer sess.Unsubscribe(id)

	payload := make([]byte, 64)
	binary.LittleEndian.PutUint32(payload[0:4], 2)           // FrontRockerButton
	binary.LittleEndian.PutUint32(payload[4:8], 1)           // Down
	binary.LittleEndian.PutUint32(payload[8:12], 1234567890) // device time

	go writeRawFrame(t, device, uint16(controlsession.MagicKeyStateChange), payload)

	select {
	case ev := <-events:
		require.NotNil(t, ev.KeyState)
		require.Equal(t, controlsession.KeyFrontRockerButton, ev.KeyState.KeyType)
		require.Equal(t, controlsession.KeyDown, ev.KeyState.Action)
		require.Equal(t, uint64(1234567890), ev.KeyState.DeviceTimeNs)
	case <-time.After(time.Second):
		t.Fatal("expected a key-state event")
	}
}

func TestUnmatchedResponsePublishedAsUnknown(t *testing.T) {
	client, device := net.Pipe()
	sess := controlsession.FromConn(client)
	defer sess.Close()
	defer device.Close()

	id, events := sess.Subscribe(4)
	defer sess.Unsubscribe(id)

	go writeFrame(t, device, uint16(controlsession.MagicGetID), 7, []byte{0xAA})

	select {
	case ev := <-events:
		require.NotNil(t, ev.Unknown)
		require.Equal(t, controlsession.MagicGetID, ev.Unknown.Magic)
	case <-time.After(time.Second):
		t.Fatal("expected an unknown event")
	}
}

func TestCloseFailsPendingTransactions(t *testing.T) {
	client, device := net.Pipe()
	sess := controlsession.FromConn(client)

	resultCh := make(chan error, 1)
	go func() {
		_, err := sess.SendTransaction(context.Background(), controlsession.MagicGetID, []byte{0x18, 0x00}, 5*time.Second)
		resultCh <- err
	}()

	// Give SendTransaction time to write and register before closing.
	_, _, _ = readFrame(t, device)
	require.NoError(t, sess.Close())

	select {
	case err := <-resultCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected SendTransaction to fail after Close")
	}
}

func TestMagicConstants(t *testing.T) {
	require.Equal(t, controlsession.Magic(0x2829), controlsession.MagicSetScene)
	require.Equal(t, controlsession.Magic(0x2822), controlsession.MagicSetDisplayInput)
	require.Equal(t, controlsession.Magic(0x271C), controlsession.MagicSetBrightness)
	require.Equal(t, controlsession.Magic(0x2727), controlsession.MagicSetDimmer)
	require.Equal(t, controlsession.Magic(0x271F), controlsession.MagicGetConfig)
	require.Equal(t, controlsession.Magic(0x271D), controlsession.MagicGetSoftwareVer)
	require.Equal(t, controlsession.Magic(0x272D), controlsession.MagicGetDSPVersion)
	require.Equal(t, controlsession.Magic(0x2729), controlsession.MagicGetID)
	require.Equal(t, controlsession.Magic(0x272E), controlsession.MagicKeyStateChange)
}
