// Package controlsession implements the bidirectional, length-prefixed
// control protocol: transaction-id correlation between outbound
// Get/Set-property requests and inbound responses, multiplexed against
// unsolicited device events (key presses) on the same socket.
//
// This is the most substantial adaptation of
// internal/serialmux/serialmux.go: the single blocking-write command
// channel becomes a mutex-serialized writer plus a transaction registry,
// and the line-oriented Monitor loop becomes a binary reader task that
// either resolves a pending transaction or publishes an unsolicited
// Event, closing over the same "fail every subscriber on teardown" shape
// serialmux.Close() uses for its subscriber map.
package controlsession

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xreal-go/glasses/internal/broadcast"
	"github.com/xreal-go/glasses/internal/xrerr"
)

// Session owns one control-socket connection.
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex

	pending *pendingTable
	events  *broadcast.Broadcaster[Event]

	nextTxID atomic.Uint32
	closing  atomic.Bool
	closed   atomic.Bool

	readerDone chan struct{}
}

// Dial opens a TCP connection to addr and starts the reader task.
func Dial(ctx context.Context, addr string) (*Session, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, xrerr.New(xrerr.ConnectionFailed, "controlsession: dial failed", err)
	}
	return FromConn(conn), nil
}

// FromConn wraps an already-established connection and starts the reader
// task. Exported so tests (and any caller with a pre-negotiated socket,
// e.g. net.Pipe in unit tests) can bypass Dial's network dependency.
func FromConn(conn net.Conn) *Session {
	s := &Session{
		conn:       conn,
		r:          bufio.NewReader(conn),
		pending:    newPendingTable(),
		events:     broadcast.New[Event](),
		readerDone: make(chan struct{}),
	}
	s.nextTxID.Store(1)
	go s.readLoop()
	return s
}

// Subscribe returns a channel of unsolicited inbound events (key presses,
// and any inbound message that didn't correlate to a pending transaction).
func (s *Session) Subscribe(buffer int) (string, <-chan Event) {
	return s.events.Subscribe(buffer)
}

// Unsubscribe removes a previously-subscribed event channel.
func (s *Session) Unsubscribe(id string) {
	s.events.Unsubscribe(id)
}

// allocateTxID returns a strictly positive, monotonically increasing u31,
// wrapping from the top of the range back to 1.
func (s *Session) allocateTxID() uint32 {
	for {
		cur := s.nextTxID.Load()
		next := cur + 1
		if next == 0 || next > 0x7FFFFFFF {
			next = 1
		}
		if s.nextTxID.CompareAndSwap(cur, next) {
			return cur
		}
	}
}

// SendTransaction writes a framed request under magic and awaits its
// correlated response within timeout.
func (s *Session) SendTransaction(ctx context.Context, magic Magic, body []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return nil, xrerr.New(xrerr.InvalidArgument, "controlsession: timeout must be positive", nil)
	}
	if s.closed.Load() {
		return nil, xrerr.New(xrerr.ConnectionClosed, "controlsession: session closed", nil)
	}

	txID := s.allocateTxID()
	key := pendingKey{txID: txID, magic: magic}
	ch, ok := s.pending.register(key)
	if !ok {
		return nil, xrerr.New(xrerr.TransactionCollision, "controlsession: transaction id already pending for this magic", nil)
	}

	if err := s.write(magic, txID, body); err != nil {
		s.pending.deregister(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-timer.C:
		s.pending.deregister(key)
		return nil, xrerr.New(xrerr.Timeout, "controlsession: transaction timed out", nil)
	case <-ctx.Done():
		s.pending.deregister(key)
		return nil, xrerr.New(xrerr.ConnectionClosed, "controlsession: request cancelled", ctx.Err())
	}
}

func (s *Session) write(magic Magic, txID uint32, body []byte) error {
	if s.closed.Load() {
		return xrerr.New(xrerr.ConnectionClosed, "controlsession: write after close", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return xrerr.New(xrerr.ConnectionClosed, "controlsession: write after close", nil)
	}

	frame := make([]byte, 0, headerSize+4+len(body))
	frame = appendHeader(frame, magic, uint32(4+len(body)))
	frame = appendInt32BE(frame, outboundTxID(txID))
	frame = append(frame, body...)

	if _, err := s.conn.Write(frame); err != nil {
		return xrerr.New(xrerr.IoError, "controlsession: write failed", err)
	}
	return nil
}

func appendHeader(buf []byte, magic Magic, length uint32) []byte {
	buf = append(buf, byte(magic>>8), byte(magic))
	return appendUint32BE(buf, length)
}

func appendUint32BE(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendInt32BE(buf []byte, v int32) []byte {
	return appendUint32BE(buf, uint32(v))
}

// readLoop is the reader task: it runs until the connection errors or is
// closed, resolving pending transactions and publishing unsolicited
// events for everything else.
func (s *Session) readLoop() {
	defer close(s.readerDone)
	for {
		hdr, err := readHeader(s.r)
		if err != nil {
			s.terminate(classifyReadError(err, s.closing.Load()))
			return
		}
		body := make([]byte, hdr.Length)
		if _, err := io.ReadFull(s.r, body); err != nil {
			s.terminate(classifyReadError(err, s.closing.Load()))
			return
		}

		if hdr.Magic == MagicKeyStateChange {
			kse, err := decodeKeyStateEvent(body)
			if err != nil {
				s.events.Publish(Event{Unknown: &UnknownEvent{Magic: hdr.Magic, Payload: body}})
				continue
			}
			s.events.Publish(Event{KeyState: &kse})
			continue
		}

		if len(body) < 4 {
			s.events.Publish(Event{Unknown: &UnknownEvent{Magic: hdr.Magic, Payload: body}})
			continue
		}
		wireTx := int32(uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3]))
		txID := normalizeTxID(wireTx)
		payload := body[4:]

		if s.pending.resolve(pendingKey{txID: txID, magic: hdr.Magic}, payload) {
			continue
		}
		s.events.Publish(Event{Unknown: &UnknownEvent{Magic: hdr.Magic, Payload: body}})
	}
}

func classifyReadError(err error, closing bool) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return xrerr.New(xrerr.ConnectionClosed, "controlsession: remote closed the connection", err)
	}
	if closing {
		return xrerr.New(xrerr.ConnectionClosed, "controlsession: connection closed during shutdown", err)
	}
	return xrerr.New(xrerr.IoError, "controlsession: read failed", err)
}

// terminate marks the session closed and fails every pending transaction
// with cause; it is called exactly once, from whichever path first
// observes the connection ending (readLoop or Close).
func (s *Session) terminate(cause error) {
	if s.closed.CompareAndSwap(false, true) {
		s.pending.failAll(cause)
		s.events.Close()
	}
}

// Closed reports whether the session has terminated, by remote close,
// local Close, or a transport error. The orchestrator uses this to decide
// whether a previously-opened control session can be reused.
func (s *Session) Closed() bool { return s.closed.Load() }

// Close cancels the reader task, closes the socket and fails every
// pending transaction with ConnectionClosed. It is idempotent.
func (s *Session) Close() error {
	s.closing.Store(true)
	err := s.conn.Close()
	<-s.readerDone
	s.terminate(xrerr.New(xrerr.ConnectionClosed, "controlsession: session closed by caller", nil))
	return err
}
