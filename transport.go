package s7

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	DEFAULT_PORT            = 102
	DEFAULT_DIAL_TIMEOUT    = 5 * time.Second
	DEFAULT_REQUEST_TIMEOUT = 5 * time.Second
)

// Transport moves TPKT payloads (COTP header plus S7 PDU) over one stream.
// Deadlines come from the context. Close is idempotent.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to endpoint ("host:port").
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// DialTCP is the default Dialer.
func DialTCP(ctx context.Context, endpoint string) (Transport, error) {
	dialer := net.Dialer{
		Timeout:   DEFAULT_DIAL_TIMEOUT,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, newError(KindConnectFailed, "dial", endpoint, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConnTransport(conn), nil
}

// connTransport frames TPKT over any net.Conn.
type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

// NewConnTransport wraps conn. The transport owns conn from then on.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (t *connTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return ioError(ctx, "send", err)
	}
	if len(payload)+tpktHeaderSize > maxTPKTLength {
		return errorf(KindInvalidArgument, "payload of %d bytes exceeds TPKT limit", len(payload))
	}
	deadline, _ := ctx.Deadline()
	_ = t.conn.SetWriteDeadline(deadline)
	defer context.AfterFunc(ctx, func() { _ = t.conn.SetWriteDeadline(time.Unix(1, 0)) })()

	if _, err := t.conn.Write(tpktFrame(payload)); err != nil {
		return ioError(ctx, "send", err)
	}
	return nil
}

func (t *connTransport) Recv(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		// An unread reply leaves the stream out of step.
		return nil, ioError(ctx, "receive", err)
	}
	deadline, _ := ctx.Deadline()
	_ = t.conn.SetReadDeadline(deadline)
	defer context.AfterFunc(ctx, func() { _ = t.conn.SetReadDeadline(time.Unix(1, 0)) })()

	payload, err := readTPKT(t.reader)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, ioError(ctx, "receive", err)
	}
	return payload, nil
}

func (t *connTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// readTPKT reads one TPKT frame and returns its payload.
func readTPKT(r io.Reader) ([]byte, error) {
	header := make([]byte, tpktHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != tpktVersion {
		return nil, errorf(KindProtocol, "invalid TPKT version 0x%02X", header[0])
	}
	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < tpktHeaderSize+3 {
		return nil, errorf(KindProtocol, "invalid TPKT length %d", length)
	}
	payload := make([]byte, length-tpktHeaderSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ioError classifies a socket error. An expired deadline or cancelled context
// is a timeout; anything else (reset, EOF, closed) is an I/O failure.
func ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return newError(KindTimeout, op, "no response before deadline", ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(KindTimeout, op, "socket deadline exceeded", err)
	}
	return newError(KindIO, op, "", err)
}
