package s7

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnTransportFrames(t *testing.T) {
	a, b := net.Pipe()
	ta, tb := NewConnTransport(a), NewConnTransport(b)
	defer ta.Close()
	defer tb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payload := wrapDT([]byte{0x32, 0x01, 0x02})
	errc := make(chan error, 1)
	go func() { errc <- ta.Send(ctx, payload) }()

	got, err := tb.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoError(t, <-errc)
}

func TestReadTPKT(t *testing.T) {
	frame := tpktFrame([]byte{0x02, 0xF0, 0x80})
	got, err := readTPKT(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xF0, 0x80}, got)

	_, err = readTPKT(bytes.NewReader([]byte{0x04, 0x00, 0x00, 0x07, 0x02, 0xF0, 0x80}))
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = readTPKT(bytes.NewReader([]byte{0x03, 0x00, 0x00, 0x05, 0x00}))
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = readTPKT(bytes.NewReader([]byte{0x03, 0x00, 0x00, 0x10, 0x02}))
	assert.Error(t, err)
}

func TestConnTransportBadVersionIsProtocolError(t *testing.T) {
	a, b := net.Pipe()
	tr := NewConnTransport(a)
	defer tr.Close()
	defer b.Close()

	go func() { _, _ = b.Write([]byte{0x05, 0x00, 0x00, 0x07, 0x02, 0xF0, 0x80}) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tr.Recv(ctx)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestConnTransportTimeoutsAndClose(t *testing.T) {
	a, b := net.Pipe()
	tr := NewConnTransport(a)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.Recv(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	// A context that is already done is a timeout too: the reply would be left unread.
	_, err = tr.Recv(ctx)
	assert.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())

	err = tr.Send(context.Background(), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrIO)
}

func TestSendAfterDeadlineIsTimeout(t *testing.T) {
	a, b := net.Pipe()
	tr := NewConnTransport(a)
	defer tr.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := tr.Send(ctx, wrapDT([]byte{0x32, 0x01}))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestConnTransportCancelUnblocksRecv(t *testing.T) {
	a, b := net.Pipe()
	tr := NewConnTransport(a)
	defer tr.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := tr.Recv(ctx)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "cancellation mid-read leaves the stream unusable: %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	a, b := net.Pipe()
	tr := NewConnTransport(a)
	defer tr.Close()
	defer b.Close()

	err := tr.Send(context.Background(), make([]byte, maxTPKTLength))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDialTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = DialTCP(ctx, addr)
	assert.ErrorIs(t, err, ErrConnectFailed)
}
