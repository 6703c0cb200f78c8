/*
Package s7 implements a Siemens S7 client (S7comm over ISO-on-TCP, RFC 1006)
for reading and writing S7-300/400/1200/1500 PLC memory.

# Features

  - COTP + S7 setup-communication handshake with PDU size negotiation
  - Typed reads and writes of data blocks: bytes, bits, INT, WORD, DINT, REAL
  - Raw access to the I, Q, M, T and C areas through Address
  - Context-based cancellation and timeout control
  - One worker per connection: requests never interleave on the wire
  - Structured errors with a Kind per failure class
  - Interceptors and plugins for logging, metrics, validation and monitoring
  - PLC simulator for testing

# Quick Start

	import (
		"context"
		"log"

		"github.com/matrixtsl/s7"
	)

	func main() {
		client := s7.NewClient()
		defer client.Close()

		ctx := context.Background()
		info, err := client.Connect(ctx, "192.168.0.1", 0, 1)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("connected, PDU size %d", info.PDUSize)

		if err := client.WriteInt16(ctx, 1, 0, 300); err != nil {
			log.Fatal(err)
		}
		v, err := client.ReadInt16(ctx, 1, 0)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("DB1.DBW0 = %d", v)
	}

Rack and slot select the CPU: 0/1 is typical for S7-1200/1500, 0/2 for an
S7-300. S7-1200/1500 CPUs need PUT/GET access enabled and non-optimized data
blocks.

# Connection Lifecycle

A Client moves through Disconnected, Connecting, Connected and Failed.
Connect on a connected client closes the old connection first. An I/O error,
a malformed response or a request timeout moves the client to Failed and
closes the socket; the client never reconnects by itself. Status reports the
state and the last error. ConnectionWatchdog turns these transitions into
events.

	wd := s7.NewConnectionWatchdog(0)
	_ = client.Use(wd)
	go func() {
		for evt := range wd.Events() {
			if evt.Type == s7.ConnectionEventDropped {
				// reconnect with backoff
			}
		}
	}()

# Addresses

Data block helpers take (db, offset). Everything else goes through Address:

	addr, _ := s7.ParseAddress("MW10")
	raw, err := client.ReadArea(ctx, addr)

	bit, _ := s7.ParseAddress("Q0.3")
	err = client.WriteArea(ctx, bit, []byte{1})

Timers and counters are addressed by element number and read as 2 bytes each.

# Context Support

Every request runs with the earlier of the caller's deadline and the client's
request timeout (default 5s). A caller whose context ends stops waiting; the
request already on the wire still completes, so the connection stays in step.

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	v, err := client.ReadFloat32(ctx, 1, 4)
	if errors.Is(err, s7.ErrTimeout) {
		log.Println("PLC did not answer in time")
	}

# Error Handling

Every error is an *Error. Use errors.Is with the sentinels or KindOf:

  - ErrInvalidArgument - rejected before any I/O
  - ErrNotConnected - no connection, nothing was sent
  - ErrConnectFailed - dial or handshake failed
  - ErrTimeout - no answer within the deadline (connection dropped)
  - ErrIO - socket failure (connection dropped)
  - ErrProtocol - malformed or out-of-step response (connection dropped)
  - ErrPLC - the PLC rejected the request; Code holds the S7 error

# Interceptors

Interceptors wrap every read and write:

	logger, _ := zap.NewProduction()
	metrics := s7.NewMetricsCollector()

	client.SetInterceptor(s7.ChainInterceptors(
		s7.LoggingInterceptor(logger),
		metrics.Interceptor(),
		s7.ReadOnlyInterceptor(),
	))

# Configuration

Clients take functional options (WithLogger, WithRequestTimeout, WithPDUSize,
...). LoadConfig reads the same settings from YAML:

	cfg, err := s7.LoadConfig("plc.yaml")
	client := s7.NewClient(cfg.Options(logger)...)
	_, err = client.Connect(ctx, cfg.Endpoint, cfg.Rack, cfg.Slot)

# Testing with PLC Simulator

	srv, err := s7.NewPLCSimulator("127.0.0.1:0", s7.WithDB(1, 256))
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	client := s7.NewClient()
	_, err = client.Connect(ctx, srv.Addr().String(), 0, 1)

Server.ServeConn serves a single net.Conn, so tests can connect through
net.Pipe with WithDialer instead of a real socket.
*/
package s7
