package s7

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const CLOSE_TIMEOUT = 1 * time.Second

// State is the lifecycle state of a connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is entered when an I/O, protocol or timeout error made the
	// connection unusable. Only a new Connect leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionInfo describes an established connection.
type ConnectionInfo struct {
	Endpoint string
	IP       string
	Rack     int
	Slot     int
	PDUSize  int
}

// session owns one transport and its handshake state. After the handshake
// only the correlator worker touches the transport and pduRef.
type session struct {
	logger    *zap.Logger
	transport Transport
	corr      *correlator
	pduRef    uint16

	// onFailure runs once, on the worker, when a fatal error drops the connection.
	onFailure func(error)

	mu      sync.RWMutex
	info    ConnectionInfo
	state   State
	lastErr error
}

func newSession(logger *zap.Logger, info ConnectionInfo) *session {
	return &session{
		logger: logger,
		info:   info,
		state:  StateConnecting,
	}
}

func (s *session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) Info() ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

func (s *session) nextRef() uint16 {
	s.pduRef++
	if s.pduRef == 0 {
		s.pduRef = 1
	}
	return s.pduRef
}

// handshake dials the endpoint and runs COTP connect followed by S7 setup
// communication. The session stays Connecting on success; the caller flips it
// to Connected once the worker is running.
func (s *session) handshake(ctx context.Context, dial Dialer, pduSize int) error {
	info := s.Info()
	t, err := dial(ctx, info.Endpoint)
	if err != nil {
		return s.connectFailed(err)
	}
	s.transport = t

	if err := t.Send(ctx, buildConnectRequest(info.Rack, info.Slot)); err != nil {
		return s.connectFailed(err)
	}
	payload, err := t.Recv(ctx)
	if err != nil {
		return s.connectFailed(err)
	}
	if err := parseConnectConfirm(payload); err != nil {
		return s.connectFailed(err)
	}
	s.logger.Debug("COTP connection confirmed", zap.String("endpoint", info.Endpoint))

	ref := s.nextRef()
	pdu, err := s.exchange(ctx, buildSetupCommRequest(ref, uint16(pduSize)))
	if err != nil {
		return s.connectFailed(err)
	}
	negotiated, err := parseSetupCommResponse(pdu, ref)
	if err != nil {
		return s.connectFailed(err)
	}
	if int(negotiated) <= writeOverhead+1 {
		return s.connectFailed(errorf(KindProtocol, "negotiated PDU size %d is too small", negotiated))
	}

	s.mu.Lock()
	s.info.PDUSize = int(negotiated)
	s.mu.Unlock()
	return nil
}

// connectFailed closes whatever was opened and wraps err as KindConnectFailed,
// keeping the wire code of the cause.
func (s *session) connectFailed(cause error) error {
	if s.transport != nil {
		_ = s.transport.Close()
	}
	err := &Error{Kind: KindConnectFailed, Op: "connect", Detail: s.Info().Endpoint, Err: cause}
	var e *Error
	if errors.As(cause, &e) {
		err.Code = e.Code
	}
	s.setState(StateFailed, err)
	return err
}

// exchange sends one S7 PDU and returns the S7 PDU of the reply.
func (s *session) exchange(ctx context.Context, req []byte) ([]byte, error) {
	if err := s.transport.Send(ctx, wrapDT(req)); err != nil {
		return nil, err
	}
	payload, err := s.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return unwrapDT(payload)
}

func (s *session) read(ctx context.Context, a Address) ([]byte, error) {
	ref := s.nextRef()
	pdu, err := s.exchange(ctx, buildReadRequest(ref, a))
	if err != nil {
		return nil, err
	}
	return parseReadResponse(pdu, ref, a.Length)
}

func (s *session) write(ctx context.Context, a Address, data []byte) error {
	ref := s.nextRef()
	pdu, err := s.exchange(ctx, buildWriteRequest(ref, a, data))
	if err != nil {
		return err
	}
	return parseWriteResponse(pdu, ref)
}

// readArea reads a.Length bytes, split into as many requests as the
// negotiated PDU size requires.
func (s *session) readArea(ctx context.Context, a Address) ([]byte, error) {
	if a.Kind == ValueBit {
		return s.read(ctx, a)
	}
	chunk := maxReadChunk(s.Info().PDUSize)
	if a.Area.counted() {
		chunk &^= 1
	}
	out := make([]byte, 0, a.Length)
	for done := 0; done < a.Length; {
		n := min(chunk, a.Length-done)
		part, err := s.read(ctx, a.WithOffset(a.Offset+advance(a.Area, done), n))
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
		done += n
	}
	return out, nil
}

func (s *session) writeArea(ctx context.Context, a Address, data []byte) error {
	if a.Kind == ValueBit {
		return s.write(ctx, a, data)
	}
	chunk := maxWriteChunk(s.Info().PDUSize)
	for done := 0; done < len(data); {
		n := min(chunk, len(data)-done)
		if err := s.write(ctx, a.WithOffset(a.Offset+advance(a.Area, done), n), data[done:done+n]); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// advance converts a byte count into an address step.
func advance(area Area, n int) int {
	if area.counted() {
		return n / 2
	}
	return n
}

// fail drops a connected session after a fatal error. It is called on the
// worker, so nothing else is using the transport.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()

	s.corr.shutdown()
	_ = s.transport.Close()
	s.logger.Error("connection dropped", zap.String("endpoint", s.info.Endpoint), zap.Error(err))
	if s.onFailure != nil {
		s.onFailure(err)
	}
}

// close stops the worker, then releases the socket. An exchange already on
// the wire is allowed to finish or reach its own deadline first. It reports
// whether the session was connected before the call.
func (s *session) close() (bool, error) {
	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.mu.Unlock()

	var err error
	if s.corr != nil {
		err = s.corr.stop(s.corr.timeout + CLOSE_TIMEOUT)
	}
	if s.transport != nil {
		err = multierr.Append(err, s.transport.Close())
	}
	return wasConnected, err
}
