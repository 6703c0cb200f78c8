package s7

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DEFAULT_RACK = 0
	DEFAULT_SLOT = 1
	MAX_RACK     = 7
	MAX_SLOT     = 31
)

type clientConfig struct {
	logger         *zap.Logger
	dialer         Dialer
	port           int
	connectTimeout time.Duration
	requestTimeout time.Duration
	pduSize        int
	queueSize      int
	interceptor    Interceptor
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDialer replaces the TCP dialer, e.g. with an in-memory transport in tests.
func WithDialer(d Dialer) ClientOption {
	return func(cfg *clientConfig) {
		if d != nil {
			cfg.dialer = d
		}
	}
}

// WithPort sets the port used when Connect is given a bare IP. Default: 102.
func WithPort(port int) ClientOption {
	return func(cfg *clientConfig) {
		if port > 0 && port <= 0xFFFF {
			cfg.port = port
		}
	}
}

// WithConnectTimeout bounds the dial plus handshake. Default: 5s.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.connectTimeout = d
		}
	}
}

// WithRequestTimeout bounds every exchange on the wire. A caller context with
// an earlier deadline wins. Default: 5s.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.requestTimeout = d
		}
	}
}

// WithPDUSize sets the PDU size requested during setup communication.
// The PLC may answer with a smaller one. Clamped to 240-960. Default: 480.
func WithPDUSize(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.pduSize = min(max(n, MIN_PDU_SIZE), MAX_PDU_SIZE)
	}
}

// WithQueueSize sets how many requests may wait for the worker. Default: 64.
func WithQueueSize(n int) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.queueSize = n
		}
	}
}

// WithInterceptor installs an interceptor at construction time. Same as
// calling SetInterceptor afterwards.
func WithInterceptor(interceptor Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptor = interceptor
	}
}

// Status is a snapshot of the client's connection.
type Status struct {
	Connected bool
	State     State
	IP        string
	Rack      int
	Slot      int
	PDUSize   int
	LastError error
}

// Client is a Siemens S7 client for one PLC connection.
// Thread-safe: all public methods can be called concurrently. Operations are
// queued and executed one at a time on a per-connection worker.
type Client struct {
	cfg clientConfig

	connMu sync.Mutex // serialises Connect, Disconnect and Close

	sessMu sync.RWMutex
	sess   *session

	closed     bool
	closeMutex sync.RWMutex

	interceptorMu sync.RWMutex
	interceptor   Interceptor
	plugins       pluginManager
}

// NewClient creates a disconnected client.
func NewClient(opts ...ClientOption) *Client {
	cfg := clientConfig{
		logger:         zap.NewNop(),
		dialer:         DialTCP,
		port:           DEFAULT_PORT,
		connectTimeout: DEFAULT_DIAL_TIMEOUT,
		requestTimeout: DEFAULT_REQUEST_TIMEOUT,
		pduSize:        DEFAULT_PDU_SIZE,
		queueSize:      DEFAULT_QUEUE_SIZE,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.Named("S7")
	return &Client{cfg: cfg, interceptor: cfg.interceptor}
}

func (c *Client) logger() *zap.Logger {
	if c.cfg.logger == nil {
		return zap.NewNop()
	}
	return c.cfg.logger
}

// SetInterceptor sets the interceptor applied to every read and write.
// Use ChainInterceptors to combine several.
func (c *Client) SetInterceptor(interceptor Interceptor) {
	c.interceptorMu.Lock()
	defer c.interceptorMu.Unlock()
	c.interceptor = interceptor
}

// Use registers plugins.
func (c *Client) Use(plugins ...Plugin) error {
	return c.plugins.use(c, plugins...)
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	return c.closed
}

// Connect dials ip (default port 102 unless ip carries one), runs the COTP
// and S7 setup handshake for the CPU at rack/slot and starts the worker. An
// existing connection is closed first. ctx bounds the whole handshake
// together with the connect timeout.
func (c *Client) Connect(ctx context.Context, ip string, rack, slot int) (ConnectionInfo, error) {
	const op = "connect"
	if c.IsClosed() {
		return ConnectionInfo{}, &Error{Kind: KindNotConnected, Op: op, Detail: "client closed"}
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ConnectionInfo{}, invalidArgument(op, "empty ip")
	}
	if rack < 0 || rack > MAX_RACK {
		return ConnectionInfo{}, invalidArgument(op, "rack %d out of range 0-%d", rack, MAX_RACK)
	}
	if slot < 0 || slot > MAX_SLOT {
		return ConnectionInfo{}, invalidArgument(op, "slot %d out of range 0-%d", slot, MAX_SLOT)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	// Close may have run while we waited for connMu.
	if c.IsClosed() {
		return ConnectionInfo{}, &Error{Kind: KindNotConnected, Op: op, Detail: "client closed"}
	}

	c.disconnectLocked()

	logger := c.logger().With(zap.String("ip", ip), zap.Int("rack", rack), zap.Int("slot", slot))
	sess := newSession(logger, ConnectionInfo{
		Endpoint: c.endpoint(ip),
		IP:       ip,
		Rack:     rack,
		Slot:     slot,
	})
	c.setSession(sess)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout)
	defer cancel()

	logger.Debug("connecting", zap.String("endpoint", sess.Info().Endpoint))
	if err := sess.handshake(ctx, c.cfg.dialer, c.cfg.pduSize); err != nil {
		logger.Error("connect failed", zap.Error(err))
		return ConnectionInfo{}, err
	}

	sess.corr = newCorrelator(sess, logger, c.cfg.requestTimeout, c.cfg.queueSize)
	sess.onFailure = func(err error) { c.notifyDisconnected(err) }
	sess.corr.start()
	sess.setState(StateConnected, nil)

	info := sess.Info()
	logger.Info("connected", zap.String("endpoint", info.Endpoint), zap.Int("pdu_size", info.PDUSize))
	c.notifyConnected()
	return info, nil
}

func (c *Client) endpoint(ip string) string {
	if _, _, err := net.SplitHostPort(ip); err == nil {
		return ip
	}
	return net.JoinHostPort(ip, strconv.Itoa(c.cfg.port))
}

// Disconnect closes the connection. It is idempotent and never fails.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() error {
	sess := c.session()
	if sess == nil {
		return nil
	}
	wasConnected, err := sess.close()
	if err != nil {
		c.logger().Warn("disconnect", zap.Error(err))
	}
	if wasConnected {
		c.logger().Info("disconnected", zap.String("endpoint", sess.Info().Endpoint))
		c.notifyDisconnected(nil)
	}
	c.setSession(nil)
	return err
}

// Close disconnects and marks the client unusable.
func (c *Client) Close() error {
	c.closeMutex.Lock()
	if c.closed {
		c.closeMutex.Unlock()
		return nil
	}
	c.closed = true
	c.closeMutex.Unlock()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.disconnectLocked()
}

// Status reports the current connection state. IP, rack and slot are empty
// once disconnected.
func (c *Client) Status() Status {
	sess := c.session()
	if sess == nil {
		return Status{State: StateDisconnected}
	}
	info := sess.Info()
	state := sess.State()
	return Status{
		Connected: state == StateConnected,
		State:     state,
		IP:        info.IP,
		Rack:      info.Rack,
		Slot:      info.Slot,
		PDUSize:   info.PDUSize,
		LastError: sess.LastError(),
	}
}

func (c *Client) session() *session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.sess
}

func (c *Client) setSession(s *session) {
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
}

// invoke runs fn through the configured interceptor.
func (c *Client) invoke(ctx context.Context, info *InterceptorInfo, fn Invoker) (interface{}, error) {
	c.interceptorMu.RLock()
	interceptor := c.interceptor
	c.interceptorMu.RUnlock()

	if interceptor == nil {
		return fn(ctx)
	}
	return interceptor(&InterceptorCtx{ctx: ctx, info: info, invoker: fn})
}

// do validates addr, then runs job on the worker through the interceptors.
// Nothing touches the transport unless the session is connected.
func (c *Client) do(ctx context.Context, op OperationType, addr Address, data interface{}, job func(ctx context.Context, s *session) (interface{}, error)) (interface{}, error) {
	if err := addr.Validate(); err != nil {
		return nil, withOp(string(op), err)
	}
	info := &InterceptorInfo{Operation: op, Address: addr, Data: data}
	return c.invoke(ctx, info, func(ctx context.Context) (interface{}, error) {
		sess := c.session()
		if sess == nil || sess.State() != StateConnected {
			return nil, notConnected(string(op))
		}
		return sess.corr.submit(ctx, op, func(ctx context.Context) (interface{}, error) {
			return job(ctx, sess)
		})
	})
}

func (c *Client) read(ctx context.Context, op OperationType, addr Address, decode func([]byte) (interface{}, error)) (interface{}, error) {
	return c.do(ctx, op, addr, nil, func(ctx context.Context, s *session) (interface{}, error) {
		buf, err := s.readArea(ctx, addr)
		if err != nil {
			return nil, err
		}
		return decode(buf)
	})
}

func (c *Client) write(ctx context.Context, op OperationType, addr Address, value interface{}, payload []byte) error {
	_, err := c.do(ctx, op, addr, value, func(ctx context.Context, s *session) (interface{}, error) {
		return nil, s.writeArea(ctx, addr, payload)
	})
	return err
}

// as converts an interceptor-visible result back to the operation's type.
func as[T any](op OperationType, v interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errorf(KindInvalidArgument, "%s: interceptor returned %T", op, v)
	}
	return t, nil
}

// ReadBytes reads length bytes from data block db starting at start.
func (c *Client) ReadBytes(ctx context.Context, db, start, length int) ([]byte, error) {
	addr := DBRangeAddress(db, start, length)
	v, err := c.read(ctx, OpReadBytes, addr, func(b []byte) (interface{}, error) {
		return DecodeBytes(b, length)
	})
	return as[[]byte](OpReadBytes, v, err)
}

// WriteBytes writes data to data block db starting at start.
func (c *Client) WriteBytes(ctx context.Context, db, start int, data []byte) error {
	return c.write(ctx, OpWriteBytes, DBRangeAddress(db, start, len(data)), data, data)
}

// ReadBit reads bit (0-7) of the byte at offset in data block db.
func (c *Client) ReadBit(ctx context.Context, db, offset, bit int) (bool, error) {
	addr := DBBitAddress(db, offset, bit)
	v, err := c.do(ctx, OpReadBit, addr, nil, func(ctx context.Context, s *session) (interface{}, error) {
		buf, err := s.readArea(ctx, addr.WithKind(ValueByte))
		if err != nil {
			return nil, err
		}
		return GetBit(buf[0], bit), nil
	})
	return as[bool](OpReadBit, v, err)
}

// WriteBit sets bit (0-7) of the byte at offset in data block db. The
// containing byte is read, modified and written back in one worker job, so
// no other request of this client can interleave.
func (c *Client) WriteBit(ctx context.Context, db, offset, bit int, value bool) error {
	addr := DBBitAddress(db, offset, bit)
	_, err := c.do(ctx, OpWriteBit, addr, value, func(ctx context.Context, s *session) (interface{}, error) {
		byteAddr := addr.WithKind(ValueByte)
		buf, err := s.readArea(ctx, byteAddr)
		if err != nil {
			return nil, err
		}
		return nil, s.writeArea(ctx, byteAddr, []byte{SetBit(buf[0], bit, value)})
	})
	return err
}

func (c *Client) ReadInt16(ctx context.Context, db, offset int) (int16, error) {
	v, err := c.read(ctx, OpReadInt16, DBAddress(db, offset, ValueInt16), func(b []byte) (interface{}, error) {
		return DecodeInt16(b)
	})
	return as[int16](OpReadInt16, v, err)
}

func (c *Client) WriteInt16(ctx context.Context, db, offset int, value int16) error {
	return c.write(ctx, OpWriteInt16, DBAddress(db, offset, ValueInt16), value, EncodeInt16(value))
}

func (c *Client) ReadUint16(ctx context.Context, db, offset int) (uint16, error) {
	v, err := c.read(ctx, OpReadUint16, DBAddress(db, offset, ValueUint16), func(b []byte) (interface{}, error) {
		return DecodeUint16(b)
	})
	return as[uint16](OpReadUint16, v, err)
}

func (c *Client) WriteUint16(ctx context.Context, db, offset int, value uint16) error {
	return c.write(ctx, OpWriteUint16, DBAddress(db, offset, ValueUint16), value, EncodeUint16(value))
}

func (c *Client) ReadInt32(ctx context.Context, db, offset int) (int32, error) {
	v, err := c.read(ctx, OpReadInt32, DBAddress(db, offset, ValueInt32), func(b []byte) (interface{}, error) {
		return DecodeInt32(b)
	})
	return as[int32](OpReadInt32, v, err)
}

func (c *Client) WriteInt32(ctx context.Context, db, offset int, value int32) error {
	return c.write(ctx, OpWriteInt32, DBAddress(db, offset, ValueInt32), value, EncodeInt32(value))
}

func (c *Client) ReadFloat32(ctx context.Context, db, offset int) (float32, error) {
	v, err := c.read(ctx, OpReadFloat32, DBAddress(db, offset, ValueFloat32), func(b []byte) (interface{}, error) {
		return DecodeFloat32(b)
	})
	return as[float32](OpReadFloat32, v, err)
}

func (c *Client) WriteFloat32(ctx context.Context, db, offset int, value float32) error {
	return c.write(ctx, OpWriteFloat32, DBAddress(db, offset, ValueFloat32), value, EncodeFloat32(value))
}

// ReadArea reads the raw bytes at addr in any area. Bit addresses use the
// native S7 bit access and return a single 0 or 1 byte.
func (c *Client) ReadArea(ctx context.Context, addr Address) ([]byte, error) {
	v, err := c.read(ctx, OpReadArea, addr, func(b []byte) (interface{}, error) {
		return DecodeBytes(b, addr.Length)
	})
	return as[[]byte](OpReadArea, v, err)
}

// WriteArea writes data, which must be exactly addr.Length bytes, at addr.
// Bit addresses take a single byte, 0 or 1, and are written natively.
func (c *Client) WriteArea(ctx context.Context, addr Address, data []byte) error {
	if len(data) != addr.Length {
		return invalidArgument(string(OpWriteArea), "data length %d does not match address length %d", len(data), addr.Length)
	}
	if err := addr.Validate(); err != nil {
		return withOp(string(OpWriteArea), err)
	}
	if addr.Kind == ValueBit && data[0] > 1 {
		return invalidArgument(string(OpWriteArea), "bit value must be 0 or 1, got %d", data[0])
	}
	return c.write(ctx, OpWriteArea, addr, data, data)
}
