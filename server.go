package s7

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DEFAULT_DB_NUMBER    = 1
	DEFAULT_DB_SIZE      = 1024 // bytes of the default data block
	DEFAULT_AREA_SIZE    = 1024 // bytes of I, Q and M
	DEFAULT_TIMER_COUNT  = 256  // timers and counters, 2 bytes each
	ERROR_CHANNEL_BUFFER = 1
)

type serverConfig struct {
	logger        *zap.Logger
	dbs           map[int]int
	areas         map[Area]int
	maxPDU        int
	responseDelay time.Duration
}

// ServerOption configures the PLC simulator.
type ServerOption func(*serverConfig)

// WithDB adds data block number with size bytes. Without any WithDB the
// simulator exposes DB1 with 1024 bytes.
func WithDB(number, size int) ServerOption {
	return func(cfg *serverConfig) {
		if number > 0 && number <= MaxDB && size > 0 {
			cfg.dbs[number] = size
		}
	}
}

// WithAreaSize sets the size of I, Q or M in bytes, or the number of timers
// or counters for T and C.
func WithAreaSize(area Area, size int) ServerOption {
	return func(cfg *serverConfig) {
		if area != AreaDB && size >= 0 {
			cfg.areas[area] = size
		}
	}
}

// WithMaxPDU caps the PDU size the simulator agrees to. Default: 960.
func WithMaxPDU(n int) ServerOption {
	return func(cfg *serverConfig) {
		cfg.maxPDU = min(max(n, MIN_PDU_SIZE), MAX_PDU_SIZE)
	}
}

// WithServerLogger sets the simulator logger. Default: zap.NewNop().
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(cfg *serverConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithResponseDelay delays every S7 response, to exercise client timeouts.
func WithResponseDelay(d time.Duration) ServerOption {
	return func(cfg *serverConfig) {
		cfg.responseDelay = d
	}
}

// memory holds the simulated PLC areas.
type memory struct {
	mu    sync.RWMutex
	dbs   map[int][]byte
	areas map[Area][]byte
}

// region returns the backing slice for n bytes at addr-style offset, or a
// data item return code.
func (m *memory) region(area Area, db, offset, n int) ([]byte, byte) {
	var mem []byte
	if area == AreaDB {
		b, ok := m.dbs[db]
		if !ok {
			return nil, dataItemNotExist
		}
		mem = b
	} else {
		b, ok := m.areas[area]
		if !ok {
			return nil, dataItemNotExist
		}
		mem = b
	}
	if area.counted() {
		offset *= 2
	}
	if offset < 0 || n < 0 || offset+n > len(mem) {
		return nil, dataItemAddressError
	}
	return mem[offset : offset+n], dataItemSuccess
}

// Server is an in-process S7 PLC simulator speaking ISO-on-TCP.
type Server struct {
	logger *zap.Logger
	maxPDU int
	delay  time.Duration
	mem    memory

	ln      net.Listener
	connMu  sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	errChan chan error

	closed     bool
	closeMutex sync.RWMutex
}

// NewServer creates a simulator that is not listening yet. Use Listen or ServeConn.
func NewServer(opts ...ServerOption) *Server {
	cfg := serverConfig{
		logger: zap.NewNop(),
		dbs:    make(map[int]int),
		areas: map[Area]int{
			AreaI: DEFAULT_AREA_SIZE,
			AreaQ: DEFAULT_AREA_SIZE,
			AreaM: DEFAULT_AREA_SIZE,
			AreaT: DEFAULT_TIMER_COUNT,
			AreaC: DEFAULT_TIMER_COUNT,
		},
		maxPDU: MAX_PDU_SIZE,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.dbs) == 0 {
		cfg.dbs[DEFAULT_DB_NUMBER] = DEFAULT_DB_SIZE
	}

	s := &Server{
		logger:  cfg.logger.Named("S7").Named("simulator"),
		maxPDU:  cfg.maxPDU,
		delay:   cfg.responseDelay,
		conns:   make(map[net.Conn]struct{}),
		errChan: make(chan error, ERROR_CHANNEL_BUFFER),
		mem: memory{
			dbs:   make(map[int][]byte, len(cfg.dbs)),
			areas: make(map[Area][]byte, len(cfg.areas)),
		},
	}
	for n, size := range cfg.dbs {
		s.mem.dbs[n] = make([]byte, size)
	}
	for area, size := range cfg.areas {
		if area.counted() {
			size *= 2
		}
		s.mem.areas[area] = make([]byte, size)
	}
	return s
}

// NewPLCSimulator creates a simulator listening on addr ("host:port", port 0
// picks a free one).
func NewPLCSimulator(addr string, opts ...ServerOption) (*Server, error) {
	s := NewServer(opts...)
	if err := s.Listen(addr); err != nil {
		return nil, err
	}
	return s, nil
}

// Listen starts accepting TCP connections on addr.
func (s *Server) Listen(addr string) error {
	if s.IsClosed() {
		return fmt.Errorf("simulator closed")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	go s.acceptLoop()
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// IsClosed returns true if the server has been closed
func (s *Server) IsClosed() bool {
	s.closeMutex.RLock()
	defer s.closeMutex.RUnlock()
	return s.closed
}

// Err returns the error channel for server errors
// Errors from the accept loop are sent to this channel
func (s *Server) Err() <-chan error {
	return s.errChan
}

// Close stops listening, drops every open connection and waits for their handlers.
func (s *Server) Close() error {
	s.closeMutex.Lock()
	if s.closed {
		s.closeMutex.Unlock()
		return nil
	}
	s.closed = true
	s.closeMutex.Unlock()

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		err = multierr.Append(err, conn.Close())
	}
	s.connMu.Unlock()
	s.wg.Wait()
	return err
}

// Seed copies data into simulator memory. offset is a byte offset, or an
// element number for timers and counters.
func (s *Server) Seed(area Area, db, offset int, data []byte) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	mem, code := s.mem.region(area, db, offset, len(data))
	if code != dataItemSuccess {
		return fmt.Errorf("seed %s: %s", Address{Area: area, DBNumber: db, Offset: offset, Length: len(data)}, dataItemMessage(code))
	}
	copy(mem, data)
	return nil
}

// SeedBit sets or clears one bit of simulator memory.
func (s *Server) SeedBit(area Area, db, offset, bit int, v bool) error {
	if bit < 0 || bit > 7 || area.counted() {
		return fmt.Errorf("seed bit %d of %s: invalid bit address", bit, area)
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	mem, code := s.mem.region(area, db, offset, 1)
	if code != dataItemSuccess {
		return fmt.Errorf("seed bit %s%d.%d: %s", area, offset, bit, dataItemMessage(code))
	}
	mem[0] = SetBit(mem[0], bit, v)
	return nil
}

// Bytes returns a copy of n bytes of simulator memory.
func (s *Server) Bytes(area Area, db, offset, n int) ([]byte, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	mem, code := s.mem.region(area, db, offset, n)
	if code != dataItemSuccess {
		return nil, fmt.Errorf("read %s: %s", Address{Area: area, DBNumber: db, Offset: offset, Length: n}, dataItemMessage(code))
	}
	return append([]byte(nil), mem...), nil
}

func (s *Server) acceptLoop() {
	defer close(s.errChan)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.IsClosed() {
				return
			}
			s.errChan <- fmt.Errorf("accept error: %w", err)
			return
		}
		go func() {
			if err := s.ServeConn(conn); err != nil {
				s.logger.Warn("connection ended", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

// ServeConn serves one client connection until it closes. It returns nil when
// the peer hangs up or the server is closed.
func (s *Server) ServeConn(conn net.Conn) error {
	if !s.track(conn) {
		_ = conn.Close()
		return nil
	}
	defer s.untrack(conn)

	t := NewConnTransport(conn)
	defer t.Close()
	ctx := context.Background()

	cr, err := t.Recv(ctx)
	if err != nil {
		return s.connErr("handshake read", err)
	}
	cc, err := buildConnectConfirm(cr)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, cc); err != nil {
		return s.connErr("handshake write", err)
	}
	s.logger.Debug("COTP connection accepted")

	sess := &simSession{srv: s}
	for {
		payload, err := t.Recv(ctx)
		if err != nil {
			return s.connErr("read", err)
		}
		pdu, err := unwrapDT(payload)
		if err != nil {
			return err
		}
		job, err := parseJob(pdu)
		if err != nil {
			return err
		}
		resp := sess.handle(job)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if err := t.Send(ctx, wrapDT(resp)); err != nil {
			return s.connErr("write", err)
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.closeMutex.RLock()
	defer s.closeMutex.RUnlock()
	if s.closed {
		return false
	}
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	s.wg.Done()
}

// connErr drops the errors a normal hang-up or shutdown produces.
func (s *Server) connErr(op string, err error) error {
	if s.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// simSession is the per-connection protocol state.
type simSession struct {
	srv *Server
	pdu int // negotiated; 0 until setup communication
}

func (ss *simSession) handle(job s7Job) []byte {
	switch job.params[0] {
	case s7FuncSetupComm:
		if len(job.params) < 8 {
			return buildAck(job.ref, errClassService, 0x01, nil, nil)
		}
		requested := int(binary.BigEndian.Uint16(job.params[6:8]))
		ss.pdu = min(requested, ss.srv.maxPDU)
		if ss.pdu == 0 {
			ss.pdu = ss.srv.maxPDU
		}
		ss.srv.logger.Debug("setup communication", zap.Int("requested", requested), zap.Int("pdu_size", ss.pdu))
		return buildSetupCommResponse(job.ref, uint16(ss.pdu))
	case s7FuncRead, s7FuncWrite:
		if ss.pdu == 0 {
			return buildAck(job.ref, errClassAppRelation, 0x04, nil, nil)
		}
		items, ok := parseItems(job.params)
		if !ok {
			return buildAck(job.ref, errClassService, 0x01, nil, nil)
		}
		if job.params[0] == s7FuncRead {
			return ss.read(job.ref, items)
		}
		return ss.write(job.ref, items, job.data)
	default:
		ss.srv.logger.Debug("unsupported function", zap.Uint8("function", job.params[0]))
		return buildAck(job.ref, errClassService, 0x04, nil, nil)
	}
}

func parseItems(params []byte) ([]varSpec, bool) {
	if len(params) < 2 {
		return nil, false
	}
	n := int(params[1])
	if n == 0 || len(params) < 2+n*s7AnyItemSize {
		return nil, false
	}
	items := make([]varSpec, n)
	for i := range items {
		v, err := parseVarSpec(params[2+i*s7AnyItemSize:])
		if err != nil {
			return nil, false
		}
		items[i] = v
	}
	return items, true
}

func (ss *simSession) read(ref uint16, items []varSpec) []byte {
	m := &ss.srv.mem
	m.mu.RLock()
	defer m.mu.RUnlock()

	var data []byte
	for i, item := range items {
		addr, ok := item.address()
		if !ok {
			data = append(data, dataItemTypeError, 0x00, 0x00, 0x00)
			continue
		}
		mem, code := m.region(addr.Area, addr.DBNumber, addr.Offset, addr.Length)
		if code != dataItemSuccess {
			data = append(data, code, 0x00, 0x00, 0x00)
			continue
		}

		var ts byte = dataTSByte
		payload := mem
		length := len(mem) * 8
		switch {
		case addr.Kind == ValueBit:
			ts = dataTSBit
			payload = []byte{0}
			if GetBit(mem[0], addr.Bit) {
				payload[0] = 1
			}
			length = 1
		case addr.Area.counted():
			ts = dataTSOctet
			length = len(mem)
		}
		data = append(data, dataItemSuccess, ts, byte(length>>8), byte(length))
		data = append(data, payload...)
		if len(payload)%2 == 1 && i < len(items)-1 {
			data = append(data, 0x00)
		}
	}

	params := []byte{s7FuncRead, byte(len(items))}
	if ackHeaderSize+len(params)+len(data) > ss.pdu {
		return buildAck(ref, errClassNoResource, 0x00, nil, nil)
	}
	return buildAck(ref, 0, 0, params, data)
}

func (ss *simSession) write(ref uint16, items []varSpec, data []byte) []byte {
	m := &ss.srv.mem
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]byte, len(items))
	pos := 0
	for i, item := range items {
		if pos+4 > len(data) {
			return buildAck(ref, errClassService, 0x01, nil, nil)
		}
		ts := data[pos+1]
		n := dataItemLength(ts, binary.BigEndian.Uint16(data[pos+2:pos+4]))
		if pos+4+n > len(data) {
			return buildAck(ref, errClassService, 0x01, nil, nil)
		}
		payload := data[pos+4 : pos+4+n]
		pos += 4 + n
		if n%2 == 1 && i < len(items)-1 {
			pos++
		}
		codes[i] = ss.writeItem(item, ts, payload)
	}
	ss.srv.logger.Debug("write", zap.Int("items", len(items)), zap.Binary("codes", codes))
	return buildAck(ref, 0, 0, []byte{s7FuncWrite, byte(len(items))}, codes)
}

// writeItem stores one data item; the caller holds the memory lock.
func (ss *simSession) writeItem(item varSpec, ts byte, payload []byte) byte {
	addr, ok := item.address()
	if !ok {
		return dataItemTypeError
	}
	if addr.Kind == ValueBit {
		if ts != dataTSBit || len(payload) != 1 {
			return dataItemTypeInconsistent
		}
	} else if len(payload) != addr.Length {
		return dataItemTypeInconsistent
	}
	mem, code := ss.srv.mem.region(addr.Area, addr.DBNumber, addr.Offset, addr.Length)
	if code != dataItemSuccess {
		return code
	}
	if addr.Kind == ValueBit {
		mem[0] = SetBit(mem[0], addr.Bit, payload[0]&1 == 1)
		return dataItemSuccess
	}
	copy(mem, payload)
	return dataItemSuccess
}
