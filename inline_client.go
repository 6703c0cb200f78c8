package s7

import "context"

// InlineClient exposes a client-like API that operates directly on a Server's memory.
// It bypasses network transport while keeping the same method signatures as Client,
// including address validation and the PLC's data item errors.
type InlineClient struct {
	srv *Server
}

// Inline client implements PLCClient (no-op connection management and hooks).
var _ PLCClient = (*InlineClient)(nil)

// InlineClient returns a lightweight, in-process client for manipulating the simulator memory directly.
// Useful for tests or embedding where sending network frames is unnecessary.
func (s *Server) InlineClient() *InlineClient {
	return &InlineClient{srv: s}
}

func (*InlineClient) SetInterceptor(Interceptor) {}
func (*InlineClient) Use(...Plugin) error        { return nil }

func (ic *InlineClient) Connect(ctx context.Context, ip string, rack, slot int) (ConnectionInfo, error) {
	if err := ic.check(ctx, "connect"); err != nil {
		return ConnectionInfo{}, err
	}
	return ConnectionInfo{Endpoint: "inline", IP: ip, Rack: rack, Slot: slot, PDUSize: ic.srv.maxPDU}, nil
}

func (*InlineClient) Disconnect() {}

func (ic *InlineClient) Status() Status {
	if ic.srv.IsClosed() {
		return Status{State: StateDisconnected}
	}
	return Status{Connected: true, State: StateConnected, PDUSize: ic.srv.maxPDU}
}

func (ic *InlineClient) IsClosed() bool {
	return ic.srv.IsClosed()
}

func (*InlineClient) Close() error { return nil }

func (ic *InlineClient) ReadArea(ctx context.Context, addr Address) ([]byte, error) {
	return ic.read(ctx, OpReadArea, addr)
}

func (ic *InlineClient) WriteArea(ctx context.Context, addr Address, data []byte) error {
	if len(data) != addr.Length {
		return invalidArgument(string(OpWriteArea), "data length %d does not match address length %d", len(data), addr.Length)
	}
	return ic.write(ctx, OpWriteArea, addr, data)
}

func (ic *InlineClient) ReadBytes(ctx context.Context, db, start, length int) ([]byte, error) {
	return ic.read(ctx, OpReadBytes, DBRangeAddress(db, start, length))
}

func (ic *InlineClient) WriteBytes(ctx context.Context, db, start int, data []byte) error {
	return ic.write(ctx, OpWriteBytes, DBRangeAddress(db, start, len(data)), data)
}

func (ic *InlineClient) ReadBit(ctx context.Context, db, offset, bit int) (bool, error) {
	raw, err := ic.read(ctx, OpReadBit, DBBitAddress(db, offset, bit))
	if err != nil {
		return false, err
	}
	return raw[0] == 1, nil
}

func (ic *InlineClient) WriteBit(ctx context.Context, db, offset, bit int, value bool) error {
	var b byte
	if value {
		b = 1
	}
	return ic.write(ctx, OpWriteBit, DBBitAddress(db, offset, bit), []byte{b})
}

func (ic *InlineClient) ReadInt16(ctx context.Context, db, offset int) (int16, error) {
	raw, err := ic.read(ctx, OpReadInt16, DBAddress(db, offset, ValueInt16))
	if err != nil {
		return 0, err
	}
	return DecodeInt16(raw)
}

func (ic *InlineClient) WriteInt16(ctx context.Context, db, offset int, value int16) error {
	return ic.write(ctx, OpWriteInt16, DBAddress(db, offset, ValueInt16), EncodeInt16(value))
}

func (ic *InlineClient) ReadUint16(ctx context.Context, db, offset int) (uint16, error) {
	raw, err := ic.read(ctx, OpReadUint16, DBAddress(db, offset, ValueUint16))
	if err != nil {
		return 0, err
	}
	return DecodeUint16(raw)
}

func (ic *InlineClient) WriteUint16(ctx context.Context, db, offset int, value uint16) error {
	return ic.write(ctx, OpWriteUint16, DBAddress(db, offset, ValueUint16), EncodeUint16(value))
}

func (ic *InlineClient) ReadInt32(ctx context.Context, db, offset int) (int32, error) {
	raw, err := ic.read(ctx, OpReadInt32, DBAddress(db, offset, ValueInt32))
	if err != nil {
		return 0, err
	}
	return DecodeInt32(raw)
}

func (ic *InlineClient) WriteInt32(ctx context.Context, db, offset int, value int32) error {
	return ic.write(ctx, OpWriteInt32, DBAddress(db, offset, ValueInt32), EncodeInt32(value))
}

func (ic *InlineClient) ReadFloat32(ctx context.Context, db, offset int) (float32, error) {
	raw, err := ic.read(ctx, OpReadFloat32, DBAddress(db, offset, ValueFloat32))
	if err != nil {
		return 0, err
	}
	return DecodeFloat32(raw)
}

func (ic *InlineClient) WriteFloat32(ctx context.Context, db, offset int, value float32) error {
	return ic.write(ctx, OpWriteFloat32, DBAddress(db, offset, ValueFloat32), EncodeFloat32(value))
}

func (ic *InlineClient) read(ctx context.Context, op OperationType, addr Address) ([]byte, error) {
	if err := ic.check(ctx, string(op)); err != nil {
		return nil, err
	}
	if err := addr.Validate(); err != nil {
		return nil, withOp(string(op), err)
	}

	m := &ic.srv.mem
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, code := m.region(addr.Area, addr.DBNumber, addr.Offset, addr.Length)
	if code != dataItemSuccess {
		return nil, withOp(string(op), dataItemErr(code))
	}
	if addr.Kind == ValueBit {
		if GetBit(mem[0], addr.Bit) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	return append([]byte(nil), mem...), nil
}

func (ic *InlineClient) write(ctx context.Context, op OperationType, addr Address, data []byte) error {
	if err := ic.check(ctx, string(op)); err != nil {
		return err
	}
	if err := addr.Validate(); err != nil {
		return withOp(string(op), err)
	}

	m := &ic.srv.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, code := m.region(addr.Area, addr.DBNumber, addr.Offset, addr.Length)
	if code != dataItemSuccess {
		return withOp(string(op), dataItemErr(code))
	}
	if addr.Kind == ValueBit {
		mem[0] = SetBit(mem[0], addr.Bit, data[0] != 0)
		return nil
	}
	copy(mem, data)
	return nil
}

func (ic *InlineClient) check(ctx context.Context, op string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return contextError(op, ctx)
		}
	}
	if ic.srv.IsClosed() {
		return &Error{Kind: KindNotConnected, Op: op, Detail: "simulator closed"}
	}
	return nil
}
