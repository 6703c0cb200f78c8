package s7

import "context"

// NopClient implements PLCClient with no-op behavior.
// Useful for tests or placeholders where a real PLC connection is not required.
// Reads return zero values.
type NopClient struct{}

func (NopClient) SetInterceptor(Interceptor) {}
func (NopClient) Use(...Plugin) error        { return nil }
func (NopClient) Connect(context.Context, string, int, int) (ConnectionInfo, error) {
	return ConnectionInfo{}, nil
}
func (NopClient) Disconnect()    {}
func (NopClient) Status() Status { return Status{State: StateDisconnected} }
func (NopClient) IsClosed() bool { return false }
func (NopClient) Close() error   { return nil }
func (NopClient) ReadBytes(_ context.Context, _, _, length int) ([]byte, error) {
	return make([]byte, max(length, 0)), nil
}
func (NopClient) ReadBit(context.Context, int, int, int) (bool, error)   { return false, nil }
func (NopClient) ReadInt16(context.Context, int, int) (int16, error)     { return 0, nil }
func (NopClient) ReadUint16(context.Context, int, int) (uint16, error)   { return 0, nil }
func (NopClient) ReadInt32(context.Context, int, int) (int32, error)     { return 0, nil }
func (NopClient) ReadFloat32(context.Context, int, int) (float32, error) { return 0, nil }
func (NopClient) ReadArea(_ context.Context, addr Address) ([]byte, error) {
	return make([]byte, max(addr.Length, 0)), nil
}
func (NopClient) WriteBytes(context.Context, int, int, []byte) error    { return nil }
func (NopClient) WriteBit(context.Context, int, int, int, bool) error   { return nil }
func (NopClient) WriteInt16(context.Context, int, int, int16) error     { return nil }
func (NopClient) WriteUint16(context.Context, int, int, uint16) error   { return nil }
func (NopClient) WriteInt32(context.Context, int, int, int32) error     { return nil }
func (NopClient) WriteFloat32(context.Context, int, int, float32) error { return nil }
func (NopClient) WriteArea(context.Context, Address, []byte) error      { return nil }

var _ PLCClient = NopClient{}
