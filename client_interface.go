package s7

import "context"

// Interceptor/plugin hooks.
type ClientHooks interface {
	SetInterceptor(interceptor Interceptor)
	Use(plugins ...Plugin) error
}

// Lifecycle controls.
type ClientLifecycle interface {
	Connect(ctx context.Context, ip string, rack, slot int) (ConnectionInfo, error)
	Disconnect()
	Status() Status
	IsClosed() bool
	Close() error
}

// Read operations.
type ClientReader interface {
	ReadBytes(ctx context.Context, db, start, length int) ([]byte, error)
	ReadBit(ctx context.Context, db, offset, bit int) (bool, error)
	ReadInt16(ctx context.Context, db, offset int) (int16, error)
	ReadUint16(ctx context.Context, db, offset int) (uint16, error)
	ReadInt32(ctx context.Context, db, offset int) (int32, error)
	ReadFloat32(ctx context.Context, db, offset int) (float32, error)
	ReadArea(ctx context.Context, addr Address) ([]byte, error)
}

// Write operations.
type ClientWriter interface {
	WriteBytes(ctx context.Context, db, start int, data []byte) error
	WriteBit(ctx context.Context, db, offset, bit int, value bool) error
	WriteInt16(ctx context.Context, db, offset int, value int16) error
	WriteUint16(ctx context.Context, db, offset int, value uint16) error
	WriteInt32(ctx context.Context, db, offset int, value int32) error
	WriteFloat32(ctx context.Context, db, offset int, value float32) error
	WriteArea(ctx context.Context, addr Address, data []byte) error
}

// PLCClient defines the public contract of Client for easier testing/mocking.
type PLCClient interface {
	ClientHooks
	ClientLifecycle
	ClientReader
	ClientWriter
}

// Ensure Client implements the interface.
var _ PLCClient = (*Client)(nil)
