package s7

import "context"

// OperationType names a client operation as seen by interceptors.
type OperationType string

const (
	OpReadBytes    OperationType = "ReadBytes"
	OpWriteBytes   OperationType = "WriteBytes"
	OpReadBit      OperationType = "ReadBit"
	OpWriteBit     OperationType = "WriteBit"
	OpReadInt16    OperationType = "ReadInt16"
	OpWriteInt16   OperationType = "WriteInt16"
	OpReadUint16   OperationType = "ReadUint16"
	OpWriteUint16  OperationType = "WriteUint16"
	OpReadInt32    OperationType = "ReadInt32"
	OpWriteInt32   OperationType = "WriteInt32"
	OpReadFloat32  OperationType = "ReadFloat32"
	OpWriteFloat32 OperationType = "WriteFloat32"
	OpReadArea     OperationType = "ReadArea"
	OpWriteArea    OperationType = "WriteArea"
)

// IsWrite reports whether the operation modifies PLC memory.
func (op OperationType) IsWrite() bool {
	switch op {
	case OpWriteBytes, OpWriteBit, OpWriteInt16, OpWriteUint16, OpWriteInt32, OpWriteFloat32, OpWriteArea:
		return true
	}
	return false
}

// InterceptorInfo contains information about the operation being performed
type InterceptorInfo struct {
	Operation OperationType
	Address   Address
	Data      interface{} // value being written; nil for reads
}

// Invoker is a function that executes the actual operation
type Invoker func(ctx context.Context) (interface{}, error)

// InterceptorCtx is handed to an Interceptor. Invoke runs the next
// interceptor in the chain, or the operation itself.
type InterceptorCtx struct {
	ctx     context.Context
	info    *InterceptorInfo
	invoker Invoker
}

// Info describes the operation.
func (c *InterceptorCtx) Info() *InterceptorInfo { return c.info }

// Context returns the caller's context.
func (c *InterceptorCtx) Context() context.Context { return c.ctx }

// Invoke continues the call. A nil ctx reuses the caller's context.
func (c *InterceptorCtx) Invoke(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = c.ctx
	}
	return c.invoker(ctx)
}

// Interceptor can intercept and wrap client operations.
// It may:
//   - Log the operation
//   - Measure timing/metrics
//   - Modify the context passed to Invoke
//   - Short-circuit the operation by not calling Invoke
//
// The value returned must have the type the operation returns ([]byte, bool,
// int16, uint16, int32, float32, or nil for writes).
//
// Example:
//
//	func audit(c *s7.InterceptorCtx) (interface{}, error) {
//	    start := time.Now()
//	    res, err := c.Invoke(nil)
//	    log.Printf("%s %s took %v, err: %v", c.Info().Operation, c.Info().Address, time.Since(start), err)
//	    return res, err
//	}
type Interceptor func(c *InterceptorCtx) (interface{}, error)

// ChainInterceptors chains multiple interceptors into a single interceptor
// Interceptors are executed in order: first interceptor wraps second, second wraps third, etc.
func ChainInterceptors(interceptors ...Interceptor) Interceptor {
	if len(interceptors) == 0 {
		return nil
	}

	if len(interceptors) == 1 {
		return interceptors[0]
	}

	return func(c *InterceptorCtx) (interface{}, error) {
		next := ChainInterceptors(interceptors[1:]...)
		return interceptors[0](&InterceptorCtx{
			ctx:  c.ctx,
			info: c.info,
			invoker: func(ctx context.Context) (interface{}, error) {
				return next(&InterceptorCtx{ctx: ctx, info: c.info, invoker: c.invoker})
			},
		})
	}
}
