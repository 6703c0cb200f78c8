package s7

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetricsInterceptor(t *testing.T) {
	metrics := NewMetricsCollector()
	info := &InterceptorInfo{Operation: OpReadFloat32}

	// Successful call
	_, err := metrics.Interceptor()(&InterceptorCtx{
		ctx:  context.Background(),
		info: info,
		invoker: func(context.Context) (interface{}, error) {
			time.Sleep(time.Millisecond)
			return float32(1), nil
		},
	})
	assert.NoError(t, err)

	// Failing call
	_, err = metrics.Interceptor()(&InterceptorCtx{
		ctx:  context.Background(),
		info: info,
		invoker: func(context.Context) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	assert.Error(t, err)

	stats := metrics.GetStats(OpReadFloat32)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Greater(t, stats.AvgDuration, time.Duration(0))
	assert.Equal(t, int64(1), metrics.ErrorsByKind()[KindUnknown])

	all := metrics.GetAllStats()
	assert.Contains(t, all, OpReadFloat32)
	metrics.Reset()
	stats = metrics.GetStats(OpReadFloat32)
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, int64(0), stats.Errors)
}

func TestRetryInterceptorsMisc(t *testing.T) {
	ctx := context.Background()
	info := &InterceptorInfo{Operation: OpWriteUint16}
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	attempts := 0
	invoker := func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, newError(KindIO, "send", fmt.Sprintf("fail %d", attempts), nil)
		}
		return nil, nil
	}

	start := time.Now()
	res, err := RetryInterceptor(logger, 3, time.Millisecond)(&InterceptorCtx{ctx: ctx, info: info, invoker: invoker})
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
	assert.Equal(t, 2, logs.FilterMessage("retrying").Len())

	// Conditional retry should stop when predicate returns false.
	attempts = 0
	res, err = RetryInterceptorConditional(logger, 2, time.Millisecond, func(error) bool { return false })(
		&InterceptorCtx{ctx: ctx, info: info, invoker: invoker},
	)
	assert.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, attempts)

	// Backoff caps at maxDelay; ensure we attempted expected retries.
	attempts = 0
	backoffStart := time.Now()
	_, err = RetryInterceptorWithBackoff(logger, 2, time.Millisecond, 2*time.Millisecond)(
		&InterceptorCtx{ctx: ctx, info: info, invoker: invoker},
	)
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(backoffStart), 2*time.Millisecond)

	// A deadline during the delay ends the retries.
	attempts = 0
	shortCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err = RetryInterceptor(logger, 5, time.Second)(&InterceptorCtx{ctx: shortCtx, info: info, invoker: invoker})
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, 1, attempts)
}

func TestRetryableError(t *testing.T) {
	assert.False(t, RetryableError(nil))
	assert.False(t, RetryableError(fmt.Errorf("plain")))
	assert.False(t, RetryableError(invalidArgument("ReadBytes", "bad length")))
	assert.True(t, RetryableError(notConnected("ReadBytes")))
	assert.True(t, RetryableError(newError(KindTimeout, "receive", "", nil)))
	assert.True(t, RetryableError(dataItemErr(dataItemHardwareFault)))
}

func TestValidationInterceptors(t *testing.T) {
	validate := ValidationInterceptor()
	ok := func(context.Context) (interface{}, error) { return nil, nil }

	// Valid read
	_, err := validate(&InterceptorCtx{
		ctx:     context.Background(),
		info:    &InterceptorInfo{Operation: OpReadBytes, Address: DBRangeAddress(1, 0, 4096)},
		invoker: ok,
	})
	assert.NoError(t, err)

	// Read over the default limit
	_, err = validate(&InterceptorCtx{
		ctx:     context.Background(),
		info:    &InterceptorInfo{Operation: OpReadBytes, Address: DBRangeAddress(1, 0, 4097)},
		invoker: ok,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Invalid write data type
	_, err = validate(&InterceptorCtx{
		ctx:     context.Background(),
		info:    &InterceptorInfo{Operation: OpWriteArea, Address: DBRangeAddress(1, 0, 2), Data: []uint16{1}},
		invoker: ok,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Bit writes carry a bool
	_, err = validate(&InterceptorCtx{
		ctx:     context.Background(),
		info:    &InterceptorInfo{Operation: OpWriteBit, Address: DBBitAddress(1, 0, 1), Data: true},
		invoker: ok,
	})
	assert.NoError(t, err)
}

func TestAddressRangeAndReadOnly(t *testing.T) {
	validator := AddressRangeValidator(AddressRange{Area: AreaM, Min: 0, Max: 15})
	ro := ReadOnlyInterceptor()
	ok := func(context.Context) (interface{}, error) { return []byte{0}, nil }

	// Valid range passes.
	mw, err := ParseAddress("MW14")
	require.NoError(t, err)
	_, err = validator(&InterceptorCtx{ctx: context.Background(), info: &InterceptorInfo{Operation: OpReadArea, Address: mw}, invoker: ok})
	assert.NoError(t, err)

	// Last byte outside the range.
	md, err := ParseAddress("MD14")
	require.NoError(t, err)
	_, err = validator(&InterceptorCtx{ctx: context.Background(), info: &InterceptorInfo{Operation: OpReadArea, Address: md}, invoker: ok})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Invalid area
	ib, err := ParseAddress("IB0")
	require.NoError(t, err)
	_, err = validator(&InterceptorCtx{ctx: context.Background(), info: &InterceptorInfo{Operation: OpReadArea, Address: ib}, invoker: ok})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// ReadOnly blocks writes
	_, err = ro(&InterceptorCtx{ctx: context.Background(), info: &InterceptorInfo{Operation: OpWriteArea, Address: mw}, invoker: ok})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// ReadOnly allows reads
	_, err = ro(&InterceptorCtx{ctx: context.Background(), info: &InterceptorInfo{Operation: OpReadArea, Address: mw}, invoker: ok})
	assert.NoError(t, err)
}

type traceKey struct{}

func TestLoggingAndTracingInterceptors(t *testing.T) {
	// Logging interceptor should emit start and completion.
	core, observed := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	info := &InterceptorInfo{Operation: OpReadUint16, Address: DBAddress(1, 42, ValueUint16)}
	invoker := func(context.Context) (interface{}, error) { return uint16(1), nil }

	_, err := LoggingInterceptor(logger)(&InterceptorCtx{ctx: context.Background(), info: info, invoker: invoker})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, observed.Len(), 2) // start + completed

	// Tracing should record the trace ID carried by the context.
	observed.TakeAll()
	_, err = TracingInterceptor(logger, traceKey{})(&InterceptorCtx{
		ctx:     context.WithValue(context.Background(), traceKey{}, "abc-123"),
		info:    info,
		invoker: invoker,
	})
	assert.NoError(t, err)
	traces := observed.FilterMessage("trace").All()
	require.Len(t, traces, 1)
	assert.Equal(t, "abc-123", traces[0].ContextMap()["trace_id"])
	assert.Equal(t, "DB1.DBW42", traces[0].ContextMap()["address"])

	// No trace ID, nothing logged.
	observed.TakeAll()
	_, err = TracingInterceptor(logger, traceKey{})(&InterceptorCtx{ctx: context.Background(), info: info, invoker: invoker})
	assert.NoError(t, err)
	assert.Zero(t, observed.Len())
}

func TestInterceptorsOnLiveClient(t *testing.T) {
	metrics := NewMetricsCollector()
	c, _ := newTestClient(t, nil,
		WithLogger(zaptest.NewLogger(t)),
		WithInterceptor(ChainInterceptors(metrics.Interceptor(), ReadOnlyInterceptor())),
	)
	ctx := context.Background()

	_, err := c.ReadInt16(ctx, 1, 0)
	require.NoError(t, err)
	err = c.WriteInt16(ctx, 1, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, int64(1), metrics.GetStats(OpReadInt16).Count)
	assert.Equal(t, int64(1), metrics.GetStats(OpWriteInt16).Errors)

	// SetInterceptor replaces the chain.
	c.SetInterceptor(nil)
	assert.NoError(t, c.WriteInt16(ctx, 1, 0, 1))
}

func TestSimulatorRejectsBadListenAddress(t *testing.T) {
	_, err := NewPLCSimulator("127.0.0.1:notaport")
	assert.Error(t, err)
}
