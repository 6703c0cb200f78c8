package s7

import (
	"time"

	"go.uber.org/zap"
)

// LoggingInterceptor creates an interceptor that logs all operations
// It logs operation start, end, duration, and any errors
//
// Example:
//
//	logger, _ := zap.NewProduction()
//	client.SetInterceptor(s7.LoggingInterceptor(logger))
//
// Output:
//
//	INFO	S7	starting	{"operation": "ReadInt16", "address": "DB1.DBW4"}
//	INFO	S7	completed	{"operation": "ReadInt16", "duration": "1.2ms"}
func LoggingInterceptor(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("S7")

	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		start := time.Now()

		logger.Info("starting",
			zap.String("operation", string(info.Operation)),
			zap.Stringer("address", info.Address),
		)

		result, err := c.Invoke(nil)

		duration := time.Since(start)
		if err != nil {
			logger.Error("failed",
				zap.String("operation", string(info.Operation)),
				zap.Stringer("address", info.Address),
				zap.Stringer("kind", KindOf(err)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			logger.Info("completed",
				zap.String("operation", string(info.Operation)),
				zap.Duration("duration", duration),
			)
		}

		return result, err
	}
}

// TracingInterceptor logs the trace ID stored in the request context under
// traceIDKey, if any, before running the operation.
//
// Example:
//
//	client.SetInterceptor(s7.TracingInterceptor(logger, traceKey{}))
//	ctx := context.WithValue(ctx, traceKey{}, "trace-12345")
//	client.ReadInt16(ctx, 1, 0)
func TracingInterceptor(logger *zap.Logger, traceIDKey interface{}) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("S7")

	return func(c *InterceptorCtx) (interface{}, error) {
		if traceID := c.Context().Value(traceIDKey); traceID != nil {
			info := c.Info()
			logger.Debug("trace",
				zap.Any("trace_id", traceID),
				zap.String("operation", string(info.Operation)),
				zap.Stringer("address", info.Address),
			)
		}
		return c.Invoke(nil)
	}
}
