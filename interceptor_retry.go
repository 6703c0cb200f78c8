package s7

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryableError reports whether retrying the same request could succeed.
// Invalid arguments and caller cancellation never are.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindInvalidArgument, KindUnknown:
		return false
	}
	return true
}

// RetryInterceptor creates an interceptor that retries failed operations
// It will retry up to maxRetries times with the specified delay between attempts.
// Context errors (Canceled, DeadlineExceeded) are not retried.
//
// The client never reconnects by itself, so after a fatal error every retry
// fails fast with KindNotConnected unless something else reconnects it in
// between.
//
// Example:
//
//	// Retry up to 3 times with 100ms delay
//	client.SetInterceptor(s7.RetryInterceptor(logger, 3, 100*time.Millisecond))
func RetryInterceptor(logger *zap.Logger, maxRetries int, delay time.Duration) Interceptor {
	return retry(logger, maxRetries, func(int) time.Duration { return delay }, RetryableError)
}

// RetryInterceptorWithBackoff creates a retry interceptor with exponential backoff
// The delay is doubled after each retry, up to a maximum delay.
//
// Example:
//
//	// Retry with exponential backoff: 100ms, 200ms, 400ms, max 1s
//	client.SetInterceptor(s7.RetryInterceptorWithBackoff(logger, 3, 100*time.Millisecond, time.Second))
func RetryInterceptorWithBackoff(logger *zap.Logger, maxRetries int, initialDelay, maxDelay time.Duration) Interceptor {
	return retry(logger, maxRetries, func(attempt int) time.Duration {
		d := initialDelay
		for i := 0; i < attempt && d < maxDelay; i++ {
			d *= 2
		}
		return min(d, maxDelay)
	}, RetryableError)
}

// RetryInterceptorConditional creates a retry interceptor that only retries certain errors
// The shouldRetry function determines whether an error should be retried.
//
// Example:
//
//	// Only retry timeouts
//	shouldRetry := func(err error) bool {
//		return errors.Is(err, s7.ErrTimeout)
//	}
//	client.SetInterceptor(s7.RetryInterceptorConditional(logger, 3, 100*time.Millisecond, shouldRetry))
func RetryInterceptorConditional(logger *zap.Logger, maxRetries int, delay time.Duration, shouldRetry func(error) bool) Interceptor {
	return retry(logger, maxRetries, func(int) time.Duration { return delay }, shouldRetry)
}

func retry(logger *zap.Logger, maxRetries int, delay func(attempt int) time.Duration, shouldRetry func(error) bool) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("S7")

	return func(c *InterceptorCtx) (interface{}, error) {
		var result interface{}
		var err error
		ctx := c.Context()
		info := c.Info()

		for attempt := 0; attempt <= maxRetries; attempt++ {
			result, err = c.Invoke(ctx)
			if err == nil {
				return result, nil
			}

			// Don't retry on context errors
			if ctx.Err() != nil {
				return nil, err
			}

			if !shouldRetry(err) {
				return result, err
			}

			// Don't retry on last attempt
			if attempt < maxRetries {
				d := delay(attempt)
				logger.Warn("retrying",
					zap.String("operation", string(info.Operation)),
					zap.Int("attempt", attempt+1),
					zap.Int("attempts", maxRetries+1),
					zap.Duration("delay", d),
					zap.Error(err),
				)
				if !sleep(ctx, d) {
					return nil, err
				}
			}
		}

		return result, fmt.Errorf("operation failed after %d attempts: %w", maxRetries+1, err)
	}
}

// sleep waits for d or until ctx ends, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
