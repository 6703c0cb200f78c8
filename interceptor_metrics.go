package s7

import (
	"sync"
	"time"
)

// OperationStats summarises the calls recorded for one operation.
type OperationStats struct {
	Count       int64
	Errors      int64
	Timeouts    int64
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// MetricsCollector collects operation metrics including counts, errors, and durations
// It is safe for concurrent use.
//
// Example:
//
//	metrics := s7.NewMetricsCollector()
//	client.SetInterceptor(metrics.Interceptor())
//
//	// Perform operations...
//	client.ReadInt16(ctx, 1, 0)
//
//	stats := metrics.GetStats(s7.OpReadInt16)
//	logger.Info("ReadInt16", zap.Int64("calls", stats.Count), zap.Duration("avg", stats.AvgDuration))
type MetricsCollector struct {
	mu    sync.RWMutex
	ops   map[OperationType]*opMetrics
	kinds map[ErrorKind]int64
}

type opMetrics struct {
	count    int64
	errors   int64
	timeouts int64
	total    time.Duration
	max      time.Duration
}

func (m *opMetrics) stats() OperationStats {
	s := OperationStats{
		Count:       m.count,
		Errors:      m.errors,
		Timeouts:    m.timeouts,
		MaxDuration: m.max,
	}
	if m.count > 0 {
		s.AvgDuration = m.total / time.Duration(m.count)
	}
	return s
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		ops:   make(map[OperationType]*opMetrics),
		kinds: make(map[ErrorKind]int64),
	}
}

// Interceptor returns an interceptor that collects metrics
func (m *MetricsCollector) Interceptor() Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		start := time.Now()

		result, err := c.Invoke(nil)

		m.record(c.Info().Operation, time.Since(start), err)
		return result, err
	}
}

func (m *MetricsCollector) record(op OperationType, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	om, ok := m.ops[op]
	if !ok {
		om = &opMetrics{}
		m.ops[op] = om
	}
	om.count++
	om.total += d
	om.max = max(om.max, d)
	if err != nil {
		om.errors++
		kind := KindOf(err)
		if kind == KindTimeout {
			om.timeouts++
		}
		m.kinds[kind]++
	}
}

// GetStats returns statistics for a specific operation
func (m *MetricsCollector) GetStats(op OperationType) OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if om, ok := m.ops[op]; ok {
		return om.stats()
	}
	return OperationStats{}
}

// GetAllStats returns statistics for all operations
func (m *MetricsCollector) GetAllStats() map[OperationType]OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[OperationType]OperationStats, len(m.ops))
	for op, om := range m.ops {
		stats[op] = om.stats()
	}
	return stats
}

// ErrorsByKind returns how many failed calls fell into each error kind.
func (m *MetricsCollector) ErrorsByKind() map[ErrorKind]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ErrorKind]int64, len(m.kinds))
	for k, n := range m.kinds {
		out[k] = n
	}
	return out
}

// Reset clears all collected metrics
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = make(map[OperationType]*opMetrics)
	m.kinds = make(map[ErrorKind]int64)
}
