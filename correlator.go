package s7

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DEFAULT_QUEUE_SIZE = 64

type result struct {
	value interface{}
	err   error
}

// request is one queued operation. It is resolved exactly once.
type request struct {
	op     OperationType
	ctx    context.Context // caller's; used for its deadline and to detect abandonment
	run    func(ctx context.Context) (interface{}, error)
	result chan result
	once   sync.Once
}

func (r *request) resolve(v interface{}, err error) {
	r.once.Do(func() {
		r.result <- result{value: v, err: err}
	})
}

// correlator runs every exchange of one session on a single worker goroutine,
// so request and response frames never interleave on the wire.
type correlator struct {
	sess    *session
	logger  *zap.Logger
	timeout time.Duration
	queue   chan *request

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newCorrelator(sess *session, logger *zap.Logger, timeout time.Duration, queueSize int) *correlator {
	if timeout <= 0 {
		timeout = DEFAULT_REQUEST_TIMEOUT
	}
	if queueSize <= 0 {
		queueSize = DEFAULT_QUEUE_SIZE
	}
	return &correlator{
		sess:    sess,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan *request, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *correlator) start() {
	go c.run()
}

func (c *correlator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.drain()
			return
		case req := <-c.queue:
			c.execute(req)
		}
	}
}

// drain fails everything still queued once the worker is stopping.
func (c *correlator) drain() {
	for {
		select {
		case req := <-c.queue:
			req.resolve(nil, notConnected(string(req.op)))
		default:
			return
		}
	}
}

func (c *correlator) execute(req *request) {
	op := string(req.op)
	if req.ctx.Err() != nil {
		// Caller gave up while the request was queued.
		req.resolve(nil, contextError(op, req.ctx))
		return
	}
	if c.sess.State() != StateConnected {
		req.resolve(nil, notConnected(op))
		return
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := req.ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	// The exchange must not be cut short by the caller cancelling; only the
	// deadline bounds it.
	ctx, cancel := context.WithDeadline(context.WithoutCancel(req.ctx), deadline)
	v, err := req.run(ctx)
	cancel()

	if err != nil {
		err = withOp(op, err)
		if KindOf(err).fatal() {
			c.sess.fail(err)
		} else {
			c.logger.Debug("request rejected", zap.String("operation", op), zap.Error(err))
		}
	}
	req.resolve(v, err)
}

// submit queues run and waits for its result. If ctx ends first the caller
// stops waiting; an exchange already on the wire still completes and its
// result is dropped.
func (c *correlator) submit(ctx context.Context, op OperationType, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	req := &request{
		op:     op,
		ctx:    ctx,
		run:    run,
		result: make(chan result, 1),
	}

	select {
	case c.queue <- req:
	case <-c.quit:
		return nil, notConnected(string(op))
	case <-ctx.Done():
		return nil, contextError(string(op), ctx)
	}

	select {
	case res := <-req.result:
		return res.value, res.err
	case <-ctx.Done():
		select {
		case res := <-req.result:
			return res.value, res.err
		default:
			return nil, contextError(string(op), ctx)
		}
	case <-c.done:
		select {
		case res := <-req.result:
			return res.value, res.err
		default:
			return nil, notConnected(string(op))
		}
	}
}

// shutdown asks the worker to stop without waiting. Safe to call from the worker.
func (c *correlator) shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// stop shuts the worker down and waits up to timeout for an in-flight
// exchange to finish.
func (c *correlator) stop(timeout time.Duration) error {
	c.shutdown()
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errorf(KindTimeout, "worker still busy after %v", timeout)
	}
}
