package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
)

var (
	// ErrQueueFull means the message was dropped because every worker is busy.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed means the dispatcher no longer accepts messages.
	ErrClosed = errors.New("notification dispatcher closed")
)

// Dispatcher hands messages to a Gateway from a fixed worker pool. Notify never
// blocks the caller.
type Dispatcher struct {
	gateway Gateway
	queue   chan Message
	workers int
	timeout time.Duration
	metrics aws.Counter
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// pending counts messages queued or being sent; idle is closed while it is zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.queue = make(chan Message, n)
		}
	}
}

// WithSendTimeout bounds each Gateway.Send call.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

func WithMetrics(m aws.Counter) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher starts the worker pool immediately.
func NewDispatcher(gateway Gateway, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gateway: gateway,
		queue:   make(chan Message, 1024),
		workers: 4,
		timeout: 5 * time.Second,
		metrics: aws.NopCounter{},
		logger:  zap.NewNop(),
		idle:    make(chan struct{}),
	}
	close(d.idle)
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Notify enqueues msg for delivery.
func (d *Dispatcher) Notify(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.track(1)
	select {
	case d.queue <- msg:
		return nil
	default:
		d.track(-1)
		d.metrics.Incr(ctx, "NotificationDropped", map[string]string{"event_type": msg.EventType})
		d.logger.Warn("notification dropped",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", msg.EventType),
			zap.String("order_id", msg.Order.OrderID))
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be delivered,
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every accepted message has been handed to the gateway, or
// ctx expires. Unlike Close the dispatcher keeps accepting messages. The Lambda
// entry point calls it before each invocation returns.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.pendingMu.Lock()
	idle := d.idle
	d.pendingMu.Unlock()
	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) track(delta int) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == 0 && delta > 0 {
		d.idle = make(chan struct{})
	}
	d.pending += delta
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	defer d.track(-1)
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.gateway.Send(ctx, msg); err != nil {
		d.logger.Warn("notification failed",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", msg.EventType),
			zap.String("order_id", msg.Order.OrderID),
			zap.Error(err))
		return
	}
	d.logger.Debug("notification sent",
		zap.String("event_id", msg.EventID),
		zap.String("event_type", msg.EventType))
}
