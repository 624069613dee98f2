package aws

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Counter records a named event. Implementations must be safe for concurrent use.
type Counter interface {
	Incr(ctx context.Context, name string, dims map[string]string)
}

// NopCounter discards every event.
type NopCounter struct{}

func (NopCounter) Incr(context.Context, string, map[string]string) {}

// Recorder is a Counter whose buffered data can be pushed out on demand.
type Recorder interface {
	Counter
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

func (NopCounter) Flush(context.Context) error { return nil }
func (NopCounter) Close(context.Context) error { return nil }

const (
	// PutMetricData accepts at most this many data points per request.
	maxDataPerRequest    = 1000
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Metrics buffers counters in memory and publishes them to CloudWatch in
// batches from a background goroutine, so Incr never waits on the network.
// Publishing is best-effort: failures are logged and the batch is dropped.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger
	nowFunc   func() time.Time
	batchSize int
	interval  time.Duration

	mu  sync.Mutex
	buf []cwtypes.MetricDatum

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type MetricsOption func(*Metrics)

// WithBatchSize sets how many buffered data points wake the publisher early.
func WithBatchSize(n int) MetricsOption {
	return func(m *Metrics) {
		if n > 0 {
			m.batchSize = min(n, maxDataPerRequest)
		}
	}
}

// WithFlushInterval sets how often the publisher drains the buffer.
func WithFlushInterval(d time.Duration) MetricsOption {
	return func(m *Metrics) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMetrics returns a CloudWatch backed Recorder, or NopCounter when namespace is empty.
func NewMetrics(client CloudWatchAPI, namespace string, logger *zap.Logger, opts ...MetricsOption) Recorder {
	if namespace == "" || client == nil {
		return NopCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Incr buffers one data point.
func (m *Metrics) Incr(_ context.Context, name string, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: awsString(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      float64Ptr(1),
		Timestamp:  timePtr(m.nowFunc()),
	}
	for k, v := range dims {
		if v == "" {
			continue
		}
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
	}

	m.mu.Lock()
	m.buf = append(m.buf, datum)
	full := len(m.buf) >= m.batchSize
	m.mu.Unlock()

	if full {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// Flush publishes everything buffered so far.
func (m *Metrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	data := m.buf
	m.buf = nil
	m.mu.Unlock()

	var firstErr error
	for len(data) > 0 {
		n := min(len(data), maxDataPerRequest)
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  awsString(m.namespace),
			MetricData: data[:n],
		})
		if err != nil {
			m.logger.Warn("put metric data", zap.Int("data_points", n), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		data = data[n:]
	}
	return firstErr
}

// Close stops the publisher after a final flush.
func (m *Metrics) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Flush(ctx)
}

func (m *Metrics) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-m.kick:
		case <-m.stop:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		_ = m.Flush(ctx)
		cancel()
	}
}

func float64Ptr(f float64) *float64  { return &f }
func timePtr(t time.Time) *time.Time { return &t }
