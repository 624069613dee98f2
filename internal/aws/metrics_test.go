package aws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
}

func (r *recordingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestNewMetrics_EmptyNamespaceIsNop(t *testing.T) {
	_, ok := NewMetrics(&recordingCloudWatch{}, "", nil).(NopCounter)
	assert.True(t, ok)
}

func (r *recordingCloudWatch) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func TestMetrics_IncrBuffersUntilFlush(t *testing.T) {
	cw := &recordingCloudWatch{}
	m := NewMetrics(cw, "storefront/stock", nil, WithFlushInterval(time.Hour))
	defer func() { _ = m.Close(context.Background()) }()

	m.Incr(context.Background(), "StockReduced", map[string]string{"item_id": "L1", "variation_id": ""})
	m.Incr(context.Background(), "StockRestored", nil)
	assert.Zero(t, cw.calls(), "Incr must not call CloudWatch")

	require.NoError(t, m.Flush(context.Background()))
	require.Equal(t, 1, cw.calls())
	in := cw.inputs[0]
	assert.Equal(t, "storefront/stock", *in.Namespace)
	require.Len(t, in.MetricData, 2)
	assert.Equal(t, "StockReduced", *in.MetricData[0].MetricName)
	assert.Equal(t, 1.0, *in.MetricData[0].Value)
	require.Len(t, in.MetricData[0].Dimensions, 1)
	assert.Equal(t, "item_id", *in.MetricData[0].Dimensions[0].Name)

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, 1, cw.calls(), "empty buffer sends nothing")
}

func TestMetrics_FullBatchPublishesInBackground(t *testing.T) {
	cw := &recordingCloudWatch{}
	m := NewMetrics(cw, "ns", nil, WithBatchSize(3), WithFlushInterval(time.Hour))
	defer func() { _ = m.Close(context.Background()) }()

	for i := 0; i < 3; i++ {
		m.Incr(context.Background(), "OrderCreated", nil)
	}
	assert.Eventually(t, func() bool { return cw.calls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMetrics_CloseFlushesRemainder(t *testing.T) {
	cw := &recordingCloudWatch{}
	m := NewMetrics(cw, "ns", nil, WithFlushInterval(time.Hour))

	m.Incr(context.Background(), "OrderCancelled", nil)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 1, cw.calls())
}

type recordingSQS struct {
	in *sqs.SendMessageInput
}

func (r *recordingSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.in = in
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisher_SendSkipsEmptyAttributes(t *testing.T) {
	q := &recordingSQS{}
	p := NewPublisher(q, "https://sqs.local/queue")

	err := p.Send(context.Background(), `{"order_id":"o1"}`, map[string]string{"order_id": "o1", "correlation_id": ""})
	require.NoError(t, err)

	require.NotNil(t, q.in)
	assert.Equal(t, "https://sqs.local/queue", *q.in.QueueUrl)
	assert.Equal(t, `{"order_id":"o1"}`, *q.in.MessageBody)
	assert.Len(t, q.in.MessageAttributes, 1)
	assert.Equal(t, "o1", *q.in.MessageAttributes["order_id"].StringValue)
}
