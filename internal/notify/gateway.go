package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
)

// Gateway delivers one notification message. Implementations may block; callers
// on the order path go through a Dispatcher instead.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// SQSGateway publishes messages to an SQS queue consumed by cmd/worker.
type SQSGateway struct {
	publisher *aws.Publisher
}

func NewSQSGateway(publisher *aws.Publisher) *SQSGateway {
	return &SQSGateway{publisher: publisher}
}

func (g *SQSGateway) Send(ctx context.Context, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	attrs := map[string]string{
		"event_id":   msg.EventID,
		"event_type": msg.EventType,
		"order_id":   msg.Order.OrderID,
	}
	if err := g.publisher.Send(ctx, string(body), attrs); err != nil {
		return fmt.Errorf("sqs notify %s: %w", msg.EventID, err)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer the gateway needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway publishes messages to a topic keyed by order id, so events of one
// order stay on one partition.
type KafkaGateway struct {
	writer MessageWriter
}

// NewKafkaGateway creates a synchronous writer. The Dispatcher provides the asynchrony.
func NewKafkaGateway(brokers []string, topic string) *KafkaGateway {
	return &KafkaGateway{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func NewKafkaGatewayWithWriter(w MessageWriter) *KafkaGateway {
	return &KafkaGateway{writer: w}
}

func (g *KafkaGateway) Send(ctx context.Context, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	err = g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Order.OrderID),
		Value: body,
		Time:  msg.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-id", Value: []byte(msg.EventID)},
			{Key: "x-event-type", Value: []byte(msg.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(msg.EventVersion))},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka notify %s: %w", msg.EventID, err)
	}
	return nil
}

func (g *KafkaGateway) Close() error { return g.writer.Close() }

// LogGateway writes messages to the logger. Used when no transport is configured
// and as the worker's default sender.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, msg Message) error {
	g.logger.Info("notification",
		zap.String("event_id", msg.EventID),
		zap.String("event_type", msg.EventType),
		zap.String("order_id", msg.Order.OrderID),
		zap.String("status", msg.Order.Status),
		zap.String("payment_status", msg.Order.PaymentStatus))
	return nil
}
