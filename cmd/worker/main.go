package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
	"github.com/imrishuroy/go-storefront-stock/internal/config"
	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/logging"
	"github.com/imrishuroy/go-storefront-stock/internal/notify"
)

func newSink(cfg *config.Config, logger *zap.Logger) (notify.Gateway, func() error) {
	if cfg.WorkerSink == config.TransportKafka {
		gw := notify.NewKafkaGateway(cfg.KafkaBrokers, cfg.KafkaTopic)
		return gw, gw.Close
	}
	return notify.NewLogGateway(logger), func() error { return nil }
}

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWS())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	sink, closeSink := newSink(cfg, logger)
	defer func() { _ = closeSink() }()

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		sink, cfg.WorkerStaleAfter, logger)

	// If RUN_LOCAL=true, process a single simulated SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			msg := notify.NewMessage(notify.EventOrderCreated, notify.OrderPayload{OrderID: "local-order-1"})
			raw, err := msg.Encode()
			if err != nil {
				logger.Fatal("encode local message", zap.Error(err))
			}
			body = string(raw)
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		}
		resp, _ := p.Handle(context.Background(), event)
		if len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler reported failures", zap.Int("failed", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
