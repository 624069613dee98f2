package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
	"github.com/imrishuroy/go-storefront-stock/internal/config"
	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
	"github.com/imrishuroy/go-storefront-stock/internal/handlers"
	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/inventory"
	"github.com/imrishuroy/go-storefront-stock/internal/logging"
	"github.com/imrishuroy/go-storefront-stock/internal/notify"
	"github.com/imrishuroy/go-storefront-stock/internal/orders"
	"github.com/imrishuroy/go-storefront-stock/internal/redisx"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.Logger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterInventoryRoutes(r, cfg)

	return r
}

// newGateway picks the notification transport named by NOTIFY_TRANSPORT.
func newGateway(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (notify.Gateway, func() error) {
	switch cfg.NotifyTransport {
	case config.TransportSQS:
		return notify.NewSQSGateway(aws.NewPublisher(clients.SQS, cfg.NotifyQueueURL)), func() error { return nil }
	case config.TransportKafka:
		gw := notify.NewKafkaGateway(cfg.KafkaBrokers, cfg.KafkaTopic)
		return gw, gw.Close
	default:
		return notify.NewLogGateway(logger), func() error { return nil }
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWS())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	// no-op when METRICS_NAMESPACE is empty
	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace, logger)

	docs := docstore.New(clients.DynamoDB,
		docstore.WithMaxAttempts(cfg.LedgerMaxAttempts),
		docstore.WithMaxBackoff(cfg.LedgerMaxBackoff),
		docstore.WithLogger(logger))
	ledger := inventory.NewLedger(docs, cfg.ListingsTable, metrics, logger)

	advisorOpts := []inventory.AdvisorOption{inventory.WithAdvisorLogger(logger)}
	if cfg.RedisAddr != "" {
		cache := redisx.NewSummaryCache(redisx.New(cfg.RedisAddr))
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, low stock summaries will not be cached", zap.Error(err))
		} else {
			advisorOpts = append(advisorOpts, inventory.WithSummaryCache(cache, cfg.LowStockCacheTTL))
		}
	}
	advisor := inventory.NewAdvisor(docs, cfg.ListingsTable, advisorOpts...)

	gateway, closeGateway := newGateway(cfg, clients, logger)
	dispatcher := notify.NewDispatcher(gateway,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithBuffer(cfg.NotifyBuffer),
		notify.WithSendTimeout(cfg.NotifyTimeout),
		notify.WithMetrics(metrics),
		notify.WithLogger(logger))

	lifecycle := orders.NewLifecycle(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		ledger,
		orders.WithIdempotency(idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)),
		orders.WithNotifier(dispatcher),
		orders.WithMetrics(metrics),
		orders.WithLogger(logger),
	)

	r := setupRouter(handlers.HandlerConfig{
		Lifecycle:         lifecycle,
		Ledger:            ledger,
		Advisor:           advisor,
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            logger,
	})

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		serveLocal(cfg.HTTPAddr, r, logger, func(ctx context.Context) {
			if err := dispatcher.Close(ctx); err != nil {
				logger.Warn("notification queue not drained", zap.Error(err))
			}
			if err := closeGateway(); err != nil {
				logger.Warn("close notification gateway", zap.Error(err))
			}
			if err := metrics.Close(ctx); err != nil {
				logger.Warn("flush metrics", zap.Error(err))
			}
		})
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// The runtime freezes background goroutines once the handler returns.
		flushBeforeReturn(ctx, cfg.NotifyTimeout, logger, dispatcher, metrics)
		return resp, err
	})
}

type flusher interface {
	Flush(ctx context.Context) error
}

// flushBeforeReturn drains queued notifications and buffered metrics, bounded
// by timeout and by the invocation deadline.
func flushBeforeReturn(ctx context.Context, timeout time.Duration, logger *zap.Logger, fs ...flusher) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, f := range fs {
		if err := f.Flush(ctx); err != nil {
			logger.Warn("flush at end of invocation", zap.Error(err))
		}
	}
}

func serveLocal(addr string, h http.Handler, logger *zap.Logger, drain func(context.Context)) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("running local server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("local server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	drain(shutdownCtx)
	logger.Info("server stopped")
}
