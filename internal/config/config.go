package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
)

// Notification transports and worker sinks.
const (
	TransportSQS   = "sqs"
	TransportKafka = "kafka"
	TransportNone  = "none"

	SinkLog = "log"
)

type Config struct {
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"`

	ListingsTable    string        `envconfig:"LISTINGS_TABLE" default:"listings"`
	OrdersTable      string        `envconfig:"ORDERS_TABLE" default:"orders"`
	IdempotencyTable string        `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
	IdempotencyTTL   time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`

	LedgerMaxAttempts int           `envconfig:"LEDGER_MAX_ATTEMPTS" default:"10"`
	LedgerMaxBackoff  time.Duration `envconfig:"LEDGER_MAX_BACKOFF" default:"200ms"`

	NotifyTransport string        `envconfig:"NOTIFY_TRANSPORT" default:"sqs"`
	NotifyQueueURL  string        `envconfig:"NOTIFY_QUEUE_URL"`
	KafkaBrokers    []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic      string        `envconfig:"KAFKA_TOPIC" default:"order.notifications"`
	NotifyWorkers   int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyBuffer    int           `envconfig:"NOTIFY_BUFFER" default:"1024"`
	NotifyTimeout   time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`

	WorkerSink       string        `envconfig:"WORKER_SINK" default:"log"`
	WorkerStaleAfter time.Duration `envconfig:"WORKER_STALE_AFTER" default:"2m"`

	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	LowStockCacheTTL  time.Duration `envconfig:"LOW_STOCK_CACHE_TTL" default:"1m"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr         string `envconfig:"HTTP_ADDR" default:":8080"`
	RunLocal         bool   `envconfig:"RUN_LOCAL"`
}

// Load reads an optional .env file, then the environment, and validates the
// settings the API needs, including the notification transport.
func Load() (*Config, error) {
	return load(func(c *Config) error {
		if err := c.validateNotify(); err != nil {
			return err
		}
		if c.LedgerMaxAttempts < 1 {
			return errors.New("LEDGER_MAX_ATTEMPTS must be at least 1")
		}
		if c.LowStockThreshold < 0 {
			return errors.New("LOW_STOCK_THRESHOLD must not be negative")
		}
		return nil
	})
}

// LoadWorker is Load for the notification worker, which never publishes: only
// the worker sink is validated.
func LoadWorker() (*Config, error) {
	return load((*Config).validateSink)
}

// AWS returns the settings for the shared AWS clients.
func (c *Config) AWS() aws.Settings {
	return aws.Settings{Region: c.AWSRegion, Endpoint: c.EndpointOverride}
}

func load(validate func(*Config) error) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validateNotify() error {
	c.NotifyTransport = strings.ToLower(c.NotifyTransport)
	switch c.NotifyTransport {
	case TransportSQS:
		if c.NotifyQueueURL == "" {
			return errors.New("NOTIFY_QUEUE_URL is required when NOTIFY_TRANSPORT=sqs")
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when NOTIFY_TRANSPORT=kafka")
		}
	case TransportNone:
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.NotifyTransport)
	}
	return nil
}

func (c *Config) validateSink() error {
	c.WorkerSink = strings.ToLower(c.WorkerSink)
	switch c.WorkerSink {
	case SinkLog:
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when WORKER_SINK=kafka")
		}
	default:
		return fmt.Errorf("unknown WORKER_SINK %q", c.WorkerSink)
	}
	return nil
}
