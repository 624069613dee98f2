package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/notify"
)

const eventKeyPrefix = "event:"

var errInFlight = errors.New("event delivery in progress elsewhere")

// Processor consumes order notification messages and hands each event to the
// sink at most once per event id.
type Processor struct {
	idem       *idempotency.Store
	sink       notify.Gateway
	logger     *zap.Logger
	staleAfter time.Duration
	nowFunc    func() time.Time
}

// NewProcessor creates a new worker processor. staleAfter bounds how long an
// IN_PROGRESS claim blocks redelivery before another invocation takes it over.
func NewProcessor(idem *idempotency.Store, sink notify.Gateway, staleAfter time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		idem:       idem,
		sink:       sink,
		logger:     logger,
		staleAfter: staleAfter,
		nowFunc:    time.Now,
	}
}

// Handle receives an SQS batch and reports the records that must be redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Warn("worker error",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	msg, err := notify.Decode([]byte(rec.Body))
	if err != nil {
		// Poison message: retrying will not fix it, so drop it with a log line.
		p.logger.Error("discarding undecodable message",
			zap.String("message_id", rec.MessageId),
			zap.Error(err))
		return nil
	}

	key := eventKeyPrefix + msg.EventID
	claimed, err := p.claim(ctx, key, msg.Order.OrderID)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Info("duplicate event skipped",
			zap.String("event_id", msg.EventID),
			zap.String("order_id", msg.Order.OrderID))
		return nil
	}

	if err := p.sink.Send(ctx, msg); err != nil {
		if markErr := p.idem.MarkFailed(ctx, key, err.Error()); markErr != nil {
			p.logger.Warn("mark event failed", zap.String("event_id", msg.EventID), zap.Error(markErr))
		}
		return fmt.Errorf("deliver event %s: %w", msg.EventID, err)
	}

	if err := p.idem.MarkDone(ctx, key, "", 0); err != nil {
		return fmt.Errorf("mark event %s done: %w", msg.EventID, err)
	}
	p.logger.Info("event delivered",
		zap.String("event_id", msg.EventID),
		zap.String("event_type", msg.EventType),
		zap.String("order_id", msg.Order.OrderID))
	return nil
}

// claim reports whether this invocation should deliver the event.
// DONE events are skipped. FAILED and stale IN_PROGRESS events are taken over
// through a conditional re-claim, so concurrent redeliveries send at most once.
func (p *Processor) claim(ctx context.Context, key, orderID string) (bool, error) {
	created, err := p.idem.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if created {
		return true, nil
	}

	rec, err := p.idem.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read claim %s: %w", key, err)
	}
	if rec == nil {
		// expired between the put and the read
		return false, fmt.Errorf("claim %s vanished", key)
	}

	switch rec.Status {
	case idempotency.StatusDone:
		return false, nil
	case idempotency.StatusFailed:
		return p.reclaim(ctx, key, *rec)
	case idempotency.StatusInProgress:
		if p.nowFunc().Sub(rec.UpdatedAt) >= p.staleAfter {
			return p.reclaim(ctx, key, *rec)
		}
		return false, fmt.Errorf("%s: %w", key, errInFlight)
	default:
		return false, fmt.Errorf("unexpected claim status %q for %s", rec.Status, key)
	}
}

func (p *Processor) reclaim(ctx context.Context, key string, seen idempotency.IdempotencyRecord) (bool, error) {
	won, err := p.idem.Reclaim(ctx, key, seen)
	if err != nil {
		return false, fmt.Errorf("reclaim %s: %w", key, err)
	}
	if !won {
		// another invocation moved the claim first; redeliver and look again
		return false, fmt.Errorf("%s: %w", key, errInFlight)
	}
	return true, nil
}
