package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/inventory"
	"github.com/imrishuroy/go-storefront-stock/internal/notify"
)

// StockLedger is the part of inventory.Ledger the lifecycle drives.
type StockLedger interface {
	Reduce(ctx context.Context, itemID string, quantity int, variationID string) (*inventory.StockChange, error)
	Restore(ctx context.Context, itemID string, quantity int, variationID string) (*inventory.StockChange, error)
}

// Notifier accepts notifications without blocking. *notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// maxClaimAttempts bounds how often a terminal move is retried when the order
// status changes between the read and the conditional write.
const maxClaimAttempts = 3

// Lifecycle sequences stock mutation with order persistence so the two never diverge.
type Lifecycle struct {
	store    *Store
	ledger   StockLedger
	idem     *idempotency.Store
	notifier Notifier
	metrics  aws.Counter
	logger   *zap.Logger
	nowFunc  func() time.Time
	newID    func() string
}

type Option func(*Lifecycle)

// WithIdempotency commits Draft.IdempotencyKey together with the order.
func WithIdempotency(s *idempotency.Store) Option {
	return func(l *Lifecycle) { l.idem = s }
}

func WithNotifier(n Notifier) Option {
	return func(l *Lifecycle) {
		if n != nil {
			l.notifier = n
		}
	}
}

func WithMetrics(m aws.Counter) Option {
	return func(l *Lifecycle) {
		if m != nil {
			l.metrics = m
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLifecycle(store *Store, ledger StockLedger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:    store,
		ledger:   ledger,
		notifier: nopNotifier{},
		metrics:  aws.NopCounter{},
		logger:   zap.NewNop(),
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateOrder reserves stock, then persists the order. If persistence fails the
// reservation is given back; if that also fails a *CompensationError is returned.
func (l *Lifecycle) CreateOrder(ctx context.Context, d Draft) (*Order, error) {
	idempotent := d.IdempotencyKey != "" && l.idem != nil
	if idempotent {
		rec, err := l.idem.Get(ctx, d.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if rec != nil {
			return nil, &DuplicateRequestError{Key: d.IdempotencyKey, Record: rec}
		}
	}

	reserves := d.ItemID != "" && d.Quantity != 0
	if reserves {
		if _, err := l.ledger.Reduce(ctx, d.ItemID, d.Quantity, d.VariationID); err != nil {
			return nil, fmt.Errorf("reserve stock: %w", err)
		}
	}

	now := l.nowFunc().UTC()
	o := Order{
		OrderID:       l.newID(),
		ItemID:        d.ItemID,
		VariationID:   d.VariationID,
		SellerID:      d.SellerID,
		BuyerID:       d.BuyerID,
		Quantity:      d.Quantity,
		UnitPrice:     d.UnitPrice,
		TotalAmount:   d.TotalAmount,
		Status:        InitialStatus(d.PaymentMethod),
		PaymentMethod: d.PaymentMethod,
		PaymentStatus: PaymentStatusPending,
		PaymentRef:    d.PaymentRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var err error
	if idempotent {
		err = l.persistIdempotent(ctx, d.IdempotencyKey, o)
	} else {
		err = l.store.Create(ctx, o)
	}
	if err != nil {
		if reserves {
			if cerr := l.compensate(ctx, o, err); cerr != nil {
				return nil, cerr
			}
		}
		if errors.Is(err, ErrDuplicateRequest) {
			return nil, l.duplicate(ctx, d.IdempotencyKey)
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	l.metrics.Incr(ctx, "OrderCreated", map[string]string{"status": o.Status})
	l.logger.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("item_id", o.ItemID),
		zap.String("variation_id", o.VariationID),
		zap.Int("quantity", o.Quantity),
		zap.String("status", o.Status))
	l.notify(ctx, notify.EventOrderCreated, o)
	return &o, nil
}

func (l *Lifecycle) persistIdempotent(ctx context.Context, key string, o Order) error {
	body, err := json.Marshal(Receipt{OrderID: o.OrderID, Status: o.Status})
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	rec := l.idem.NewRecord(key, o.OrderID, string(body), http.StatusCreated)
	return l.store.CreateWithIdempotencyTransaction(ctx, l.idem.Table(), rec, o)
}

// compensate gives back the stock reserved for an order that was never stored.
// It runs even if ctx was cancelled, since the reservation already committed.
func (l *Lifecycle) compensate(ctx context.Context, o Order, persistErr error) error {
	ctx = context.WithoutCancel(ctx)
	if _, err := l.ledger.Restore(ctx, o.ItemID, o.Quantity, o.VariationID); err != nil {
		l.metrics.Incr(ctx, "CompensationFailure", map[string]string{"item_id": o.ItemID})
		l.logger.Error("order not stored and stock not restored",
			zap.String("order_id", o.OrderID),
			zap.String("item_id", o.ItemID),
			zap.String("variation_id", o.VariationID),
			zap.Int("quantity", o.Quantity),
			zap.Bool("ledger_discrepancy", true),
			zap.NamedError("persist_error", persistErr),
			zap.Error(err))
		return &CompensationError{
			OrderID:     o.OrderID,
			ItemID:      o.ItemID,
			VariationID: o.VariationID,
			Quantity:    o.Quantity,
			PersistErr:  persistErr,
			RestoreErr:  err,
		}
	}
	l.logger.Warn("order not stored, stock restored",
		zap.String("order_id", o.OrderID),
		zap.String("item_id", o.ItemID),
		zap.Int("quantity", o.Quantity),
		zap.Error(persistErr))
	return nil
}

func (l *Lifecycle) duplicate(ctx context.Context, key string) error {
	rec, err := l.idem.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency lookup: %w", err)
	}
	return &DuplicateRequestError{Key: key, Record: rec}
}

// GetOrder returns ErrOrderNotFound for unknown ids.
func (l *Lifecycle) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := l.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return o, nil
}

// CancelOrder moves the order to CANCELLED and restores its stock exactly once.
// Cancelling an order that is already CANCELLED or REFUNDED is a no-op.
func (l *Lifecycle) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.terminate(ctx, orderID, StatusCancelled, reason)
}

// RefundOrder is CancelOrder with REFUNDED as the terminal status.
func (l *Lifecycle) RefundOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	return l.terminate(ctx, orderID, StatusRefunded, reason)
}

func (l *Lifecycle) terminate(ctx context.Context, orderID, target, reason string) (*Order, error) {
	for attempt := 1; ; attempt++ {
		o, err := l.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if IsTerminal(o.Status) {
			l.logger.Info("order already terminal",
				zap.String("order_id", orderID),
				zap.String("status", o.Status))
			return o, nil
		}

		at, err := l.store.MarkTerminal(ctx, orderID, o.Status, target, reason)
		if errors.Is(err, ErrStatusMismatch) && attempt < maxClaimAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mark order %s %s: %w", orderID, target, err)
		}

		o.Status = target
		o.CancelReason = reason
		o.CancelledAt = &at
		o.UpdatedAt = at
		l.restore(ctx, o)

		l.metrics.Incr(ctx, "OrderCancelled", map[string]string{"status": target})
		l.logger.Info("order terminated",
			zap.String("order_id", orderID),
			zap.String("status", target),
			zap.String("reason", reason))
		event := notify.EventOrderCancelled
		if target == StatusRefunded {
			event = notify.EventOrderRefunded
		}
		l.notify(ctx, event, *o)
		return o, nil
	}
}

// restore gives back an order's stock after its terminal status is recorded.
// Failures are left for reconciliation and do not undo the status change.
func (l *Lifecycle) restore(ctx context.Context, o *Order) {
	if o.ItemID == "" || o.Quantity <= 0 {
		return
	}
	if _, err := l.ledger.Restore(context.WithoutCancel(ctx), o.ItemID, o.Quantity, o.VariationID); err != nil {
		l.metrics.Incr(ctx, "CancelRestoreFailed", map[string]string{"item_id": o.ItemID})
		l.logger.Warn("stock not restored for terminated order",
			zap.String("order_id", o.OrderID),
			zap.String("item_id", o.ItemID),
			zap.String("variation_id", o.VariationID),
			zap.Int("quantity", o.Quantity),
			zap.String("status", o.Status),
			zap.Bool("reconcile", true),
			zap.Error(err))
	}
}

// UpdateOrderStatus applies a forward status change. CANCELLED and REFUNDED are
// routed through CancelOrder and RefundOrder so stock is restored.
func (l *Lifecycle) UpdateOrderStatus(ctx context.Context, orderID, status string) (*Order, error) {
	switch {
	case status == StatusCancelled:
		return l.CancelOrder(ctx, orderID, "")
	case status == StatusRefunded:
		return l.RefundOrder(ctx, orderID, "")
	case !ValidStatus(status):
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidTransition)
	}

	o, err := l.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == status {
		return o, nil
	}
	if !CanTransition(o.Status, status) {
		return nil, fmt.Errorf("%s -> %s: %w", o.Status, status, ErrInvalidTransition)
	}
	if err := l.store.UpdateStatus(ctx, orderID, o.Status, status); err != nil {
		return nil, err
	}

	l.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", o.Status),
		zap.String("status", status))
	o.Status = status
	o.UpdatedAt = l.nowFunc().UTC()
	l.notify(ctx, notify.EventOrderStatusChanged, *o)
	return o, nil
}

// UpdateOrderPaymentStatus records a payment gateway callback. Stock is untouched.
// A notification goes out only when a deferred payment completes.
func (l *Lifecycle) UpdateOrderPaymentStatus(ctx context.Context, paymentRef, paymentStatus string) (*Order, error) {
	if !ValidPaymentStatus(paymentStatus) {
		return nil, fmt.Errorf("%q: %w", paymentStatus, ErrInvalidPaymentStatus)
	}
	o, err := l.store.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("payment ref %s: %w", paymentRef, ErrOrderNotFound)
	}
	if o.PaymentStatus == paymentStatus {
		return o, nil
	}
	if err := l.store.UpdatePaymentStatus(ctx, o.OrderID, paymentStatus); err != nil {
		return nil, err
	}

	previous := o.PaymentStatus
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = l.nowFunc().UTC()
	l.logger.Info("payment status updated",
		zap.String("order_id", o.OrderID),
		zap.String("from", previous),
		zap.String("payment_status", paymentStatus))

	if paymentStatus == PaymentStatusCompleted && IsDeferredPayment(o.PaymentMethod) {
		l.notify(ctx, notify.EventPaymentCompleted, *o)
	}
	return o, nil
}

func (l *Lifecycle) notify(ctx context.Context, event string, o Order) {
	msg := notify.NewMessage(event, notify.OrderPayload{
		OrderID:       o.OrderID,
		ItemID:        o.ItemID,
		VariationID:   o.VariationID,
		Quantity:      o.Quantity,
		BuyerID:       o.BuyerID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Reason:        o.CancelReason,
	})
	if err := l.notifier.Notify(ctx, msg); err != nil {
		l.logger.Warn("notification not queued",
			zap.String("order_id", o.OrderID),
			zap.String("event_type", event),
			zap.Error(err))
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Message) error { return nil }
