package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
)

// ListingsCollection returns the listings table keyed by id.
func ListingsCollection(table string) docstore.Collection {
	return docstore.Collection{Table: table, Key: "id"}
}

// Ledger is the only code path that mutates listing stock. Every mutation is a
// read-check-write inside a docstore transaction, so concurrent reductions on the
// same listing serialize and stock never goes negative.
type Ledger struct {
	store    *docstore.Store
	listings docstore.Collection
	metrics  aws.Counter
	logger   *zap.Logger
	nowFunc  func() time.Time
}

// NewLedger creates a Ledger over the listings table.
func NewLedger(store *docstore.Store, listingsTable string, metrics aws.Counter, logger *zap.Logger) *Ledger {
	if metrics == nil {
		metrics = aws.NopCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		listings: ListingsCollection(listingsTable),
		metrics:  metrics,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Reduce atomically removes quantity units from the listing, or from one of its
// variations when variationID is set and the listing has variations.
func (l *Ledger) Reduce(ctx context.Context, itemID string, quantity int, variationID string) (*StockChange, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	change, err := l.apply(ctx, itemID, -quantity, variationID)
	if err != nil {
		l.recordFailure(ctx, "reduce", itemID, variationID, quantity, err)
		return nil, err
	}
	l.metrics.Incr(ctx, "StockReduced", map[string]string{"item_id": itemID})
	l.logger.Info("stock reduced",
		zap.String("item_id", itemID),
		zap.String("variation_id", change.VariationID),
		zap.Int("quantity", quantity),
		zap.Int("stock", change.After))
	return change, nil
}

// Restore atomically adds quantity units back. Callers restore at most once per
// successful Reduce, so no upper bound is enforced.
func (l *Ledger) Restore(ctx context.Context, itemID string, quantity int, variationID string) (*StockChange, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	change, err := l.apply(ctx, itemID, quantity, variationID)
	if err != nil {
		l.recordFailure(ctx, "restore", itemID, variationID, quantity, err)
		return nil, err
	}
	l.metrics.Incr(ctx, "StockRestored", map[string]string{"item_id": itemID})
	l.logger.Info("stock restored",
		zap.String("item_id", itemID),
		zap.String("variation_id", change.VariationID),
		zap.Int("quantity", quantity),
		zap.Int("stock", change.After))
	return change, nil
}

// CheckAvailability is a plain read, not a reservation. Reduce re-validates on its own.
func (l *Ledger) CheckAvailability(ctx context.Context, itemID string, quantity int, variationID string) (*Availability, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	var listing Listing
	if err := l.store.Get(ctx, l.listings, itemID, &listing); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("listing %s: %w", itemID, ErrNotFound)
		}
		return nil, err
	}

	if listing.HasVariations && variationID == "" {
		return nil, fmt.Errorf("listing %s: %w", itemID, ErrVariationRequired)
	}
	stock := listing.Quantity
	if listing.usesVariation(variationID) {
		i, ok := listing.variation(variationID)
		if !ok {
			return nil, fmt.Errorf("variation %s of listing %s: %w", variationID, itemID, ErrNotFound)
		}
		stock = listing.Variations[i].Quantity
	}
	return &Availability{Available: stock >= quantity, CurrentStock: stock}, nil
}

func (l *Ledger) apply(ctx context.Context, itemID string, delta int, variationID string) (*StockChange, error) {
	var change StockChange
	err := l.store.RunTransaction(ctx, func(ctx context.Context, txn *docstore.Txn) error {
		var listing Listing
		if err := txn.Get(ctx, l.listings, itemID, &listing); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("listing %s: %w", itemID, ErrNotFound)
			}
			return err
		}

		change = StockChange{ItemID: itemID, Delta: delta}
		fields := map[string]any{"updated_at": l.nowFunc().UTC()}

		switch {
		case listing.usesVariation(variationID):
			i, ok := listing.variation(variationID)
			if !ok {
				return fmt.Errorf("variation %s of listing %s: %w", variationID, itemID, ErrNotFound)
			}
			v := &listing.Variations[i]
			if v.Quantity+delta < 0 {
				return &InsufficientStockError{ItemID: itemID, VariationID: variationID, Requested: -delta, Available: v.Quantity}
			}
			change.VariationID = variationID
			change.Before = v.Quantity
			v.Quantity += delta
			change.After = v.Quantity
			listing.recomputeQuantity()
			fields["variations"] = listing.Variations
		case listing.HasVariations:
			return fmt.Errorf("listing %s: %w", itemID, ErrVariationRequired)
		default:
			if variationID != "" {
				l.logger.Warn("variation id ignored for listing without variations",
					zap.String("item_id", itemID), zap.String("variation_id", variationID))
			}
			if listing.Quantity+delta < 0 {
				return &InsufficientStockError{ItemID: itemID, Requested: -delta, Available: listing.Quantity}
			}
			change.Before = listing.Quantity
			listing.Quantity += delta
			change.After = listing.Quantity
		}

		fields["quantity"] = listing.Quantity
		change.ListingQuantity = listing.Quantity
		return txn.Update(l.listings, itemID, fields)
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (l *Ledger) recordFailure(ctx context.Context, op, itemID, variationID string, quantity int, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("item_id", itemID),
		zap.String("variation_id", variationID),
		zap.Int("quantity", quantity),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrInsufficientStock):
		l.metrics.Incr(ctx, "InsufficientStock", map[string]string{"item_id": itemID})
		l.logger.Info("stock change rejected", fields...)
	case errors.Is(err, ErrTransient):
		l.metrics.Incr(ctx, "LedgerTransientFailure", map[string]string{"item_id": itemID})
		l.logger.Warn("stock change gave up after retries", fields...)
	case errors.Is(err, ErrNotFound):
		l.logger.Warn("stock change on missing listing", fields...)
	default:
		l.logger.Error("stock change failed", fields...)
	}
}
