package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
)

// SellerIndex is the listings GSI keyed by seller_id.
const SellerIndex = "seller_id-index"

// ErrInvalidThreshold is returned for negative thresholds.
var ErrInvalidThreshold = errors.New("threshold must not be negative")

// StockLevel classifies a quantity against a threshold.
type StockLevel string

const (
	LevelOutOfStock StockLevel = "out_of_stock"
	LevelLowStock   StockLevel = "low_stock"
)

type VariationWarning struct {
	VariationID string     `json:"variation_id"`
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	Level       StockLevel `json:"level"`
}

// LowStockReport is the advisory result for one listing.
type LowStockReport struct {
	ItemID            string             `json:"item_id"`
	Name              string             `json:"name,omitempty"`
	HasLowStock       bool               `json:"has_low_stock"`
	Warnings          []string           `json:"warnings"`
	TotalStock        int                `json:"total_stock"`
	VariationWarnings []VariationWarning `json:"variation_warnings,omitempty"`
}

type LowStockSummary struct {
	SellerID           string           `json:"seller_id"`
	Threshold          int              `json:"threshold"`
	LowStockItems      []LowStockReport `json:"low_stock_items"`
	TotalLowStockItems int              `json:"total_low_stock_items"`
}

// SummaryCache stores encoded seller summaries. Get reports a miss with ok=false.
type SummaryCache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EvaluateLowStock classifies a listing snapshot. Zero stock is out of stock,
// anything up to and including threshold is low.
func EvaluateLowStock(l Listing, threshold int) LowStockReport {
	report := LowStockReport{ItemID: l.ID, Name: l.Name, Warnings: []string{}}

	if l.HasVariations && len(l.Variations) > 0 {
		for _, v := range l.Variations {
			report.TotalStock += v.Quantity
			level, ok := classify(v.Quantity, threshold)
			if !ok {
				continue
			}
			report.HasLowStock = true
			report.VariationWarnings = append(report.VariationWarnings, VariationWarning{
				VariationID: v.ID, Name: v.Name, Quantity: v.Quantity, Level: level,
			})
			label := v.Name
			if label == "" {
				label = v.ID
			}
			if level == LevelOutOfStock {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Variation %q is out of stock", label))
			} else {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Variation %q is low on stock (%d left)", label, v.Quantity))
			}
		}
		return report
	}

	report.TotalStock = l.Quantity
	if level, ok := classify(l.Quantity, threshold); ok {
		report.HasLowStock = true
		if level == LevelOutOfStock {
			report.Warnings = append(report.Warnings, "Listing is out of stock")
		} else {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Only %d left in stock", l.Quantity))
		}
	}
	return report
}

func classify(quantity, threshold int) (StockLevel, bool) {
	switch {
	case quantity <= 0:
		return LevelOutOfStock, true
	case quantity <= threshold:
		return LevelLowStock, true
	default:
		return "", false
	}
}

// Advisor produces read-only low stock signals. It never mutates listings.
type Advisor struct {
	store       *docstore.Store
	listings    docstore.Collection
	sellerIndex string
	cache       SummaryCache
	cacheTTL    time.Duration
	group       singleflight.Group
	scanTimeout time.Duration
	logger      *zap.Logger
}

const defaultScanTimeout = 10 * time.Second

type AdvisorOption func(*Advisor)

// WithSummaryCache caches seller summaries for ttl.
func WithSummaryCache(cache SummaryCache, ttl time.Duration) AdvisorOption {
	return func(a *Advisor) {
		a.cache = cache
		a.cacheTTL = ttl
	}
}

// WithScanTimeout bounds a shared seller scan, which outlives any single caller.
func WithScanTimeout(d time.Duration) AdvisorOption {
	return func(a *Advisor) {
		if d > 0 {
			a.scanTimeout = d
		}
	}
}

func WithAdvisorLogger(l *zap.Logger) AdvisorOption {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAdvisor(store *docstore.Store, listingsTable string, opts ...AdvisorOption) *Advisor {
	a := &Advisor{
		store:       store,
		listings:    ListingsCollection(listingsTable),
		sellerIndex: SellerIndex,
		scanTimeout: defaultScanTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckLowStock reads a listing snapshot and evaluates it.
func (a *Advisor) CheckLowStock(ctx context.Context, itemID string, threshold int) (*LowStockReport, error) {
	if threshold < 0 {
		return nil, ErrInvalidThreshold
	}
	var l Listing
	if err := a.store.Get(ctx, a.listings, itemID, &l); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("listing %s: %w", itemID, ErrNotFound)
		}
		return nil, err
	}
	report := EvaluateLowStock(l, threshold)
	return &report, nil
}

// GetLowStockSummary evaluates every listing of a seller and keeps the ones
// with low or zero stock. Concurrent identical requests share one scan.
func (a *Advisor) GetLowStockSummary(ctx context.Context, sellerID string, threshold int) (*LowStockSummary, error) {
	if threshold < 0 {
		return nil, ErrInvalidThreshold
	}
	key := "lowstock:" + sellerID + ":" + strconv.Itoa(threshold)

	if cached, ok := a.cached(ctx, key); ok {
		return cached, nil
	}

	// The scan is shared by every waiter, so it must not die with the first caller.
	ch := a.group.DoChan(key, func() (any, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.scanTimeout)
		defer cancel()
		summary, err := a.scan(scanCtx, sellerID, threshold)
		if err != nil {
			return nil, err
		}
		a.remember(scanCtx, key, summary)
		return summary, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	summary := *res.Val.(*LowStockSummary)
	summary.LowStockItems = append([]LowStockReport(nil), summary.LowStockItems...)
	return &summary, nil
}

func (a *Advisor) scan(ctx context.Context, sellerID string, threshold int) (*LowStockSummary, error) {
	var listings []Listing
	err := a.store.Query(ctx, docstore.Query{
		Collection: a.listings,
		Index:      a.sellerIndex,
		KeyAttr:    "seller_id",
		Value:      sellerID,
	}, &listings)
	if err != nil {
		return nil, fmt.Errorf("list listings of seller %s: %w", sellerID, err)
	}

	summary := &LowStockSummary{SellerID: sellerID, Threshold: threshold, LowStockItems: []LowStockReport{}}
	for _, l := range listings {
		if report := EvaluateLowStock(l, threshold); report.HasLowStock {
			summary.LowStockItems = append(summary.LowStockItems, report)
		}
	}
	summary.TotalLowStockItems = len(summary.LowStockItems)
	a.logger.Debug("low stock summary computed",
		zap.String("seller_id", sellerID),
		zap.Int("listings", len(listings)),
		zap.Int("low_stock_items", summary.TotalLowStockItems))
	return summary, nil
}

func (a *Advisor) cached(ctx context.Context, key string) (*LowStockSummary, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.Warn("summary cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var summary LowStockSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		a.logger.Warn("summary cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &summary, true
}

func (a *Advisor) remember(ctx context.Context, key string, summary *LowStockSummary) {
	if a.cache == nil || a.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, raw, a.cacheTTL); err != nil {
		a.logger.Warn("summary cache write failed", zap.String("key", key), zap.Error(err))
	}
}
