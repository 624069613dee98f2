package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
	"github.com/imrishuroy/go-storefront-stock/internal/dynamotest"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	sets    int
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string][]byte{}
	}
	c.entries[key] = value
	c.sets++
	return nil
}

func newTestAdvisor(t *testing.T, opts ...AdvisorOption) (*Advisor, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New()
	fake.AddTable(listingsTable, "id")
	return NewAdvisor(docstore.New(fake), listingsTable, opts...), fake
}

func TestEvaluateLowStock(t *testing.T) {
	tests := []struct {
		name       string
		listing    Listing
		threshold  int
		wantLow    bool
		wantTotal  int
		wantLevels []StockLevel
		warnings   int
	}{
		{
			name:      "simple healthy",
			listing:   Listing{ID: "a", Quantity: 10},
			threshold: 5,
			wantTotal: 10,
		},
		{
			name:      "simple at threshold",
			listing:   Listing{ID: "a", Quantity: 5},
			threshold: 5,
			wantLow:   true,
			wantTotal: 5,
			warnings:  1,
		},
		{
			name:      "simple out of stock",
			listing:   Listing{ID: "a", Quantity: 0},
			threshold: 0,
			wantLow:   true,
			warnings:  1,
		},
		{
			name: "variations mixed",
			listing: Listing{ID: "b", HasVariations: true, Quantity: 13, Variations: []Variation{
				{ID: "v1", Name: "S", Quantity: 0},
				{ID: "v2", Name: "M", Quantity: 3},
				{ID: "v3", Name: "L", Quantity: 10},
			}},
			threshold:  3,
			wantLow:    true,
			wantTotal:  13,
			wantLevels: []StockLevel{LevelOutOfStock, LevelLowStock},
			warnings:   2,
		},
		{
			name: "variations healthy",
			listing: Listing{ID: "c", HasVariations: true, Quantity: 20, Variations: []Variation{
				{ID: "v1", Quantity: 10}, {ID: "v2", Quantity: 10},
			}},
			threshold: 5,
			wantTotal: 20,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateLowStock(tc.listing, tc.threshold)
			assert.Equal(t, tc.wantLow, got.HasLowStock)
			assert.Equal(t, tc.wantTotal, got.TotalStock)
			assert.Len(t, got.Warnings, tc.warnings)
			var levels []StockLevel
			for _, w := range got.VariationWarnings {
				levels = append(levels, w.Level)
			}
			assert.Equal(t, tc.wantLevels, levels)
		})
	}
}

func TestEvaluateLowStock_WarningText(t *testing.T) {
	got := EvaluateLowStock(Listing{ID: "a", Quantity: 2}, 5)
	assert.Equal(t, []string{"Only 2 left in stock"}, got.Warnings)

	got = EvaluateLowStock(Listing{ID: "b", HasVariations: true, Variations: []Variation{{ID: "v1", Name: "Red", Quantity: 0}}}, 5)
	assert.Equal(t, []string{`Variation "Red" is out of stock`}, got.Warnings)
}

func TestAdvisor_CheckLowStock(t *testing.T) {
	advisor, fake := newTestAdvisor(t)
	seedListing(t, fake, Listing{ID: "L1", SellerID: "s1", Name: "Mug", Quantity: 2})

	report, err := advisor.CheckLowStock(context.Background(), "L1", 5)
	require.NoError(t, err)
	assert.True(t, report.HasLowStock)
	assert.Equal(t, "Mug", report.Name)

	_, err = advisor.CheckLowStock(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = advisor.CheckLowStock(context.Background(), "L1", -1)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestAdvisor_GetLowStockSummary(t *testing.T) {
	cache := &memoryCache{}
	advisor, fake := newTestAdvisor(t, WithSummaryCache(cache, time.Minute))
	seedListing(t, fake, Listing{ID: "a", SellerID: "s1", Quantity: 1})
	seedListing(t, fake, Listing{ID: "b", SellerID: "s1", Quantity: 50})
	seedListing(t, fake, Listing{ID: "c", SellerID: "s1", HasVariations: true, Quantity: 9, Variations: []Variation{
		{ID: "v1", Quantity: 0}, {ID: "v2", Quantity: 9},
	}})
	seedListing(t, fake, Listing{ID: "d", SellerID: "s2", Quantity: 0})

	summary, err := advisor.GetLowStockSummary(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalLowStockItems)
	ids := []string{summary.LowStockItems[0].ItemID, summary.LowStockItems[1].ItemID}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
	assert.Equal(t, 1, cache.sets)

	queries := fake.Calls["Query"]
	again, err := advisor.GetLowStockSummary(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, summary, again)
	assert.Equal(t, queries, fake.Calls["Query"], "second call served from cache")
}

func TestAdvisor_SummaryCacheErrorFallsBackToStore(t *testing.T) {
	cache := &memoryCache{getErr: errors.New("redis down")}
	advisor, fake := newTestAdvisor(t, WithSummaryCache(cache, time.Minute))
	seedListing(t, fake, Listing{ID: "a", SellerID: "s1", Quantity: 0})

	summary, err := advisor.GetLowStockSummary(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalLowStockItems)
}

func TestAdvisor_SummaryEmptySeller(t *testing.T) {
	advisor, _ := newTestAdvisor(t)

	summary, err := advisor.GetLowStockSummary(context.Background(), "nobody", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalLowStockItems)
	assert.NotNil(t, summary.LowStockItems)
}

func TestAdvisor_SummarySurvivesFirstCallerCancel(t *testing.T) {
	advisor, fake := newTestAdvisor(t)
	fake.SetLatency(50 * time.Millisecond)
	seedListing(t, fake, Listing{ID: "a", SellerID: "s1", Quantity: 0})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := advisor.GetLowStockSummary(first, "s1", 5)
		firstErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	second := make(chan error, 1)
	var summary *LowStockSummary
	go func() {
		var err error
		summary, err = advisor.GetLowStockSummary(context.Background(), "s1", 5)
		second <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	require.NoError(t, <-second)
	assert.Equal(t, 1, summary.TotalLowStockItems)
}
