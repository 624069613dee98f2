package inventory

import "time"

// Listing is a sellable product document in the listings table.
// When HasVariations is true, Quantity is the sum of every variation's quantity
// and is rewritten by the ledger on each mutation.
type Listing struct {
	ID            string      `dynamodbav:"id" json:"id"`
	SellerID      string      `dynamodbav:"seller_id" json:"seller_id"`
	Name          string      `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Quantity      int         `dynamodbav:"quantity" json:"quantity"`
	HasVariations bool        `dynamodbav:"has_variations" json:"has_variations"`
	Variations    []Variation `dynamodbav:"variations,omitempty" json:"variations,omitempty"`
	Version       int64       `dynamodbav:"version" json:"-"`
	UpdatedAt     time.Time   `dynamodbav:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Variation is a named sub-SKU of a listing with its own stock count.
type Variation struct {
	ID          string  `dynamodbav:"id" json:"id"`
	Name        string  `dynamodbav:"name" json:"name"`
	PriceChange float64 `dynamodbav:"price_change" json:"price_change"`
	Quantity    int     `dynamodbav:"quantity" json:"quantity"`
}

// usesVariation reports whether a mutation addresses a variation rather than the plain quantity.
func (l *Listing) usesVariation(variationID string) bool {
	return variationID != "" && l.HasVariations
}

func (l *Listing) variation(id string) (int, bool) {
	for i := range l.Variations {
		if l.Variations[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (l *Listing) recomputeQuantity() {
	total := 0
	for _, v := range l.Variations {
		total += v.Quantity
	}
	l.Quantity = total
}

// StockChange describes one committed ledger mutation.
type StockChange struct {
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id,omitempty"`
	Delta       int    `json:"delta"`
	// Before and After are the stock of the addressed variation, or of the listing.
	Before int `json:"before"`
	After  int `json:"after"`
	// ListingQuantity is the listing's aggregate quantity after the change.
	ListingQuantity int `json:"listing_quantity"`
}

// Availability is the best-effort answer of CheckAvailability.
type Availability struct {
	Available    bool `json:"available"`
	CurrentStock int  `json:"current_stock"`
}
