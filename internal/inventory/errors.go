package inventory

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
)

var (
	// ErrNotFound means the listing or the variation does not exist.
	ErrNotFound = errors.New("listing or variation not found")
	// ErrInsufficientStock means the requested quantity exceeds current stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransient means the ledger could not commit within its retry bound.
	ErrTransient = docstore.ErrTransient
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrVariationRequired is returned when a listing with variations is addressed without one.
	ErrVariationRequired = errors.New("listing has variations: variation id required")
)

// InsufficientStockError carries the numbers behind ErrInsufficientStock.
type InsufficientStockError struct {
	ItemID      string
	VariationID string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	if e.VariationID != "" {
		return fmt.Sprintf("insufficient stock for %s/%s: requested %d, only %d left", e.ItemID, e.VariationID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, only %d left", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
