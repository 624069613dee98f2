package orders

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusMismatch is returned when a conditional status update lost to a concurrent change.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrInvalidTransition is returned for status changes the transition table does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidPaymentStatus is returned for unknown payment statuses.
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	// ErrDuplicateRequest means the idempotency key was already used.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrOrderExists means an order with the same id is already stored.
	ErrOrderExists = errors.New("order already exists")
	// ErrCompensationFailure means stock was reduced, the order was not stored
	// and the stock could not be given back.
	ErrCompensationFailure = errors.New("compensation failed: stock reduced without order")
)

// DuplicateRequestError carries the record of the request that used the key first.
type DuplicateRequestError struct {
	Key    string
	Record *idempotency.IdempotencyRecord
}

func (e *DuplicateRequestError) Error() string {
	if e.Record != nil && e.Record.OrderID != "" {
		return fmt.Sprintf("duplicate request %s: order %s", e.Key, e.Record.OrderID)
	}
	return fmt.Sprintf("duplicate request %s", e.Key)
}

func (e *DuplicateRequestError) Is(target error) bool { return target == ErrDuplicateRequest }

// CompensationError reports a ledger discrepancy that needs manual reconciliation.
type CompensationError struct {
	OrderID     string
	ItemID      string
	VariationID string
	Quantity    int
	PersistErr  error
	RestoreErr  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("order %s not stored (%v) and %d unit(s) of %s not restored: %v",
		e.OrderID, e.PersistErr, e.Quantity, e.ItemID, e.RestoreErr)
}

func (e *CompensationError) Is(target error) bool { return target == ErrCompensationFailure }

func (e *CompensationError) Unwrap() []error { return []error{e.PersistErr, e.RestoreErr} }
