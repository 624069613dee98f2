package orders

import "time"

// Order statuses
const (
	StatusPending         = "PENDING"
	StatusPendingPayment  = "PENDING_PAYMENT"
	StatusConfirmed       = "CONFIRMED"
	StatusShipped         = "SHIPPED"
	StatusDelivered       = "DELIVERED"
	StatusCancelled       = "CANCELLED"
	StatusRefunded        = "REFUNDED"
	StatusReceived        = "RECEIVED"
	StatusRefundRequested = "REFUND_REQUESTED"
)

// Payment methods
const (
	PaymentCard           = "CARD"
	PaymentBankTransfer   = "BANK_TRANSFER"
	PaymentWallet         = "WALLET"
	PaymentCashOnDelivery = "CASH_ON_DELIVERY"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// PaymentRefIndex is the orders GSI keyed by payment_ref.
const PaymentRefIndex = "payment_ref-index"

// Order represents the item stored in the Orders DynamoDB table.
// Quantity is the exact amount reduced from the listing when the order was created.
type Order struct {
	OrderID       string     `dynamodbav:"order_id" json:"order_id"` // PK
	ItemID        string     `dynamodbav:"item_id,omitempty" json:"item_id,omitempty"`
	VariationID   string     `dynamodbav:"variation_id,omitempty" json:"variation_id,omitempty"`
	SellerID      string     `dynamodbav:"seller_id,omitempty" json:"seller_id,omitempty"`
	BuyerID       string     `dynamodbav:"buyer_id,omitempty" json:"buyer_id,omitempty"`
	Quantity      int        `dynamodbav:"quantity" json:"quantity"`
	UnitPrice     float64    `dynamodbav:"unit_price" json:"unit_price"`
	TotalAmount   float64    `dynamodbav:"total_amount" json:"total_amount"`
	Status        string     `dynamodbav:"status" json:"status"`
	PaymentMethod string     `dynamodbav:"payment_method,omitempty" json:"payment_method,omitempty"`
	PaymentStatus string     `dynamodbav:"payment_status,omitempty" json:"payment_status,omitempty"`
	PaymentRef    string     `dynamodbav:"payment_ref,omitempty" json:"payment_ref,omitempty"` // GSI, omitted when unset
	CancelReason  string     `dynamodbav:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`
	CancelledAt   *time.Time `dynamodbav:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// Draft is the caller's input to CreateOrder.
type Draft struct {
	ItemID        string
	VariationID   string
	SellerID      string
	BuyerID       string
	Quantity      int
	UnitPrice     float64
	TotalAmount   float64
	PaymentMethod string
	PaymentRef    string
	// IdempotencyKey, when set, is committed in the same transaction as the order.
	IdempotencyKey string
}

// Receipt is the response body stored for idempotent replays.
type Receipt struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// InitialStatus is PENDING_PAYMENT for deferred payment methods, PENDING otherwise.
func InitialStatus(paymentMethod string) string {
	if IsDeferredPayment(paymentMethod) {
		return StatusPendingPayment
	}
	return StatusPending
}

// IsDeferredPayment reports whether payment completes after the order is placed.
func IsDeferredPayment(paymentMethod string) bool {
	return paymentMethod == PaymentBankTransfer
}

// IsTerminal reports whether stock for the order has already been given back.
func IsTerminal(status string) bool {
	return status == StatusCancelled || status == StatusRefunded
}

// transitions lists forward moves handled by UpdateOrderStatus. Cancellation and
// refund are allowed from every non-terminal status and are not listed here.
var transitions = map[string][]string{
	StatusPending:         {StatusConfirmed},
	StatusPendingPayment:  {StatusConfirmed},
	StatusConfirmed:       {StatusShipped},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusReceived, StatusRefundRequested},
	StatusReceived:        {StatusRefundRequested},
	StatusRefundRequested: {},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	if IsTerminal(to) {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	if IsTerminal(s) {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}
