package validation

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	ItemID        string  `json:"item_id" validate:"required"`
	VariationID   string  `json:"variation_id,omitempty"`
	SellerID      string  `json:"seller_id,omitempty"`
	BuyerID       string  `json:"buyer_id" validate:"required"`
	Quantity      int     `json:"quantity" validate:"required,min=1"`
	UnitPrice     float64 `json:"unit_price" validate:"gte=0"`
	TotalAmount   float64 `json:"total_amount" validate:"gte=0"` // total the client claims
	PaymentMethod string  `json:"payment_method" validate:"required,oneof=CARD BANK_TRANSFER WALLET CASH_ON_DELIVERY"`
	PaymentRef    string  `json:"payment_ref,omitempty" validate:"omitempty,max=128"`
}

// ReasonRequest is the optional payload for cancel and refund.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// UpdateStatusRequest is the payload for PATCH /orders/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CONFIRMED SHIPPED DELIVERED RECEIVED REFUND_REQUESTED CANCELLED REFUNDED"`
}

// PaymentNotificationRequest is the payment gateway callback payload.
type PaymentNotificationRequest struct {
	ExternalRef   string `json:"external_ref" validate:"required"`
	PaymentStatus string `json:"payment_status" validate:"required,oneof=PENDING COMPLETED FAILED REFUNDED"`
}

// AvailabilityQuery is the query string of GET /listings/:id/availability
type AvailabilityQuery struct {
	Quantity    int    `form:"quantity" validate:"required,min=1"`
	VariationID string `form:"variation_id"`
}

// LowStockQuery is the query string of the low stock endpoints. A nil
// Threshold means the configured default.
type LowStockQuery struct {
	Threshold *int `form:"threshold" validate:"omitempty,min=0,max=100000"`
}
