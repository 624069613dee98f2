package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types carried in Message.EventType.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderRefunded      = "order.refunded"
	EventPaymentCompleted   = "order.payment_completed"
)

const eventVersion = 1

// Producer is stamped on every message published by this service.
const Producer = "storefront-api"

// Message is the envelope delivered to notification transports.
type Message struct {
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	EventVersion  int          `json:"event_version"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Producer      string       `json:"producer"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Order         OrderPayload `json:"order"`
}

// OrderPayload is the order snapshot a notification describes.
type OrderPayload struct {
	OrderID       string `json:"order_id"`
	ItemID        string `json:"item_id,omitempty"`
	VariationID   string `json:"variation_id,omitempty"`
	Quantity      int    `json:"quantity,omitempty"`
	BuyerID       string `json:"buyer_id,omitempty"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NewMessage stamps a fresh event id and timestamp on the payload.
func NewMessage(eventType string, order OrderPayload) Message {
	return Message{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      Producer,
		CorrelationID: order.OrderID,
		Order:         order,
	}
}

func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.EventID, err)
	}
	return b, nil
}

// Decode parses a message body and rejects envelopes without an event id.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.EventID == "" {
		return Message{}, fmt.Errorf("decode message: missing event_id")
	}
	return m, nil
}
