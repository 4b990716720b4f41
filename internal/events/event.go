package events

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventTypeSaleCommitted   EventType = "sale.committed"
	EventTypePaymentResolved EventType = "payment.resolved"
)

// InventoryDelta records one stock movement caused by a committed sale, so
// downstream consumers can mirror inventory without re-deriving it from the
// cart.
type InventoryDelta struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Remaining int   `json:"remaining"`
}

// SaleCommittedEvent is published after a sale transaction commits. It is a
// summary, not the full receipt: consumers that need line detail fetch the
// sale by ID.
type SaleCommittedEvent struct {
	SaleID        int64            `json:"sale_id"`
	TenantID      int64            `json:"tenant_id"`
	ActorID       int64            `json:"actor_id"`
	Total         float64          `json:"total"`
	PaymentMethod string           `json:"payment_method"`
	Deltas        []InventoryDelta `json:"deltas,omitempty"`
	CommittedAt   time.Time        `json:"committed_at"`
}

// PaymentResolvedEvent is published when a payment transaction reaches a
// terminal state, whatever the outcome.
type PaymentResolvedEvent struct {
	CheckoutRequestID string    `json:"checkout_request_id"`
	TenantID          int64     `json:"tenant_id"`
	Status            string    `json:"status"`
	Amount            float64   `json:"amount"`
	ReceiptID         string    `json:"receipt_id,omitempty"`
	SaleID            *int64    `json:"sale_id,omitempty"`
	ResolvedAt        time.Time `json:"resolved_at"`
}

// Envelope is the wire format on the event stream.
type Envelope struct {
	Type       EventType       `json:"type"`
	TenantID   int64           `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewEnvelope(eventType EventType, tenantID int64, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:       eventType,
		TenantID:   tenantID,
		Payload:    raw,
		OccurredAt: time.Now(),
	}, nil
}
