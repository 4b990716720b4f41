package model

import (
	"errors"
	"math"
	"time"
)

// PaymentTransactionStatus is the lifecycle state of a mobile-money prompt.
type PaymentTransactionStatus string

const (
	PaymentStatusPending          PaymentTransactionStatus = "pending"
	PaymentStatusSuccess          PaymentTransactionStatus = "success"
	PaymentStatusFailed           PaymentTransactionStatus = "failed"
	PaymentStatusCancelled        PaymentTransactionStatus = "cancelled"
	PaymentStatusTimeout          PaymentTransactionStatus = "timeout"
	PaymentStatusStockUnavailable PaymentTransactionStatus = "stock_unavailable"
)

// Terminal reports whether no further transition is allowed from s, except
// the documented success -> stock_unavailable correction.
func (s PaymentTransactionStatus) Terminal() bool {
	return s != PaymentStatusPending
}

// PaymentTransaction tracks one STK push from prompt to resolution. It
// carries the deferred sale payload so the sale can be committed when the
// gateway confirms payment, long after the initiating request returned.
type PaymentTransaction struct {
	ID                int64                    `json:"id"                  db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	TenantID          int64                    `json:"tenant_id"           db:"tenant_id"           gorm:"column:tenant_id;not null;index"`
	ActorID           *int64                   `json:"actor_id,omitempty"  db:"actor_id"            gorm:"column:actor_id"`
	PhoneNumber       string                   `json:"phone_number"        db:"phone_number"        gorm:"column:phone_number;not null"`
	Amount            float64                  `json:"amount"              db:"amount"              gorm:"column:amount;not null"`
	Status            PaymentTransactionStatus `json:"status"              db:"status"              gorm:"column:status;not null;index:idx_ptx_status_created"`
	MerchantRequestID string                   `json:"merchant_request_id" db:"merchant_request_id" gorm:"column:merchant_request_id"`
	CheckoutRequestID string                   `json:"checkout_request_id" db:"checkout_request_id" gorm:"column:checkout_request_id;not null;uniqueIndex"`
	GatewayReceiptID  *string                  `json:"gateway_receipt_id,omitempty" db:"gateway_receipt_id" gorm:"column:gateway_receipt_id"`
	FailureReason     string                   `json:"failure_reason,omitempty" db:"failure_reason"  gorm:"column:failure_reason"`
	SalePayload       []byte                   `json:"-"                   db:"sale_payload"        gorm:"column:sale_payload"`
	SaleID            *int64                   `json:"sale_id,omitempty"   db:"sale_id"             gorm:"column:sale_id"`
	CreatedAt         time.Time                `json:"created_at"          db:"created_at"          gorm:"column:created_at;autoCreateTime;index:idx_ptx_status_created"`
	UpdatedAt         time.Time                `json:"updated_at"          db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// DeferredSaleItem snapshots one cart line at initiation time. UnitPrice
// protects the deferred commit against catalog repricing between prompt and
// confirmation.
type DeferredSaleItem struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// DeferredSalePayload is the cart and metadata stored on a pending
// transaction, sufficient to build a SaleCreateRequest once payment is
// confirmed.
type DeferredSalePayload struct {
	TenantID       int64              `json:"tenant_id"`
	ActorID        int64              `json:"actor_id"`
	Items          []DeferredSaleItem `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
	CustomerName   string             `json:"customer_name,omitempty"`
	CustomerPhone  string             `json:"customer_phone,omitempty"`
}

// MinimumChargeAmount is the smallest amount the gateway accepts.
const MinimumChargeAmount = 10

// PaymentInitiateRequest is the input for starting an STK push.
type PaymentInitiateRequest struct {
	TenantID    int64
	ActorID     int64
	PhoneNumber string
	Amount      float64
	Payload     DeferredSalePayload
}

var (
	ErrAmountBelowMinimum = errors.New("amount is below the minimum charge")
	ErrAmountNotIntegral  = errors.New("amount must be a whole number of shillings")
	ErrInvalidPhoneNumber = errors.New("phone number is not a valid mobile number")
)

func (p PaymentInitiateRequest) Validate() error {
	if p.Amount < MinimumChargeAmount {
		return ErrAmountBelowMinimum
	}
	// The gateway only charges whole units; silently truncating would charge
	// less than the sale total.
	if p.Amount != math.Trunc(p.Amount) {
		return ErrAmountNotIntegral
	}
	if p.PhoneNumber == "" {
		return ErrInvalidPhoneNumber
	}
	if err := (SaleCreateRequest{
		TenantID:       p.Payload.TenantID,
		ActorID:        p.Payload.ActorID,
		Items:          deferredToLines(p.Payload.Items),
		PaymentMethod:  PaymentMethodMobileMoney,
		IdempotencyKey: p.Payload.IdempotencyKey,
	}).Validate(); err != nil {
		return err
	}
	return nil
}

func deferredToLines(items []DeferredSaleItem) []SaleLineRequest {
	lines := make([]SaleLineRequest, len(items))
	for i, it := range items {
		lines[i] = SaleLineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

// CallbackResult is the normalized outcome extracted from a gateway webhook.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptID         string
	Amount            float64
	PhoneNumber       string
}

// Succeeded reports whether the gateway confirmed payment (result code 0).
func (c CallbackResult) Succeeded() bool { return c.ResultCode == 0 }
