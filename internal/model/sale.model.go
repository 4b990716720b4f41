package model

import (
	"errors"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	PaymentMethodCredit      PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodMobileMoney, PaymentMethodCredit:
		return true
	}
	return false
}

// SaleItem is a committed line item. UnitPrice is the price snapshot taken at
// commit (or payment initiation) time and is immutable once written.
type SaleItem struct {
	ID        int64   `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	SaleID    int64   `json:"sale_id"    db:"sale_id"    gorm:"column:sale_id;not null;index"`
	ProductID int64   `json:"product_id" db:"product_id" gorm:"column:product_id;not null"`
	Quantity  int     `json:"quantity"   db:"quantity"   gorm:"column:quantity;not null"`
	UnitPrice float64 `json:"unit_price" db:"unit_price" gorm:"column:unit_price;not null"`
}

func (SaleItem) TableName() string { return "sale_items" }

// Sale is the authoritative record of a committed sale. Created exactly once,
// immutable afterwards; never deleted by this engine.
type Sale struct {
	ID                   int64         `json:"id"                     db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	TenantID             int64         `json:"tenant_id"              db:"tenant_id"       gorm:"column:tenant_id;not null;index"`
	ActorID              int64         `json:"actor_id"               db:"actor_id"        gorm:"column:actor_id;not null;uniqueIndex:idx_sales_actor_idem"`
	Subtotal             float64       `json:"subtotal"               db:"subtotal"        gorm:"column:subtotal;not null"`
	VATAmount            float64       `json:"vat_amount"             db:"vat_amount"      gorm:"column:vat_amount;not null"`
	Total                float64       `json:"total"                  db:"total"           gorm:"column:total;not null"`
	PaymentMethod        PaymentMethod `json:"payment_method"         db:"payment_method"  gorm:"column:payment_method;not null"`
	AmountTendered       float64       `json:"amount_tendered"        db:"amount_tendered" gorm:"column:amount_tendered;not null"`
	Change               float64       `json:"change"                 db:"change"          gorm:"column:change;not null"`
	CustomerName         string        `json:"customer_name,omitempty"  db:"customer_name"  gorm:"column:customer_name"`
	CustomerPhone        string        `json:"customer_phone,omitempty" db:"customer_phone" gorm:"column:customer_phone"`
	IdempotencyKey       string        `json:"idempotency_key"        db:"idempotency_key" gorm:"column:idempotency_key;not null;uniqueIndex:idx_sales_actor_idem"`
	PaymentTransactionID *int64        `json:"payment_transaction_id,omitempty" db:"payment_transaction_id" gorm:"column:payment_transaction_id"`
	Items                []*SaleItem   `json:"items"                  gorm:"foreignKey:SaleID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time     `json:"created_at"             db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (Sale) TableName() string { return "sales" }

// SaleLineRequest is one cart line as the client sends it.
type SaleLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// SaleCreateRequest is the input for committing a sale.
type SaleCreateRequest struct {
	TenantID             int64
	ActorID              int64
	Items                []SaleLineRequest
	PaymentMethod        PaymentMethod
	AmountTendered       float64
	CustomerName         string
	CustomerPhone        string
	IdempotencyKey       string
	PaymentTransactionID *int64

	// UnitPrices overrides the catalog price per product id when set. The
	// deferred mobile-money path uses it to charge the snapshot taken at
	// initiation time instead of whatever the catalog says at confirmation.
	UnitPrices map[int64]float64
}

var (
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrEmptyCart             = errors.New("sale must contain at least one item")
	ErrInvalidQuantity       = errors.New("item quantity must be at least 1")
	ErrInvalidPaymentMethod  = errors.New("unknown payment method")
)

func (p SaleCreateRequest) Validate() error {
	if p.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	if len(p.Items) == 0 {
		return ErrEmptyCart
	}
	for _, it := range p.Items {
		if it.Quantity < 1 {
			return ErrInvalidQuantity
		}
	}
	if !p.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	return nil
}

// ReceiptItem is one line on the returned receipt.
type ReceiptItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// Receipt is the caller-facing projection of a committed sale.
type Receipt struct {
	SaleID         int64          `json:"sale_id"`
	Date           time.Time      `json:"date"`
	Items          []ReceiptItem  `json:"items"`
	Subtotal       float64        `json:"subtotal"`
	VATAmount      float64        `json:"vat_amount"`
	Total          float64        `json:"total"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`
	AmountReceived float64        `json:"amount_received"`
	Change         float64        `json:"change"`
	CustomerName   string         `json:"customer_name,omitempty"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
}
