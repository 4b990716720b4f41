package repository

import (
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
)

type SaleEntity struct {
	ID                   int64             `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	TenantID             int64             `db:"tenant_id"       gorm:"column:tenant_id;not null;index"`
	ActorID              int64             `db:"actor_id"        gorm:"column:actor_id;not null;uniqueIndex:idx_sales_actor_idem"`
	Subtotal             float64           `db:"subtotal"        gorm:"column:subtotal;not null"`
	VATAmount            float64           `db:"vat_amount"      gorm:"column:vat_amount;not null"`
	Total                float64           `db:"total"           gorm:"column:total;not null"`
	PaymentMethod        string            `db:"payment_method"  gorm:"column:payment_method;not null"`
	AmountTendered       float64           `db:"amount_tendered" gorm:"column:amount_tendered;not null"`
	Change               float64           `db:"change"          gorm:"column:change;not null"`
	CustomerName         string            `db:"customer_name"   gorm:"column:customer_name"`
	CustomerPhone        string            `db:"customer_phone"  gorm:"column:customer_phone"`
	IdempotencyKey       string            `db:"idempotency_key" gorm:"column:idempotency_key;not null;uniqueIndex:idx_sales_actor_idem"`
	PaymentTransactionID *int64            `db:"payment_transaction_id" gorm:"column:payment_transaction_id"`
	Items                []*SaleItemEntity `gorm:"foreignKey:SaleID"`
	CreatedAt            time.Time         `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (SaleEntity) TableName() string {
	return "sales"
}

type SaleItemEntity struct {
	ID        int64   `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	SaleID    int64   `db:"sale_id"    gorm:"column:sale_id;not null;index"`
	ProductID int64   `db:"product_id" gorm:"column:product_id;not null"`
	Quantity  int     `db:"quantity"   gorm:"column:quantity;not null"`
	UnitPrice float64 `db:"unit_price" gorm:"column:unit_price;not null"`
}

func (SaleItemEntity) TableName() string {
	return "sale_items"
}

func toSaleEntity(m *model.Sale) *SaleEntity {
	if m == nil {
		return nil
	}
	e := &SaleEntity{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		ActorID:              m.ActorID,
		Subtotal:             m.Subtotal,
		VATAmount:            m.VATAmount,
		Total:                m.Total,
		PaymentMethod:        string(m.PaymentMethod),
		AmountTendered:       m.AmountTendered,
		Change:               m.Change,
		CustomerName:         m.CustomerName,
		CustomerPhone:        m.CustomerPhone,
		IdempotencyKey:       m.IdempotencyKey,
		PaymentTransactionID: m.PaymentTransactionID,
		CreatedAt:            m.CreatedAt,
	}
	for _, it := range m.Items {
		e.Items = append(e.Items, &SaleItemEntity{
			ID:        it.ID,
			SaleID:    it.SaleID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return e
}

func toSaleModel(e *SaleEntity) *model.Sale {
	if e == nil {
		return nil
	}
	m := &model.Sale{
		ID:                   e.ID,
		TenantID:             e.TenantID,
		ActorID:              e.ActorID,
		Subtotal:             e.Subtotal,
		VATAmount:            e.VATAmount,
		Total:                e.Total,
		PaymentMethod:        model.PaymentMethod(e.PaymentMethod),
		AmountTendered:       e.AmountTendered,
		Change:               e.Change,
		CustomerName:         e.CustomerName,
		CustomerPhone:        e.CustomerPhone,
		IdempotencyKey:       e.IdempotencyKey,
		PaymentTransactionID: e.PaymentTransactionID,
		CreatedAt:            e.CreatedAt,
	}
	for _, it := range e.Items {
		m.Items = append(m.Items, &model.SaleItem{
			ID:        it.ID,
			SaleID:    it.SaleID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return m
}
