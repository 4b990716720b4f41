package repository

import (
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
)

type PaymentTransactionEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	TenantID          int64     `db:"tenant_id"           gorm:"column:tenant_id;not null;index"`
	ActorID           *int64    `db:"actor_id"            gorm:"column:actor_id"`
	PhoneNumber       string    `db:"phone_number"        gorm:"column:phone_number;not null"`
	Amount            float64   `db:"amount"              gorm:"column:amount;not null"`
	Status            string    `db:"status"              gorm:"column:status;not null;index:idx_ptx_status_created"`
	MerchantRequestID string    `db:"merchant_request_id" gorm:"column:merchant_request_id"`
	CheckoutRequestID string    `db:"checkout_request_id" gorm:"column:checkout_request_id;not null;uniqueIndex"`
	GatewayReceiptID  *string   `db:"gateway_receipt_id"  gorm:"column:gateway_receipt_id"`
	FailureReason     string    `db:"failure_reason"      gorm:"column:failure_reason"`
	SalePayload       []byte    `db:"sale_payload"        gorm:"column:sale_payload"`
	SaleID            *int64    `db:"sale_id"             gorm:"column:sale_id"`
	CreatedAt         time.Time `db:"created_at"          gorm:"column:created_at;autoCreateTime;index:idx_ptx_status_created"`
	UpdatedAt         time.Time `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentTransactionEntity) TableName() string {
	return "payment_transactions"
}

func toPaymentTransactionEntity(m *model.PaymentTransaction) *PaymentTransactionEntity {
	if m == nil {
		return nil
	}
	return &PaymentTransactionEntity{
		ID:                m.ID,
		TenantID:          m.TenantID,
		ActorID:           m.ActorID,
		PhoneNumber:       m.PhoneNumber,
		Amount:            m.Amount,
		Status:            string(m.Status),
		MerchantRequestID: m.MerchantRequestID,
		CheckoutRequestID: m.CheckoutRequestID,
		GatewayReceiptID:  m.GatewayReceiptID,
		FailureReason:     m.FailureReason,
		SalePayload:       m.SalePayload,
		SaleID:            m.SaleID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toPaymentTransactionModel(e *PaymentTransactionEntity) *model.PaymentTransaction {
	if e == nil {
		return nil
	}
	return &model.PaymentTransaction{
		ID:                e.ID,
		TenantID:          e.TenantID,
		ActorID:           e.ActorID,
		PhoneNumber:       e.PhoneNumber,
		Amount:            e.Amount,
		Status:            model.PaymentTransactionStatus(e.Status),
		MerchantRequestID: e.MerchantRequestID,
		CheckoutRequestID: e.CheckoutRequestID,
		GatewayReceiptID:  e.GatewayReceiptID,
		FailureReason:     e.FailureReason,
		SalePayload:       e.SalePayload,
		SaleID:            e.SaleID,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}
