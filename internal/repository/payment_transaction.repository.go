package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrPaymentTransactionNotFound = errors.New("payment transaction not found")
	ErrTransitionConflict         = errors.New("payment transaction is not pending")
	ErrSaleAlreadyLinked          = errors.New("payment transaction already linked to a sale")
)

type PaymentTransactionRepository struct {
	*pg.DB
}

func NewPaymentTransactionRepository(db *pg.DB) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{
		db,
	}
}

func (r *PaymentTransactionRepository) Create(ctx context.Context, tx *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	entity := toPaymentTransactionEntity(tx)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toPaymentTransactionModel(entity), nil
}

func (r *PaymentTransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	var entity PaymentTransactionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentTransactionNotFound
		}
		return nil, err
	}

	return toPaymentTransactionModel(&entity), nil
}

// Transition moves a pending transaction to a terminal status. The UPDATE is
// guarded by `status = 'pending'`, so two callbacks racing for the same
// transaction resolve to exactly one winner; the loser gets
// ErrTransitionConflict and must re-read to see which terminal state won.
func (r *PaymentTransactionRepository) Transition(ctx context.Context, checkoutRequestID string, to model.PaymentTransactionStatus, receiptID *string, failureReason string) error {
	updates := map[string]interface{}{
		"status":         string(to),
		"failure_reason": failureReason,
		"updated_at":     time.Now(),
	}
	if receiptID != nil {
		updates["gateway_receipt_id"] = *receiptID
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, string(model.PaymentStatusPending)).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransitionConflict
	}

	return nil
}

// CorrectToStockUnavailable rewrites a success outcome whose deferred sale
// could not be committed because stock ran out while the payment was in
// flight. This is the only transition allowed out of a terminal state.
func (r *PaymentTransactionRepository) CorrectToStockUnavailable(ctx context.Context, checkoutRequestID, reason string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, string(model.PaymentStatusSuccess)).
		Updates(map[string]interface{}{
			"status":         string(model.PaymentStatusStockUnavailable),
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransitionConflict
	}

	return nil
}

// LinkSale attaches the committed sale to the transaction. The sale_id column
// is written at most once.
func (r *PaymentTransactionRepository) LinkSale(ctx context.Context, checkoutRequestID string, saleID int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("checkout_request_id = ? AND sale_id IS NULL", checkoutRequestID).
		Updates(map[string]interface{}{
			"sale_id":    saleID,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSaleAlreadyLinked
	}

	return nil
}

// SweepTimeouts expires pending transactions older than the horizon. Returns
// the number of rows moved to the timeout state.
func (r *PaymentTransactionRepository) SweepTimeouts(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon)

	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("status = ? AND created_at < ?", string(model.PaymentStatusPending), cutoff).
		Updates(map[string]interface{}{
			"status":         string(model.PaymentStatusTimeout),
			"failure_reason": "no gateway callback before expiry",
			"updated_at":     time.Now(),
		})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

func (r *PaymentTransactionRepository) ListPendingOlderThan(ctx context.Context, horizon time.Duration, limit int) ([]*model.PaymentTransaction, error) {
	cutoff := time.Now().Add(-horizon)

	var entities []*PaymentTransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ? AND created_at < ?", string(model.PaymentStatusPending), cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	models := make([]*model.PaymentTransaction, len(entities))
	for i, e := range entities {
		models[i] = toPaymentTransactionModel(e)
	}
	return models, nil
}
