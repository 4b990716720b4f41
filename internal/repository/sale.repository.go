package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrSaleNotFound  = errors.New("sale not found")
	ErrDuplicateSale = errors.New("sale already exists for idempotency key")
)

type SaleRepository struct {
	*pg.DB
}

func NewSaleRepository(db *pg.DB) *SaleRepository {
	return &SaleRepository{
		db,
	}
}

// Create inserts the sale and its line items. The unique index on
// (actor_id, idempotency_key) is the arbiter for concurrent commits with the
// same key: the loser gets ErrDuplicateSale and re-reads the winner's row.
func (r *SaleRepository) Create(ctx context.Context, sale *model.Sale) (*model.Sale, error) {
	entity := toSaleEntity(sale)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSale
		}
		return nil, err
	}

	return toSaleModel(entity), nil
}

// FindByIdempotencyKey returns the committed sale for (actorID, key), items
// included, or ErrSaleNotFound.
func (r *SaleRepository) FindByIdempotencyKey(ctx context.Context, actorID int64, key string) (*model.Sale, error) {
	var entity SaleEntity

	err := r.Read(ctx).WithContext(ctx).
		Preload("Items").
		Where("actor_id = ? AND idempotency_key = ?", actorID, key).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}

	return toSaleModel(&entity), nil
}

func (r *SaleRepository) GetByID(ctx context.Context, tenantID, saleID int64) (*model.Sale, error) {
	var entity SaleEntity

	err := r.Read(ctx).WithContext(ctx).
		Preload("Items").
		Where("id = ? AND tenant_id = ?", saleID, tenantID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}

	return toSaleModel(&entity), nil
}

// isUniqueViolation matches duplicate-key failures across postgres and the
// sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
