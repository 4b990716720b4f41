package repository

import (
	"context"
	"errors"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type ProductRepository struct {
	*pg.DB
}

func NewProductRepository(db *pg.DB) *ProductRepository {
	return &ProductRepository{
		db,
	}
}

func (r *ProductRepository) Create(ctx context.Context, p *model.Product) (*model.Product, error) {
	entity := toProductEntity(p)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toProductModel(entity), nil
}

// GetForUpdate reads the current product snapshot under a row lock. It must
// be called inside WithinTransaction so the lock is held until the stock
// decrement commits; a product belonging to another tenant is reported the
// same as a missing one.
func (r *ProductRepository) GetForUpdate(ctx context.Context, tenantID, productID int64) (*model.Product, error) {
	var entity ProductEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND tenant_id = ?", productID, tenantID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return toProductModel(&entity), nil
}

// DecrementStock subtracts quantity from the product's stock. The UPDATE is
// guarded by `stock >= quantity`, so a concurrent decrement that would drive
// stock negative affects zero rows and surfaces ErrInsufficientStock instead.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ProductEntity{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		Update("stock", gorm.Expr("stock - ?", quantity))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *ProductRepository) GetStock(ctx context.Context, productID int64) (int, error) {
	var entity ProductEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("stock").
		Where("id = ?", productID).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}

	return entity.Stock, nil
}

func (r *ProductRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*model.Product, error) {
	var entities []*ProductEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toProductModels(entities), nil
}
