package repository

import (
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/model"
)

type ProductEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	TenantID  int64     `db:"tenant_id"  gorm:"column:tenant_id;not null;index"`
	Name      string    `db:"name"       gorm:"column:name;not null"`
	SKU       string    `db:"sku"        gorm:"column:sku"`
	Price     float64   `db:"price"      gorm:"column:price;not null"`
	Stock     int       `db:"stock"      gorm:"column:stock;not null"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductEntity) TableName() string {
	return "products"
}

func toProductEntity(m *model.Product) *ProductEntity {
	if m == nil {
		return nil
	}
	return &ProductEntity{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		SKU:       m.SKU,
		Price:     m.Price,
		Stock:     m.Stock,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toProductModel(e *ProductEntity) *model.Product {
	if e == nil {
		return nil
	}
	return &model.Product{
		ID:        e.ID,
		TenantID:  e.TenantID,
		Name:      e.Name,
		SKU:       e.SKU,
		Price:     e.Price,
		Stock:     e.Stock,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toProductModels(entities []*ProductEntity) []*model.Product {
	if entities == nil {
		return nil
	}
	models := make([]*model.Product, len(entities))
	for i, e := range entities {
		models[i] = toProductModel(e)
	}
	return models
}
