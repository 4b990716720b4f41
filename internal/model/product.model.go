package model

import "time"

// Product is the catalog row this engine reads and decrements. Stock is only
// ever mutated inside a sale commit transaction and never goes negative.
type Product struct {
	ID        int64     `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	TenantID  int64     `json:"tenant_id"  db:"tenant_id"  gorm:"column:tenant_id;not null;index"`
	Name      string    `json:"name"       db:"name"       gorm:"column:name;not null"`
	SKU       string    `json:"sku"        db:"sku"        gorm:"column:sku"`
	Price     float64   `json:"price"      db:"price"      gorm:"column:price;not null"`
	Stock     int       `json:"stock"      db:"stock"      gorm:"column:stock;not null"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }
