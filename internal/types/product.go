package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a catalog entry created lazily on first sighting of an external
// product id. ProductURL encodes that id and is the idempotency key.
type Product struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BrandName       string         `gorm:"column:brand_name;not null" json:"brand_name"`
	ProductName     string         `gorm:"column:product_name;not null" json:"product_name"`
	Category        string         `gorm:"column:category;not null" json:"category"`
	SellingPrice    int64          `gorm:"column:selling_price;not null;default:0" json:"selling_price"`
	ProductImageURL string         `gorm:"column:product_image_url" json:"product_image_url"`
	ProductURL      string         `gorm:"column:product_url;not null;uniqueIndex" json:"product_url"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Product) TableName() string { return "product" }

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
