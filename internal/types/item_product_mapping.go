package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ItemProductMapping joins a detected item to a matched catalog product.
// Readers interpret mapping rows additively and take the most recent N;
// a refine run marks prior rows invalidated instead of deleting them.
type ItemProductMapping struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DetectedItemID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"detected_item_id"`
	DetectedItem    *DetectedItem  `gorm:"constraint:OnDelete:CASCADE;foreignKey:DetectedItemID;references:ID" json:"detected_item,omitempty"`
	ProductID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"product_id"`
	Product         *Product       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProductID;references:ID" json:"product,omitempty"`
	ConfidenceScore float64        `gorm:"column:confidence_score;not null" json:"confidence_score"`
	Invalidated     bool           `gorm:"column:invalidated;not null;default:false" json:"invalidated"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ItemProductMapping) TableName() string { return "item_product_mapping" }

func (m *ItemProductMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
