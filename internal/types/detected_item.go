package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DetectedItem is one fashion element located within a source image.
// Bounding box coordinates are normalized to 0..1 with x1<=x2, y1<=y2.
// Rows are created in bulk after a job completes and are immutable after that.
type DetectedItem struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Job           *AnalysisJob   `gorm:"constraint:OnDelete:CASCADE;foreignKey:JobID;references:ID" json:"job,omitempty"`
	Category      string         `gorm:"column:category;not null" json:"category"`
	BBoxX1        float64        `gorm:"column:bbox_x1;not null" json:"bbox_x1"`
	BBoxY1        float64        `gorm:"column:bbox_y1;not null" json:"bbox_y1"`
	BBoxX2        float64        `gorm:"column:bbox_x2;not null" json:"bbox_x2"`
	BBoxY2        float64        `gorm:"column:bbox_y2;not null" json:"bbox_y2"`
	Confidence    float64        `gorm:"column:confidence;not null" json:"confidence"`
	CroppedImgURL string         `gorm:"column:cropped_image_url" json:"cropped_image_url"`
	Attributes    datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (DetectedItem) TableName() string { return "detected_item" }

func (d *DetectedItem) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
