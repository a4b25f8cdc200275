package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobStatusPending = "PENDING"
	JobStatusRunning = "RUNNING"
	JobStatusDone    = "DONE"
	JobStatusFailed  = "FAILED"
)

// AnalysisJob is one end-to-end pipeline invocation for a single source image.
// Status is mutated only by the orchestrator; DONE and FAILED are terminal.
type AnalysisJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	SourceImageURL  string         `gorm:"column:source_image_url;not null" json:"source_image_url"`
	Status          string         `gorm:"column:status;not null;default:'PENDING'" json:"status"`
	ProgressPercent int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	ItemCount       int            `gorm:"column:item_count;not null;default:0" json:"item_count"`
	SucceededCount  int            `gorm:"column:succeeded_count;not null;default:0" json:"succeeded_count"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AnalysisJob) TableName() string { return "analysis_job" }

func (j *AnalysisJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
