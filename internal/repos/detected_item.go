package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/types"
)

type DetectedItemRepo interface {
	CreateBulk(ctx context.Context, tx *gorm.DB, items []*types.DetectedItem) ([]*types.DetectedItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DetectedItem, error)
	GetByJobID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.DetectedItem, error)
}

type detectedItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetectedItemRepo(db *gorm.DB, baseLog *logger.Logger) DetectedItemRepo {
	return &detectedItemRepo{
		db:  db,
		log: baseLog.With("repo", "DetectedItemRepo"),
	}
}

func (r *detectedItemRepo) CreateBulk(ctx context.Context, tx *gorm.DB, items []*types.DetectedItem) ([]*types.DetectedItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return []*types.DetectedItem{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *detectedItemRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DetectedItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DetectedItem
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *detectedItemRepo) GetByJobID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.DetectedItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DetectedItem
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
