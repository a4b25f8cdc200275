package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/types"
)

type ItemProductMappingRepo interface {
	CreateBulk(ctx context.Context, tx *gorm.DB, mappings []*types.ItemProductMapping) error
	GetByDetectedItemID(ctx context.Context, tx *gorm.DB, detectedItemID uuid.UUID, limit int) ([]*types.ItemProductMapping, error)
	InvalidateByDetectedItemIDs(ctx context.Context, tx *gorm.DB, detectedItemIDs []uuid.UUID) error
}

type itemProductMappingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewItemProductMappingRepo(db *gorm.DB, baseLog *logger.Logger) ItemProductMappingRepo {
	return &itemProductMappingRepo{
		db:  db,
		log: baseLog.With("repo", "ItemProductMappingRepo"),
	}
}

func (r *itemProductMappingRepo) CreateBulk(ctx context.Context, tx *gorm.DB, mappings []*types.ItemProductMapping) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(mappings) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&mappings).Error
}

func (r *itemProductMappingRepo) GetByDetectedItemID(ctx context.Context, tx *gorm.DB, detectedItemID uuid.UUID, limit int) ([]*types.ItemProductMapping, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ItemProductMapping
	if detectedItemID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("detected_item_id = ? AND invalidated = ?", detectedItemID, false).
		Order("confidence_score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *itemProductMappingRepo) InvalidateByDetectedItemIDs(ctx context.Context, tx *gorm.DB, detectedItemIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(detectedItemIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ItemProductMapping{}).
		Where("detected_item_id IN ?", detectedItemIDs).
		Updates(map[string]interface{}{
			"invalidated": true,
			"updated_at":  time.Now(),
		}).Error
}
