package repos

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/types"
)

type ProductRepo interface {
	GetByURLs(ctx context.Context, tx *gorm.DB, urls []string) ([]*types.Product, error)
	// CreateBulkIgnoreConflicts inserts products, skipping rows whose
	// product_url already exists. Concurrent jobs may discover the same new
	// product; the unique index is the guard.
	CreateBulkIgnoreConflicts(ctx context.Context, tx *gorm.DB, products []*types.Product) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

func (r *productRepo) GetByURLs(ctx context.Context, tx *gorm.DB, urls []string) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Product
	if len(urls) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("product_url IN ?", urls).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) CreateBulkIgnoreConflicts(ctx context.Context, tx *gorm.DB, products []*types.Product) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(products) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_url"}},
			DoNothing: true,
		}).
		Create(&products).Error
}
