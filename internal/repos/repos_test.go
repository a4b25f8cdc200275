package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/types"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&types.AnalysisJob{}, &types.DetectedItem{}, &types.Product{}, &types.ItemProductMapping{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM item_product_mapping")
		db.Exec("DELETE FROM product")
		db.Exec("DELETE FROM detected_item")
		db.Exec("DELETE FROM analysis_job")
	})
	return db
}

func TestItemProductMappingOrderingAndLimit(t *testing.T) {
	db := testDB(t)
	repo := NewItemProductMappingRepo(db, testLogger())
	ctx := context.Background()

	itemID := uuid.New()
	mappings := []*types.ItemProductMapping{
		{DetectedItemID: itemID, ProductID: uuid.New(), ConfidenceScore: 0.3},
		{DetectedItemID: itemID, ProductID: uuid.New(), ConfidenceScore: 0.9},
		{DetectedItemID: itemID, ProductID: uuid.New(), ConfidenceScore: 0.6},
	}
	if err := repo.CreateBulk(ctx, nil, mappings); err != nil {
		t.Fatalf("CreateBulk: %v", err)
	}

	got, err := repo.GetByDetectedItemID(ctx, nil, itemID, 2)
	if err != nil {
		t.Fatalf("GetByDetectedItemID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: want=2 got=%d", len(got))
	}
	if got[0].ConfidenceScore != 0.9 || got[1].ConfidenceScore != 0.6 {
		t.Fatalf("order: got=(%f,%f)", got[0].ConfidenceScore, got[1].ConfidenceScore)
	}
}

func TestItemProductMappingInvalidate(t *testing.T) {
	db := testDB(t)
	repo := NewItemProductMappingRepo(db, testLogger())
	ctx := context.Background()

	itemID := uuid.New()
	otherID := uuid.New()
	mappings := []*types.ItemProductMapping{
		{DetectedItemID: itemID, ProductID: uuid.New(), ConfidenceScore: 0.9},
		{DetectedItemID: otherID, ProductID: uuid.New(), ConfidenceScore: 0.8},
	}
	if err := repo.CreateBulk(ctx, nil, mappings); err != nil {
		t.Fatalf("CreateBulk: %v", err)
	}

	if err := repo.InvalidateByDetectedItemIDs(ctx, nil, []uuid.UUID{itemID}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	got, err := repo.GetByDetectedItemID(ctx, nil, itemID, 10)
	if err != nil {
		t.Fatalf("GetByDetectedItemID: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("invalidated rows should be excluded, got=%d", len(got))
	}

	other, err := repo.GetByDetectedItemID(ctx, nil, otherID, 10)
	if err != nil {
		t.Fatalf("GetByDetectedItemID: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("other item untouched: want=1 got=%d", len(other))
	}
}

func TestDetectedItemGetByJobIDOrdersByCreation(t *testing.T) {
	db := testDB(t)
	repo := NewDetectedItemRepo(db, testLogger())
	ctx := context.Background()

	jobID := uuid.New()
	first := &types.DetectedItem{JobID: jobID, Category: "top", Confidence: 0.9, CreatedAt: time.Now().Add(-time.Minute)}
	second := &types.DetectedItem{JobID: jobID, Category: "shoes", Confidence: 0.8, CreatedAt: time.Now()}
	if _, err := repo.CreateBulk(ctx, nil, []*types.DetectedItem{second, first}); err != nil {
		t.Fatalf("CreateBulk: %v", err)
	}

	got, err := repo.GetByJobID(ctx, nil, jobID)
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: want=2 got=%d", len(got))
	}
	if got[0].Category != "top" || got[1].Category != "shoes" {
		t.Fatalf("order: got=(%s,%s)", got[0].Category, got[1].Category)
	}
}

func TestProductCreateBulkIgnoreConflicts(t *testing.T) {
	db := testDB(t)
	repo := NewProductRepo(db, testLogger())
	ctx := context.Background()

	url := "https://www.musinsa.com/products/42"
	batch := []*types.Product{{BrandName: "b", ProductName: "n", Category: "top", ProductURL: url}}
	if err := repo.CreateBulkIgnoreConflicts(ctx, nil, batch); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	again := []*types.Product{{BrandName: "b2", ProductName: "n2", Category: "top", ProductURL: url}}
	if err := repo.CreateBulkIgnoreConflicts(ctx, nil, again); err != nil {
		t.Fatalf("conflicting insert: %v", err)
	}

	got, err := repo.GetByURLs(ctx, nil, []string{url})
	if err != nil {
		t.Fatalf("GetByURLs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("products: want=1 got=%d", len(got))
	}
	if got[0].BrandName != "b" {
		t.Fatalf("original row should survive, got brand=%s", got[0].BrandName)
	}
}
