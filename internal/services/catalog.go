package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/imaging"
	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/repos"
	"github.com/yungbote/stylelens-backend/internal/rerank"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/types"
)

// ItemResult is one worker's output: the detection it processed plus its
// surviving ranked matches. Matches may be empty when the sub-pipeline
// degraded to no result.
type ItemResult struct {
	Index           int
	Category        string
	Box             imaging.PixelBox
	Confidence      float64
	CroppedImageURL string
	Hints           search.AttributeHints
	Matches         []rerank.RankedMatch
}

// CatalogService persists a completed job: detected items, lazily created
// products and item-product links. At-least-once: re-running with the same
// input cannot create duplicate products (unique product_url) though it may
// add duplicate mapping rows, which readers tolerate by taking the most
// recent N.
type CatalogService interface {
	UpsertAndLink(ctx context.Context, jobID uuid.UUID, results []ItemResult) (int, error)
	LinkMatches(ctx context.Context, tx *gorm.DB, detectedItemID uuid.UUID, category string, matches []rerank.RankedMatch) (int, error)
}

type catalogService struct {
	db          *gorm.DB
	log         *logger.Logger
	itemRepo    repos.DetectedItemRepo
	productRepo repos.ProductRepo
	mappingRepo repos.ItemProductMappingRepo
}

func NewCatalogService(
	db *gorm.DB,
	baseLog *logger.Logger,
	itemRepo repos.DetectedItemRepo,
	productRepo repos.ProductRepo,
	mappingRepo repos.ItemProductMappingRepo,
) CatalogService {
	return &catalogService{
		db:          db,
		log:         baseLog.With("service", "CatalogService"),
		itemRepo:    itemRepo,
		productRepo: productRepo,
		mappingRepo: mappingRepo,
	}
}

func (s *catalogService) UpsertAndLink(ctx context.Context, jobID uuid.UUID, results []ItemResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	linkCount := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := make([]*types.DetectedItem, 0, len(results))
		for _, r := range results {
			x1, y1, x2, y2 := r.Box.Normalized()
			items = append(items, &types.DetectedItem{
				JobID:         jobID,
				Category:      r.Category,
				BBoxX1:        x1,
				BBoxY1:        y1,
				BBoxX2:        x2,
				BBoxY2:        y2,
				Confidence:    r.Confidence,
				CroppedImgURL: r.CroppedImageURL,
				Attributes:    attributesJSON(r.Hints),
			})
		}
		created, err := s.itemRepo.CreateBulk(ctx, tx, items)
		if err != nil {
			return fmt.Errorf("create detected items: %w", err)
		}

		for i, r := range results {
			n, err := s.LinkMatches(ctx, tx, created[i].ID, r.Category, r.Matches)
			if err != nil {
				return err
			}
			linkCount += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("Catalog upsert complete", "job_id", jobID.String(), "items", len(results), "links", linkCount)
	return linkCount, nil
}

// LinkMatches resolves each match's product (find-or-create keyed by the
// canonical product URL) and bulk-inserts mapping rows ordered by combined
// score.
func (s *catalogService) LinkMatches(ctx context.Context, tx *gorm.DB, detectedItemID uuid.UUID, category string, matches []rerank.RankedMatch) (int, error) {
	if len(matches) == 0 {
		return 0, nil
	}

	byID := map[string]rerank.RankedMatch{}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.ProductID == "" {
			continue
		}
		if _, ok := byID[m.ProductID]; !ok {
			ids = append(ids, m.ProductID)
		}
		byID[m.ProductID] = m
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Both historical URL forms may exist in the catalog.
	urls := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		urls = append(urls, productURL(id), legacyProductURL(id))
	}

	existing, err := s.productRepo.GetByURLs(ctx, tx, urls)
	if err != nil {
		return 0, fmt.Errorf("lookup products: %w", err)
	}
	resolved := map[string]uuid.UUID{}
	for _, p := range existing {
		if id := externalID(p.ProductURL); id != "" {
			resolved[id] = p.ID
		}
	}

	var missing []*types.Product
	for _, id := range ids {
		if _, ok := resolved[id]; ok {
			continue
		}
		m := byID[id]
		missing = append(missing, &types.Product{
			BrandName:       orUnknown(m.Brand),
			ProductName:     orUnknown(m.Name),
			Category:        category,
			SellingPrice:    m.Price,
			ProductImageURL: m.ImageURL,
			ProductURL:      productURL(id),
		})
	}
	if len(missing) > 0 {
		if err := s.productRepo.CreateBulkIgnoreConflicts(ctx, tx, missing); err != nil {
			return 0, fmt.Errorf("create products: %w", err)
		}
		// A concurrent job may have won the insert race; re-read to pick up
		// whichever row landed.
		createdURLs := make([]string, 0, len(missing))
		for _, p := range missing {
			createdURLs = append(createdURLs, p.ProductURL)
		}
		createdRows, err := s.productRepo.GetByURLs(ctx, tx, createdURLs)
		if err != nil {
			return 0, fmt.Errorf("re-lookup products: %w", err)
		}
		for _, p := range createdRows {
			if id := externalID(p.ProductURL); id != "" {
				resolved[id] = p.ID
			}
		}
	}

	mappings := make([]*types.ItemProductMapping, 0, len(matches))
	for _, m := range matches {
		pid, ok := resolved[m.ProductID]
		if !ok {
			s.log.Warn("Unresolved product, skipping mapping", "external_id", m.ProductID)
			continue
		}
		mappings = append(mappings, &types.ItemProductMapping{
			DetectedItemID:  detectedItemID,
			ProductID:       pid,
			ConfidenceScore: m.CombinedScore,
		})
	}
	if err := s.mappingRepo.CreateBulk(ctx, tx, mappings); err != nil {
		return 0, fmt.Errorf("create mappings: %w", err)
	}
	return len(mappings), nil
}

func productURL(externalID string) string {
	return "https://www.musinsa.com/products/" + externalID
}

func legacyProductURL(externalID string) string {
	return "https://www.musinsa.com/app/goods/" + externalID
}

// externalID pulls the trailing id segment off either URL form.
func externalID(url string) string {
	i := strings.LastIndex(url, "/")
	if i < 0 || i == len(url)-1 {
		return ""
	}
	return url[i+1:]
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func attributesJSON(hints search.AttributeHints) datatypes.JSON {
	if hints.Empty() {
		return nil
	}
	raw, err := json.Marshal(map[string]string{
		"brand":           hints.Brand,
		"color":           hints.Color,
		"secondary_color": hints.SecondaryColor,
		"item_type":       hints.ItemType,
		"material":        hints.Material,
		"style":           hints.Style,
		"pattern":         hints.Pattern,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
