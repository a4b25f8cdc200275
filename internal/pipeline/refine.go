package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/imaging"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
	"github.com/yungbote/stylelens-backend/internal/rerank"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/types"

	"golang.org/x/sync/errgroup"
)

const (
	refineTTL        = time.Hour
	refineSearchK    = 50
	refineCandidates = 100
	refineTopK       = 5

	// refineCropMargin is tighter than the analysis padding; the stored bbox
	// already includes context from the first pass.
	refineCropMargin = 0.1
)

// RefineQuery is a structured re-search request for already-detected items.
// Parsing free text into this shape happens upstream; empty fields mean
// "keep as is".
type RefineQuery struct {
	TargetCategories []string
	SearchKeywords   string
	StyleKeywords    []string
	ColorFilter      string
	BrandFilter      string
	PatternFilter    string
	StyleVibe        string
	SleeveLength     string
	PantsLength      string
	OuterLength      string
	MaterialFilter   string
	// PriceSort is "highest", "lowest" or empty.
	PriceSort string
}

func (q RefineQuery) hasAttributeChange() bool {
	return q.SearchKeywords != "" || len(q.StyleKeywords) > 0 || q.ColorFilter != "" ||
		q.PatternFilter != "" || q.StyleVibe != "" || q.SleeveLength != "" ||
		q.PantsLength != "" || q.OuterLength != "" || q.MaterialFilter != ""
}

func (q RefineQuery) hasFilters() bool {
	return q.ColorFilter != "" || q.BrandFilter != "" || q.PatternFilter != "" ||
		q.StyleVibe != "" || q.SleeveLength != "" || q.MaterialFilter != ""
}

// categoryDescriptions expands a category into CLIP-friendly search text.
var categoryDescriptions = map[string]string{
	"top":   "top shirt",
	"pants": "pants trousers",
	"outer": "jacket coat outerwear",
	"shoes": "shoes sneakers boots heels",
	"bag":   "bag backpack",
	"dress": "dress one-piece",
	"skirt": "skirt",
}

func categoryDescription(category string) string {
	if d, ok := categoryDescriptions[category]; ok {
		return d
	}
	return category
}

// RunRefine re-runs retrieval for the given detected items, steered by the
// query: prior mappings are invalidated and replaced with fresh ones.
// Progress and counts land on refine:{id}:* tracker keys with a 1h TTL.
func (o *Orchestrator) RunRefine(ctx context.Context, refineID string, itemIDs []uuid.UUID, query RefineQuery) error {
	ctx = ctxutil.Default(ctx)

	o.setRefine(ctx, refineID, "status", types.JobStatusRunning)
	o.setRefine(ctx, refineID, "progress", "0")
	o.setRefine(ctx, refineID, "total", strconv.Itoa(len(itemIDs)))

	items, err := o.items.GetByIDs(ctx, nil, itemIDs)
	if err != nil {
		o.setRefine(ctx, refineID, "status", types.JobStatusFailed)
		o.setRefine(ctx, refineID, "error", err.Error())
		return fmt.Errorf("load detected items: %w", err)
	}
	o.log.Info("Starting refine", "refine_id", refineID, "items", len(items))

	var completed, successCount, failedCount, totalMappings atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)
	for _, item := range items {
		g.Go(func() error {
			n, err := o.refineItem(gctx, query, item)
			done := completed.Add(1)
			o.setRefine(ctx, refineID, "completed", strconv.FormatInt(done, 10))
			if err != nil {
				o.log.Error("Refine item failed",
					"refine_id", refineID, "item_id", item.ID.String(), "error", err.Error())
				failedCount.Add(1)
				return nil
			}
			successCount.Add(1)
			totalMappings.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.setRefine(ctx, refineID, "status", types.JobStatusFailed)
		o.setRefine(ctx, refineID, "error", err.Error())
		return err
	}

	o.setRefine(ctx, refineID, "status", types.JobStatusDone)
	o.setRefine(ctx, refineID, "success_count", strconv.FormatInt(successCount.Load(), 10))
	o.setRefine(ctx, refineID, "failed_count", strconv.FormatInt(failedCount.Load(), 10))
	o.setRefine(ctx, refineID, "total_mappings", strconv.FormatInt(totalMappings.Load(), 10))

	o.log.Info("Refine complete",
		"refine_id", refineID,
		"success", successCount.Load(), "failed", failedCount.Load(),
		"mappings", totalMappings.Load())
	return nil
}

func (o *Orchestrator) setRefine(ctx context.Context, refineID, field, value string) {
	o.tracker.Set(ctx, "refine:"+refineID+":"+field, value, refineTTL)
}

func (o *Orchestrator) refineItem(ctx context.Context, query RefineQuery, item *types.DetectedItem) (int, error) {
	category := search.CanonicalCategory(item.Category)

	imageEmb := o.refineImageEmbedding(ctx, item)

	var textEmb []float32
	if query.hasAttributeChange() {
		text := buildFashionDescription(query, category)
		emb, err := o.embed.EmbedText(ctx, text)
		if err != nil {
			o.log.Warn("Refine text embedding failed", "item_id", item.ID.String(), "error", err.Error())
		} else {
			textEmb = emb
		}
	}

	emb, err := o.combineRefineEmbeddings(ctx, imageEmb, textEmb, query, category)
	if err != nil {
		return 0, err
	}

	candidates, err := o.strategies.HybridCategoryFilter(ctx, emb, category, refineSearchK, refineCandidates)
	if err != nil {
		return 0, fmt.Errorf("refine search: %w", err)
	}

	if query.hasFilters() {
		candidates = applyAttributeFilters(candidates, query)
	}
	if len(candidates) > refineTopK {
		candidates = candidates[:refineTopK]
	}
	if query.PriceSort != "" {
		highest := query.PriceSort == "highest"
		sort.SliceStable(candidates, func(i, j int) bool {
			if highest {
				return candidates[i].Price > candidates[j].Price
			}
			return candidates[i].Price < candidates[j].Price
		})
	}

	matches := make([]rerank.RankedMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, rerank.RankedMatch{Candidate: c, CombinedScore: c.RetrievalScore})
	}

	linked := 0
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := o.mapping.InvalidateByDetectedItemIDs(ctx, tx, []uuid.UUID{item.ID}); err != nil {
			return fmt.Errorf("invalidate mappings: %w", err)
		}
		n, err := o.catalog.LinkMatches(ctx, tx, item.ID, category, matches)
		if err != nil {
			return err
		}
		linked = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return linked, nil
}

// refineImageEmbedding re-crops the item from its source image using the
// stored bbox and embeds the crop. Any failure degrades to nil; the text or
// category fallback takes over.
func (o *Orchestrator) refineImageEmbedding(ctx context.Context, item *types.DetectedItem) []float32 {
	if item.BBoxX1 == 0 && item.BBoxY1 == 0 && item.BBoxX2 == 0 && item.BBoxY2 == 0 {
		o.log.Warn("No bbox stored, skipping image embedding", "item_id", item.ID.String())
		return nil
	}

	job, err := o.jobs.GetByID(ctx, nil, item.JobID)
	if err != nil {
		o.log.Warn("Source job lookup failed", "item_id", item.ID.String(), "error", err.Error())
		return nil
	}
	img, err := o.images.Download(ctx, job.SourceImageURL)
	if err != nil {
		o.log.Warn("Source image download failed", "item_id", item.ID.String(), "error", err.Error())
		return nil
	}

	box := gcp.BBox{
		XMin: int(item.BBoxX1 * 1000),
		YMin: int(item.BBoxY1 * 1000),
		XMax: int(item.BBoxX2 * 1000),
		YMax: int(item.BBoxY2 * 1000),
	}
	crop, _, err := imaging.Crop(img, box, refineCropMargin)
	if err != nil {
		o.log.Warn("Refine crop failed", "item_id", item.ID.String(), "error", err.Error())
		return nil
	}

	emb, err := o.embed.EmbedImage(ctx, crop)
	if err != nil {
		o.log.Warn("Refine image embedding failed", "item_id", item.ID.String(), "error", err.Error())
		return nil
	}
	return emb
}

// combineRefineEmbeddings picks the search vector: with an attribute change
// the image and text vectors blend 50/50 (L2-normalized); otherwise the image
// vector alone, then text alone, then a category-text fallback.
func (o *Orchestrator) combineRefineEmbeddings(ctx context.Context, imageEmb, textEmb []float32, query RefineQuery, category string) ([]float32, error) {
	switch {
	case query.hasAttributeChange() && textEmb != nil:
		if imageEmb != nil {
			return blendNormalized(imageEmb, textEmb), nil
		}
		return textEmb, nil
	case imageEmb != nil:
		return imageEmb, nil
	case textEmb != nil:
		return textEmb, nil
	}

	fallback := category
	if len(query.TargetCategories) > 0 {
		fallback = query.TargetCategories[0]
	}
	emb, err := o.embed.EmbedText(ctx, categoryDescription(fallback))
	if err != nil {
		return nil, fmt.Errorf("category fallback embedding: %w", err)
	}
	return emb, nil
}

func blendNormalized(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	var norm float64
	for i := 0; i < n; i++ {
		v := 0.5*float64(a[i]) + 0.5*float64(b[i])
		out[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// buildFashionDescription assembles CLIP search text from the query's
// attributes plus the category expansion.
func buildFashionDescription(q RefineQuery, category string) string {
	var parts []string
	add := func(v string) {
		if v != "" {
			parts = append(parts, v)
		}
	}
	add(q.ColorFilter)
	add(q.MaterialFilter)
	if q.PatternFilter != "" && q.PatternFilter != "solid" {
		add(q.PatternFilter)
	}
	add(strings.ReplaceAll(q.SleeveLength, "_", " "))
	if q.PantsLength == "shorts" {
		add("short")
	} else {
		add(q.PantsLength)
	}
	add(q.OuterLength)
	add(q.StyleVibe)
	parts = append(parts, q.StyleKeywords...)
	add(q.SearchKeywords)
	add(categoryDescription(category))
	return strings.Join(parts, " ")
}

// applyAttributeFilters drops candidates that fail any populated filter.
// Colors and materials match against the indexed lists, brand by substring,
// the rest exactly.
func applyAttributeFilters(candidates []search.Candidate, q RefineQuery) []search.Candidate {
	var out []search.Candidate
	for _, c := range candidates {
		if matchesAllFilters(c, q) {
			out = append(out, c)
		}
	}
	return out
}

func matchesAllFilters(c search.Candidate, q RefineQuery) bool {
	if q.ColorFilter != "" && !listContains(c.Colors, q.ColorFilter) {
		return false
	}
	if q.BrandFilter != "" && !strings.Contains(strings.ToLower(c.Brand), strings.ToLower(q.BrandFilter)) {
		return false
	}
	if q.PatternFilter != "" && !strings.EqualFold(c.Pattern, q.PatternFilter) {
		return false
	}
	if q.StyleVibe != "" && !strings.EqualFold(c.StyleVibe, q.StyleVibe) {
		return false
	}
	if q.SleeveLength != "" && !strings.EqualFold(c.SleeveLength, q.SleeveLength) {
		return false
	}
	if q.MaterialFilter != "" && !listContains(c.Materials, q.MaterialFilter) {
		return false
	}
	return true
}

func listContains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
