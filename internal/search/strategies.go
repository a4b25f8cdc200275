package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/stylelens-backend/internal/clients/opensearch"
	"github.com/yungbote/stylelens-backend/internal/logger"
)

const (
	DefaultK           = 5
	DefaultSearchK     = 100
	WideSearchK        = 400
	pureVectorDefaultK = 30
)

var sourceFieldsBase = []string{
	"itemId", "category", "brand", "productName", "imageUrl", "price", "productUrl",
}

var sourceFieldsAttrs = append(append([]string{}, sourceFieldsBase...),
	"attributes.colors", "attributes.pattern", "attributes.style_vibe",
	"attributes.sleeve_length", "attributes.pants_length", "attributes.outer_length",
	"attributes.materials",
)

var sourceFieldsVector = append(append([]string{}, sourceFieldsBase...), "image_vector")

// Strategies turns a query embedding plus optional attribute hints into a
// ranked candidate list. Each method is one interchangeable retrieval
// strategy; Retrieve picks among them based on which hints are present.
type Strategies struct {
	log       *logger.Logger
	client    opensearch.Client
	indexName string
}

func NewStrategies(log *logger.Logger, client opensearch.Client, indexName string) *Strategies {
	if strings.TrimSpace(indexName) == "" {
		indexName = "musinsa_products"
	}
	return &Strategies{
		log:       log.With("component", "SearchStrategies"),
		client:    client,
		indexName: indexName,
	}
}

// Retrieve dispatches to a strategy based on available hints:
// no category means nothing to filter on, brand and color together allow the
// structured attribute filter, a lone brand goes through the brand-first
// path, a lone color through vector-first boosting.
func (s *Strategies) Retrieve(ctx context.Context, embedding []float32, category string, hints AttributeHints, k int) ([]Candidate, error) {
	if k <= 0 {
		k = DefaultK
	}
	switch {
	case category == "":
		return s.ByVector(ctx, embedding, k)
	case hints.HasBrand() && hints.HasColor():
		return s.WithAttributes(ctx, embedding, category, hints, k, DefaultSearchK)
	case hints.HasBrand():
		return s.BrandVectorColor(ctx, embedding, category, hints, k, DefaultSearchK)
	case hints.HasColor() || hints.ItemType != "":
		return s.VectorThenFilter(ctx, embedding, category, hints, k, WideSearchK)
	default:
		return s.HybridCategoryFilter(ctx, embedding, category, k, DefaultSearchK)
	}
}

// ByVector is pure k-NN with no filter.
func (s *Strategies) ByVector(ctx context.Context, embedding []float32, k int) ([]Candidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}
	if k <= 0 {
		k = pureVectorDefaultK
	}
	query := map[string]any{
		"size":    k,
		"_source": append(append([]string{}, sourceFieldsBase...), "attributes.colors", "attributes.pattern", "attributes.style_vibe"),
		"query":   knnQuery(embedding, k),
	}
	resp, err := s.client.Search(ctx, s.indexName, query)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		out = append(out, candidateFromHit(hit))
	}
	return out, nil
}

// HybridCategoryFilter fetches a wide vector candidate set, then keeps only
// items whose category falls in the related bucket, truncated to k.
func (s *Strategies) HybridCategoryFilter(ctx context.Context, embedding []float32, category string, k, searchK int) ([]Candidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if searchK <= 0 {
		searchK = DefaultSearchK
	}
	query := map[string]any{
		"size":    searchK,
		"_source": sourceFieldsAttrs,
		"query":   knnQuery(embedding, searchK),
	}
	resp, err := s.client.Search(ctx, s.indexName, query)
	if err != nil {
		return nil, err
	}

	related := RelatedCategories(category)
	out := make([]Candidate, 0, k)
	for _, hit := range resp.Hits.Hits {
		if !categoryInSet(hit.Source.Category, related) {
			continue
		}
		out = append(out, candidateFromHit(hit))
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// WithAttributes runs a structured brand/color filter against the index,
// re-ranks those hits locally by cosine against their stored embeddings, then
// merges with a parallel unfiltered vector search so sparse filters still
// yield k results. Attribute-matched hits always come first.
func (s *Strategies) WithAttributes(ctx context.Context, embedding []float32, category string, hints AttributeHints, k, searchK int) ([]Candidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if searchK <= 0 {
		searchK = DefaultSearchK
	}
	related := RelatedCategories(category)

	var attributeResults []Candidate
	if hints.HasBrand() || hints.HasColor() {
		mustClauses := []any{}
		if hints.HasBrand() {
			mustClauses = append(mustClauses, brandClause(hints.Brand))
		}
		if colors := searchColors(hints); len(colors) > 0 {
			shoulds := make([]any, 0, len(colors))
			for _, c := range colors {
				shoulds = append(shoulds, map[string]any{"term": map[string]any{"attributes.colors": c}})
			}
			mustClauses = append(mustClauses, map[string]any{
				"bool": map[string]any{"should": shoulds, "minimum_should_match": 1},
			})
		}
		if excludes := itemTypeExclusions(hints.ItemType); len(excludes) > 0 {
			mustNots := make([]any, 0, len(excludes))
			for _, kw := range excludes {
				mustNots = append(mustNots, map[string]any{"match_phrase": map[string]any{"productName": kw}})
			}
			mustClauses = append(mustClauses, map[string]any{
				"bool": map[string]any{"must_not": mustNots},
			})
		}

		filterQuery := map[string]any{
			"size":    searchK,
			"_source": sourceFieldsVector,
			"query": map[string]any{
				"bool": map[string]any{
					"must": mustClauses,
					"filter": []any{
						map[string]any{"terms": map[string]any{"category": related}},
					},
				},
			},
		}

		resp, err := s.client.Search(ctx, s.indexName, filterQuery)
		if err != nil {
			// The unfiltered search below still runs; a failed attribute
			// query degrades to pure vector results.
			s.log.Warn("Attribute filter query failed", "error", err)
		} else {
			for _, hit := range resp.Hits.Hits {
				c := candidateFromHit(hit)
				c.RetrievalScore = Cosine(embedding, hit.Source.ImageVector)
				attributeResults = append(attributeResults, c)
			}
			sort.SliceStable(attributeResults, func(i, j int) bool {
				return attributeResults[i].RetrievalScore > attributeResults[j].RetrievalScore
			})
			s.log.Info("Attribute filter matched", "count", len(attributeResults), "brand", hints.Brand, "color", hints.Color)
		}
	}

	vectorQuery := map[string]any{
		"size":  searchK,
		"query": knnQuery(embedding, searchK),
	}
	vresp, err := s.client.Search(ctx, s.indexName, vectorQuery)
	if err != nil {
		return nil, err
	}
	var vectorResults []Candidate
	for _, hit := range vresp.Hits.Hits {
		if !categoryInSet(hit.Source.Category, related) {
			continue
		}
		vectorResults = append(vectorResults, candidateFromHit(hit))
	}

	out := make([]Candidate, 0, k)
	seen := map[string]bool{}
	for _, c := range attributeResults {
		if seen[c.ProductID] {
			continue
		}
		out = append(out, c)
		seen[c.ProductID] = true
		if len(out) >= k {
			return out, nil
		}
	}
	for _, c := range vectorResults {
		if seen[c.ProductID] {
			continue
		}
		out = append(out, c)
		seen[c.ProductID] = true
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// VectorThenFilter retrieves broadly by vector, drops out-of-bucket and
// excluded-type hits, then partitions the rest into priority tiers:
// brand+color match above brand-only above color-only above neither.
// Tier-ordered, score-ordered within tier.
func (s *Strategies) VectorThenFilter(ctx context.Context, embedding []float32, category string, hints AttributeHints, k, searchK int) ([]Candidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if searchK <= 0 {
		searchK = WideSearchK
	}
	related := RelatedCategories(category)
	colors := searchColors(hints)
	excludes := itemTypeExclusions(hints.ItemType)

	query := map[string]any{
		"size":    searchK,
		"_source": append(append([]string{}, sourceFieldsBase...), "attributes.colors"),
		"query":   knnQuery(embedding, searchK),
	}
	resp, err := s.client.Search(ctx, s.indexName, query)
	if err != nil {
		return nil, err
	}

	type tiered struct {
		c        Candidate
		priority int
	}
	var boosted []tiered
	var rest []Candidate

	for _, hit := range resp.Hits.Hits {
		if !categoryInSet(hit.Source.Category, related) {
			continue
		}
		name := strings.ToLower(hit.Source.ProductName)
		if containsAny(name, excludes) {
			continue
		}
		c := candidateFromHit(hit)

		brandMatch := hints.HasBrand() &&
			(strings.Contains(strings.ToLower(hit.Source.Brand), hints.Brand) || strings.Contains(name, hints.Brand))
		colorMatch := len(colors) > 0 && anyColorIn(colors, hit.Source.Attributes.Colors)

		switch {
		case brandMatch && colorMatch:
			boosted = append(boosted, tiered{c, 3})
		case brandMatch:
			boosted = append(boosted, tiered{c, 2})
		case colorMatch:
			boosted = append(boosted, tiered{c, 1})
		default:
			rest = append(rest, c)
		}
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		if boosted[i].priority != boosted[j].priority {
			return boosted[i].priority > boosted[j].priority
		}
		return boosted[i].c.RetrievalScore > boosted[j].c.RetrievalScore
	})

	out := make([]Candidate, 0, k)
	for _, t := range boosted {
		out = append(out, t.c)
		if len(out) >= k {
			return out, nil
		}
	}
	for _, c := range rest {
		out = append(out, c)
		if len(out) >= k {
			break
		}
	}
	s.log.Info("Vector-then-filter", "boosted", len(boosted), "others", len(rest), "returned", len(out))
	return out, nil
}

// BrandVectorColor filters by brand and category first (the widest brand
// net), ranks by in-process cosine similarity, then applies a final
// color-name substring filter with the conflicting-color exclusion list.
func (s *Strategies) BrandVectorColor(ctx context.Context, embedding []float32, category string, hints AttributeHints, k, searchK int) ([]Candidate, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if searchK <= 0 {
		searchK = DefaultSearchK
	}
	related := RelatedCategories(category)

	mustClauses := []any{}
	if hints.HasBrand() {
		mustClauses = append(mustClauses, brandClause(hints.Brand))
	} else {
		mustClauses = append(mustClauses, map[string]any{"match_all": map[string]any{}})
	}

	mustNots := []any{}
	for _, kw := range itemTypeExclusions(hints.ItemType) {
		mustNots = append(mustNots, map[string]any{"match_phrase": map[string]any{"productName": kw}})
	}

	query := map[string]any{
		"size":    searchK,
		"_source": sourceFieldsVector,
		"query": map[string]any{
			"bool": map[string]any{
				"must":     mustClauses,
				"must_not": mustNots,
				"filter": []any{
					map[string]any{"terms": map[string]any{"category": related}},
				},
			},
		},
	}

	resp, err := s.client.Search(ctx, s.indexName, query)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		c := candidateFromHit(hit)
		c.RetrievalScore = Cosine(embedding, hit.Source.ImageVector)
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RetrievalScore > candidates[j].RetrievalScore
	})

	if hints.Color == "" {
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	keywords := ColorKeywords(hints.Color)
	conflicts := ConflictingColors(hints.Color)

	filtered := make([]Candidate, 0, k)
	for _, c := range candidates {
		name := strings.ToLower(c.Name)
		if !containsAny(name, keywords) {
			continue
		}
		if containsAny(name, conflicts) {
			continue
		}
		filtered = append(filtered, c)
		if len(filtered) >= k {
			break
		}
	}
	s.log.Info("Brand-vector-color", "brand", hints.Brand, "color", hints.Color, "returned", len(filtered))
	return filtered, nil
}

// ---------- helpers ----------

func knnQuery(embedding []float32, k int) map[string]any {
	return map[string]any{
		"knn": map[string]any{
			"image_vector": map[string]any{
				"vector": embedding,
				"k":      k,
			},
		},
	}
}

func brandClause(brand string) map[string]any {
	return map[string]any{
		"bool": map[string]any{
			"should": []any{
				map[string]any{"wildcard": map[string]any{"brand": "*" + brand + "*"}},
				map[string]any{"match": map[string]any{"productName": brand}},
			},
		},
	}
}

func searchColors(hints AttributeHints) []string {
	var colors []string
	if hints.Color != "" {
		colors = append(colors, hints.Color)
	}
	if hints.SecondaryColor != "" && hints.SecondaryColor != hints.Color {
		colors = append(colors, hints.SecondaryColor)
	}
	return colors
}

func anyColorIn(search []string, productColors []string) bool {
	for _, s := range search {
		for _, pc := range productColors {
			if strings.EqualFold(s, pc) {
				return true
			}
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func candidateFromHit(hit opensearch.Hit) Candidate {
	return Candidate{
		ProductID:       hit.Source.ItemID,
		Name:            hit.Source.ProductName,
		Brand:           hit.Source.Brand,
		Category:        hit.Source.Category,
		Price:           hit.Source.Price,
		ImageURL:        hit.Source.ImageURL,
		ProductURL:      hit.Source.ProductURL,
		RetrievalScore:  hit.Score,
		Colors:          hit.Source.Attributes.Colors,
		Pattern:         hit.Source.Attributes.Pattern,
		StyleVibe:       hit.Source.Attributes.StyleVibe,
		SleeveLength:    hit.Source.Attributes.SleeveLength,
		Materials:       hit.Source.Attributes.Materials,
		StoredEmbedding: hit.Source.ImageVector,
	}
}
