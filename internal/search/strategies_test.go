package search

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/yungbote/stylelens-backend/internal/clients/opensearch"
	"github.com/yungbote/stylelens-backend/internal/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// fakeSearchClient replays canned responses in call order.
type fakeSearchClient struct {
	responses []*opensearch.SearchResponse
	errs      []error
	queries   []map[string]any
}

func (f *fakeSearchClient) Search(ctx context.Context, indexName string, query map[string]any) (*opensearch.SearchResponse, error) {
	i := len(f.queries)
	f.queries = append(f.queries, query)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) && f.responses[i] != nil {
		return f.responses[i], nil
	}
	return &opensearch.SearchResponse{}, nil
}

func hit(id, name, brand, category string, score float64, colors ...string) opensearch.Hit {
	h := opensearch.Hit{Score: score}
	h.Source.ItemID = id
	h.Source.ProductName = name
	h.Source.Brand = brand
	h.Source.Category = category
	h.Source.Attributes.Colors = colors
	return h
}

func response(hits ...opensearch.Hit) *opensearch.SearchResponse {
	resp := &opensearch.SearchResponse{}
	resp.Hits.Hits = hits
	return resp
}

func ids(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.ProductID)
	}
	return out
}

func assertIDs(t *testing.T, got []Candidate, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("ids: want=%v got=%v", want, gotIDs)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("ids: want=%v got=%v", want, gotIDs)
		}
	}
}

func TestByVectorRequiresEmbedding(t *testing.T) {
	s := NewStrategies(testLogger(), &fakeSearchClient{}, "idx")
	if _, err := s.ByVector(context.Background(), nil, 5); err == nil {
		t.Fatal("want error for empty embedding")
	}
}

func TestHybridCategoryFilterKeepsRelatedBucket(t *testing.T) {
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("d1", "원피스", "b", "dress", 0.9),
		hit("p1", "팬츠", "b", "pants", 0.8),
		hit("d2", "드레스", "b", "dress", 0.7),
		hit("s1", "스니커즈", "b", "shoes", 0.6),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	// The skirt bucket folds into dress; everything else drops.
	got, err := s.HybridCategoryFilter(context.Background(), []float32{1}, "skirt", 5, 100)
	if err != nil {
		t.Fatalf("HybridCategoryFilter: %v", err)
	}
	assertIDs(t, got, "d1", "d2")
}

func TestHybridCategoryFilterTruncatesToK(t *testing.T) {
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("a", "n", "b", "shoes", 0.9),
		hit("b", "n", "b", "shoes", 0.8),
		hit("c", "n", "b", "shoes", 0.7),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	got, err := s.HybridCategoryFilter(context.Background(), []float32{1}, "shoes", 2, 100)
	if err != nil {
		t.Fatalf("HybridCategoryFilter: %v", err)
	}
	assertIDs(t, got, "a", "b")
}

func TestVectorThenFilterTierOrdering(t *testing.T) {
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("rest", "러닝화", "adidas", "shoes", 0.9, "red"),
		hit("color", "러닝화", "puma", "shoes", 0.8, "black"),
		hit("brand", "나이키 러닝화", "nike", "shoes", 0.7, "red"),
		hit("both", "나이키 러닝화", "nike", "shoes", 0.6, "black"),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	hints := AttributeHints{Brand: "nike", Color: "black"}
	got, err := s.VectorThenFilter(context.Background(), []float32{1}, "shoes", hints, 5, 100)
	if err != nil {
		t.Fatalf("VectorThenFilter: %v", err)
	}
	assertIDs(t, got, "both", "brand", "color", "rest")
}

func TestVectorThenFilterDropsExcludedItemTypes(t *testing.T) {
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("keep", "나이키 스니커즈", "nike", "shoes", 0.9),
		hit("drop", "나이키 슬리퍼", "nike", "shoes", 0.8),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	hints := AttributeHints{ItemType: "sneakers"}
	got, err := s.VectorThenFilter(context.Background(), []float32{1}, "shoes", hints, 5, 100)
	if err != nil {
		t.Fatalf("VectorThenFilter: %v", err)
	}
	assertIDs(t, got, "keep")
}

func TestBrandVectorColorFiltersByColorKeywords(t *testing.T) {
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("match", "나이키 블랙 스니커즈", "nike", "shoes", 0),
		hit("conflict", "나이키 블랙 화이트 스니커즈", "nike", "shoes", 0),
		hit("nocolor", "나이키 스니커즈", "nike", "shoes", 0),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	hints := AttributeHints{Brand: "nike", Color: "black"}
	got, err := s.BrandVectorColor(context.Background(), []float32{1}, "shoes", hints, 5, 100)
	if err != nil {
		t.Fatalf("BrandVectorColor: %v", err)
	}
	// The colorway listing mentions white and conflicts with a black query;
	// the colorless name has no keyword at all.
	assertIDs(t, got, "match")
}

func TestWithAttributesMergesAndDedupes(t *testing.T) {
	attrHit1 := hit("p1", "n1", "nike", "shoes", 0)
	attrHit1.Source.ImageVector = []float32{0, 1}
	attrHit2 := hit("p2", "n2", "nike", "shoes", 0)
	attrHit2.Source.ImageVector = []float32{1, 0}

	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{
		response(attrHit1, attrHit2),
		response(
			hit("p2", "n2", "nike", "shoes", 0.9),
			hit("p3", "n3", "puma", "shoes", 0.8),
		),
	}}
	s := NewStrategies(testLogger(), fake, "idx")

	hints := AttributeHints{Brand: "nike", Color: "black"}
	got, err := s.WithAttributes(context.Background(), []float32{1, 0}, "shoes", hints, 5, 100)
	if err != nil {
		t.Fatalf("WithAttributes: %v", err)
	}
	// Attribute hits first, cosine-sorted (p2 aligns with the query), then
	// vector hits with the duplicate p2 removed.
	assertIDs(t, got, "p2", "p1", "p3")
}

func TestWithAttributesDegradesWhenFilterQueryFails(t *testing.T) {
	fake := &fakeSearchClient{
		errs: []error{errors.New("filter query rejected")},
		responses: []*opensearch.SearchResponse{
			nil,
			response(hit("v1", "n", "b", "shoes", 0.9)),
		},
	}
	s := NewStrategies(testLogger(), fake, "idx")

	hints := AttributeHints{Brand: "nike", Color: "black"}
	got, err := s.WithAttributes(context.Background(), []float32{1}, "shoes", hints, 5, 100)
	if err != nil {
		t.Fatalf("WithAttributes should tolerate a failed filter query: %v", err)
	}
	assertIDs(t, got, "v1")
}

func TestRetrieveDispatch(t *testing.T) {
	// Without a category the pure vector path runs and applies no filtering.
	fake := &fakeSearchClient{responses: []*opensearch.SearchResponse{response(
		hit("a", "n", "b", "whatever", 0.9),
	)}}
	s := NewStrategies(testLogger(), fake, "idx")

	got, err := s.Retrieve(context.Background(), []float32{1}, "", AttributeHints{}, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	assertIDs(t, got, "a")
	if len(fake.queries) != 1 {
		t.Fatalf("queries: want=1 got=%d", len(fake.queries))
	}
}

func TestCanonicalCategory(t *testing.T) {
	cases := map[string]string{
		"bottom":    "pants",
		"outerwear": "outer",
		"Shoes":     "shoes",
		"dress":     "dress",
	}
	for in, want := range cases {
		if got := CanonicalCategory(in); got != want {
			t.Fatalf("CanonicalCategory(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestRelatedCategoriesUnknownMatchesItself(t *testing.T) {
	got := RelatedCategories("scarf")
	if len(got) != 1 || got[0] != "scarf" {
		t.Fatalf("want=[scarf] got=%v", got)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("identical vectors: want=1 got=%f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: want=0 got=%f", got)
	}
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Fatalf("empty vector: want=0 got=%f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("mismatched lengths: want=0 got=%f", got)
	}
}
