package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	img "github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/clients/opensearch"
	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/repos"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/services"
	"github.com/yungbote/stylelens-backend/internal/types"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	canvas := img.New(200, 200, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	if err := img.Encode(&buf, canvas, img.JPEG); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

// ---------- fakes ----------

type fakeDetector struct {
	detections []gcp.Detection
	err        error
}

func (f *fakeDetector) DetectObjects(ctx context.Context, imgBytes []byte) ([]gcp.Detection, error) {
	return f.detections, f.err
}
func (f *fakeDetector) Close() error { return nil }

type fakeImages struct {
	img         []byte
	downloadErr error
}

func (f *fakeImages) Download(ctx context.Context, ref string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.img, nil
}
func (f *fakeImages) UploadCrop(ctx context.Context, jobID string, itemIndex int, category string, imgBytes []byte) (string, error) {
	return "https://storage.googleapis.com/test-bucket/cropped/" + jobID + "/" + category + ".jpg", nil
}
func (f *fakeImages) Close() error { return nil }

type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failCalls map[int]bool
	failAll   bool
	transient bool
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, imgBytes []byte) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failAll || f.failCalls[call] {
		if f.transient {
			return nil, apperr.External("embedding", "embed_image", "request failed", errors.New("connection refused"))
		}
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{1, 0}, nil
}
func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{0, 1}, nil
}
func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeTracker struct {
	mu        sync.Mutex
	statuses  []string
	progress  []int
	results   []any
	completed int
	kv        map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{kv: map[string]string{}}
}

func (f *fakeTracker) SetStatus(ctx context.Context, jobID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}
func (f *fakeTracker) GetStatus(ctx context.Context, jobID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "", false
	}
	return f.statuses[len(f.statuses)-1], true
}
func (f *fakeTracker) SetProgress(ctx context.Context, jobID string, p int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
}
func (f *fakeTracker) GetProgress(ctx context.Context, jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progress) == 0 {
		return 0
	}
	return f.progress[len(f.progress)-1]
}
func (f *fakeTracker) SetResult(ctx context.Context, jobID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, data)
}
func (f *fakeTracker) GetResult(ctx context.Context, jobID string) ([]byte, bool) { return nil, false }
func (f *fakeTracker) IncrCompleted(ctx context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
}
func (f *fakeTracker) Set(ctx context.Context, key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value
}
func (f *fakeTracker) Get(ctx context.Context, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok
}
func (f *fakeTracker) Close() error { return nil }

func (f *fakeTracker) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeTracker) sawProgress(want int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.progress {
		if p == want {
			return true
		}
	}
	return false
}

type fakeSearchClient struct {
	resp *opensearch.SearchResponse
	err  error
}

func (f *fakeSearchClient) Search(ctx context.Context, indexName string, query map[string]any) (*opensearch.SearchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func searchHit(id, name, brand, category string, score float64) opensearch.Hit {
	h := opensearch.Hit{Score: score}
	h.Source.ItemID = id
	h.Source.ProductName = name
	h.Source.Brand = brand
	h.Source.Category = category
	return h
}

// ---------- harness ----------

type harness struct {
	db       *gorm.DB
	tracker  *fakeTracker
	detector *fakeDetector
	images   *fakeImages
	embedder *fakeEmbedder
	orch     *Orchestrator
}

func newHarness(t *testing.T, detections []gcp.Detection, searchResp *opensearch.SearchResponse) *harness {
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

	log := testLogger()
	jobRepo := repos.NewAnalysisJobRepo(db, log)
	itemRepo := repos.NewDetectedItemRepo(db, log)
	productRepo := repos.NewProductRepo(db, log)
	mappingRepo := repos.NewItemProductMappingRepo(db, log)

	h := &harness{
		db:       db,
		tracker:  newFakeTracker(),
		detector: &fakeDetector{detections: detections},
		images:   &fakeImages{img: testJPEG(t)},
		embedder: &fakeEmbedder{},
	}
	strategies := search.NewStrategies(log, &fakeSearchClient{resp: searchResp}, "test_idx")
	catalog := services.NewCatalogService(db, log, itemRepo, productRepo, mappingRepo)

	h.orch = NewOrchestrator(
		log, db, jobRepo, itemRepo, mappingRepo, h.tracker,
		h.detector, h.images, h.embedder, nil, nil,
		strategies, catalog, 1, time.Minute,
	)
	return h
}

func (h *harness) createJob(t *testing.T) uuid.UUID {
	t.Helper()
	job := &types.AnalysisJob{SourceImageURL: "gs://bucket/src.jpg", Status: types.JobStatusPending}
	if err := h.db.Create(job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job.ID
}

func twoDetections() []gcp.Detection {
	return []gcp.Detection{
		{Category: "top", Box: gcp.BBox{XMin: 100, YMin: 100, XMax: 500, YMax: 500}, Confidence: 0.9},
		{Category: "shoes", Box: gcp.BBox{XMin: 550, YMin: 550, XMax: 900, YMax: 900}, Confidence: 0.8},
	}
}

func catalogResponse() *opensearch.SearchResponse {
	resp := &opensearch.SearchResponse{}
	resp.Hits.Hits = []opensearch.Hit{
		searchHit("100", "블랙 후드", "nike", "top", 0.95),
		searchHit("200", "화이트 스니커즈", "adidas", "shoes", 0.90),
	}
	return resp
}

// ---------- tests ----------

func TestRunAnalysisHappyPath(t *testing.T) {
	h := newHarness(t, twoDetections(), catalogResponse())
	jobID := h.createJob(t)

	res, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if res.ItemCount != 2 || res.SucceededCount != 2 {
		t.Fatalf("result: got=%+v", res)
	}
	if res.LinkCount != 2 {
		t.Fatalf("links: want=2 got=%d", res.LinkCount)
	}

	var job types.AnalysisJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != types.JobStatusDone {
		t.Fatalf("job status: want=DONE got=%s", job.Status)
	}
	if job.ProgressPercent != 100 || job.ItemCount != 2 || job.SucceededCount != 2 {
		t.Fatalf("job fields: got=%+v", job)
	}

	for _, p := range []int{10, 20, 90, 100} {
		if !h.tracker.sawProgress(p) {
			t.Fatalf("missing progress write %d, got=%v", p, h.tracker.progress)
		}
	}
	if got := h.tracker.lastStatus(); got != types.JobStatusDone {
		t.Fatalf("tracker status: want=DONE got=%s", got)
	}
	if h.tracker.completed != 2 {
		t.Fatalf("completed increments: want=2 got=%d", h.tracker.completed)
	}

	var itemCount int64
	h.db.Model(&types.DetectedItem{}).Where("job_id = ?", jobID).Count(&itemCount)
	if itemCount != 2 {
		t.Fatalf("detected items: want=2 got=%d", itemCount)
	}
	var mappingCount int64
	h.db.Model(&types.ItemProductMapping{}).Count(&mappingCount)
	if mappingCount != 2 {
		t.Fatalf("mappings: want=2 got=%d", mappingCount)
	}
}

func TestRunAnalysisNoDetections(t *testing.T) {
	h := newHarness(t, nil, catalogResponse())
	jobID := h.createJob(t)

	res, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if res.ItemCount != 0 || res.SucceededCount != 0 {
		t.Fatalf("result: got=%+v", res)
	}

	var job types.AnalysisJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != types.JobStatusDone || job.ProgressPercent != 100 {
		t.Fatalf("job: got status=%s progress=%d", job.Status, job.ProgressPercent)
	}

	var itemCount int64
	h.db.Model(&types.DetectedItem{}).Count(&itemCount)
	if itemCount != 0 {
		t.Fatalf("detected items: want=0 got=%d", itemCount)
	}
	if h.embedder.calls != 0 {
		t.Fatalf("no workers should run, embed calls=%d", h.embedder.calls)
	}
}

func TestRunAnalysisDetectorFailureFailsJob(t *testing.T) {
	h := newHarness(t, nil, catalogResponse())
	h.detector.err = errors.New("vision unavailable")
	jobID := h.createJob(t)

	_, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err == nil {
		t.Fatal("want error")
	}

	var job types.AnalysisJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != types.JobStatusFailed {
		t.Fatalf("job status: want=FAILED got=%s", job.Status)
	}
	if got := h.tracker.lastStatus(); got != types.JobStatusFailed {
		t.Fatalf("tracker status: want=FAILED got=%s", got)
	}
}

func TestRunAnalysisPartialFailureStillCompletes(t *testing.T) {
	h := newHarness(t, twoDetections(), catalogResponse())
	// Concurrency 1 runs items in order; the first embed call belongs to the
	// first item.
	h.embedder.failCalls = map[int]bool{1: true}
	jobID := h.createJob(t)

	res, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if res.ItemCount != 2 || res.SucceededCount != 1 {
		t.Fatalf("result: got=%+v", res)
	}

	var job types.AnalysisJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != types.JobStatusDone || job.SucceededCount != 1 {
		t.Fatalf("job: got status=%s succeeded=%d", job.Status, job.SucceededCount)
	}

	// Both detections persist; only the survivor carries mappings.
	var items []types.DetectedItem
	if err := h.db.Where("job_id = ?", jobID).Order("category").Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("detected items: want=2 got=%d", len(items))
	}
	var mappingCount int64
	h.db.Model(&types.ItemProductMapping{}).Count(&mappingCount)
	if mappingCount != 1 {
		t.Fatalf("mappings: want=1 got=%d", mappingCount)
	}

	// The failed item keeps its detect-time box, normalized from 0-1000 space.
	var failed types.DetectedItem
	if err := h.db.Where("job_id = ? AND category = ?", jobID, "top").First(&failed).Error; err != nil {
		t.Fatalf("failed item not persisted: %v", err)
	}
	if failed.BBoxX1 != 0.1 || failed.BBoxY1 != 0.1 || failed.BBoxX2 != 0.5 || failed.BBoxY2 != 0.5 {
		t.Fatalf("failed item bbox: got=(%f,%f,%f,%f)", failed.BBoxX1, failed.BBoxY1, failed.BBoxX2, failed.BBoxY2)
	}
	var failedMappings int64
	h.db.Model(&types.ItemProductMapping{}).Where("detected_item_id = ?", failed.ID).Count(&failedMappings)
	if failedMappings != 0 {
		t.Fatalf("failed item mappings: want=0 got=%d", failedMappings)
	}

	if h.tracker.completed != 2 {
		t.Fatalf("completed increments: want=2 got=%d", h.tracker.completed)
	}
}

func TestRunAnalysisRetriesTransientEmbedFailure(t *testing.T) {
	h := newHarness(t, twoDetections(), catalogResponse())
	h.embedder.failCalls = map[int]bool{1: true}
	h.embedder.transient = true
	jobID := h.createJob(t)

	res, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if res.SucceededCount != 2 {
		t.Fatalf("succeeded: want=2 got=%d", res.SucceededCount)
	}
	// First item: failed attempt plus retry; second item: one call.
	if h.embedder.calls != 3 {
		t.Fatalf("embed calls: want=3 got=%d", h.embedder.calls)
	}
}

func TestRunAnalysisAllItemsFailFailsJob(t *testing.T) {
	h := newHarness(t, twoDetections(), catalogResponse())
	h.embedder.failAll = true
	jobID := h.createJob(t)

	_, err := h.orch.RunAnalysis(context.Background(), jobID, "gs://bucket/src.jpg")
	if err == nil {
		t.Fatal("want error when every item fails")
	}

	var job types.AnalysisJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != types.JobStatusFailed {
		t.Fatalf("job status: want=FAILED got=%s", job.Status)
	}

	// The detections still land as rows, just without mappings.
	var itemCount int64
	h.db.Model(&types.DetectedItem{}).Where("job_id = ?", jobID).Count(&itemCount)
	if itemCount != 2 {
		t.Fatalf("detected items: want=2 got=%d", itemCount)
	}
	var mappingCount int64
	h.db.Model(&types.ItemProductMapping{}).Count(&mappingCount)
	if mappingCount != 0 {
		t.Fatalf("mappings: want=0 got=%d", mappingCount)
	}
}

func TestRunRefineReplacesMappings(t *testing.T) {
	h := newHarness(t, nil, catalogResponse())
	jobID := h.createJob(t)

	item := &types.DetectedItem{
		JobID:      jobID,
		Category:   "top",
		BBoxX1:     0.1, BBoxY1: 0.1, BBoxX2: 0.5, BBoxY2: 0.5,
		Confidence: 0.9,
	}
	if err := h.db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	oldProduct := &types.Product{
		BrandName: "old", ProductName: "old", Category: "top",
		ProductURL: "https://www.musinsa.com/products/999",
	}
	if err := h.db.Create(oldProduct).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	oldMapping := &types.ItemProductMapping{
		DetectedItemID: item.ID, ProductID: oldProduct.ID, ConfidenceScore: 0.5,
	}
	if err := h.db.Create(oldMapping).Error; err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	err := h.orch.RunRefine(context.Background(), "refine-1", []uuid.UUID{item.ID}, RefineQuery{})
	if err != nil {
		t.Fatalf("RunRefine: %v", err)
	}

	var old types.ItemProductMapping
	if err := h.db.First(&old, "id = ?", oldMapping.ID).Error; err != nil {
		t.Fatalf("load old mapping: %v", err)
	}
	if !old.Invalidated {
		t.Fatal("old mapping should be invalidated")
	}

	var fresh []types.ItemProductMapping
	if err := h.db.Where("detected_item_id = ? AND invalidated = ?", item.ID, false).Find(&fresh).Error; err != nil {
		t.Fatalf("load new mappings: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("new mappings: want=1 got=%d", len(fresh))
	}

	if got, _ := h.tracker.Get(context.Background(), "refine:refine-1:status"); got != types.JobStatusDone {
		t.Fatalf("refine status: want=DONE got=%s", got)
	}
	if got, _ := h.tracker.Get(context.Background(), "refine:refine-1:total_mappings"); got != "1" {
		t.Fatalf("total_mappings: want=1 got=%s", got)
	}
	if got, _ := h.tracker.Get(context.Background(), "refine:refine-1:success_count"); got != "1" {
		t.Fatalf("success_count: want=1 got=%s", got)
	}
}

func TestRunRefineAppliesFilters(t *testing.T) {
	resp := &opensearch.SearchResponse{}
	resp.Hits.Hits = []opensearch.Hit{
		searchHit("100", "블랙 후드", "nike", "top", 0.95),
		searchHit("200", "화이트 티셔츠", "adidas", "top", 0.90),
	}
	resp.Hits.Hits[0].Source.Attributes.Colors = []string{"black"}
	resp.Hits.Hits[1].Source.Attributes.Colors = []string{"white"}

	h := newHarness(t, nil, resp)
	jobID := h.createJob(t)
	item := &types.DetectedItem{
		JobID:      jobID,
		Category:   "top",
		BBoxX1:     0.1, BBoxY1: 0.1, BBoxX2: 0.5, BBoxY2: 0.5,
		Confidence: 0.9,
	}
	if err := h.db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	err := h.orch.RunRefine(context.Background(), "refine-2", []uuid.UUID{item.ID}, RefineQuery{ColorFilter: "black"})
	if err != nil {
		t.Fatalf("RunRefine: %v", err)
	}

	var fresh []types.ItemProductMapping
	if err := h.db.Where("detected_item_id = ? AND invalidated = ?", item.ID, false).Find(&fresh).Error; err != nil {
		t.Fatalf("load mappings: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("filtered mappings: want=1 got=%d", len(fresh))
	}

	var p types.Product
	if err := h.db.First(&p, "id = ?", fresh[0].ProductID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if p.ProductURL != "https://www.musinsa.com/products/100" {
		t.Fatalf("wrong product linked: %s", p.ProductURL)
	}
}
