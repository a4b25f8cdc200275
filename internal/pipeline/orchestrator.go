package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/stylelens-backend/internal/clients/attrs"
	"github.com/yungbote/stylelens-backend/internal/clients/caption"
	"github.com/yungbote/stylelens-backend/internal/clients/embedding"
	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/clients/redis"
	"github.com/yungbote/stylelens-backend/internal/imaging"
	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
	"github.com/yungbote/stylelens-backend/internal/repos"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/services"
	"github.com/yungbote/stylelens-backend/internal/types"
)

const (
	DefaultMaxConcurrency = 4
	DefaultJobTimeout     = 10 * time.Minute
)

// Result summarizes a finished analysis run.
type Result struct {
	ItemCount      int
	SucceededCount int
	LinkCount      int
}

// Orchestrator drives a whole analysis job: download, detect, fan out the
// per-item sub-pipelines, persist, and mirror progress into the job tracker.
type Orchestrator struct {
	log     *logger.Logger
	db      *gorm.DB
	jobs    repos.AnalysisJobRepo
	items   repos.DetectedItemRepo
	mapping repos.ItemProductMappingRepo
	tracker redis.JobTracker

	detector   gcp.Detector
	images     gcp.ImageStore
	embed      embedding.Client
	strategies *search.Strategies
	catalog    services.CatalogService
	worker     *itemWorker

	maxConcurrency int
	jobTimeout     time.Duration
}

func NewOrchestrator(
	baseLog *logger.Logger,
	db *gorm.DB,
	jobs repos.AnalysisJobRepo,
	items repos.DetectedItemRepo,
	mapping repos.ItemProductMappingRepo,
	tracker redis.JobTracker,
	detector gcp.Detector,
	images gcp.ImageStore,
	embed embedding.Client,
	captioner caption.Client,
	attrsClient attrs.Client,
	strategies *search.Strategies,
	catalog services.CatalogService,
	maxConcurrency int,
	jobTimeout time.Duration,
) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Orchestrator{
		log:            baseLog.With("component", "Orchestrator"),
		db:             db,
		jobs:           jobs,
		items:          items,
		mapping:        mapping,
		tracker:        tracker,
		detector:       detector,
		images:         images,
		embed:          embed,
		strategies:     strategies,
		catalog:        catalog,
		worker:         newItemWorker(baseLog, images, embed, captioner, attrsClient, strategies),
		maxConcurrency: maxConcurrency,
		jobTimeout:     jobTimeout,
	}
}

// RunAnalysis processes one job end to end. Individual item failures degrade
// the result; the job only fails when the source image cannot be fetched, the
// detector fails, every item fails, or persistence fails.
func (o *Orchestrator) RunAnalysis(ctx context.Context, jobID uuid.UUID, imageRef string) (Result, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()

	id := jobID.String()
	o.tracker.SetStatus(ctx, id, types.JobStatusRunning)
	o.setProgress(ctx, jobID, 0)
	o.updateJob(ctx, jobID, map[string]interface{}{"status": types.JobStatusRunning})

	img, err := o.images.Download(ctx, imageRef)
	if err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("download source image: %w", err))
	}
	o.setProgress(ctx, jobID, 10)

	detections, err := o.detector.DetectObjects(ctx, img)
	if err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("detect objects: %w", err))
	}
	o.setProgress(ctx, jobID, 20)
	o.log.Info("Detection complete", "job_id", id, "items", len(detections))

	if len(detections) == 0 {
		o.tracker.SetResult(ctx, id, map[string]any{"items": []any{}})
		o.complete(ctx, jobID, Result{})
		return Result{}, nil
	}
	o.updateJob(ctx, jobID, map[string]interface{}{"item_count": len(detections)})

	results := make([]*services.ItemResult, len(detections))
	itemErrs := make([]error, len(detections))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)
	for i, det := range detections {
		g.Go(func() error {
			res, err := o.worker.Process(gctx, id, i, img, det)
			o.tracker.IncrCompleted(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.log.Error("Item processing failed",
					"job_id", id, "item_index", i, "category", det.Category, "error", err.Error())
				itemErrs[i] = err
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return o.fail(ctx, jobID, err)
	}

	// Every detection persists as a DetectedItem row; items whose sub-pipeline
	// failed keep their detect-time box and confidence and simply carry no
	// matches. Boxes are in 0-1000 space, so a 1000x1000 frame normalizes them
	// without re-decoding the image.
	persisted := make([]services.ItemResult, len(detections))
	succeeded := 0
	var failures []error
	for i, det := range detections {
		if results[i] != nil {
			persisted[i] = *results[i]
			succeeded++
			continue
		}
		failures = append(failures, itemErrs[i])
		persisted[i] = services.ItemResult{
			Index:    i,
			Category: search.CanonicalCategory(det.Category),
			Box: imaging.PixelBox{
				XMin: det.Box.XMin, YMin: det.Box.YMin,
				XMax: det.Box.XMax, YMax: det.Box.YMax,
				ImageWidth: 1000, ImageHeight: 1000,
			},
			Confidence: det.Confidence,
		}
	}

	o.setProgress(ctx, jobID, 90)
	links, err := o.catalog.UpsertAndLink(ctx, jobID, persisted)
	if err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("persist results: %w", err))
	}

	// Items are on record either way; with zero survivors there is nothing to
	// show, so the job itself reports failure even though it never timed out.
	if succeeded == 0 {
		return o.fail(ctx, jobID, fmt.Errorf("all %d items failed: %w", len(detections), errors.Join(failures...)))
	}

	res := Result{
		ItemCount:      len(detections),
		SucceededCount: succeeded,
		LinkCount:      links,
	}
	o.tracker.SetResult(ctx, id, resultPayload(persisted))
	o.complete(ctx, jobID, res)

	if len(failures) > 0 {
		o.log.Warn("Analysis finished with partial failures",
			"job_id", id, "failed", len(failures), "total", len(detections),
			"error", (&apperr.PartialFailure{Failed: len(failures), Total: len(detections)}).Error())
	}
	return res, nil
}

func (o *Orchestrator) setProgress(ctx context.Context, jobID uuid.UUID, progress int) {
	o.tracker.SetProgress(ctx, jobID.String(), progress)
	o.updateJob(ctx, jobID, map[string]interface{}{"progress_percent": progress})
}

func (o *Orchestrator) complete(ctx context.Context, jobID uuid.UUID, res Result) {
	id := jobID.String()
	o.tracker.SetProgress(ctx, id, 100)
	o.tracker.SetStatus(ctx, id, types.JobStatusDone)
	o.updateJob(ctx, jobID, map[string]interface{}{
		"status":           types.JobStatusDone,
		"progress_percent": 100,
		"item_count":       res.ItemCount,
		"succeeded_count":  res.SucceededCount,
	})
	o.log.Info("Analysis complete",
		"job_id", id, "items", res.ItemCount, "succeeded", res.SucceededCount, "links", res.LinkCount)
}

func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, err error) (Result, error) {
	id := jobID.String()
	o.log.Error("Analysis failed", "job_id", id, "error", err.Error())
	o.tracker.SetStatus(ctx, id, types.JobStatusFailed)
	o.tracker.SetResult(ctx, id, map[string]any{"error": err.Error()})
	o.updateJob(ctx, jobID, map[string]interface{}{"status": types.JobStatusFailed})
	return Result{}, err
}

// updateJob mirrors tracker state into the job row. Persistence of progress is
// best-effort; the tracker remains the live source for polling.
func (o *Orchestrator) updateJob(ctx context.Context, jobID uuid.UUID, updates map[string]interface{}) {
	if err := o.jobs.UpdateFields(ctx, nil, jobID, updates); err != nil {
		o.log.Warn("Job row update failed", "job_id", jobID.String(), "error", err.Error())
	}
}

// resultPayload is the shape cached in the tracker for polling clients.
func resultPayload(results []services.ItemResult) map[string]any {
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		x1, y1, x2, y2 := r.Box.Normalized()
		matches := make([]map[string]any, 0, len(r.Matches))
		for _, m := range r.Matches {
			matches = append(matches, map[string]any{
				"product_id":  m.ProductID,
				"name":        m.Name,
				"brand":       m.Brand,
				"price":       m.Price,
				"image_url":   m.ImageURL,
				"product_url": m.ProductURL,
				"score":       m.CombinedScore,
			})
		}
		items = append(items, map[string]any{
			"index":       r.Index,
			"category":    r.Category,
			"bbox":        map[string]float64{"x1": x1, "y1": y1, "x2": x2, "y2": y2},
			"confidence":  r.Confidence,
			"cropped_url": r.CroppedImageURL,
			"matches":     matches,
		})
	}
	return map[string]any{"items": items}
}
