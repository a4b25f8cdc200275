package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/stylelens-backend/internal/clients/attrs"
	"github.com/yungbote/stylelens-backend/internal/clients/caption"
	"github.com/yungbote/stylelens-backend/internal/clients/embedding"
	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/imaging"
	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/httpx"
	"github.com/yungbote/stylelens-backend/internal/rerank"
	"github.com/yungbote/stylelens-backend/internal/search"
	"github.com/yungbote/stylelens-backend/internal/services"
)

const (
	// stepMaxAttempts is the initial call plus two retries for transient
	// failures on external calls.
	stepMaxAttempts = 3
	stepRetryBase   = 500 * time.Millisecond
)

// itemWorker runs the per-item sub-pipeline: crop, upload, attribute
// extraction, embed, caption, retrieve, rerank. Required steps fail the item;
// optional steps degrade with a logged warning.
type itemWorker struct {
	log        *logger.Logger
	images     gcp.ImageStore
	embed      embedding.Client
	captioner  caption.Client
	attrs      attrs.Client
	strategies *search.Strategies
}

func newItemWorker(
	baseLog *logger.Logger,
	images gcp.ImageStore,
	embed embedding.Client,
	captioner caption.Client,
	attrsClient attrs.Client,
	strategies *search.Strategies,
) *itemWorker {
	return &itemWorker{
		log:        baseLog.With("component", "ItemWorker"),
		images:     images,
		embed:      embed,
		captioner:  captioner,
		attrs:      attrsClient,
		strategies: strategies,
	}
}

func (w *itemWorker) Process(ctx context.Context, jobID string, index int, srcImg []byte, det gcp.Detection) (services.ItemResult, error) {
	category := search.CanonicalCategory(det.Category)

	crop, pixelBox, err := imaging.Crop(srcImg, det.Box, imaging.DefaultPaddingRatio)
	if err != nil {
		return services.ItemResult{}, fmt.Errorf("crop item %d: %w", index, err)
	}

	cropURL, err := w.images.UploadCrop(ctx, jobID, index, category, crop)
	if err != nil {
		w.log.Warn("Crop upload failed, continuing without URL",
			"job_id", jobID, "item_index", index, "error", err.Error())
		cropURL = ""
	}

	var hints search.AttributeHints
	if w.attrs != nil {
		h, err := w.attrs.ExtractAttributes(ctx, crop, category)
		if err != nil {
			w.log.Warn("Attribute extraction failed, continuing without hints",
				"job_id", jobID, "item_index", index, "error", err.Error())
		} else {
			hints = h
		}
	}

	var emb []float32
	err = w.retry(ctx, jobID, index, "embed_image", func() error {
		var embedErr error
		emb, embedErr = w.embed.EmbedImage(ctx, crop)
		return embedErr
	})
	if err != nil {
		return services.ItemResult{}, fmt.Errorf("embed item %d: %w", index, err)
	}

	captionText := ""
	if w.captioner != nil {
		c, err := w.captioner.Caption(ctx, crop, category)
		if err != nil {
			w.log.Warn("Caption failed, continuing without caption",
				"job_id", jobID, "item_index", index, "error", err.Error())
		} else {
			captionText = c
		}
	}

	var candidates []search.Candidate
	err = w.retry(ctx, jobID, index, "retrieve", func() error {
		var searchErr error
		candidates, searchErr = w.strategies.Retrieve(ctx, emb, category, hints, search.DefaultK)
		return searchErr
	})
	if err != nil {
		return services.ItemResult{}, fmt.Errorf("retrieve item %d: %w", index, err)
	}

	var nameEmbs [][]float32
	if len(candidates) > 0 {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		nameEmbs, err = w.embed.EmbedTexts(ctx, names)
		if err != nil {
			w.log.Warn("Name embedding failed, reranking on stored vectors",
				"job_id", jobID, "item_index", index, "error", err.Error())
			nameEmbs = nil
		}
	}

	matches := rerank.Rerank(rerank.Input{
		Candidates:     candidates,
		QueryEmbedding: emb,
		NameEmbeddings: nameEmbs,
		Hints:          hints,
		Caption:        captionText,
		TopK:           rerank.DefaultTopK,
	})

	return services.ItemResult{
		Index:           index,
		Category:        category,
		Box:             pixelBox,
		Confidence:      det.Confidence,
		CroppedImageURL: cropURL,
		Hints:           hints,
		Matches:         matches,
	}, nil
}

// retry re-runs fn on transient failures with backoff and jitter, giving up
// immediately when the context is done or the error is not retryable.
func (w *itemWorker) retry(ctx context.Context, jobID string, index int, step string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= stepMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) && !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == stepMaxAttempts {
			break
		}
		w.log.Warn("Step failed, retrying",
			"job_id", jobID, "item_index", index, "step", step,
			"attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(httpx.JitterSleep(time.Duration(attempt) * stepRetryBase)):
		}
	}
	return err
}
