package app

import (
	"fmt"

	"github.com/yungbote/stylelens-backend/internal/clients/attrs"
	"github.com/yungbote/stylelens-backend/internal/clients/caption"
	"github.com/yungbote/stylelens-backend/internal/clients/embedding"
	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/clients/opensearch"
	"github.com/yungbote/stylelens-backend/internal/clients/redis"
	"github.com/yungbote/stylelens-backend/internal/logger"
)

type Clients struct {
	Detector gcp.Detector
	Images   gcp.ImageStore
	Embed    embedding.Client
	Caption  caption.Client
	Attrs    attrs.Client
	Search   opensearch.Client
	Tracker  redis.JobTracker
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	detector, err := gcp.NewDetector(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init detector: %w", err)
	}
	images, err := gcp.NewImageStore(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init image store: %w", err)
	}
	embed, err := embedding.New(log, embedding.Config{
		BaseURL:   cfg.EmbeddingServiceURL,
		Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init embedding client: %w", err)
	}

	// Caption and attribute services are optional; the pipeline degrades
	// without them.
	var captioner caption.Client
	if cfg.CaptionServiceURL != "" {
		captioner, err = caption.New(log, caption.Config{BaseURL: cfg.CaptionServiceURL})
		if err != nil {
			return Clients{}, fmt.Errorf("init caption client: %w", err)
		}
	} else {
		log.Warn("CAPTION_SERVICE_URL not set, captions disabled")
	}
	var attrsClient attrs.Client
	if cfg.AttributeServiceURL != "" {
		attrsClient, err = attrs.New(log, attrs.Config{BaseURL: cfg.AttributeServiceURL})
		if err != nil {
			return Clients{}, fmt.Errorf("init attribute client: %w", err)
		}
	} else {
		log.Warn("ATTRIBUTE_SERVICE_URL not set, attribute extraction disabled")
	}

	searchClient, err := opensearch.New(log, opensearch.Config{
		BaseURL:  cfg.OpenSearchURL,
		Username: cfg.OpenSearchUsername,
		Password: cfg.OpenSearchPassword,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init opensearch client: %w", err)
	}
	tracker, err := redis.NewJobTracker(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init job tracker: %w", err)
	}

	return Clients{
		Detector: detector,
		Images:   images,
		Embed:    embed,
		Caption:  captioner,
		Attrs:    attrsClient,
		Search:   searchClient,
		Tracker:  tracker,
	}, nil
}

func (c Clients) Close() {
	if c.Detector != nil {
		c.Detector.Close()
	}
	if c.Images != nil {
		c.Images.Close()
	}
	if c.Tracker != nil {
		c.Tracker.Close()
	}
}
