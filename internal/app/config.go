package app

import (
	"time"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/utils"
)

type Config struct {
	EmbeddingServiceURL string
	EmbeddingDimension  int
	CaptionServiceURL   string
	AttributeServiceURL string

	OpenSearchURL      string
	OpenSearchUsername string
	OpenSearchPassword string
	OpenSearchIndex    string

	MaxConcurrency int
	JobTimeout     time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	jobTimeoutSeconds := utils.GetEnvAsInt("ANALYSIS_JOB_TIMEOUT_SECONDS", 600, log)
	return Config{
		EmbeddingServiceURL: utils.GetEnv("EMBEDDING_SERVICE_URL", "http://localhost:8001", log),
		EmbeddingDimension:  utils.GetEnvAsInt("EMBEDDING_DIMENSION", 512, log),
		CaptionServiceURL:   utils.GetEnv("CAPTION_SERVICE_URL", "", log),
		AttributeServiceURL: utils.GetEnv("ATTRIBUTE_SERVICE_URL", "", log),
		OpenSearchURL:       utils.GetEnv("OPENSEARCH_URL", "http://localhost:9200", log),
		OpenSearchUsername:  utils.GetEnv("OPENSEARCH_USERNAME", "", log),
		OpenSearchPassword:  utils.GetEnv("OPENSEARCH_PASSWORD", "", log),
		OpenSearchIndex:     utils.GetEnv("OPENSEARCH_INDEX", "musinsa_products", log),
		MaxConcurrency:      utils.GetEnvAsInt("ANALYSIS_MAX_CONCURRENCY", 4, log),
		JobTimeout:          time.Duration(jobTimeoutSeconds) * time.Second,
	}
}
