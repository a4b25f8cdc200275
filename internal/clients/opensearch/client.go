package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
)

// Client is a thin REST wrapper over an OpenSearch cluster with a k-NN index.
// Query bodies are built by the caller (the search strategies); this layer
// only handles transport, auth and decoding.
type Client interface {
	Search(ctx context.Context, indexName string, query map[string]any) (*SearchResponse, error)
}

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing OpenSearch base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "OpenSearchClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// HitSource mirrors the indexed product document.
type HitSource struct {
	ItemID      string        `json:"itemId"`
	Category    string        `json:"category"`
	Brand       string        `json:"brand"`
	ProductName string        `json:"productName"`
	ImageURL    string        `json:"imageUrl"`
	Price       int64         `json:"price"`
	ProductURL  string        `json:"productUrl"`
	ImageVector []float32     `json:"image_vector,omitempty"`
	Attributes  HitAttributes `json:"attributes"`
}

type HitAttributes struct {
	Colors       []string `json:"colors"`
	Pattern      string   `json:"pattern"`
	StyleVibe    string   `json:"style_vibe"`
	SleeveLength string   `json:"sleeve_length"`
	PantsLength  string   `json:"pants_length"`
	OuterLength  string   `json:"outer_length"`
	Materials    []string `json:"materials"`
}

type Hit struct {
	Score  float64   `json:"_score"`
	Source HitSource `json:"_source"`
}

type SearchResponse struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

func (c *client) Search(ctx context.Context, indexName string, query map[string]any) (*SearchResponse, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, fmt.Errorf("indexName required")
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + indexName + "/_search"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.External("opensearch", "search", "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.ExternalHTTP("opensearch", "search", resp.StatusCode, string(raw), nil)
	}

	var out SearchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.External("opensearch", "search", "decode error", err)
	}
	return &out, nil
}
