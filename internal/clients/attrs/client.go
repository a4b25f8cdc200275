package attrs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
	"github.com/yungbote/stylelens-backend/internal/search"
)

// Client wraps an attribute-extraction service that reads brand, colors and
// item type off a cropped image. Extraction is best effort; callers fall back
// to hint-free retrieval when it fails.
type Client interface {
	ExtractAttributes(ctx context.Context, img []byte, category string) (search.AttributeHints, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
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
		return nil, fmt.Errorf("missing attribute service base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "AttributeClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type extractRequest struct {
	ImageB64 string `json:"image_b64"`
	Category string `json:"category"`
}

type extractResponse struct {
	Brand          string `json:"brand"`
	Color          string `json:"color"`
	SecondaryColor string `json:"secondary_color"`
	ItemType       string `json:"item_type"`
	Material       string `json:"material"`
	Style          string `json:"style"`
	Pattern        string `json:"pattern"`
}

func (c *client) ExtractAttributes(ctx context.Context, img []byte, category string) (search.AttributeHints, error) {
	if len(img) == 0 {
		return search.AttributeHints{}, &apperr.ValidationError{Field: "img", Message: "empty image bytes"}
	}

	body := extractRequest{
		ImageB64: base64.StdEncoding.EncodeToString(img),
		Category: category,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return search.AttributeHints{}, err
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/attributes"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, &buf)
	if err != nil {
		return search.AttributeHints{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return search.AttributeHints{}, apperr.External("attributes", "extract", "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return search.AttributeHints{}, apperr.ExternalHTTP("attributes", "extract", resp.StatusCode, string(raw), nil)
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return search.AttributeHints{}, apperr.External("attributes", "extract", fmt.Sprintf("decode error: %s", string(raw)), err)
	}

	hints := search.AttributeHints{
		Brand:          strings.ToLower(strings.TrimSpace(out.Brand)),
		Color:          strings.ToLower(strings.TrimSpace(out.Color)),
		SecondaryColor: strings.ToLower(strings.TrimSpace(out.SecondaryColor)),
		ItemType:       strings.ToLower(strings.TrimSpace(out.ItemType)),
		Material:       strings.TrimSpace(out.Material),
		Style:          strings.TrimSpace(out.Style),
		Pattern:        strings.TrimSpace(out.Pattern),
	}
	c.log.Info("Extracted attributes", "brand", hints.Brand, "color", hints.Color, "item_type", hints.ItemType)
	return hints, nil
}
