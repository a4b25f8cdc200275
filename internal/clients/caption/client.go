package caption

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
)

// Client wraps an image-captioning service. Captions feed the reranker as a
// weak extra signal; a failed caption never fails the item.
type Client interface {
	Caption(ctx context.Context, img []byte, category string) (string, error)
}

// categoryPrompts steers the captioner toward attributes that matter for the
// given item kind.
var categoryPrompts = map[string]string{
	"shoes":     "The color of these sneakers is",
	"bag":       "This bag is a",
	"top":       "This is a photo of",
	"bottom":    "This is a photo of",
	"outer":     "This is a photo of",
	"outerwear": "This is a photo of",
}

const defaultPrompt = "This is a photo of"

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
		return nil, fmt.Errorf("missing caption service base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "CaptionClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type captionRequest struct {
	ImageB64 string `json:"image_b64"`
	Prompt   string `json:"prompt"`
}

type captionResponse struct {
	Caption string `json:"caption"`
}

func (c *client) Caption(ctx context.Context, img []byte, category string) (string, error) {
	if len(img) == 0 {
		return "", &apperr.ValidationError{Field: "img", Message: "empty image bytes"}
	}

	prompt := defaultPrompt
	if p, ok := categoryPrompts[strings.ToLower(strings.TrimSpace(category))]; ok {
		prompt = p
	}

	body := captionRequest{
		ImageB64: base64.StdEncoding.EncodeToString(img),
		Prompt:   prompt,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return "", err
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/caption"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.External("caption", "caption", "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.ExternalHTTP("caption", "caption", resp.StatusCode, string(raw), nil)
	}

	var out captionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.External("caption", "caption", fmt.Sprintf("decode error: %s", string(raw)), err)
	}
	return strings.TrimSpace(out.Caption), nil
}
