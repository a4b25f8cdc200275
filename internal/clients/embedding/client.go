package embedding

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

// Client wraps a CLIP-style embedding service. Images and text embed into the
// same vector space, which is what makes the cross-modal rerank check work.
type Client interface {
	EmbedImage(ctx context.Context, img []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Dimension int // 0 disables the dimension check
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
		return nil, fmt.Errorf("missing embedding service base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "EmbeddingClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embedImageRequest struct {
	ImageB64 string `json:"image_b64"`
}

type embedTextRequest struct {
	Text string `json:"text"`
}

type embedTextsRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type embedBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *client) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	if len(img) == 0 {
		return nil, &apperr.ValidationError{Field: "img", Message: "empty image bytes"}
	}
	req := embedImageRequest{ImageB64: base64.StdEncoding.EncodeToString(img)}
	out, err := doJSON[embedResponse](c, ctx, "embed_image", "/embed/image", req)
	if err != nil {
		return nil, err
	}
	if err := c.checkDimension(out.Embedding); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

func (c *client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &apperr.ValidationError{Field: "text", Message: "empty text"}
	}
	out, err := doJSON[embedResponse](c, ctx, "embed_text", "/embed/text", embedTextRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if err := c.checkDimension(out.Embedding); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// EmbedTexts embeds product names in one round trip. Empty entries come back
// as nil vectors so indices stay aligned with the input.
func (c *client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			positions = append(positions, i)
		}
	}
	if len(nonEmpty) == 0 {
		return make([][]float32, len(texts)), nil
	}

	out, err := doJSON[embedBatchResponse](c, ctx, "embed_texts", "/embed/texts", embedTextsRequest{Texts: nonEmpty})
	if err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(nonEmpty) {
		return nil, apperr.External("embedding", "embed_texts",
			fmt.Sprintf("expected %d embeddings, got %d", len(nonEmpty), len(out.Embeddings)), nil)
	}

	result := make([][]float32, len(texts))
	for i, emb := range out.Embeddings {
		if err := c.checkDimension(emb); err != nil {
			return nil, err
		}
		result[positions[i]] = emb
	}
	return result, nil
}

func (c *client) checkDimension(emb []float32) error {
	if len(emb) == 0 {
		return apperr.External("embedding", "embed", "service returned empty vector", nil)
	}
	if c.cfg.Dimension > 0 && len(emb) != c.cfg.Dimension {
		return apperr.External("embedding", "embed",
			fmt.Sprintf("dimension mismatch: got %d, want %d", len(emb), c.cfg.Dimension), nil)
	}
	return nil
}

func doJSON[T any](c *client, ctx context.Context, op, path string, body any) (*T, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.External("embedding", op, "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.ExternalHTTP("embedding", op, resp.StatusCode, string(raw), nil)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.External("embedding", op, fmt.Sprintf("decode error: %s", string(raw)), err)
	}
	return &out, nil
}
