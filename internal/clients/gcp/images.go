package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
	"github.com/yungbote/stylelens-backend/internal/utils"
)

// ImageStore fetches source images and stores per-item crops.
//
// Download accepts gs:// URIs, public storage.googleapis.com URLs, plain
// http(s) URLs and local file paths, so callers never care where an upload
// landed.
type ImageStore interface {
	Download(ctx context.Context, imageRef string) ([]byte, error)
	UploadCrop(ctx context.Context, jobID string, itemIndex int, category string, img []byte) (string, error)
	Close() error
}

type imageStore struct {
	log        *logger.Logger
	storage    *storage.Client
	http       *http.Client
	bucketName string
}

func NewImageStore(log *logger.Logger) (ImageStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.ImageStore")

	bucketName := utils.GetEnv("GCS_BUCKET_NAME", "", log)

	ctx := context.Background()
	sClient, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	return &imageStore{
		log:        slog,
		storage:    sClient,
		http:       &http.Client{Timeout: 30 * time.Second},
		bucketName: bucketName,
	}, nil
}

func (s *imageStore) Close() error {
	if s == nil || s.storage == nil {
		return nil
	}
	return s.storage.Close()
}

func (s *imageStore) Download(ctx context.Context, imageRef string) ([]byte, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return nil, &apperr.ValidationError{Field: "imageRef", Message: "empty image reference"}
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// Public GCS URLs convert to gs:// form so the download goes through the
	// authenticated client instead of a plain GET.
	if i := strings.Index(imageRef, "storage.googleapis.com/"); i >= 0 {
		imageRef = "gs://" + imageRef[i+len("storage.googleapis.com/"):]
	}

	switch {
	case strings.HasPrefix(imageRef, "gs://"):
		bucket, key, err := parseGCSURI(imageRef)
		if err != nil {
			return nil, err
		}
		rc, err := s.storage.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			return nil, apperr.External("gcs", "download", fmt.Sprintf("open reader for %s", imageRef), err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, apperr.External("gcs", "download", fmt.Sprintf("read %s", imageRef), err)
		}
		return b, nil

	case strings.HasPrefix(imageRef, "http://"), strings.HasPrefix(imageRef, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageRef, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, apperr.External("http", "download", fmt.Sprintf("fetch %s", imageRef), err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, apperr.ExternalHTTP("http", "download", resp.StatusCode, fmt.Sprintf("fetch %s", imageRef), nil)
		}
		return io.ReadAll(resp.Body)

	default:
		b, err := os.ReadFile(imageRef)
		if err != nil {
			return nil, &apperr.NotFoundError{Entity: "image_file", ID: imageRef}
		}
		return b, nil
	}
}

func (s *imageStore) UploadCrop(ctx context.Context, jobID string, itemIndex int, category string, img []byte) (string, error) {
	if s.bucketName == "" {
		s.log.Warn("GCS bucket not configured, skipping crop upload")
		return "", nil
	}
	if len(img) == 0 {
		return "", &apperr.ValidationError{Field: "img", Message: "empty crop bytes"}
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := fmt.Sprintf("cropped/%s/%s_%d_%s.jpg", jobID, time.Now().Format("20060102_150405"), itemIndex, category)

	w := s.storage.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	if _, err := io.Copy(w, bytes.NewReader(img)); err != nil {
		_ = w.Close()
		return "", apperr.External("gcs", "upload_crop", fmt.Sprintf("write %s", key), err)
	}
	if err := w.Close(); err != nil {
		return "", apperr.External("gcs", "upload_crop", fmt.Sprintf("close writer for %s", key), err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key)
	s.log.Info("Uploaded crop", "url", url)
	return url, nil
}

func parseGCSURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	trim := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trim, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
