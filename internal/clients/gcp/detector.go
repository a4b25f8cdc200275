package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/stylelens-backend/internal/logger"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
	"github.com/yungbote/stylelens-backend/internal/pkg/ctxutil"
	"github.com/yungbote/stylelens-backend/internal/pkg/httpx"
)

// Detector locates fashion items in an image. Boxes come back in a
// resolution-independent 0-1000 coordinate space.
type Detector interface {
	DetectObjects(ctx context.Context, img []byte) ([]Detection, error)
	Close() error
}

type BBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

func (b BBox) Width() int  { return b.XMax - b.XMin }
func (b BBox) Height() int { return b.YMax - b.YMin }

type Detection struct {
	Category   string  `json:"category"`
	Box        BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// fashionCategories maps raw annotation labels to catalog categories.
// Labels outside this table are not fashion items and are dropped.
var fashionCategories = map[string]string{
	"shoe":     "shoes",
	"shoes":    "shoes",
	"sneaker":  "shoes",
	"boot":     "shoes",
	"sandal":   "shoes",
	"footwear": "shoes",

	"bag":      "bag",
	"handbag":  "bag",
	"backpack": "bag",
	"purse":    "bag",

	"top":     "top",
	"shirt":   "top",
	"t-shirt": "top",
	"blouse":  "top",
	"sweater": "top",
	"hoodie":  "top",

	"pants":    "bottom",
	"jeans":    "bottom",
	"trousers": "bottom",
	"shorts":   "bottom",
	"skirt":    "bottom",

	"jacket":    "outerwear",
	"coat":      "outerwear",
	"outerwear": "outerwear",
	"blazer":    "outerwear",

	"hat":    "hat",
	"cap":    "hat",
	"beanie": "hat",
}

const (
	detectorMinConfidence = 0.5
	detectorIoUThreshold  = 0.7
	detectorMaxAttempts   = 3
)

type detectorService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewDetector(log *logger.Logger) (Detector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Detector")

	ctx := context.Background()
	vClient, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &detectorService{log: slog, client: vClient}, nil
}

func (s *detectorService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *detectorService) DetectObjects(ctx context.Context, img []byte) ([]Detection, error) {
	if len(img) == 0 {
		return nil, &apperr.ValidationError{Field: "image", Message: "empty image bytes"}
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var anns []*visionpb.LocalizedObjectAnnotation
	var lastErr error
	for attempt := 0; attempt < detectorMaxAttempts; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			time.Sleep(httpx.JitterSleep(time.Duration(attempt) * 500 * time.Millisecond))
		}
		resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
			Requests: []*visionpb.AnnotateImageRequest{{
				Image: &visionpb.Image{Content: img},
				Features: []*visionpb.Feature{{
					Type:       visionpb.Feature_OBJECT_LOCALIZATION,
					MaxResults: 50,
				}},
			}},
		})
		if err != nil {
			lastErr = apperr.External("google_vision", "localize_objects", "object localization failed", err)
			if !isRetryableGRPC(err) && !httpx.IsRetryableError(err) {
				return nil, lastErr
			}
			s.log.Warn("Vision localize retry", "attempt", attempt+1, "error", err)
			continue
		}
		rs := resp.GetResponses()
		if len(rs) == 0 {
			return nil, apperr.External("google_vision", "localize_objects", "empty batch response", nil)
		}
		if st := rs[0].GetError(); st != nil {
			return nil, apperr.External("google_vision", "localize_objects", st.GetMessage(), nil)
		}
		anns = rs[0].GetLocalizedObjectAnnotations()
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, lastErr
	}

	best := bestPerCategory(anns)
	kept := suppressOverlaps(best, detectorIoUThreshold)

	cats := make([]string, 0, len(kept))
	for _, d := range kept {
		cats = append(cats, d.Category)
	}
	s.log.Info("Object detection complete", "detected_count", len(kept), "categories", strings.Join(cats, ","))
	return kept, nil
}

// bestPerCategory filters to the allow-list, drops low-confidence hits and
// keeps only the highest-confidence annotation per category.
func bestPerCategory(anns []*visionpb.LocalizedObjectAnnotation) []Detection {
	best := map[string]Detection{}
	for _, obj := range anns {
		if obj == nil {
			continue
		}
		category := mapToFashionCategory(obj.GetName())
		if category == "" || float64(obj.GetScore()) < detectorMinConfidence {
			continue
		}
		prev, ok := best[category]
		if ok && prev.Confidence >= float64(obj.GetScore()) {
			continue
		}
		verts := obj.GetBoundingPoly().GetNormalizedVertices()
		if len(verts) < 3 {
			continue
		}
		best[category] = Detection{
			Category: category,
			Box: BBox{
				XMin: int(verts[0].GetX() * 1000),
				YMin: int(verts[0].GetY() * 1000),
				XMax: int(verts[2].GetX() * 1000),
				YMax: int(verts[2].GetY() * 1000),
			},
			Confidence: float64(obj.GetScore()),
		}
	}
	out := make([]Detection, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// suppressOverlaps drops boxes overlapping an already-kept box above the IoU
// threshold. Input must be sorted by confidence descending so the higher
// confidence box wins.
func suppressOverlaps(items []Detection, iouThreshold float64) []Detection {
	if len(items) <= 1 {
		return items
	}
	kept := make([]Detection, 0, len(items))
	for _, item := range items {
		overlapping := false
		for _, k := range kept {
			if iou(item.Box, k.Box) > iouThreshold {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, item)
		}
	}
	return kept
}

func iou(a, b BBox) float64 {
	left := max(a.XMin, b.XMin)
	top := max(a.YMin, b.YMin)
	right := min(a.XMax, b.XMax)
	bottom := min(a.YMax, b.YMax)

	if right < left || bottom < top {
		return 0
	}
	intersection := float64((right - left) * (bottom - top))
	union := float64(a.Width()*a.Height()+b.Width()*b.Height()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func mapToFashionCategory(label string) string {
	return fashionCategories[strings.ToLower(strings.TrimSpace(label))]
}

// isRetryableGRPC classifies transient Vision API failures. Unknown covers
// non-gRPC errors, which the caller checks separately.
func isRetryableGRPC(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return true
	}
	return false
}
