package imaging

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"

	"github.com/yungbote/stylelens-backend/internal/clients/gcp"
	"github.com/yungbote/stylelens-backend/internal/pkg/apperr"
)

// DefaultPaddingRatio expands the crop around the detected box; the extra
// context measurably improves CLIP embeddings.
const DefaultPaddingRatio = 0.25

const jpegQuality = 95

// PixelBox is the unpadded detection box converted to pixel space, kept for
// persistence alongside the source dimensions used to normalize it.
type PixelBox struct {
	XMin        int
	YMin        int
	XMax        int
	YMax        int
	ImageWidth  int
	ImageHeight int
}

// Normalized returns the box in 0-1 coordinates.
func (p PixelBox) Normalized() (x1, y1, x2, y2 float64) {
	if p.ImageWidth <= 0 || p.ImageHeight <= 0 {
		return 0, 0, 0, 0
	}
	return float64(p.XMin) / float64(p.ImageWidth),
		float64(p.YMin) / float64(p.ImageHeight),
		float64(p.XMax) / float64(p.ImageWidth),
		float64(p.YMax) / float64(p.ImageHeight)
}

// Crop cuts the detected item out of the source image. The incoming box is
// in the detector's 0-1000 space; the crop expands by paddingRatio on each
// side, clamped to image bounds, and re-encodes as JPEG.
func Crop(img []byte, box gcp.BBox, paddingRatio float64) ([]byte, PixelBox, error) {
	if len(img) == 0 {
		return nil, PixelBox{}, &apperr.ValidationError{Field: "img", Message: "empty image bytes"}
	}
	if paddingRatio < 0 {
		paddingRatio = DefaultPaddingRatio
	}

	src, err := imaging.Decode(bytes.NewReader(img), imaging.AutoOrientation(true))
	if err != nil {
		return nil, PixelBox{}, &apperr.ValidationError{Field: "img", Message: "undecodable image: " + err.Error()}
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	pixel := PixelBox{
		XMin:        box.XMin * width / 1000,
		YMin:        box.YMin * height / 1000,
		XMax:        box.XMax * width / 1000,
		YMax:        box.YMax * height / 1000,
		ImageWidth:  width,
		ImageHeight: height,
	}

	rect := PaddedRect(pixel, paddingRatio)
	cropped := imaging.Crop(src, rect)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, PixelBox{}, err
	}
	return buf.Bytes(), pixel, nil
}

// PaddedRect expands a pixel box by ratio of its own width/height on each
// side, clamped to the image bounds.
func PaddedRect(p PixelBox, ratio float64) image.Rectangle {
	padX := int(float64(p.XMax-p.XMin) * ratio)
	padY := int(float64(p.YMax-p.YMin) * ratio)

	x0 := p.XMin - padX
	if x0 < 0 {
		x0 = 0
	}
	y0 := p.YMin - padY
	if y0 < 0 {
		y0 = 0
	}
	x1 := p.XMax + padX
	if x1 > p.ImageWidth {
		x1 = p.ImageWidth
	}
	y1 := p.YMax + padY
	if y1 > p.ImageHeight {
		y1 = p.ImageHeight
	}
	return image.Rect(x0, y0, x1, y1)
}
