package extract

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// Classifier separates scanned documents and screenshots from photographs
// by edge density: printed text produces many sharp edges, natural scenes
// comparatively few.
type Classifier struct {
	MaxSide       int     // Images are downscaled to this longest side before analysis
	EdgeThreshold float64 // Minimum L1 Sobel magnitude for an edge pixel
	MinDensity    float64 // Edge pixel share above which an image is a document
}

// NewClassifier returns a classifier with the default thresholds.
func NewClassifier() *Classifier {
	return &Classifier{
		MaxSide:       500,
		EdgeThreshold: 150,
		MinDensity:    0.05,
	}
}

// IsDocument reports whether img looks like a page of text.
func (c *Classifier) IsDocument(img image.Image) bool {
	return c.EdgeDensity(img) > c.MinDensity
}

// EdgeDensity returns the share of pixels on a strong edge.
func (c *Classifier) EdgeDensity(img image.Image) float64 {
	gray, w, h := c.downscale(img)
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 { return gray[y*w+x] }
	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Abs(gx)+math.Abs(gy) >= c.EdgeThreshold {
				edges++
			}
		}
	}
	return float64(edges) / float64(w*h)
}

// downscale converts img to 8-bit luminance values, sampling nearest
// neighbours so the longest side is at most MaxSide.
func (c *Classifier) downscale(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, 0, 0
	}

	scale := 1.0
	if longest := max(srcW, srcH); c.MaxSide > 0 && longest > c.MaxSide {
		scale = float64(c.MaxSide) / float64(longest)
	}
	w := max(1, int(float64(srcW)*scale))
	h := max(1, int(float64(srcH)*scale))

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		sy := b.Min.Y + int(float64(y)/scale)
		for x := 0; x < w; x++ {
			sx := b.Min.X + int(float64(x)/scale)
			r, g, bl, _ := img.At(sx, sy).RGBA()
			// ITU-R 601 luma on 16-bit channels, scaled to 0..255
			gray[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
		}
	}
	return gray, w, h
}

// extractImage runs OCR on images that look like documents. Photographs
// yield nothing.
func extractImage(d *Dispatcher, path string) ([]types.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	img, _, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if !d.classifier.IsDocument(img) {
		d.logger.Debug("image classified as photo", "path", path)
		return nil, nil
	}

	text, err := d.ocr.Recognize(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	return []types.Unit{{Index: 1, Text: text}}, nil
}
