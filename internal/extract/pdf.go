package extract

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// minSpaceRatio is the share of spaces below which a long page of text is
// treated as a broken text layer.
const minSpaceRatio = 0.05

// extractPDF yields one unit per page. Pages without a usable text layer
// are rendered and recognized; when that fails for some pages the others
// are still returned, and only a document with no readable page at all is
// an error.
func extractPDF(d *Dispatcher, path string) ([]types.Unit, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		units   []types.Unit
		scanned []int
	)
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		switch {
		case err != nil:
			d.logger.Debug("pdf page unreadable", "path", path, "page", i, "error", err)
			scanned = append(scanned, i)
		case strings.TrimSpace(text) == "" || isGibberish(text):
			d.logger.Debug("pdf page has no usable text layer", "path", path, "page", i)
			scanned = append(scanned, i)
		default:
			units = append(units, types.Unit{Index: i, Text: text})
		}
	}
	if len(scanned) == 0 {
		return units, nil
	}

	recognized, err := d.recognizePages(path, scanned)
	if err != nil {
		if len(units) == 0 && len(recognized) == 0 {
			return nil, fmt.Errorf("ocr pdf pages: %w", err)
		}
		d.logger.Debug("pdf pages left without text", "path", path, "pages", len(scanned)-len(recognized), "error", err)
	}
	units = append(units, recognized...)
	slices.SortFunc(units, func(a, b types.Unit) int { return a.Index - b.Index })
	return units, nil
}

// recognizePages renders each page into a scratch directory and runs OCR on
// it. It stops at the first failure and returns what it has.
func (d *Dispatcher) recognizePages(path string, pages []int) ([]types.Unit, error) {
	dir, err := os.MkdirTemp("", "pdh-pages-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	ctx := context.Background()
	var units []types.Unit
	for _, page := range pages {
		img, err := d.renderer.RenderPage(ctx, path, page, dir)
		if err != nil {
			return units, err
		}
		text, err := d.ocr.Recognize(ctx, img)
		_ = os.Remove(img)
		if err != nil {
			return units, fmt.Errorf("page %d: %w", page, err)
		}
		units = append(units, types.Unit{Index: page, Text: text})
	}
	return units, nil
}

// isGibberish flags text layers produced by broken font encodings: long runs
// with almost no spaces, or ligature glyphs mapped to garbage.
func isGibberish(text string) bool {
	n := len([]rune(text))
	if n > 50 && float64(strings.Count(text, " "))/float64(n) < minSpaceRatio {
		return true
	}
	return strings.Contains(text, "flfi") || strings.Contains(text, "fifl")
}
