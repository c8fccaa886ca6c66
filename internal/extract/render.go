package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrRendererUnavailable is returned when PDF pages cannot be rasterized.
var ErrRendererUnavailable = errors.New("pdf page renderer unavailable")

// PageRenderer rasterizes single PDF pages so that pages without a text
// layer can go through OCR.
type PageRenderer interface {
	// RenderPage writes page (1-based) of the PDF at path as a PNG inside
	// dir and returns the image's path.
	RenderPage(ctx context.Context, path string, page int, dir string) (string, error)
}

// PdftoppmConfig configures the poppler command line renderer.
type PdftoppmConfig struct {
	Command string
	DPI     int
	Timeout time.Duration
}

// PdftoppmRenderer shells out to pdftoppm.
type PdftoppmRenderer struct {
	path    string
	dpi     int
	timeout time.Duration
}

// NewPdftoppmRenderer resolves the binary once. As with tesseract, a missing
// binary only surfaces when a page actually needs rendering.
func NewPdftoppmRenderer(cfg PdftoppmConfig) *PdftoppmRenderer {
	command := cfg.Command
	if command == "" {
		command = "pdftoppm"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		path = ""
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	return &PdftoppmRenderer{path: path, dpi: cfg.DPI, timeout: cfg.Timeout}
}

// Available reports whether the binary was found.
func (r *PdftoppmRenderer) Available() bool {
	return r.path != ""
}

func (r *PdftoppmRenderer) RenderPage(ctx context.Context, path string, page int, dir string) (string, error) {
	if r.path == "" {
		return "", ErrRendererUnavailable
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	n := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page-"+n)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(r.dpi),
		"-png", "-singlefile",
		path, prefix)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftoppm %s page %d: %w: %s", path, page, err, strings.TrimSpace(stderr.String()))
	}
	return prefix + ".png", nil
}

// NopRenderer is used when page rendering is disabled.
type NopRenderer struct{}

func (NopRenderer) RenderPage(context.Context, string, int, string) (string, error) {
	return "", ErrRendererUnavailable
}
