package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrOCRUnavailable is returned when no OCR engine can be run.
var ErrOCRUnavailable = errors.New("ocr engine unavailable")

// OCREngine turns an image file into text. An engine is created once per
// extraction worker and closed with it.
type OCREngine interface {
	Recognize(ctx context.Context, path string) (string, error)
	Close() error
}

// TesseractConfig configures the tesseract command line engine.
type TesseractConfig struct {
	Command   string
	Languages string
	Timeout   time.Duration
}

// TesseractEngine shells out to the tesseract binary.
type TesseractEngine struct {
	path      string
	languages string
	timeout   time.Duration
}

// NewTesseractEngine resolves the tesseract binary once. A missing binary
// is not an error here: Recognize reports ErrOCRUnavailable instead so that
// non-image files are unaffected.
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	command := cfg.Command
	if command == "" {
		command = "tesseract"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		path = ""
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng"
	}
	return &TesseractEngine{
		path:      path,
		languages: cfg.Languages,
		timeout:   cfg.Timeout,
	}
}

// Available reports whether the binary was found.
func (e *TesseractEngine) Available() bool {
	return e.path != ""
}

// Recognize runs tesseract on the image and joins the recognized words with
// single spaces.
func (e *TesseractEngine) Recognize(ctx context.Context, path string) (string, error) {
	if e.path == "" {
		return "", ErrOCRUnavailable
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, path, "stdout", "-l", e.languages)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return strings.Join(strings.Fields(stdout.String()), " "), nil
}

// Close is a no-op; each recognition is its own process.
func (e *TesseractEngine) Close() error {
	return nil
}

// NopOCR is used when OCR is disabled.
type NopOCR struct{}

func (NopOCR) Recognize(context.Context, string) (string, error) { return "", ErrOCRUnavailable }
func (NopOCR) Close() error                                      { return nil }
