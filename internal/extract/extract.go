package extract

import (
	"errors"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"sort"
	"strings"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// Kind tags one extractor variant.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindDocx        Kind = "docx"
	KindPptx        Kind = "pptx"
	KindSpreadsheet Kind = "spreadsheet"
	KindEmail       Kind = "email"
	KindImage       Kind = "image"
	KindText        Kind = "text"
	KindHTML        Kind = "html"
	KindLegacy      Kind = "legacy"
)

var (
	// ErrUnknownExtractor is returned for a configured tag with no extractor.
	ErrUnknownExtractor = errors.New("unknown extractor")
	// ErrExtractFailed wraps a failure that may not recur: a permission or
	// lock error, a parse error, an OCR engine that is missing or failed.
	ErrExtractFailed = errors.New("extraction failed")
)

// extractFunc reads every unit of one file. Returning an error discards
// whatever was read.
type extractFunc func(d *Dispatcher, path string) ([]types.Unit, error)

var extractors = map[Kind]extractFunc{
	KindPDF:         extractPDF,
	KindDocx:        extractDocx,
	KindPptx:        extractPptx,
	KindSpreadsheet: extractSpreadsheet,
	KindEmail:       extractEmail,
	KindImage:       extractImage,
	KindText:        extractText,
	KindHTML:        extractHTML,
	KindLegacy:      extractLegacy,
}

// Older settings files name extractor classes instead of tags.
var kindAliases = map[string]Kind{
	"pdfextractor":         KindPDF,
	"docxextractor":        KindDocx,
	"slideextractor":       KindPptx,
	"spreadsheetextractor": KindSpreadsheet,
	"emailextractor":       KindEmail,
	"imageextractor":       KindImage,
	"textextractor":        KindText,
}

// ParseKind resolves a configured extractor tag.
func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	k := Kind(key)
	if _, ok := extractors[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExtractor, s)
	}
	return k, nil
}

// Kinds lists every known tag in sorted order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(extractors))
	for k := range extractors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultExtensions is the extension to tag mapping used when the settings
// file does not provide one.
func DefaultExtensions() map[string]string {
	return map[string]string{
		".pdf":  string(KindPDF),
		".docx": string(KindDocx),
		".doc":  string(KindLegacy),
		".rtf":  string(KindLegacy),
		".txt":  string(KindText),
		".md":   string(KindText),
		".json": string(KindText),
		".xml":  string(KindText),
		".html": string(KindHTML),
		".htm":  string(KindHTML),
		".csv":  string(KindSpreadsheet),
		".xlsx": string(KindSpreadsheet),
		".xls":  string(KindSpreadsheet),
		".pptx": string(KindPptx),
		".ppt":  string(KindLegacy),
		".png":  string(KindImage),
		".jpg":  string(KindImage),
		".jpeg": string(KindImage),
		".heic": string(KindImage),
		".msg":  string(KindEmail),
		".eml":  string(KindEmail),
	}
}

// Table maps normalized extensions (".pdf") to extractor kinds.
type Table map[string]Kind

// NewTable validates a configured mapping. Every tag must name a known
// extractor; keys are normalized to the dot-prefixed lower-case form.
func NewTable(mapping map[string]string) (Table, error) {
	t := make(Table, len(mapping))
	var errs []error
	for ext, tag := range mapping {
		k, err := ParseKind(tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("extension %s: %w", ext, err))
			continue
		}
		t[types.DispatchExt(strings.TrimSpace(ext))] = k
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// Lookup returns the kind registered for an extension in either form.
func (t Table) Lookup(ext string) (Kind, bool) {
	k, ok := t[types.DispatchExt(ext)]
	return k, ok
}

// Supports reports whether files at path have a registered extractor.
func (t Table) Supports(path string) bool {
	_, ok := t[types.NormalizeExt(path)]
	return ok
}

// Resources are owned by one worker for its whole lifetime and released
// by Dispatcher.Close.
type Resources struct {
	OCR        OCREngine
	Renderer   PageRenderer
	Classifier *Classifier
	Logger     *slog.Logger
}

// Dispatcher routes files to their extractor.
type Dispatcher struct {
	table      Table
	ocr        OCREngine
	renderer   PageRenderer
	classifier *Classifier
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher that owns res.
func NewDispatcher(table Table, res Resources) *Dispatcher {
	d := &Dispatcher{
		table:      table,
		ocr:        res.OCR,
		renderer:   res.Renderer,
		classifier: res.Classifier,
		logger:     res.Logger,
	}
	if d.ocr == nil {
		d.ocr = NopOCR{}
	}
	if d.renderer == nil {
		d.renderer = NopRenderer{}
	}
	if d.classifier == nil {
		d.classifier = NewClassifier()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Table returns the extension table the dispatcher routes with.
func (d *Dispatcher) Table() Table {
	return d.table
}

// Extract returns the units of the file at path. fileType may be given in
// either extension form; when empty it is taken from path. Unknown
// extensions and unreadable files yield nothing. The sequence re-reads the
// file each time it is ranged over.
func (d *Dispatcher) Extract(path, fileType string) iter.Seq[types.Unit] {
	return func(yield func(types.Unit) bool) {
		units, _ := d.ExtractAll(path, fileType)
		for _, u := range units {
			if !yield(u) {
				return
			}
		}
	}
}

// ExtractAll runs the extractor for path to completion. No units and a nil
// error means the file holds no text this build can read: an unknown
// extension, a legacy binary format, a photograph. Any other failure,
// including a panic inside a format library, is returned so that the file
// is retried on a later cycle instead of being recorded as empty.
func (d *Dispatcher) ExtractAll(path, fileType string) (units []types.Unit, err error) {
	ext := fileType
	if ext == "" {
		ext = types.NormalizeExt(path)
	}
	kind, ok := d.table.Lookup(ext)
	if !ok {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("extractor panicked", "path", path, "kind", kind, "panic", r)
			units, err = nil, fmt.Errorf("%w: %s extractor panicked: %v", ErrExtractFailed, kind, r)
		}
	}()

	units, err = extractors[kind](d, path)
	if err != nil {
		if unreadable(err) {
			d.logger.Info("no readable content", "path", path, "kind", kind, "reason", err)
			return nil, nil
		}
		d.logger.Warn("extraction failed", "path", path, "kind", kind, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrExtractFailed, kind, err)
	}
	return nonBlank(units), nil
}

// unreadable reports errors that depend only on the file's bytes and the
// formats this build understands, so retrying the same content cannot help.
func unreadable(err error) bool {
	return errors.Is(err, ErrLegacyFormat) || errors.Is(err, image.ErrFormat)
}

// Close releases worker-owned resources.
func (d *Dispatcher) Close() error {
	return d.ocr.Close()
}

func nonBlank(units []types.Unit) []types.Unit {
	out := units[:0]
	for _, u := range units {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		if u.Index < 1 {
			u.Index = 1
		}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
