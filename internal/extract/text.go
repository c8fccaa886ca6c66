package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// ErrLegacyFormat is returned for binary office formats that have no
// pure-Go reader. Files of this kind are indexed by metadata only.
var ErrLegacyFormat = errors.New("unsupported legacy format")

func extractText(_ *Dispatcher, path string) ([]types.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return []types.Unit{{Index: 1, Text: validUTF8(data)}}, nil
}

// validUTF8 drops undecodable bytes.
func validUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return string(bytes.ToValidUTF8(data, nil))
}

var invisibleElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "table": true, "title": true,
}

func extractHTML(_ *Dispatcher, path string) ([]types.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open html: %w", err)
	}
	defer f.Close()

	text, err := visibleText(f)
	if err != nil {
		return nil, err
	}
	return []types.Unit{{Index: 1, Text: text}}, nil
}

// visibleText returns the text a browser would render, one block element
// per line.
func visibleText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	hidden := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseBlankLines(sb.String()), nil
			}
			return "", fmt.Errorf("parse html: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if invisibleElements[tag] {
				hidden++
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if invisibleElements[tag] && hidden > 0 {
				hidden--
			}
			if blockElements[tag] {
				sb.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if hidden > 0 {
				continue
			}
			if t := strings.Join(strings.Fields(string(z.Text())), " "); t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func extractLegacy(_ *Dispatcher, path string) ([]types.Unit, error) {
	return nil, fmt.Errorf("%w: %s", ErrLegacyFormat, types.NormalizeExt(path))
}
