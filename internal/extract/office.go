package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractDocx reads paragraphs and table cells of a Word document in
// document order as unit 1.
func extractDocx(_ *Dispatcher, path string) ([]types.Unit, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		text, err := zipXMLText(f, "p")
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return []types.Unit{{Index: 1, Text: text}}, nil
	}
	return nil, fmt.Errorf("word/document.xml not found")
}

// extractPptx yields one unit per slide, numbered by slide position.
func extractPptx(_ *Dispatcher, path string) ([]types.Unit, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}
	defer func() { _ = zr.Close() }()

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	units := make([]types.Unit, 0, len(slides))
	for _, s := range slides {
		text, err := zipXMLText(s.f, "p")
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.f.Name, err)
		}
		units = append(units, types.Unit{Index: s.n, Text: text})
	}
	return units, nil
}

func zipXMLText(f *zip.File, paragraph string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	return xmlText(rc, paragraph)
}

// xmlText concatenates the character data of every <t> element, breaking
// lines at the end of each paragraph element.
func xmlText(r io.Reader, paragraph string) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case paragraph:
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
