package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

const (
	sheetHeadRows = 5
	sheetTailRows = 5
	// Sheets with more data rows than this are summarized as head and tail.
	sheetSummaryThreshold = 10

	biffMaxCols = 256
)

// extractSpreadsheet summarizes the first sheet of a workbook or a CSV
// file as unit 1. Headers usually live at the top and totals at the bottom,
// so long sheets keep both ends and drop the middle.
func extractSpreadsheet(_ *Dispatcher, path string) ([]types.Unit, error) {
	var (
		rows [][]string
		err  error
	)
	switch types.NormalizeExt(path) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xls":
		rows, err = readBIFF(path)
	default:
		rows, err = readWorkbook(path)
	}
	if err != nil {
		return nil, err
	}

	text := summarizeSheet(dropEmptyRows(rows))
	if text == "" {
		return nil, nil
	}
	return []types.Unit{{Index: 1, Text: text}}, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// readBIFF reads the first sheet of a pre-2007 binary workbook.
func readBIFF(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	defer func() { _ = f.Close() }()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if wb == nil {
		return nil, fmt.Errorf("open xls: %s has no workbook stream", path)
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, nil
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := biffRow(sheet, i)
		if row == nil {
			continue
		}
		// Cells written without a ROW record leave LastCol at zero.
		last := row.LastCol()
		if last == 0 {
			last = biffMaxCols
		}
		cells := make([]string, 0, last)
		for c := 0; c < last; c++ {
			cells = append(cells, row.Col(c))
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// biffRow returns nil for rows the sheet never wrote; the library panics on
// them.
func biffRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// summarizeSheet renders rows[0] as the header followed by the data rows.
func summarizeSheet(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header, data := rows[0], rows[1:]

	var b strings.Builder
	b.WriteString("--- START OF SHEET ---\n")
	if len(data) <= sheetSummaryThreshold {
		writeRows(&b, append([][]string{header}, data...))
	} else {
		writeRows(&b, append([][]string{header}, data[:sheetHeadRows]...))
		b.WriteString("...[Middle Rows Skipped]...\n")
		writeRows(&b, data[len(data)-sheetTailRows:])
	}
	b.WriteString("--- END OF SHEET ---")
	return b.String()
}

func writeRows(w io.Writer, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}
