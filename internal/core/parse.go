package core

// parse.go turns raw delimited text into the tabular import model. The
// parser never touches the table directly; it returns a complete
// header/row set that the caller swaps in atomically, or an error and
// nothing else. Files can have thousands of rows, so parsing runs on the
// background parse worker (see worker.go), not the request path.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// PreviewRowCount bounds a preview parse. The preview pane only shows the
// first few rows while the operator adjusts delimiter and header settings.
const PreviewRowCount = 5

// Delimiter selects the cell separator.
type Delimiter string

const (
	DelimiterComma     Delimiter = "comma"
	DelimiterSemicolon Delimiter = "semicolon"
	DelimiterTab       Delimiter = "tab"
)

// Rune returns the separator character for the delimiter, defaulting to
// comma for unknown values.
func (d Delimiter) Rune() rune {
	switch d {
	case DelimiterSemicolon:
		return ';'
	case DelimiterTab:
		return '\t'
	default:
		return ','
	}
}

// ParseOptions controls a parse request.
type ParseOptions struct {
	Delimiter Delimiter `json:"delimiter"`
	// FirstRowIsHeader classifies the first row as headers. When false,
	// every column starts unassigned and no inference is attempted.
	FirstRowIsHeader bool `json:"firstRowIsHeader"`
	// Trim strips surrounding whitespace from every cell.
	Trim bool `json:"trim"`
}

// ParseOutput is a complete, self-consistent header/row set.
type ParseOutput struct {
	Columns []ColumnKind
	Rows    []*Row
}

// ParseText parses raw delimited text. limit bounds the number of data
// rows (0 means unbounded; previews pass PreviewRowCount).
//
// The output is normalized: the column array and every row's cell array
// are padded with empty values up to the width of the widest row, so
// headers and cells are always in lock-step. Fully empty rows are
// skipped; source line numbers are preserved across the gaps.
func ParseText(text string, opts ParseOptions, limit int) (*ParseOutput, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("no data to parse")
	}

	r := csv.NewReader(bytes.NewReader(sanitizeUTF8([]byte(text))))
	r.Comma = opts.Delimiter.Rune()
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		rawHeaders []string
		records    []*Row
		width      int
		first      = true
	)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		line, _ := r.FieldPos(0)

		if opts.Trim {
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}
		}
		if len(record) > width {
			width = len(record)
		}

		if first && opts.FirstRowIsHeader {
			rawHeaders = record
			first = false
			continue
		}
		first = false

		if isEmptyRecord(record) {
			continue
		}

		cells := make([]Cell, len(record))
		for i, v := range record {
			cells[i] = Cell{Value: v}
		}
		records = append(records, &Row{
			SourceLine: line,
			State:      RowIdle,
			Cells:      cells,
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	if len(records) == 0 {
		return nil, errors.New("no data rows found")
	}

	// Pad every row out to the widest row.
	for _, row := range records {
		for len(row.Cells) < width {
			row.Cells = append(row.Cells, Cell{})
		}
	}

	columns := make([]ColumnKind, width)
	if opts.FirstRowIsHeader {
		for i := range columns {
			if i < len(rawHeaders) {
				columns[i] = Classify(rawHeaders[i])
			}
		}
	}

	return &ParseOutput{Columns: columns, Rows: records}, nil
}

// isEmptyRecord reports whether every field is blank.
func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement rune
// so pasted Windows exports cannot break the csv reader.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}
	return buf.Bytes()
}
