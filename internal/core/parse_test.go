package core

import (
	"strings"
	"testing"
)

func TestParseText_HeaderClassification(t *testing.T) {
	text := "first,last,uid,role\nAda,Lovelace,ada.lovelace,student\nAlan,Turing,alan.turing,teacher\n"

	out, err := ParseText(text, ParseOptions{Delimiter: DelimiterComma, FirstRowIsHeader: true}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}

	wantCols := []ColumnKind{ColumnFirstName, ColumnLastName, ColumnUsername, ColumnRole}
	if len(out.Columns) != len(wantCols) {
		t.Fatalf("columns = %v, want %v", out.Columns, wantCols)
	}
	for i, kind := range wantCols {
		if out.Columns[i] != kind {
			t.Errorf("Columns[%d] = %q, want %q", i, out.Columns[i], kind)
		}
	}

	if len(out.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(out.Rows))
	}
	if got := out.Rows[0].Cells[2].Value; got != "ada.lovelace" {
		t.Errorf("Rows[0].Cells[2] = %q, want %q", got, "ada.lovelace")
	}
	if out.Rows[0].SourceLine != 2 {
		t.Errorf("Rows[0].SourceLine = %d, want 2", out.Rows[0].SourceLine)
	}
}

func TestParseText_NoHeader(t *testing.T) {
	out, err := ParseText("Ada,Lovelace\n", ParseOptions{Delimiter: DelimiterComma}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	for i, kind := range out.Columns {
		if kind != ColumnUnassigned {
			t.Errorf("Columns[%d] = %q, want unassigned", i, kind)
		}
	}
	if len(out.Rows) != 1 {
		t.Errorf("rows = %d, want 1", len(out.Rows))
	}
}

func TestParseText_RaggedRowsArePadded(t *testing.T) {
	// Rows and headers must end up in lock-step even when the source rows
	// have different widths.
	text := "first;last;uid\nAda;Lovelace\nAlan;Turing;alan.turing;extra\n"

	out, err := ParseText(text, ParseOptions{Delimiter: DelimiterSemicolon, FirstRowIsHeader: true}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}

	width := len(out.Columns)
	if width != 4 {
		t.Fatalf("width = %d, want 4 (widest row)", width)
	}
	for i, row := range out.Rows {
		if len(row.Cells) != width {
			t.Errorf("Rows[%d] has %d cells, want %d", i, len(row.Cells), width)
		}
	}
	if got := out.Rows[0].Cells[2].Value; got != "" {
		t.Errorf("padded cell = %q, want empty", got)
	}
}

func TestParseText_TabDelimiterAndTrim(t *testing.T) {
	text := "first\tlast\n  Ada \tLovelace \n"

	out, err := ParseText(text, ParseOptions{Delimiter: DelimiterTab, FirstRowIsHeader: true, Trim: true}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if got := out.Rows[0].Cells[0].Value; got != "Ada" {
		t.Errorf("trimmed cell = %q, want %q", got, "Ada")
	}
}

func TestParseText_SkipsEmptyRowsKeepsSourceLines(t *testing.T) {
	text := "first,last\nAda,Lovelace\n,\n\nAlan,Turing\n"

	out, err := ParseText(text, ParseOptions{Delimiter: DelimiterComma, FirstRowIsHeader: true}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (empty rows skipped)", len(out.Rows))
	}
	if out.Rows[1].SourceLine != 5 {
		t.Errorf("Rows[1].SourceLine = %d, want 5", out.Rows[1].SourceLine)
	}
}

func TestParseText_PreviewLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("first,last\n")
	for i := 0; i < 20; i++ {
		b.WriteString("Ada,Lovelace\n")
	}

	out, err := ParseText(b.String(), ParseOptions{Delimiter: DelimiterComma, FirstRowIsHeader: true}, PreviewRowCount)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if len(out.Rows) != PreviewRowCount {
		t.Errorf("preview rows = %d, want %d", len(out.Rows), PreviewRowCount)
	}
}

func TestParseText_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty input", ""},
		{"whitespace only", "   \n\t\n"},
		{"header only", "first,last\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseText(tt.text, ParseOptions{Delimiter: DelimiterComma, FirstRowIsHeader: true}, 0)
			if err == nil {
				t.Error("ParseText() expected error")
			}
		})
	}
}

func TestParseText_InvalidUTF8DoesNotFail(t *testing.T) {
	text := "first,last\nAda,Love\xfflace\n"
	out, err := ParseText(text, ParseOptions{Delimiter: DelimiterComma, FirstRowIsHeader: true}, 0)
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if len(out.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(out.Rows))
	}
}
