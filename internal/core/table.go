package core

// table.go holds the structural operations on the tabular import model.
// Every insert/delete keeps the rows' cell slices in lock-step with the
// column array, so the width invariant survives any sequence of edits.

import (
	"fmt"
)

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.Columns)
}

func errColumnOutOfRange(t *Table, index int) error {
	return fmt.Errorf("column index %d out of range (table has %d columns)", index, len(t.Columns))
}

// ColumnIndex returns the index of the first column with the given kind,
// or -1 if the kind is not present.
func (t *Table) ColumnIndex(kind ColumnKind) int {
	for i, k := range t.Columns {
		if k == kind {
			return i
		}
	}
	return -1
}

// ColumnCount returns how many columns carry the given kind.
func (t *Table) ColumnCount(kind ColumnKind) int {
	n := 0
	for _, k := range t.Columns {
		if k == kind {
			n++
		}
	}
	return n
}

// Replace swaps in a freshly parsed header/row set. The table is replaced
// wholesale, never merged; prior validation output and selection are gone.
// The identity cache is kept because it describes the remote directory,
// not the local data.
func (t *Table) Replace(columns []ColumnKind, rows []*Row) {
	t.Columns = columns
	t.Rows = rows
	t.Errors = nil
	t.Warnings = nil
}

// Clone returns a deep copy of the table, safe to hand outside the
// service lock while the import worker keeps writing row state into the
// original. The identity cache is shared; it is read-only after
// construction.
func (t *Table) Clone() *Table {
	return &Table{
		Columns:        append([]ColumnKind(nil), t.Columns...),
		Rows:           cloneRows(t.Rows),
		PreviewColumns: append([]ColumnKind(nil), t.PreviewColumns...),
		PreviewRows:    cloneRows(t.PreviewRows),
		Errors:         append([]Problem(nil), t.Errors...),
		Warnings:       append([]Problem(nil), t.Warnings...),
		Known:          t.Known,
	}
}

func cloneRows(rows []*Row) []*Row {
	if rows == nil {
		return nil
	}
	out := make([]*Row, len(rows))
	for i, row := range rows {
		cp := *row
		cp.Cells = append([]Cell(nil), row.Cells...)
		out[i] = &cp
	}
	return out
}

// ReplacePreview swaps in a preview header/row set without touching the
// full table.
func (t *Table) ReplacePreview(columns []ColumnKind, rows []*Row) {
	t.PreviewColumns = columns
	t.PreviewRows = rows
}

// Reset discards all parsed data. Used when the operator reloads source
// data or deletes every row.
func (t *Table) Reset() {
	t.Columns = nil
	t.Rows = nil
	t.PreviewColumns = nil
	t.PreviewRows = nil
	t.Errors = nil
	t.Warnings = nil
}

// SetColumnKind reclassifies one column.
func (t *Table) SetColumnKind(index int, kind ColumnKind) error {
	if index < 0 || index >= len(t.Columns) {
		return fmt.Errorf("column index %d out of range (table has %d columns)", index, len(t.Columns))
	}
	t.Columns[index] = kind
	return nil
}

// InsertColumn adds an empty column of the given kind at index, shifting
// later columns right. Every row gets an empty cell at the same position.
func (t *Table) InsertColumn(index int, kind ColumnKind) error {
	if index < 0 || index > len(t.Columns) {
		return fmt.Errorf("column index %d out of range (table has %d columns)", index, len(t.Columns))
	}
	t.Columns = append(t.Columns, ColumnUnassigned)
	copy(t.Columns[index+1:], t.Columns[index:])
	t.Columns[index] = kind

	for _, row := range t.Rows {
		row.Cells = append(row.Cells, Cell{})
		copy(row.Cells[index+1:], row.Cells[index:])
		row.Cells[index] = Cell{}
	}
	return nil
}

// DeleteColumn removes one column and the matching cell from every row.
func (t *Table) DeleteColumn(index int) error {
	if index < 0 || index >= len(t.Columns) {
		return fmt.Errorf("column index %d out of range (table has %d columns)", index, len(t.Columns))
	}
	t.Columns = append(t.Columns[:index], t.Columns[index+1:]...)
	for _, row := range t.Rows {
		row.Cells = append(row.Cells[:index], row.Cells[index+1:]...)
	}
	return nil
}

// SetCell writes one cell value. Validation flags on the cell are cleared;
// the next detector pass recomputes them.
func (t *Table) SetCell(rowIndex, colIndex int, value string) error {
	if rowIndex < 0 || rowIndex >= len(t.Rows) {
		return fmt.Errorf("row index %d out of range (table has %d rows)", rowIndex, len(t.Rows))
	}
	if colIndex < 0 || colIndex >= len(t.Columns) {
		return fmt.Errorf("column index %d out of range (table has %d columns)", colIndex, len(t.Columns))
	}
	t.Rows[rowIndex].Cells[colIndex] = Cell{Value: value}
	return nil
}

// DeleteRows removes the rows at the given indices. Indices outside the
// table are ignored. If the table ends up empty it is fully reset.
func (t *Table) DeleteRows(indices []int) {
	if len(indices) == 0 {
		return
	}
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	kept := t.Rows[:0]
	for i, row := range t.Rows {
		if !drop[i] {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	if len(t.Rows) == 0 {
		t.Reset()
	}
}

// SetSelection replaces the selection with the given row indices.
func (t *Table) SetSelection(indices []int) {
	selected := make(map[int]bool, len(indices))
	for _, i := range indices {
		selected[i] = true
	}
	for i, row := range t.Rows {
		row.Selected = selected[i]
	}
}

// SelectedRange returns the contiguous run of selected rows, or ok=false
// when the selection is empty or not contiguous. Bulk column operations
// only honor contiguous selections; anything else targets the whole table.
func (t *Table) SelectedRange() (start, end int, ok bool) {
	start, end = -1, -1
	for i, row := range t.Rows {
		if !row.Selected {
			continue
		}
		if start == -1 {
			start = i
		} else if i != end+1 {
			return 0, 0, false
		}
		end = i
	}
	if start == -1 {
		return 0, 0, false
	}
	return start, end, true
}

// ComputeStats tallies row and problem counts for display.
func (t *Table) ComputeStats() Stats {
	s := Stats{
		Rows:     len(t.Rows),
		Errors:   len(t.Errors),
		Warnings: len(t.Warnings),
	}
	for _, row := range t.Rows {
		if row.Selected {
			s.Selected++
		}
		switch row.State {
		case RowSuccess:
			s.Succeeded++
		case RowPartial:
			s.Partial++
		case RowFailed:
			s.Failed++
		default:
			s.Idle++
		}
	}
	return s
}
