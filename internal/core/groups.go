package core

// groups.go rewrites the group column from a raw-group source column via
// an operator-supplied mapping, and provides the generic fill/clear
// operations every column supports.

import "strings"

// GroupParseResult summarizes a raw-group parse pass.
type GroupParseResult struct {
	Rewritten int `json:"rewritten"`
	Skipped   int `json:"skipped"`
	// Missing counts rows whose raw value had no mapping entry.
	Missing int `json:"missing"`
}

// ParseGroups maps raw group strings to target group identifiers. It
// requires exactly one raw-group column (the source) and exactly one
// group column (the target). Raw values absent from the mapping are
// counted as missing and leave the target cell untouched.
func ParseGroups(t *Table, mapping map[string]string, overwrite bool) (GroupParseResult, error) {
	var res GroupParseResult

	rawCol, err := requireOneColumn(t, ColumnRawGroup)
	if err != nil {
		return res, err
	}
	groupCol, err := requireOneColumn(t, ColumnGroup)
	if err != nil {
		return res, err
	}
	if len(t.Rows) == 0 {
		return res, errEmptyTable
	}

	start, end := operationRange(t)
	for i := start; i <= end; i++ {
		row := t.Rows[i]
		if !overwrite && row.Cells[groupCol].Value != "" {
			res.Skipped++
			continue
		}

		raw := strings.TrimSpace(row.Cells[rawCol].Value)
		target, ok := mapping[raw]
		if !ok || target == "" {
			res.Missing++
			continue
		}
		row.Cells[groupCol] = Cell{Value: target}
		res.Rewritten++
	}

	return res, nil
}

// FillResult summarizes a fill or clear pass.
type FillResult struct {
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
}

// FillColumn sets every targeted cell in the column to value. With
// overwrite off, cells that already hold a value are left untouched.
// An empty value clears the cells (clearing always overwrites).
func FillColumn(t *Table, colIndex int, value string, overwrite bool) (FillResult, error) {
	var res FillResult

	if colIndex < 0 || colIndex >= len(t.Columns) {
		return res, errColumnOutOfRange(t, colIndex)
	}
	if len(t.Rows) == 0 {
		return res, errEmptyTable
	}

	clearing := value == ""
	start, end := operationRange(t)
	for i := start; i <= end; i++ {
		row := t.Rows[i]
		if !clearing && !overwrite && row.Cells[colIndex].Value != "" {
			res.Skipped++
			continue
		}
		row.Cells[colIndex] = Cell{Value: value}
		res.Changed++
	}

	return res, nil
}

// DistinctRawGroups returns the distinct raw-group values in row order,
// used to build the mapping form the operator fills in.
func DistinctRawGroups(t *Table) ([]string, error) {
	rawCol, err := requireOneColumn(t, ColumnRawGroup)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var values []string
	for _, row := range t.Rows {
		v := strings.TrimSpace(row.Cells[rawCol].Value)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	return values, nil
}
