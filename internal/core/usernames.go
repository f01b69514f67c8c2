package core

// usernames.go implements the username column generator and the
// duplicate-username repair pass.

import (
	"errors"
	"fmt"
	"strings"
)

// maxUnconvertibleSamples caps the example names reported when folding
// produces nothing usable.
const maxUnconvertibleSamples = 5

// UsernameOptions controls username generation.
type UsernameOptions struct {
	// FirstNameOnly uses only the first token of a compound first name.
	FirstNameOnly bool `json:"firstNameOnly"`
	// AlternateUmlauts folds ä/ö/ü to ae/oe/ue instead of a/o/u.
	AlternateUmlauts bool `json:"alternateUmlauts"`
	// Overwrite replaces usernames that already have a value.
	Overwrite bool `json:"overwrite"`
}

// UsernameResult summarizes a generation pass.
type UsernameResult struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	// Missing counts rows whose first or last name was empty.
	Missing int `json:"missing"`
	// Unconvertible lists up to maxUnconvertibleSamples names that folded
	// to nothing; UnconvertibleCount is the true total.
	Unconvertible      []string `json:"unconvertible,omitempty"`
	UnconvertibleCount int      `json:"unconvertibleCount"`
}

// GenerateUsernames fills the username column with first.last built from
// the name columns, lower-cased and diacritic-folded. It refuses unless
// the table has exactly one first-name, one last-name and one username
// column. Rows with an empty name are skipped and counted as missing.
//
// When the first name has several words and FirstNameOnly is off, the
// whole first name is used and the internal space is stripped by the
// fold, not converted to a dot: "Ada Maria Lovelace" yields
// "adamaria.lovelace".
func GenerateUsernames(t *Table, opts UsernameOptions) (UsernameResult, error) {
	var res UsernameResult

	firstCol, err := requireOneColumn(t, ColumnFirstName)
	if err != nil {
		return res, err
	}
	lastCol, err := requireOneColumn(t, ColumnLastName)
	if err != nil {
		return res, err
	}
	uidCol, err := requireOneColumn(t, ColumnUsername)
	if err != nil {
		return res, err
	}

	start, end := operationRange(t)
	for i := start; i <= end; i++ {
		row := t.Rows[i]
		if !opts.Overwrite && row.Cells[uidCol].Value != "" {
			res.Skipped++
			continue
		}

		first := strings.TrimSpace(row.Cells[firstCol].Value)
		last := strings.TrimSpace(row.Cells[lastCol].Value)
		if first == "" || last == "" {
			res.Missing++
			continue
		}

		if opts.FirstNameOnly {
			first = strings.Fields(first)[0]
		}

		ff := Fold(first, opts.AlternateUmlauts)
		lf := Fold(last, opts.AlternateUmlauts)
		if ff == "" || lf == "" {
			res.UnconvertibleCount++
			if len(res.Unconvertible) < maxUnconvertibleSamples {
				res.Unconvertible = append(res.Unconvertible, first+" "+last)
			}
			continue
		}

		row.Cells[uidCol] = Cell{Value: ff + "." + lf}
		res.Generated++
	}

	return res, nil
}

// UsernameProposal is a suggested fix for one duplicated username. It is
// a preview only; nothing is applied until the operator accepts it.
type UsernameProposal struct {
	RowIndex   int    `json:"rowIndex"`
	SourceLine int    `json:"sourceLine"`
	Current    string `json:"current"`
	// Proposed is first.middleInitial.last when the row's first name is
	// compound, empty when no automatic disambiguation exists.
	Proposed string `json:"proposed,omitempty"`
}

// ProposeUsernameRepairs finds every row whose username collides with an
// earlier row and proposes a disambiguated replacement where one can be
// derived from a compound first name.
func ProposeUsernameRepairs(t *Table, alternateUmlauts bool) ([]UsernameProposal, error) {
	firstCol, err := requireOneColumn(t, ColumnFirstName)
	if err != nil {
		return nil, err
	}
	lastCol, err := requireOneColumn(t, ColumnLastName)
	if err != nil {
		return nil, err
	}
	uidCol, err := requireOneColumn(t, ColumnUsername)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(t.Rows))
	var proposals []UsernameProposal

	for i, row := range t.Rows {
		username := strings.TrimSpace(row.Cells[uidCol].Value)
		if username == "" {
			continue
		}
		if _, dup := seen[username]; !dup {
			seen[username] = i
			continue
		}

		p := UsernameProposal{
			RowIndex:   i,
			SourceLine: row.SourceLine,
			Current:    username,
		}

		names := strings.Fields(row.Cells[firstCol].Value)
		if len(names) >= 2 {
			first := Fold(names[0], alternateUmlauts)
			middle := Fold(firstRune(names[1]), alternateUmlauts)
			last := Fold(row.Cells[lastCol].Value, alternateUmlauts)
			if first != "" && middle != "" && last != "" {
				p.Proposed = first + "." + middle + "." + last
			}
		}

		proposals = append(proposals, p)
	}

	return proposals, nil
}

// requireOneColumn returns the index of the single column with the given
// kind, or an error when the column is absent or duplicated.
func requireOneColumn(t *Table, kind ColumnKind) (int, error) {
	switch n := t.ColumnCount(kind); {
	case n == 0:
		return 0, fmt.Errorf("the table has no %q column", kind)
	case n > 1:
		return 0, fmt.Errorf("the table has %d %q columns, expected exactly one", n, kind)
	}
	return t.ColumnIndex(kind), nil
}

// operationRange resolves the row range a bulk column operation targets:
// the contiguous selected range when one exists, otherwise every row.
func operationRange(t *Table) (start, end int) {
	if s, e, ok := t.SelectedRange(); ok {
		return s, e
	}
	return 0, len(t.Rows) - 1
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

// errEmptyTable is returned by bulk operations invoked on an empty table.
var errEmptyTable = errors.New("the table has no rows")
