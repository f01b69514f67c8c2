package core

import (
	"strings"
	"testing"
)

func passwordTable(values ...string) *Table {
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = []string{v}
	}
	return makeTable([]ColumnKind{ColumnPassword}, rows...)
}

func TestGeneratePasswords_FixedRequiresConfirmation(t *testing.T) {
	table := passwordTable("")

	_, err := GeneratePasswords(table, PasswordOptions{Fixed: "correct-horse-battery"})
	if err == nil {
		t.Fatal("unconfirmed fixed password accepted")
	}
	if got := table.Rows[0].Cells[0].Value; got != "" {
		t.Errorf("refused operation wrote a value: %q", got)
	}
}

func TestGeneratePasswords_FixedTooShort(t *testing.T) {
	table := passwordTable("")

	_, err := GeneratePasswords(table, PasswordOptions{Fixed: "short", ConfirmFixed: true})
	if err == nil {
		t.Fatal("too-short fixed password accepted")
	}
}

func TestGeneratePasswords_Fixed(t *testing.T) {
	table := passwordTable("", "")

	res, err := GeneratePasswords(table, PasswordOptions{Fixed: "correct-horse-battery", ConfirmFixed: true})
	if err != nil {
		t.Fatalf("GeneratePasswords() error = %v", err)
	}
	if res.Generated != 2 {
		t.Errorf("Generated = %d, want 2", res.Generated)
	}
	for i, row := range table.Rows {
		if row.Cells[0].Value != "correct-horse-battery" {
			t.Errorf("row %d = %q", i, row.Cells[0].Value)
		}
	}
}

func TestGeneratePasswords_RandomBounds(t *testing.T) {
	table := passwordTable("")

	if _, err := GeneratePasswords(table, PasswordOptions{Length: MinPasswordLength - 1, Lowercase: true}); err == nil {
		t.Error("length below minimum accepted")
	}
	if _, err := GeneratePasswords(table, PasswordOptions{Length: MaxPasswordLength + 1, Lowercase: true}); err == nil {
		t.Error("length above maximum accepted")
	}
	if _, err := GeneratePasswords(table, PasswordOptions{Length: 12}); err == nil {
		t.Error("no character class accepted")
	}
}

func TestGeneratePasswords_Random(t *testing.T) {
	table := passwordTable("", "", "")

	opts := PasswordOptions{Length: 16, Uppercase: true, Lowercase: true, Digits: true}
	res, err := GeneratePasswords(table, opts)
	if err != nil {
		t.Fatalf("GeneratePasswords() error = %v", err)
	}
	if res.Generated != 3 {
		t.Errorf("Generated = %d, want 3", res.Generated)
	}

	seen := make(map[string]bool)
	for i, row := range table.Rows {
		v := row.Cells[0].Value
		if len(v) != 16 {
			t.Errorf("row %d password length = %d, want 16", i, len(v))
		}
		// Every selected class must be represented.
		if !strings.ContainsAny(v, charsUpper) || !strings.ContainsAny(v, charsLower) || !strings.ContainsAny(v, charsDigit) {
			t.Errorf("row %d password %q misses a selected class", i, v)
		}
		if strings.ContainsAny(v, charsPunct) {
			t.Errorf("row %d password %q uses an unselected class", i, v)
		}
		seen[v] = true
	}
	if len(seen) != 3 {
		t.Error("generated passwords are not distinct")
	}
}

func TestGeneratePasswords_OverwriteBehavior(t *testing.T) {
	table := passwordTable("keep-this-one", "")

	res, err := GeneratePasswords(table, PasswordOptions{Length: 12, Lowercase: true})
	if err != nil {
		t.Fatalf("GeneratePasswords() error = %v", err)
	}
	if res.Generated != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 generated, 1 skipped", res)
	}
	if table.Rows[0].Cells[0].Value != "keep-this-one" {
		t.Error("existing password overwritten without overwrite")
	}
}

func TestGeneratePasswords_NoPasswordColumn(t *testing.T) {
	table := makeTable([]ColumnKind{ColumnFirstName}, []string{"Ada"})
	if _, err := GeneratePasswords(table, PasswordOptions{Length: 12, Lowercase: true}); err == nil {
		t.Error("missing password column accepted")
	}
}
