package core

// passwords.go fills the password column, either with one fixed value or
// with per-row random passwords drawn from the selected character
// classes.

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Password length bounds enforced on both generation modes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 100
)

const (
	charsUpper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsLower = "abcdefghijklmnopqrstuvwxyz"
	charsDigit = "0123456789"
	charsPunct = "!#%&()*+-./:;<=>?@[]_{}"
)

// PasswordOptions controls password generation.
type PasswordOptions struct {
	// Fixed, when non-empty, is applied verbatim to every targeted row.
	// Using one password for everyone is a severe anti-pattern, so the
	// caller must also set ConfirmFixed.
	Fixed        string `json:"fixed,omitempty"`
	ConfirmFixed bool   `json:"confirmFixed,omitempty"`

	Length      int  `json:"length"`
	Uppercase   bool `json:"uppercase"`
	Lowercase   bool `json:"lowercase"`
	Digits      bool `json:"digits"`
	Punctuation bool `json:"punctuation"`

	Overwrite bool `json:"overwrite"`
}

// PasswordResult summarizes a generation pass.
type PasswordResult struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
}

// GeneratePasswords fills the password column. It refuses, without
// touching any cell, when the fixed password is unconfirmed or too
// short, when the random length is out of bounds, or when no character
// class is selected.
func GeneratePasswords(t *Table, opts PasswordOptions) (PasswordResult, error) {
	var res PasswordResult

	col, err := requireOneColumn(t, ColumnPassword)
	if err != nil {
		return res, err
	}
	if len(t.Rows) == 0 {
		return res, errEmptyTable
	}

	fixed := opts.Fixed != ""
	if fixed {
		if !opts.ConfirmFixed {
			return res, errors.New("setting the same password for every user must be explicitly confirmed")
		}
		if len(opts.Fixed) < MinPasswordLength {
			return res, fmt.Errorf("the password is too short (%d characters, minimum is %d)", len(opts.Fixed), MinPasswordLength)
		}
	} else {
		if opts.Length < MinPasswordLength || opts.Length > MaxPasswordLength {
			return res, fmt.Errorf("password length must be between %d and %d", MinPasswordLength, MaxPasswordLength)
		}
		if !opts.Uppercase && !opts.Lowercase && !opts.Digits && !opts.Punctuation {
			return res, errors.New("at least one character class must be selected")
		}
	}

	start, end := operationRange(t)
	for i := start; i <= end; i++ {
		row := t.Rows[i]
		if !opts.Overwrite && row.Cells[col].Value != "" {
			res.Skipped++
			continue
		}

		value := opts.Fixed
		if !fixed {
			value, err = randomPassword(opts)
			if err != nil {
				return res, fmt.Errorf("generate password: %w", err)
			}
		}
		row.Cells[col] = Cell{Value: value}
		res.Generated++
	}

	return res, nil
}

// randomPassword draws one character from every selected class, fills
// the rest from the union, then shuffles the result so the class
// concatenation order leaves no positional bias.
func randomPassword(opts PasswordOptions) (string, error) {
	var classes []string
	if opts.Uppercase {
		classes = append(classes, charsUpper)
	}
	if opts.Lowercase {
		classes = append(classes, charsLower)
	}
	if opts.Digits {
		classes = append(classes, charsDigit)
	}
	if opts.Punctuation {
		classes = append(classes, charsPunct)
	}

	union := ""
	for _, c := range classes {
		union += c
	}

	out := make([]byte, 0, opts.Length)
	for _, c := range classes {
		if len(out) >= opts.Length {
			break
		}
		ch, err := randomChar(c)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}
	for len(out) < opts.Length {
		ch, err := randomChar(union)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	// Fisher-Yates with crypto/rand.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := int(n.Int64())
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
