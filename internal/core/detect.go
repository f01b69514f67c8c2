package core

// detect.go is the problem detector: a full-table validation pass that
// rebuilds the error and warning lists from scratch and sets or clears
// the invalid flag on every validated cell. It runs after every relevant
// edit; it never mutates cell values.

import (
	"fmt"
	"regexp"
	"strings"
)

// maxProblemSamples caps the offending values quoted in one aggregated
// message. The true count is always reported alongside the sample.
const maxProblemSamples = 10

// MinUsernameLength is the shortest username the directory accepts.
const MinUsernameLength = 3

var (
	// usernameRegexp: lowercase letter start, then lowercase letters,
	// digits, underscore, dot or dash, total length >= 3.
	usernameRegexp = regexp.MustCompile(`^[a-z][a-z0-9_.-]{2,}$`)
	emailRegexp    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// DetectOptions configures a detector pass.
type DetectOptions struct {
	// UpdateOnly switches the structural rules to update-only mode:
	// a username column becomes mandatory and the create-mode required
	// columns are not.
	UpdateOnly bool
	// AutomaticEmails marks tenants whose email addresses are derived
	// from usernames; an email column is then a hard error.
	AutomaticEmails bool
	// CommonPasswords is the denylist of passwords rejected outright.
	CommonPasswords map[string]struct{}
	// SelectFailing selects every row that ends the pass with at least
	// one invalid cell and deselects every row without one, so the
	// operator can isolate the bad rows.
	SelectFailing bool
}

// Detect revalidates the whole table. Its only side effects are the
// table's Errors and Warnings lists, the per-cell invalid flags, and,
// with SelectFailing, the per-row selection.
func Detect(t *Table, opts DetectOptions) {
	t.Errors = nil
	t.Warnings = nil

	d := &detector{table: t, opts: opts}
	d.clearFlags()
	d.checkStructure()

	for col, kind := range t.Columns {
		switch kind {
		case ColumnFirstName, ColumnLastName:
			d.checkName(col, kind)
		case ColumnUsername:
			d.checkUsernames(col)
		case ColumnRole:
			d.checkRoles(col)
		case ColumnExternalID:
			d.checkUniqueField(col, kind)
		case ColumnEmail:
			d.checkEmails(col)
		case ColumnPhone:
			d.checkPhones(col)
		case ColumnPassword:
			d.checkPasswords(col)
		}
	}

	if opts.SelectFailing {
		for _, row := range t.Rows {
			row.Selected = rowHasInvalidCell(row)
		}
	}
}

type detector struct {
	table *Table
	opts  DetectOptions
}

// clearFlags resets the invalid marker on every cell in a recognized
// column. Unassigned columns are never validated, so their flags are
// left alone.
func (d *detector) clearFlags() {
	for col, kind := range d.table.Columns {
		if !IsKnownKind(kind) {
			continue
		}
		for _, row := range d.table.Rows {
			row.Cells[col].Invalid = false
			row.Cells[col].Message = ""
		}
	}
}

// checkStructure validates the column layout: duplicated kinds, and the
// mandatory/advisory column sets of the active mode.
func (d *detector) checkStructure() {
	for _, kind := range KnownKinds() {
		if n := d.table.ColumnCount(kind); n > 1 {
			d.addError(Problem{
				Message: fmt.Sprintf("the table has %d %q columns, only one is allowed", n, kind),
				Count:   n,
			})
		}
	}

	if d.opts.UpdateOnly {
		hasUID := d.table.ColumnCount(ColumnUsername) > 0
		if !hasUID {
			d.addError(Problem{Message: "update-only mode requires a username column", Count: 1})
		}
		others := 0
		for _, kind := range d.table.Columns {
			if IsKnownKind(kind) && kind != ColumnUsername {
				others++
			}
		}
		if others == 0 {
			d.addError(Problem{Message: "update-only mode requires at least one column besides the username", Count: 1})
		}
		if d.table.ColumnCount(ColumnRole) > 0 {
			d.addWarning(Problem{Message: "mass role changes are not supported in update-only mode; the role column will be ignored", Count: 1})
		}
		return
	}

	for _, kind := range []ColumnKind{ColumnFirstName, ColumnLastName, ColumnUsername, ColumnRole} {
		if d.table.ColumnCount(kind) == 0 {
			d.addError(Problem{Message: fmt.Sprintf("the table has no %q column, it is required when creating users", kind), Count: 1})
		}
	}
	if d.table.ColumnCount(ColumnGroup) == 0 {
		d.addWarning(Problem{Message: "the table has no group column; new users will not be placed in any group", Count: 1})
	}
	if d.table.ColumnCount(ColumnPassword) == 0 {
		d.addWarning(Problem{Message: "the table has no password column; new users will get no initial password", Count: 1})
	}
}

// checkName flags empty first/last name cells, aggregated into one
// message per column.
func (d *detector) checkName(col int, kind ColumnKind) {
	empty := 0
	for _, row := range d.table.Rows {
		if strings.TrimSpace(row.Cells[col].Value) == "" {
			d.flag(row, col, "the name is empty")
			empty++
		}
	}
	if empty > 0 {
		noun := "first name"
		if kind == ColumnLastName {
			noun = "last name"
		}
		d.addError(Problem{
			Message: fmt.Sprintf("%d row(s) have an empty %s", empty, noun),
			Count:   empty,
		})
	}
}

// checkUsernames validates every username for emptiness, length, pattern
// and in-table uniqueness. The four violation classes are reported as
// separate aggregated messages.
func (d *detector) checkUsernames(col int) {
	var empty, short, invalid, duplicate sampled
	firstSeen := make(map[string]bool, len(d.table.Rows))

	for _, row := range d.table.Rows {
		v := strings.TrimSpace(row.Cells[col].Value)
		switch {
		case v == "":
			d.flag(row, col, "the username is empty")
			empty.add(v)
			continue
		case len(v) < MinUsernameLength:
			d.flag(row, col, "the username is too short")
			short.add(v)
		case !usernameRegexp.MatchString(v):
			d.flag(row, col, "the username contains invalid characters")
			invalid.add(v)
		}

		if firstSeen[v] {
			d.flag(row, col, "the username is duplicated")
			duplicate.add(v)
		} else {
			firstSeen[v] = true
		}
	}

	d.addSampled(empty, "%d username(s) are empty")
	d.addSampled(short, "%d username(s) are shorter than %d characters", MinUsernameLength)
	d.addSampled(invalid, "%d username(s) are not valid (must start with a lowercase letter and contain only lowercase letters, digits, and _.-)")
	d.addSampled(duplicate, "%d username(s) are duplicated")
}

// checkRoles requires every role to be a non-empty member of the allowed
// set.
func (d *detector) checkRoles(col int) {
	var bad sampled
	for _, row := range d.table.Rows {
		v := strings.TrimSpace(row.Cells[col].Value)
		if v == "" || !IsAllowedRole(v) {
			d.flag(row, col, fmt.Sprintf("the role must be one of: %s", strings.Join(AllowedRoles, ", ")))
			bad.add(v)
		}
	}
	d.addSampled(bad, "%d role(s) are missing or not allowed")
}

// checkUniqueField validates optional unique fields (external ids): when
// present, the value must be unique within the table and must not be
// bound to a different username in the remote directory.
func (d *detector) checkUniqueField(col int, kind ColumnKind) {
	uidCol := d.table.ColumnIndex(ColumnUsername)
	var dup, taken sampled
	firstSeen := make(map[string]bool)

	for _, row := range d.table.Rows {
		v := strings.TrimSpace(row.Cells[col].Value)
		if v == "" {
			continue
		}
		if firstSeen[v] {
			d.flag(row, col, "the value is duplicated")
			dup.add(v)
		} else {
			firstSeen[v] = true
		}
		if owner, ok := d.table.Known.OwnerOfExternalID(v); ok && owner != d.rowUsername(row, uidCol) {
			d.flag(row, col, fmt.Sprintf("already assigned to user %q in the directory", owner))
			taken.add(v)
		}
	}

	d.addSampled(dup, "%d external id(s) are duplicated")
	d.addSampled(taken, "%d external id(s) already belong to another user")
}

// checkEmails validates format, in-table uniqueness and remote binding.
// When the tenant derives emails automatically the whole column is
// rejected.
func (d *detector) checkEmails(col int) {
	if d.opts.AutomaticEmails {
		n := 0
		for _, row := range d.table.Rows {
			if strings.TrimSpace(row.Cells[col].Value) != "" {
				d.flag(row, col, "email addresses are generated automatically and cannot be imported")
				n++
			}
		}
		d.addError(Problem{
			Message: "this organisation generates email addresses automatically; remove the email column",
			Count:   max(n, 1),
		})
		return
	}

	uidCol := d.table.ColumnIndex(ColumnUsername)
	var malformed, dup, taken sampled
	firstSeen := make(map[string]bool)

	for _, row := range d.table.Rows {
		v := strings.TrimSpace(row.Cells[col].Value)
		if v == "" {
			continue
		}
		if !emailRegexp.MatchString(v) {
			d.flag(row, col, "the email address is not valid")
			malformed.add(v)
			continue
		}
		if firstSeen[v] {
			d.flag(row, col, "the email address is duplicated")
			dup.add(v)
		} else {
			firstSeen[v] = true
		}
		if owner, ok := d.table.Known.OwnerOfEmail(v); ok && owner != d.rowUsername(row, uidCol) {
			d.flag(row, col, fmt.Sprintf("already assigned to user %q in the directory", owner))
			taken.add(v)
		}
	}

	d.addSampled(malformed, "%d email address(es) are not valid")
	d.addSampled(dup, "%d email address(es) are duplicated")
	d.addSampled(taken, "%d email address(es) already belong to another user")
}

// checkPhones validates phone numbers: the literal "-" is rejected (the
// directory rejects it catastrophically downstream), and values must be
// unique within the table and unbound remotely.
func (d *detector) checkPhones(col int) {
	uidCol := d.table.ColumnIndex(ColumnUsername)
	var dash, dup, taken sampled
	firstSeen := make(map[string]bool)

	for _, row := range d.table.Rows {
		v := strings.TrimSpace(row.Cells[col].Value)
		if v == "" {
			continue
		}
		if v == "-" {
			d.flag(row, col, `the phone number "-" is not allowed`)
			dash.add(v)
			continue
		}
		if firstSeen[v] {
			d.flag(row, col, "the phone number is duplicated")
			dup.add(v)
		} else {
			firstSeen[v] = true
		}
		if owner, ok := d.table.Known.OwnerOfPhone(v); ok && owner != d.rowUsername(row, uidCol) {
			d.flag(row, col, fmt.Sprintf("already assigned to user %q in the directory", owner))
			taken.add(v)
		}
	}

	d.addSampled(dash, `%d phone number(s) are the literal "-", which the directory rejects`)
	d.addSampled(dup, "%d phone number(s) are duplicated")
	d.addSampled(taken, "%d phone number(s) already belong to another user")
}

// checkPasswords rejects passwords found on the common-password denylist.
func (d *detector) checkPasswords(col int) {
	if len(d.opts.CommonPasswords) == 0 {
		return
	}
	var common sampled
	for _, row := range d.table.Rows {
		v := row.Cells[col].Value
		if v == "" {
			continue
		}
		if _, bad := d.opts.CommonPasswords[strings.ToLower(v)]; bad {
			d.flag(row, col, "the password is too common")
			common.add(v)
		}
	}
	d.addSampled(common, "%d password(s) are on the common-password list")
}

func (d *detector) rowUsername(row *Row, uidCol int) string {
	if uidCol < 0 {
		return ""
	}
	return strings.TrimSpace(row.Cells[uidCol].Value)
}

func (d *detector) flag(row *Row, col int, message string) {
	row.Cells[col].Invalid = true
	row.Cells[col].Message = message
}

func (d *detector) addError(p Problem)   { d.table.Errors = append(d.table.Errors, p) }
func (d *detector) addWarning(p Problem) { d.table.Warnings = append(d.table.Warnings, p) }

// addSampled appends one aggregated error for a violation class, quoting
// at most maxProblemSamples offending values. format receives the count
// plus any extra args.
func (d *detector) addSampled(s sampled, format string, extra ...any) {
	if s.count == 0 {
		return
	}
	args := append([]any{s.count}, extra...)
	msg := fmt.Sprintf(format, args...)
	if len(s.samples) > 0 {
		msg += ": " + strings.Join(s.samples, ", ")
		if s.count > len(s.samples) {
			msg += ", …"
		}
	}
	d.addError(Problem{Message: msg, Count: s.count, Samples: s.samples})
}

// sampled accumulates a violation count plus a capped sample of the
// offending values.
type sampled struct {
	count   int
	samples []string
}

func (s *sampled) add(v string) {
	s.count++
	if v != "" && len(s.samples) < maxProblemSamples {
		s.samples = append(s.samples, v)
	}
}

func rowHasInvalidCell(row *Row) bool {
	for _, c := range row.Cells {
		if c.Invalid {
			return true
		}
	}
	return false
}
