// Package core provides the business logic for the mass user import tool.
// This package has no UI dependencies and can be used by any frontend.
package core

// ColumnKind identifies what a table column holds. The values are the
// canonical vocabulary used in server payloads and generated documents.
type ColumnKind string

const (
	ColumnFirstName  ColumnKind = "first"
	ColumnLastName   ColumnKind = "last"
	ColumnUsername   ColumnKind = "uid"
	ColumnRole       ColumnKind = "role"
	ColumnPhone      ColumnKind = "phone"
	ColumnEmail      ColumnKind = "email"
	ColumnExternalID ColumnKind = "eid"
	ColumnPassword   ColumnKind = "password"
	ColumnGroup      ColumnKind = "group"
	ColumnRawGroup   ColumnKind = "rawgroup"

	// ColumnUnassigned marks a column that is ignored by validation and
	// import. Unknown headers classify to this.
	ColumnUnassigned ColumnKind = ""
)

// RowState tracks a row through an import run.
type RowState string

const (
	RowIdle       RowState = "idle"
	RowProcessing RowState = "processing"
	RowSuccess    RowState = "success"
	RowPartial    RowState = "partial"
	RowFailed     RowState = "failed"
)

// Cell is one value in a row together with its validation marker.
// Keeping the flag next to the value makes the headers/values/flags
// lock-step invariant structural: a row can never have more flags than
// values.
type Cell struct {
	Value   string `json:"value"`
	Invalid bool   `json:"invalid,omitempty"`
	Message string `json:"message,omitempty"`
}

// Row is one imported record.
type Row struct {
	// SourceLine is the 1-based line number in the pasted/uploaded text.
	// It never changes after parsing; resumption and error messages
	// reference it.
	SourceLine int      `json:"sourceLine"`
	Selected   bool     `json:"selected"`
	State      RowState `json:"state"`
	Message    string   `json:"message,omitempty"`
	Cells      []Cell   `json:"cells"`
}

// Problem is one aggregated validation finding. Count is the true number
// of offenders; Samples holds at most the first few offending values used
// in the message text.
type Problem struct {
	Message string   `json:"message"`
	Count   int      `json:"count"`
	Samples []string `json:"samples,omitempty"`
}

// KnownIdentity is a record already present in the remote directory,
// cached locally so duplicate detection can run without a network call
// per keystroke.
type KnownIdentity struct {
	Username   string   `json:"username"`
	ExternalID string   `json:"externalId,omitempty"`
	Emails     []string `json:"emails,omitempty"`
	Phones     []string `json:"phones,omitempty"`
}

// IdentityCache indexes known remote identities by the unique fields the
// detector checks. Lookups return the username the value is bound to.
type IdentityCache struct {
	usernames    map[string]bool
	byExternalID map[string]string
	byEmail      map[string]string
	byPhone      map[string]string
}

// NewIdentityCache builds a cache from directory records.
func NewIdentityCache(known []KnownIdentity) *IdentityCache {
	c := &IdentityCache{
		usernames:    make(map[string]bool, len(known)),
		byExternalID: make(map[string]string),
		byEmail:      make(map[string]string),
		byPhone:      make(map[string]string),
	}
	for _, k := range known {
		if k.Username == "" {
			continue
		}
		c.usernames[k.Username] = true
		if k.ExternalID != "" {
			c.byExternalID[k.ExternalID] = k.Username
		}
		for _, e := range k.Emails {
			if e != "" {
				c.byEmail[e] = k.Username
			}
		}
		for _, p := range k.Phones {
			if p != "" {
				c.byPhone[p] = k.Username
			}
		}
	}
	return c
}

// OwnerOfExternalID returns the username the external id is bound to.
func (c *IdentityCache) OwnerOfExternalID(v string) (string, bool) {
	if c == nil {
		return "", false
	}
	u, ok := c.byExternalID[v]
	return u, ok
}

// OwnerOfEmail returns the username the email is bound to.
func (c *IdentityCache) OwnerOfEmail(v string) (string, bool) {
	if c == nil {
		return "", false
	}
	u, ok := c.byEmail[v]
	return u, ok
}

// OwnerOfPhone returns the username the phone number is bound to.
func (c *IdentityCache) OwnerOfPhone(v string) (string, bool) {
	if c == nil {
		return "", false
	}
	u, ok := c.byPhone[v]
	return u, ok
}

// Size returns the number of cached usernames.
func (c *IdentityCache) Size() int {
	if c == nil {
		return 0
	}
	return len(c.usernames)
}

// Table is the aggregate the whole tool operates on: the classified
// column kinds, the parsed rows, an independently maintained preview
// (first rows only, for live parse-setting adjustment), the accumulated
// validation output, and the remote-identity cache.
type Table struct {
	Columns []ColumnKind `json:"columns"`
	Rows    []*Row       `json:"rows"`

	// Preview mirrors the first PreviewRowCount rows under the current
	// parse settings. It is replaced independently of the full table so
	// an in-flight preview can never clobber full-table state.
	PreviewColumns []ColumnKind `json:"previewColumns"`
	PreviewRows    []*Row       `json:"previewRows"`

	// Errors and Warnings are cleared and rebuilt on every detector pass.
	Errors   []Problem `json:"errors"`
	Warnings []Problem `json:"warnings"`

	Known *IdentityCache `json:"-"`
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Stats summarizes a table for display. Recomputed after every mutation.
type Stats struct {
	Rows      int `json:"rows"`
	Selected  int `json:"selected"`
	Idle      int `json:"idle"`
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
	Warnings  int `json:"warnings"`
}

// AllowedRoles is the fixed set of roles the directory accepts.
var AllowedRoles = []string{
	"teacher", "student", "staff", "parent", "visitor", "testuser", "admin",
}

// IsAllowedRole reports whether role is a member of AllowedRoles.
func IsAllowedRole(role string) bool {
	for _, r := range AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}
