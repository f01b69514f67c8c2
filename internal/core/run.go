package core

// run.go defines the import run state machine and the pure planning
// helpers the orchestrator uses: row selection per mode, identity
// partitioning per policy, and batch slicing. The run loop itself lives
// on the import worker (see service.go and worker.go).

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultBatchSize is how many rows one import batch carries. Batches
// are dispatched strictly one at a time, so this bounds concurrent
// remote load.
const DefaultBatchSize = 5

// RunMode selects which rows an import run targets.
type RunMode string

const (
	// RunAll imports every row, excluding rows whose username cell is
	// flagged invalid.
	RunAll RunMode = "all"
	// RunSelected imports only selected rows, with the same exclusion.
	RunSelected RunMode = "selected"
	// RunRetryFailed re-attempts the rows that failed in the previous
	// run, with no exclusion: server-side context may have changed, so a
	// retry must be allowed to re-attempt invalid-looking rows too.
	RunRetryFailed RunMode = "failed"
)

// ImportPolicy limits which identities a run may touch.
type ImportPolicy string

const (
	PolicyCreateOnly      ImportPolicy = "create"
	PolicyUpdateOnly      ImportPolicy = "update"
	PolicyCreateAndUpdate ImportPolicy = "both"
)

// RunOutcome is the terminal state of a run.
type RunOutcome string

const (
	OutcomeRunning   RunOutcome = "running"
	OutcomeCompleted RunOutcome = "completed"
	// OutcomeStopped means the operator stopped the run at a batch
	// boundary; it can be resumed.
	OutcomeStopped RunOutcome = "stopped"
	// OutcomeAborted means the run refused or gave up before dispatching
	// the first batch (precondition failure, unresolvable identity,
	// empty partition).
	OutcomeAborted RunOutcome = "aborted"
	// OutcomeFailed means a batch-level transport error halted the run.
	OutcomeFailed RunOutcome = "failed"
)

// RowTarget is one planned row with its resolved remote identity.
type RowTarget struct {
	RowIndex int    `json:"rowIndex"`
	Username string `json:"username"`
	// ExistingID is the remote record identifier, empty for rows the
	// directory resolved to the "does not exist yet" sentinel.
	ExistingID string `json:"existingId,omitempty"`
	New        bool   `json:"new"`
}

// Run is the transient state of one synchronization.
type Run struct {
	ID     string       `json:"id"`
	School string       `json:"school"`
	Mode   RunMode      `json:"mode"`
	Policy ImportPolicy `json:"policy"`

	Active        bool       `json:"active"`
	StopRequested bool       `json:"stopRequested"`
	Outcome       RunOutcome `json:"outcome"`
	Message       string     `json:"message,omitempty"`

	// Plan is the ordered row list of this run. NextIndex points at the
	// first unprocessed plan entry, so the last fully processed entry is
	// NextIndex-1; a resumed run continues from NextIndex.
	Plan      []RowTarget `json:"plan"`
	NextIndex int         `json:"nextIndex"`

	// FailedRows lists table row indices that failed in this run, for
	// retry-only reruns.
	FailedRows []int `json:"failedRows,omitempty"`

	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`

	// pendingRows holds the selected table row indices until the worker
	// resolves them into the plan. resume marks a continuation of a
	// stopped run: planning is skipped and NextIndex picks up where the
	// stop left off.
	pendingRows []int
	resume      bool
}

// LastProcessed returns the highest plan index that completed, -1 when
// nothing has.
func (r *Run) LastProcessed() int {
	return r.NextIndex - 1
}

// Identity is the directory's answer for one submitted username.
type Identity struct {
	Username string `json:"username"`
	// State is "existing" or "new". Anything else is unresolvable and
	// aborts the run.
	State string `json:"state"`
	ID    string `json:"id,omitempty"`
}

const (
	IdentityExisting = "existing"
	IdentityNew      = "new"
)

// Row outcome statuses reported by the import batch call.
const (
	BatchRowOK      = "ok"
	BatchRowPartial = "partial_ok"
	BatchRowFailed  = "failed"
)

// AttributeFailure is a per-attribute failure inside a partially
// succeeded row, naming the source column so the cell can be marked.
type AttributeFailure struct {
	Column  ColumnKind `json:"column"`
	Index   int        `json:"index"`
	Message string     `json:"message"`
}

// RowResult is the directory's outcome for one submitted row.
type RowResult struct {
	RowIndex int                `json:"rowIndex"`
	Status   string             `json:"status"`
	Message  string             `json:"message,omitempty"`
	Failures []AttributeFailure `json:"failures,omitempty"`
}

// BatchRow is one row as submitted to the directory.
type BatchRow struct {
	RowIndex   int      `json:"rowIndex"`
	ExistingID string   `json:"existingId,omitempty"`
	Values     []string `json:"values"`
}

// BatchRequest is one import batch.
type BatchRequest struct {
	School     string       `json:"school"`
	StartIndex int          `json:"startIndex"`
	BatchSize  int          `json:"batchSize"`
	Columns    []ColumnKind `json:"columns"`
	Rows       []BatchRow   `json:"rows"`
}

// BatchResponse carries the per-row outcomes of one batch.
type BatchResponse struct {
	Results []RowResult `json:"results"`
}

// Refusals returned by run preconditions. None of them mutate state.
var (
	ErrTableEmpty      = errors.New("there is nothing to import, the table is empty")
	ErrTableHasErrors  = errors.New("the table has errors that must be fixed before importing")
	ErrNoUsernameCol   = errors.New("importing requires a username column")
	ErrNoSelectedRows  = errors.New("no rows are selected")
	ErrNoFailedRows    = errors.New("the previous run has no failed rows to retry")
	ErrRunActive       = errors.New("an import is already running")
	ErrNoRunActive     = errors.New("no import is running")
	ErrAlreadyStopping = errors.New("the import is already stopping, please be patient")
	ErrNothingToResume = errors.New("there is no stopped run to resume")
)

// selectRunRows picks the table row indices a run targets. In all and
// selected modes, rows whose username cell is flagged invalid are
// excluded; a retry run takes the previous run's failed list verbatim.
func selectRunRows(t *Table, mode RunMode, previous *Run) ([]int, error) {
	uidCol := t.ColumnIndex(ColumnUsername)
	if uidCol < 0 {
		return nil, ErrNoUsernameCol
	}

	switch mode {
	case RunSelected:
		var rows []int
		for i, row := range t.Rows {
			if row.Selected && !row.Cells[uidCol].Invalid {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			return nil, ErrNoSelectedRows
		}
		return rows, nil

	case RunRetryFailed:
		if previous == nil || len(previous.FailedRows) == 0 {
			return nil, ErrNoFailedRows
		}
		rows := make([]int, 0, len(previous.FailedRows))
		for _, i := range previous.FailedRows {
			if i >= 0 && i < len(t.Rows) {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			return nil, ErrNoFailedRows
		}
		return rows, nil

	default:
		var rows []int
		for i, row := range t.Rows {
			if !row.Cells[uidCol].Invalid {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			return nil, ErrTableEmpty
		}
		return rows, nil
	}
}

// buildPlan matches resolved identities to the selected rows. Every
// submitted username must come back as either existing or new; an
// unresolvable entry aborts the whole run rather than silently skipping
// it, to prevent partial or ambiguous imports.
func buildPlan(t *Table, rows []int, identities []Identity) ([]RowTarget, error) {
	uidCol := t.ColumnIndex(ColumnUsername)
	byName := make(map[string]Identity, len(identities))
	for _, id := range identities {
		byName[id.Username] = id
	}

	plan := make([]RowTarget, 0, len(rows))
	for _, i := range rows {
		username := strings.TrimSpace(t.Rows[i].Cells[uidCol].Value)
		id, ok := byName[username]
		if !ok {
			return nil, fmt.Errorf("the directory did not resolve username %q; aborting to avoid a partial import", username)
		}
		switch id.State {
		case IdentityExisting:
			if id.ID == "" {
				return nil, fmt.Errorf("the directory resolved username %q as existing but returned no identifier", username)
			}
			plan = append(plan, RowTarget{RowIndex: i, Username: username, ExistingID: id.ID})
		case IdentityNew:
			plan = append(plan, RowTarget{RowIndex: i, Username: username, New: true})
		default:
			return nil, fmt.Errorf("the directory returned an unknown state %q for username %q; aborting to avoid a partial import", id.State, username)
		}
	}
	return plan, nil
}

// applyPolicy drops plan entries the policy forbids: new rows under
// update-only, existing rows under create-only.
func applyPolicy(plan []RowTarget, policy ImportPolicy) []RowTarget {
	if policy == PolicyCreateAndUpdate || policy == "" {
		return plan
	}
	kept := plan[:0]
	for _, target := range plan {
		if target.New && policy == PolicyUpdateOnly {
			continue
		}
		if !target.New && policy == PolicyCreateOnly {
			continue
		}
		kept = append(kept, target)
	}
	return kept
}

// planUsernames extracts the usernames of the selected rows for the
// identity resolution call.
func planUsernames(t *Table, rows []int) []string {
	uidCol := t.ColumnIndex(ColumnUsername)
	names := make([]string, 0, len(rows))
	for _, i := range rows {
		names = append(names, strings.TrimSpace(t.Rows[i].Cells[uidCol].Value))
	}
	return names
}
