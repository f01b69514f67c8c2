package core

// service.go is the single logical owner of the table. Every operator
// action goes through the Service, which serializes mutations, re-runs
// the problem detector after each one, and coordinates the two
// background workers. Correctness rests on one asynchronous operation
// being in flight at a time: mutating calls refuse with ErrBusy while a
// parse or an import run is outstanding.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DirectoryImporter is the slice of the remote directory the orchestrator
// needs. Satisfied by *directory.Client.
type DirectoryImporter interface {
	// GetCurrentIdentities resolves every submitted username to an
	// existing record identifier or the "new" sentinel, in one call.
	GetCurrentIdentities(ctx context.Context, usernames []string) ([]Identity, error)
	// ImportBatch creates/updates one batch of rows and reports a
	// per-row outcome. An error return is a transport-level failure.
	ImportBatch(ctx context.Context, req BatchRequest) (BatchResponse, error)
}

// RunRecorder persists finished runs. Satisfied by *store.Store.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// RunRecord is the history entry written for every finished run.
type RunRecord struct {
	RunID      string
	School     string
	Mode       RunMode
	Policy     ImportPolicy
	Outcome    RunOutcome
	Message    string
	Total      int
	Succeeded  int
	Partial    int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ErrBusy is returned when an operation is refused because another
// asynchronous operation is in flight.
var ErrBusy = fmt.Errorf("another operation is in progress, please wait")

// ServiceOptions configures a Service.
type ServiceOptions struct {
	BatchSize int
	// AutomaticEmails marks tenants whose addresses derive from
	// usernames; the detector then rejects email columns outright.
	AutomaticEmails bool
	CommonPasswords map[string]struct{}
	History         RunRecorder
	Logger          *slog.Logger
}

// Service owns the tabular import model and drives all operations on it.
type Service struct {
	mu sync.RWMutex

	table    *Table
	importer DirectoryImporter
	history  RunRecorder
	log      *slog.Logger

	batchSize       int
	automaticEmails bool
	commonPasswords map[string]struct{}

	// busy is set while a parse or an import run is outstanding.
	busy bool

	// run is the active run while one exists, otherwise the last
	// finished run (kept for resume and retry-failed).
	run *Run

	parseWorker  *parseWorker
	importWorker *importWorker
}

// NewService creates the service and starts its two background workers.
// The workers live until ctx is cancelled.
func NewService(ctx context.Context, importer DirectoryImporter, opts ServiceOptions) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		table:           NewTable(),
		importer:        importer,
		history:         opts.History,
		log:             opts.Logger,
		batchSize:       opts.BatchSize,
		automaticEmails: opts.AutomaticEmails,
		commonPasswords: opts.CommonPasswords,
	}
	s.parseWorker = newParseWorker(ctx)
	s.importWorker = newImportWorker(ctx, s.executeRun)
	return s
}

// TableState is a snapshot handed to the presentation layer. The
// presentation layer renders it and is never a source of truth.
type TableState struct {
	Table *Table `json:"table"`
	Stats Stats  `json:"stats"`
}

// State returns the current table snapshot.
func (s *Service) State() TableState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// stateLocked builds a snapshot while the caller holds the lock. The
// table is deep-copied: callers serialize the snapshot after the lock
// is released, while the import worker keeps writing row state into
// the live table.
func (s *Service) stateLocked() TableState {
	return TableState{Table: s.table.Clone(), Stats: s.table.ComputeStats()}
}

// detectOptions builds the detector configuration for a pass.
func (s *Service) detectOptions(updateOnly, selectFailing bool) DetectOptions {
	return DetectOptions{
		UpdateOnly:      updateOnly,
		AutomaticEmails: s.automaticEmails,
		CommonPasswords: s.commonPasswords,
		SelectFailing:   selectFailing,
	}
}

// Parse sends text to the parse worker and applies the result. A preview
// request replaces only the preview pane; a full request replaces the
// whole table atomically and re-runs the detector. On a parse error the
// model is left untouched and the single message is returned.
func (s *Service) Parse(ctx context.Context, kind ParseKind, text string, opts ParseOptions, updateOnly bool) (TableState, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return TableState{}, ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	tag := uuid.New().String()
	resp, err := s.parseWorker.do(ctx, parseRequest{Tag: tag, Kind: kind, Text: text, Opts: opts})
	if err != nil {
		return TableState{}, err
	}
	if resp.Tag != tag {
		// A response for a request this call did not issue must not be
		// applied to either half of the state.
		return TableState{}, fmt.Errorf("stale parse response discarded")
	}
	if resp.Err != nil {
		return TableState{}, resp.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch resp.Kind {
	case ParsePreview:
		s.table.ReplacePreview(resp.Output.Columns, resp.Output.Rows)
	default:
		s.table.Replace(resp.Output.Columns, resp.Output.Rows)
		s.run = nil
		Detect(s.table, s.detectOptions(updateOnly, false))
	}

	s.log.Info("parse applied",
		"kind", resp.Kind,
		"rows", len(resp.Output.Rows),
		"columns", len(resp.Output.Columns),
	)
	return s.stateLocked(), nil
}

// Validate re-runs the detector on demand.
func (s *Service) Validate(updateOnly, selectFailing bool) (TableState, error) {
	return s.mutate(func(t *Table) error { return nil }, updateOnly, selectFailing)
}

// EditCell writes one cell and revalidates.
func (s *Service) EditCell(rowIndex, colIndex int, value string, updateOnly bool) (TableState, error) {
	return s.mutate(func(t *Table) error {
		return t.SetCell(rowIndex, colIndex, value)
	}, updateOnly, false)
}

// SetColumnKind reclassifies a column and revalidates.
func (s *Service) SetColumnKind(index int, kind ColumnKind, updateOnly bool) (TableState, error) {
	if kind != ColumnUnassigned && !IsKnownKind(kind) {
		return TableState{}, fmt.Errorf("unknown column kind %q", kind)
	}
	return s.mutate(func(t *Table) error {
		return t.SetColumnKind(index, kind)
	}, updateOnly, false)
}

// InsertColumn adds a column and revalidates.
func (s *Service) InsertColumn(index int, kind ColumnKind, updateOnly bool) (TableState, error) {
	return s.mutate(func(t *Table) error {
		return t.InsertColumn(index, kind)
	}, updateOnly, false)
}

// DeleteColumn removes a column and revalidates.
func (s *Service) DeleteColumn(index int, updateOnly bool) (TableState, error) {
	return s.mutate(func(t *Table) error {
		return t.DeleteColumn(index)
	}, updateOnly, false)
}

// DeleteRows removes rows and revalidates.
func (s *Service) DeleteRows(indices []int, updateOnly bool) (TableState, error) {
	return s.mutate(func(t *Table) error {
		t.DeleteRows(indices)
		return nil
	}, updateOnly, false)
}

// SetSelection replaces the row selection. Selection has no validation
// effect, but statistics are refreshed.
func (s *Service) SetSelection(indices []int) (TableState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return TableState{}, ErrBusy
	}
	s.table.SetSelection(indices)
	return s.stateLocked(), nil
}

// ResetTable discards all parsed data along with any finished run.
func (s *Service) ResetTable() (TableState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return TableState{}, ErrBusy
	}
	s.table.Reset()
	s.run = nil
	return s.stateLocked(), nil
}

// RefreshKnownIdentities replaces the remote-identity cache used for
// cross-directory duplicate detection, then revalidates.
func (s *Service) RefreshKnownIdentities(known []KnownIdentity, updateOnly bool) (TableState, error) {
	return s.mutate(func(t *Table) error {
		t.Known = NewIdentityCache(known)
		return nil
	}, updateOnly, false)
}

// GenerateUsernames runs the username generator and revalidates.
func (s *Service) GenerateUsernames(opts UsernameOptions, updateOnly bool) (UsernameResult, TableState, error) {
	var res UsernameResult
	state, err := s.mutate(func(t *Table) error {
		var opErr error
		res, opErr = GenerateUsernames(t, opts)
		return opErr
	}, updateOnly, false)
	return res, state, err
}

// ProposeUsernameRepairs previews disambiguated usernames for duplicate
// rows. Read-only; nothing is applied.
func (s *Service) ProposeUsernameRepairs(alternateUmlauts bool) ([]UsernameProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ProposeUsernameRepairs(s.table, alternateUmlauts)
}

// GeneratePasswords runs the password generator and revalidates.
func (s *Service) GeneratePasswords(opts PasswordOptions, updateOnly bool) (PasswordResult, TableState, error) {
	var res PasswordResult
	state, err := s.mutate(func(t *Table) error {
		var opErr error
		res, opErr = GeneratePasswords(t, opts)
		return opErr
	}, updateOnly, false)
	return res, state, err
}

// ParseGroups rewrites the group column from the raw-group column and
// revalidates.
func (s *Service) ParseGroups(mapping map[string]string, overwrite, updateOnly bool) (GroupParseResult, TableState, error) {
	var res GroupParseResult
	state, err := s.mutate(func(t *Table) error {
		var opErr error
		res, opErr = ParseGroups(t, mapping, overwrite)
		return opErr
	}, updateOnly, false)
	return res, state, err
}

// FillColumn fills or clears a column and revalidates.
func (s *Service) FillColumn(colIndex int, value string, overwrite, updateOnly bool) (FillResult, TableState, error) {
	var res FillResult
	state, err := s.mutate(func(t *Table) error {
		var opErr error
		res, opErr = FillColumn(t, colIndex, value, overwrite)
		return opErr
	}, updateOnly, false)
	return res, state, err
}

// DistinctRawGroups lists the distinct raw-group values for the mapping
// form.
func (s *Service) DistinctRawGroups() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DistinctRawGroups(s.table)
}

// mutate applies one mutation under the lock and concludes it with a
// detector pass and statistics refresh. A mutation is never considered
// complete until validation has re-run.
func (s *Service) mutate(fn func(*Table) error, updateOnly, selectFailing bool) (TableState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return TableState{}, ErrBusy
	}
	if err := fn(s.table); err != nil {
		return TableState{}, err
	}
	Detect(s.table, s.detectOptions(updateOnly, selectFailing))
	return s.stateLocked(), nil
}
