package core

// service_run.go is the import orchestrator: run preconditions, the
// sequential batch loop executed on the import worker, stop/resume, and
// per-row outcome write-back.

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StartOptions configures an import run.
type StartOptions struct {
	Mode   RunMode      `json:"mode"`
	Policy ImportPolicy `json:"policy"`
	School string       `json:"school"`
	// Resume continues the previously stopped run from the row after the
	// last fully processed one instead of planning a fresh run.
	Resume bool `json:"resume"`
}

// StartImport checks the run preconditions and hands the run to the
// import worker. It returns the run ID immediately; progress is observed
// through Progress. Every precondition violation is a distinct refusal
// and none of them mutate state.
func (s *Service) StartImport(ctx context.Context, opts StartOptions) (string, error) {
	s.mu.Lock()

	if s.busy {
		s.mu.Unlock()
		return "", ErrBusy
	}
	if s.run != nil && s.run.Active {
		s.mu.Unlock()
		return "", ErrRunActive
	}

	var run *Run
	if opts.Resume {
		prev := s.run
		if prev == nil || prev.Outcome != OutcomeStopped || prev.NextIndex >= len(prev.Plan) {
			s.mu.Unlock()
			return "", ErrNothingToResume
		}
		run = prev
		run.Active = true
		run.StopRequested = false
		run.Outcome = OutcomeRunning
		run.Message = ""
		run.resume = true
	} else {
		if len(s.table.Rows) == 0 {
			s.mu.Unlock()
			return "", ErrTableEmpty
		}
		if len(s.table.Errors) > 0 {
			s.mu.Unlock()
			return "", ErrTableHasErrors
		}
		rows, err := selectRunRows(s.table, opts.Mode, s.run)
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
		run = &Run{
			ID:          uuid.New().String(),
			School:      opts.School,
			Mode:        opts.Mode,
			Policy:      opts.Policy,
			Active:      true,
			Outcome:     OutcomeRunning,
			StartedAt:   time.Now(),
			pendingRows: rows,
		}
	}

	s.run = run
	s.busy = true
	s.mu.Unlock()

	if err := s.importWorker.submit(ctx, importRequest{Tag: run.ID, Run: run}); err != nil {
		s.mu.Lock()
		run.Active = false
		run.Outcome = OutcomeAborted
		run.Message = err.Error()
		s.busy = false
		s.mu.Unlock()
		return "", err
	}

	s.log.Info("import run started",
		"run_id", run.ID,
		"mode", run.Mode,
		"policy", run.Policy,
		"resume", opts.Resume,
	)
	return run.ID, nil
}

// RequestStop asks the active run to stop. Stopping is cooperative and
// batch-granular: the request takes effect after the in-flight batch
// returns. A second request while already stopping is refused with
// ErrAlreadyStopping instead of a second cancellation attempt.
func (s *Service) RequestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || !s.run.Active {
		return ErrNoRunActive
	}
	if s.run.StopRequested {
		return ErrAlreadyStopping
	}
	s.run.StopRequested = true
	s.log.Info("stop requested", "run_id", s.run.ID)
	return nil
}

// RunSnapshot is the progress view of a run, safe to serve while the
// run is executing.
type RunSnapshot struct {
	ID            string       `json:"id"`
	School        string       `json:"school"`
	Mode          RunMode      `json:"mode"`
	Policy        ImportPolicy `json:"policy"`
	Active        bool         `json:"active"`
	StopRequested bool         `json:"stopRequested"`
	Outcome       RunOutcome   `json:"outcome"`
	Message       string       `json:"message,omitempty"`
	Total         int          `json:"total"`
	Processed     int          `json:"processed"`
	Succeeded     int          `json:"succeeded"`
	Partial       int          `json:"partial"`
	Failed        int          `json:"failed"`
	// LastRowProcessed is the table row index of the last fully
	// processed plan entry, -1 when nothing has completed.
	LastRowProcessed int       `json:"lastRowProcessed"`
	Resumable        bool      `json:"resumable"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt,omitzero"`
}

// Progress returns a snapshot of the active or last run.
func (s *Service) Progress() (RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return RunSnapshot{}, ErrNoRunActive
	}
	return s.snapshotLocked(s.run), nil
}

func (s *Service) snapshotLocked(run *Run) RunSnapshot {
	snap := RunSnapshot{
		ID:               run.ID,
		School:           run.School,
		Mode:             run.Mode,
		Policy:           run.Policy,
		Active:           run.Active,
		StopRequested:    run.StopRequested,
		Outcome:          run.Outcome,
		Message:          run.Message,
		Total:            len(run.Plan),
		Processed:        run.NextIndex,
		Succeeded:        run.Succeeded,
		Partial:          run.Partial,
		Failed:           run.Failed,
		LastRowProcessed: -1,
		Resumable:        run.Outcome == OutcomeStopped && run.NextIndex < len(run.Plan),
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
	}
	if snap.Total == 0 {
		snap.Total = len(run.pendingRows)
	}
	if last := run.LastProcessed(); last >= 0 && last < len(run.Plan) {
		snap.LastRowProcessed = run.Plan[last].RowIndex
	}
	return snap
}

// executeRun is the import worker's entry point. It resolves identities
// (unless resuming), then dispatches batches strictly one at a time,
// writing per-row state back into the table between batches.
func (s *Service) executeRun(ctx context.Context, run *Run) {
	log := s.log.With("run_id", run.ID)

	if !run.resume {
		s.mu.RLock()
		usernames := planUsernames(s.table, run.pendingRows)
		s.mu.RUnlock()

		identities, err := s.importer.GetCurrentIdentities(ctx, usernames)
		if err != nil {
			s.finishRun(ctx, run, OutcomeAborted, fmt.Sprintf("could not resolve usernames: %v", err))
			return
		}

		s.mu.Lock()
		plan, err := buildPlan(s.table, run.pendingRows, identities)
		if err != nil {
			s.mu.Unlock()
			s.finishRun(ctx, run, OutcomeAborted, err.Error())
			return
		}
		plan = applyPolicy(plan, run.Policy)
		run.Plan = plan
		s.mu.Unlock()

		if len(plan) == 0 {
			s.finishRun(ctx, run, OutcomeAborted, "no rows are left to import under the selected mode")
			return
		}
		log.Info("run planned", "rows", len(plan))
	}

	for {
		s.mu.Lock()
		if run.NextIndex >= len(run.Plan) {
			s.mu.Unlock()
			break
		}
		if run.StopRequested {
			last := s.snapshotLocked(run).LastRowProcessed
			s.mu.Unlock()
			s.finishRun(ctx, run, OutcomeStopped,
				fmt.Sprintf("stopped by request; last processed row index %d", last))
			return
		}

		end := min(run.NextIndex+s.batchSize, len(run.Plan))
		batch := run.Plan[run.NextIndex:end]
		req := BatchRequest{
			School:     run.School,
			StartIndex: run.NextIndex,
			BatchSize:  len(batch),
			Columns:    append([]ColumnKind(nil), s.table.Columns...),
		}
		for _, target := range batch {
			row := s.table.Rows[target.RowIndex]
			row.State = RowProcessing
			row.Message = ""
			values := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				values[i] = c.Value
			}
			req.Rows = append(req.Rows, BatchRow{
				RowIndex:   target.RowIndex,
				ExistingID: target.ExistingID,
				Values:     values,
			})
		}
		s.mu.Unlock()

		resp, err := s.importer.ImportBatch(ctx, req)

		s.mu.Lock()
		if err != nil {
			// A transport-level failure differs from a row-level one:
			// every row of this batch fails with the transport message
			// and no further batches are dispatched.
			for _, target := range batch {
				row := s.table.Rows[target.RowIndex]
				row.State = RowFailed
				row.Message = err.Error()
				run.Failed++
				run.FailedRows = append(run.FailedRows, target.RowIndex)
			}
			s.mu.Unlock()
			s.finishRun(ctx, run, OutcomeFailed, fmt.Sprintf("import halted: %v", err))
			return
		}
		s.applyBatchResults(run, batch, resp)
		run.NextIndex = end
		s.mu.Unlock()

		log.Debug("batch finished", "processed", end, "total", len(run.Plan))
	}

	s.finishRun(ctx, run, OutcomeCompleted, "")
}

// applyBatchResults writes the directory's per-row outcomes back into
// the table. Caller holds the lock. Every submitted row must be
// accounted for; a missing outcome is treated as a row failure.
func (s *Service) applyBatchResults(run *Run, batch []RowTarget, resp BatchResponse) {
	results := make(map[int]RowResult, len(resp.Results))
	for _, r := range resp.Results {
		if _, dup := results[r.RowIndex]; !dup {
			results[r.RowIndex] = r
		}
	}

	for _, target := range batch {
		row := s.table.Rows[target.RowIndex]
		res, ok := results[target.RowIndex]
		if !ok {
			row.State = RowFailed
			row.Message = "the directory reported no outcome for this row"
			run.Failed++
			run.FailedRows = append(run.FailedRows, target.RowIndex)
			continue
		}

		switch res.Status {
		case BatchRowOK:
			row.State = RowSuccess
			row.Message = ""
			run.Succeeded++
		case BatchRowPartial:
			row.State = RowPartial
			row.Message = res.Message
			run.Partial++
			markAttributeFailures(row, res.Failures)
		default:
			row.State = RowFailed
			row.Message = res.Message
			if row.Message == "" {
				row.Message = "the row was not imported"
			}
			run.Failed++
			run.FailedRows = append(run.FailedRows, target.RowIndex)
			markAttributeFailures(row, res.Failures)
		}
	}
}

// markAttributeFailures places fine-grained error markers on the cells a
// partially failed row names.
func markAttributeFailures(row *Row, failures []AttributeFailure) {
	for _, f := range failures {
		if f.Index < 0 || f.Index >= len(row.Cells) {
			continue
		}
		row.Cells[f.Index].Invalid = true
		row.Cells[f.Index].Message = f.Message
	}
}

// finishRun closes out a run, releases the busy lock and records the
// outcome in the run history.
func (s *Service) finishRun(ctx context.Context, run *Run, outcome RunOutcome, message string) {
	s.mu.Lock()
	run.Active = false
	run.Outcome = outcome
	run.Message = message
	run.FinishedAt = time.Now()
	s.busy = false
	rec := RunRecord{
		RunID:      run.ID,
		School:     run.School,
		Mode:       run.Mode,
		Policy:     run.Policy,
		Outcome:    outcome,
		Message:    message,
		Total:      len(run.Plan),
		Succeeded:  run.Succeeded,
		Partial:    run.Partial,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	history := s.history
	s.mu.Unlock()

	s.log.Info("import run finished",
		"run_id", run.ID,
		"outcome", outcome,
		"succeeded", rec.Succeeded,
		"partial", rec.Partial,
		"failed", rec.Failed,
	)

	if history != nil {
		if err := history.RecordRun(ctx, rec); err != nil {
			s.log.Warn("could not record run history", "run_id", run.ID, "error", err)
		}
	}
}
