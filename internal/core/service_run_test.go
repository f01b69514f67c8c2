package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDirectory implements DirectoryImporter in-process. The batch hook,
// when set, decides the outcome of each ImportBatch call by call number
// (first call is 1).
type fakeDirectory struct {
	mu        sync.Mutex
	calls     []BatchRequest
	batchHook func(call int, req BatchRequest) (BatchResponse, error)
	resolve   func(usernames []string) ([]Identity, error)
}

func (f *fakeDirectory) GetCurrentIdentities(_ context.Context, usernames []string) ([]Identity, error) {
	if f.resolve != nil {
		return f.resolve(usernames)
	}
	identities := make([]Identity, len(usernames))
	for i, u := range usernames {
		identities[i] = Identity{Username: u, State: IdentityNew}
	}
	return identities, nil
}

func (f *fakeDirectory) ImportBatch(_ context.Context, req BatchRequest) (BatchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	call := len(f.calls)
	f.mu.Unlock()

	if f.batchHook != nil {
		return f.batchHook(call, req)
	}
	return allOK(req), nil
}

func (f *fakeDirectory) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.calls))
	for i, c := range f.calls {
		sizes[i] = len(c.Rows)
	}
	return sizes
}

func allOK(req BatchRequest) BatchResponse {
	var resp BatchResponse
	for _, row := range req.Rows {
		resp.Results = append(resp.Results, RowResult{RowIndex: row.RowIndex, Status: BatchRowOK})
	}
	return resp
}

// fakeRecorder signals run completion: finishRun records the history
// entry last, so receiving one means the run is fully settled.
type fakeRecorder struct {
	records chan RunRecord
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: make(chan RunRecord, 4)}
}

func (f *fakeRecorder) RecordRun(_ context.Context, rec RunRecord) error {
	f.records <- rec
	return nil
}

func awaitRecord(t *testing.T, rec *fakeRecorder) RunRecord {
	t.Helper()
	select {
	case r := <-rec.records:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
		return RunRecord{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, dir *fakeDirectory, rec *fakeRecorder) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	var history RunRecorder
	if rec != nil {
		history = rec
	}
	return NewService(ctx, dir, ServiceOptions{
		BatchSize: 5,
		History:   history,
		Logger:    testLogger(),
	})
}

func importTable(n int) *Table {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = validRow("First", "Last", fmt.Sprintf("user.%02d", i), "student")
	}
	return makeTable(createColumns, rows...)
}

func TestImportRun_SequentialBatches(t *testing.T) {
	dir := &fakeDirectory{}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(12)

	id, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll, School: "example"})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	if id == "" {
		t.Fatal("StartImport() returned no run id")
	}

	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q (%s), want completed", record.Outcome, record.Message)
	}
	if record.Total != 12 || record.Succeeded != 12 || record.Failed != 0 {
		t.Errorf("record = %+v, want 12/12 succeeded", record)
	}

	sizes := dir.batchSizes()
	if len(sizes) != 3 || sizes[0] != 5 || sizes[1] != 5 || sizes[2] != 2 {
		t.Errorf("batch sizes = %v, want [5 5 2]", sizes)
	}
	if dir.calls[1].StartIndex != 5 || dir.calls[2].StartIndex != 10 {
		t.Errorf("start indices = %d, %d, want 5, 10", dir.calls[1].StartIndex, dir.calls[2].StartIndex)
	}

	snap, err := s.Progress()
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if snap.Active || snap.Processed != 12 || snap.Resumable {
		t.Errorf("snapshot = %+v", snap)
	}
	for i, row := range s.State().Table.Rows {
		if row.State != RowSuccess {
			t.Errorf("row %d state = %q, want success", i, row.State)
		}
	}
}

func TestImportRun_TransportErrorHaltsRun(t *testing.T) {
	dir := &fakeDirectory{}
	dir.batchHook = func(call int, req BatchRequest) (BatchResponse, error) {
		if call == 2 {
			return BatchResponse{}, errors.New("connection refused")
		}
		return allOK(req), nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(12)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", record.Outcome)
	}
	if record.Succeeded != 5 || record.Failed != 5 {
		t.Errorf("record = %+v, want 5 succeeded, 5 failed", record)
	}
	if len(dir.batchSizes()) != 2 {
		t.Errorf("batch calls = %d, want 2 (no batch after the failure)", len(dir.calls))
	}

	// The failed batch's rows all carry the transport message; rows after
	// it were never dispatched.
	table := s.State().Table
	for i := 5; i < 10; i++ {
		if table.Rows[i].State != RowFailed {
			t.Errorf("row %d state = %q, want failed", i, table.Rows[i].State)
		}
		if !strings.Contains(table.Rows[i].Message, "connection refused") {
			t.Errorf("row %d message = %q", i, table.Rows[i].Message)
		}
	}
	for i := 10; i < 12; i++ {
		if table.Rows[i].State != RowIdle {
			t.Errorf("row %d state = %q, want idle", i, table.Rows[i].State)
		}
	}

	snap, _ := s.Progress()
	if snap.Resumable {
		t.Error("halted run reported as resumable")
	}
	if snap.Processed != 5 || snap.LastRowProcessed != 4 {
		t.Errorf("snapshot = %+v, want processed 5, last row 4", snap)
	}
}

func TestImportRun_StopAndResume(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	dir := &fakeDirectory{}
	dir.batchHook = func(call int, req BatchRequest) (BatchResponse, error) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
		return allOK(req), nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(12)

	id, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll})
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	<-entered

	// While the batch is in flight, everything else is refused.
	if _, err := s.Validate(false, false); !errors.Is(err, ErrBusy) {
		t.Errorf("Validate during run: error = %v, want ErrBusy", err)
	}
	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); !errors.Is(err, ErrBusy) {
		t.Errorf("second StartImport: error = %v, want ErrBusy", err)
	}

	if err := s.RequestStop(); err != nil {
		t.Fatalf("RequestStop() error = %v", err)
	}
	if err := s.RequestStop(); !errors.Is(err, ErrAlreadyStopping) {
		t.Errorf("second RequestStop: error = %v, want ErrAlreadyStopping", err)
	}
	close(release)

	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeStopped {
		t.Fatalf("outcome = %q, want stopped", record.Outcome)
	}
	if record.Succeeded != 5 {
		t.Errorf("Succeeded = %d, want 5 (stop takes effect at the batch boundary)", record.Succeeded)
	}

	snap, _ := s.Progress()
	if !snap.Resumable || snap.LastRowProcessed != 4 {
		t.Errorf("snapshot = %+v, want resumable with last row 4", snap)
	}

	// Resuming picks up at the row after the last processed one and keeps
	// the run identity.
	dir.batchHook = nil
	resumedID, err := s.StartImport(context.Background(), StartOptions{Resume: true})
	if err != nil {
		t.Fatalf("resume StartImport() error = %v", err)
	}
	if resumedID != id {
		t.Errorf("resumed run id = %q, want %q", resumedID, id)
	}

	record = awaitRecord(t, rec)
	if record.Outcome != OutcomeCompleted {
		t.Fatalf("resumed outcome = %q (%s), want completed", record.Outcome, record.Message)
	}
	if record.Succeeded != 12 {
		t.Errorf("Succeeded = %d, want 12", record.Succeeded)
	}
	if dir.calls[1].StartIndex != 5 {
		t.Errorf("resumed batch StartIndex = %d, want 5", dir.calls[1].StartIndex)
	}
}

func TestImportRun_AbortsOnUnresolvedUsername(t *testing.T) {
	dir := &fakeDirectory{}
	dir.resolve = func(usernames []string) ([]Identity, error) {
		identities := make([]Identity, 0, len(usernames))
		for _, u := range usernames[:len(usernames)-1] {
			identities = append(identities, Identity{Username: u, State: IdentityNew})
		}
		return identities, nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(3)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %q, want aborted", record.Outcome)
	}
	if !strings.Contains(record.Message, "did not resolve") {
		t.Errorf("message = %q", record.Message)
	}
	if len(dir.batchSizes()) != 0 {
		t.Error("batches dispatched despite aborted planning")
	}

	// The abort released the service.
	if _, err := s.Validate(false, false); err != nil {
		t.Errorf("Validate after abort: error = %v", err)
	}
}

func TestImportRun_RetryFailedRows(t *testing.T) {
	dir := &fakeDirectory{}
	dir.batchHook = func(call int, req BatchRequest) (BatchResponse, error) {
		var resp BatchResponse
		for _, row := range req.Rows {
			result := RowResult{RowIndex: row.RowIndex, Status: BatchRowOK}
			if row.RowIndex == 1 || row.RowIndex == 3 {
				result.Status = BatchRowFailed
				result.Message = "the role is not allowed in this school"
			}
			resp.Results = append(resp.Results, result)
		}
		return resp, nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(5)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeCompleted || record.Succeeded != 3 || record.Failed != 2 {
		t.Fatalf("record = %+v, want completed with 3/2", record)
	}

	dir.batchHook = nil
	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunRetryFailed}); err != nil {
		t.Fatalf("retry StartImport() error = %v", err)
	}
	record = awaitRecord(t, rec)
	if record.Outcome != OutcomeCompleted || record.Total != 2 || record.Succeeded != 2 {
		t.Fatalf("retry record = %+v, want 2/2 succeeded", record)
	}

	table := s.State().Table
	if table.Rows[1].State != RowSuccess || table.Rows[3].State != RowSuccess {
		t.Error("retried rows not marked successful")
	}
}

func TestImportRun_PartialRowMarksCells(t *testing.T) {
	dir := &fakeDirectory{}
	dir.batchHook = func(call int, req BatchRequest) (BatchResponse, error) {
		var resp BatchResponse
		for _, row := range req.Rows {
			result := RowResult{RowIndex: row.RowIndex, Status: BatchRowOK}
			if row.RowIndex == 0 {
				result.Status = BatchRowPartial
				result.Message = "one attribute was rejected"
				result.Failures = []AttributeFailure{{Column: ColumnRole, Index: 3, Message: "the role was rejected"}}
			}
			resp.Results = append(resp.Results, result)
		}
		return resp, nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(2)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	record := awaitRecord(t, rec)
	if record.Outcome != OutcomeCompleted || record.Partial != 1 || record.Succeeded != 1 {
		t.Fatalf("record = %+v, want 1 partial, 1 succeeded", record)
	}

	row := s.State().Table.Rows[0]
	if row.State != RowPartial {
		t.Errorf("row state = %q, want partial", row.State)
	}
	if !row.Cells[3].Invalid || row.Cells[3].Message != "the role was rejected" {
		t.Errorf("failed attribute cell not marked: %+v", row.Cells[3])
	}
}

func TestImportRun_StateSnapshotsDuringRun(t *testing.T) {
	dir := &fakeDirectory{}
	dir.batchHook = func(call int, req BatchRequest) (BatchResponse, error) {
		time.Sleep(5 * time.Millisecond)
		return allOK(req), nil
	}
	rec := newFakeRecorder()
	s := newTestService(t, dir, rec)
	s.table = importTable(60)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	// Serialize table snapshots while the worker writes row states back.
	// The snapshot is a detached copy, so marshaling it must never observe
	// a concurrent write.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := json.Marshal(s.State().Table); err != nil {
				t.Errorf("marshaling snapshot: %v", err)
				return
			}
		}
	}()

	record := awaitRecord(t, rec)
	close(stop)
	wg.Wait()

	if record.Outcome != OutcomeCompleted || record.Succeeded != 60 {
		t.Fatalf("record = %+v, want 60 succeeded", record)
	}
}

func TestRunSnapshot_FinishedAtOmittedWhileRunning(t *testing.T) {
	snap := RunSnapshot{ID: "r1", Outcome: OutcomeRunning, StartedAt: time.Now()}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "finishedAt") {
		t.Errorf("running snapshot carries finishedAt: %s", data)
	}

	snap.FinishedAt = time.Now()
	data, err = json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "finishedAt") {
		t.Errorf("finished snapshot misses finishedAt: %s", data)
	}
}

func TestImportRun_Preconditions(t *testing.T) {
	dir := &fakeDirectory{}
	s := newTestService(t, dir, nil)

	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); !errors.Is(err, ErrTableEmpty) {
		t.Errorf("empty table: error = %v, want ErrTableEmpty", err)
	}

	s.table = importTable(2)
	s.table.Errors = []Problem{{Message: "x", Count: 1}}
	if _, err := s.StartImport(context.Background(), StartOptions{Mode: RunAll}); !errors.Is(err, ErrTableHasErrors) {
		t.Errorf("table with errors: error = %v, want ErrTableHasErrors", err)
	}

	s.table.Errors = nil
	if _, err := s.StartImport(context.Background(), StartOptions{Resume: true}); !errors.Is(err, ErrNothingToResume) {
		t.Errorf("resume without stopped run: error = %v, want ErrNothingToResume", err)
	}

	if err := s.RequestStop(); !errors.Is(err, ErrNoRunActive) {
		t.Errorf("stop without run: error = %v, want ErrNoRunActive", err)
	}
	if _, err := s.Progress(); !errors.Is(err, ErrNoRunActive) {
		t.Errorf("progress without run: error = %v, want ErrNoRunActive", err)
	}
}
