package core

// worker.go implements the two long-lived background workers the service
// coordinates with: one for parsing, one for the import batch loop. Both
// are reused across operations rather than spawned per call, and both
// speak a tagged request/response envelope so a stale response can be
// told apart from the one the caller is waiting for.

import (
	"context"
)

// ParseKind distinguishes a bounded preview parse from a full parse. The
// kind is echoed back in the response so an in-flight preview result can
// never clobber full-table state, or vice versa.
type ParseKind string

const (
	ParsePreview ParseKind = "preview"
	ParseFull    ParseKind = "full"
)

// parseRequest is the envelope posted to the parse worker.
type parseRequest struct {
	Tag   string
	Kind  ParseKind
	Text  string
	Opts  ParseOptions
	reply chan parseResponse
}

// parseResponse echoes the request tag and kind alongside the result.
// Exactly one response is delivered per request.
type parseResponse struct {
	Tag    string
	Kind   ParseKind
	Output *ParseOutput
	Err    error
}

// parseWorker serializes parse requests on one goroutine.
type parseWorker struct {
	requests chan parseRequest
}

func newParseWorker(ctx context.Context) *parseWorker {
	w := &parseWorker{requests: make(chan parseRequest)}
	go w.loop(ctx)
	return w
}

func (w *parseWorker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			limit := 0
			if req.Kind == ParsePreview {
				limit = PreviewRowCount
			}
			out, err := ParseText(req.Text, req.Opts, limit)
			req.reply <- parseResponse{Tag: req.Tag, Kind: req.Kind, Output: out, Err: err}
		}
	}
}

// do posts a request and waits for its response.
func (w *parseWorker) do(ctx context.Context, req parseRequest) (parseResponse, error) {
	req.reply = make(chan parseResponse, 1)
	select {
	case <-ctx.Done():
		return parseResponse{}, ctx.Err()
	case w.requests <- req:
	}
	select {
	case <-ctx.Done():
		return parseResponse{}, ctx.Err()
	case resp := <-req.reply:
		return resp, nil
	}
}

// importRequest is the envelope posted to the import worker. The run has
// already passed its preconditions; the worker owns it from resolution
// through the final batch.
type importRequest struct {
	Tag string
	Run *Run
}

// importWorker executes import runs one at a time on a single long-lived
// goroutine. Batches within a run are strictly sequential by
// construction.
type importWorker struct {
	requests chan importRequest
	execute  func(context.Context, *Run)
}

func newImportWorker(ctx context.Context, execute func(context.Context, *Run)) *importWorker {
	w := &importWorker{
		requests: make(chan importRequest, 1),
		execute:  execute,
	}
	go w.loop(ctx)
	return w
}

func (w *importWorker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.execute(ctx, req.Run)
		}
	}
}

// submit hands a run to the worker. The buffered channel holds at most
// one pending run; the service guarantees a single run is active anyway.
func (w *importWorker) submit(ctx context.Context, req importRequest) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.requests <- req:
		return nil
	}
}
