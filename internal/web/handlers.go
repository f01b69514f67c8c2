package web

// handlers.go holds every /api handler. Handlers decode, delegate to the
// service or a collaborator, and serialize the returned snapshot; no
// import logic lives here.

import (
	"net/http"
	"strconv"

	"github.com/puavo-org/puavo-web-sub002/internal/core"
	"github.com/puavo-org/puavo-web-sub002/internal/directory"
	"github.com/puavo-org/puavo-web-sub002/internal/logging"
	"github.com/puavo-org/puavo-web-sub002/internal/store"
)

// operatorID identifies whose settings a request touches. Single-tenant
// deployments leave the header unset and share one row.
func operatorID(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return "default"
}

// ---------------------------------------------------------------------------
// Table state and parsing

func (s *Server) handleTableState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.State())
}

type parseRequest struct {
	Kind       core.ParseKind    `json:"kind"`
	Text       string            `json:"text"`
	Options    core.ParseOptions `json:"options"`
	UpdateOnly bool              `json:"updateOnly"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Kind != core.ParsePreview && req.Kind != core.ParseFull {
		req.Kind = core.ParseFull
	}

	state, err := s.service.Parse(r.Context(), req.Kind, req.Text, req.Options, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

type validateRequest struct {
	UpdateOnly    bool `json:"updateOnly"`
	SelectFailing bool `json:"selectFailing"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.Validate(req.UpdateOnly, req.SelectFailing)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleResetTable(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.ResetTable()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

// ---------------------------------------------------------------------------
// Direct table edits

type editCellRequest struct {
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Value      string `json:"value"`
	UpdateOnly bool   `json:"updateOnly"`
}

func (s *Server) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req editCellRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.EditCell(req.Row, req.Col, req.Value, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

type columnRequest struct {
	Index      int             `json:"index"`
	Kind       core.ColumnKind `json:"kind,omitempty"`
	UpdateOnly bool            `json:"updateOnly"`
}

func (s *Server) handleSetColumnKind(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.SetColumnKind(req.Index, req.Kind, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleInsertColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.InsertColumn(req.Index, req.Kind, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.DeleteColumn(req.Index, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

type rowsRequest struct {
	Indices    []int `json:"indices"`
	UpdateOnly bool  `json:"updateOnly"`
}

func (s *Server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	var req rowsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.DeleteRows(req.Indices, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req rowsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.SetSelection(req.Indices)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, state)
}

type fillRequest struct {
	Col        int    `json:"col"`
	Value      string `json:"value"`
	Overwrite  bool   `json:"overwrite"`
	UpdateOnly bool   `json:"updateOnly"`
}

func (s *Server) handleFillColumn(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, state, err := s.service.FillColumn(req.Col, req.Value, req.Overwrite, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"result": res, "state": state})
}

// ---------------------------------------------------------------------------
// Bulk operations

type usernamesRequest struct {
	core.UsernameOptions
	UpdateOnly bool `json:"updateOnly"`
}

func (s *Server) handleGenerateUsernames(w http.ResponseWriter, r *http.Request) {
	var req usernamesRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, state, err := s.service.GenerateUsernames(req.UsernameOptions, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"result": res, "state": state})
}

type repairsRequest struct {
	AlternateUmlauts bool `json:"alternateUmlauts"`
}

func (s *Server) handleUsernameRepairs(w http.ResponseWriter, r *http.Request) {
	var req repairsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	proposals, err := s.service.ProposeUsernameRepairs(req.AlternateUmlauts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"proposals": proposals})
}

type resolveRequest struct {
	School    string   `json:"school"`
	Usernames []string `json:"usernames"`
}

// handleResolveUsernames is the explicit duplicate/collision lookup; the
// result is returned to the caller, not merged into validation state.
func (s *Server) handleResolveUsernames(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	resolutions, err := s.directory.ResolveUsernames(r.Context(), req.School, req.Usernames)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"resolutions": resolutions})
}

type passwordsRequest struct {
	core.PasswordOptions
	UpdateOnly bool `json:"updateOnly"`
}

func (s *Server) handleGeneratePasswords(w http.ResponseWriter, r *http.Request) {
	var req passwordsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, state, err := s.service.GeneratePasswords(req.PasswordOptions, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"result": res, "state": state})
}

func (s *Server) handleDistinctRawGroups(w http.ResponseWriter, r *http.Request) {
	values, err := s.service.DistinctRawGroups()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"rawGroups": values})
}

type parseGroupsRequest struct {
	Mapping    map[string]string `json:"mapping"`
	Overwrite  bool              `json:"overwrite"`
	UpdateOnly bool              `json:"updateOnly"`
}

func (s *Server) handleParseGroups(w http.ResponseWriter, r *http.Request) {
	var req parseGroupsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, state, err := s.service.ParseGroups(req.Mapping, req.Overwrite, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"result": res, "state": state})
}

// ---------------------------------------------------------------------------
// Import run lifecycle

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var opts core.StartOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.respondError(w, r, err)
		return
	}
	runID, err := s.service.StartImport(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"runId": runID})
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Progress()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleStopImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RequestStop(); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "stopping"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// ---------------------------------------------------------------------------
// Directory passthroughs

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	school := r.URL.Query().Get("school")
	groups, err := s.directory.ListGroups(r.Context(), school)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"groups": groups})
}

type refreshRequest struct {
	UpdateOnly bool `json:"updateOnly"`
}

// handleRefreshIdentities reloads the remote-identity cache and re-runs
// validation so cross-directory duplicates surface without a new parse.
func (s *Server) handleRefreshIdentities(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	known, err := s.directory.ListExistingIdentities(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	state, err := s.service.RefreshKnownIdentities(known, req.UpdateOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("identity cache refreshed", "identities", len(known))
	writeJSON(w, state)
}

func (s *Server) handleGenerateDocument(w http.ResponseWriter, r *http.Request) {
	var req directory.DocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := s.directory.GenerateDocument(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(doc.Data)
}

// ---------------------------------------------------------------------------
// Operator settings

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings(r.Context(), operatorID(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := decodeJSON(r, &settings); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.SaveSettings(r.Context(), operatorID(r), settings); err != nil {
		s.respondError(w, r, err)
		return
	}
	settings.Version = store.SettingsVersion
	writeJSON(w, settings)
}
