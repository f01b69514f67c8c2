package directory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/puavo-org/puavo-web-sub002/internal/core"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := NewClient(Config{BaseURL: "ldap://directory.example.com"}, log); err == nil {
		t.Error("non-http scheme accepted")
	}
	if _, err := NewClient(Config{BaseURL: "://bad"}, log); err == nil {
		t.Error("unparsable URL accepted")
	}

	c, err := NewClient(Config{BaseURL: "https://directory.example.com"}, log)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.http.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.http.Timeout)
	}
}

func TestGetCurrentIdentities(t *testing.T) {
	var gotAuth string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/identities/current" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var in struct {
			Usernames []string `json:"usernames"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(in.Usernames) != 2 {
			t.Errorf("usernames = %v", in.Usernames)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"identities": []core.Identity{
				{Username: "ada.lovelace", State: core.IdentityExisting, ID: "id-1"},
				{Username: "alan.turing", State: core.IdentityNew},
			},
		})
	}))

	identities, err := c.GetCurrentIdentities(context.Background(), []string{"ada.lovelace", "alan.turing"})
	if err != nil {
		t.Fatalf("GetCurrentIdentities() error = %v", err)
	}
	if len(identities) != 2 || identities[0].ID != "id-1" || identities[1].State != core.IdentityNew {
		t.Errorf("identities = %+v", identities)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
}

func TestImportBatch(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/import/batch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req core.BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.School != "example" || len(req.Rows) != 1 {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(core.BatchResponse{
			Results: []core.RowResult{{RowIndex: 0, Status: core.BatchRowOK}},
		})
	}))

	resp, err := c.ImportBatch(context.Background(), core.BatchRequest{
		School:    "example",
		BatchSize: 1,
		Columns:   []core.ColumnKind{core.ColumnUsername},
		Rows:      []core.BatchRow{{RowIndex: 0, Values: []string{"ada.lovelace"}}},
	})
	if err != nil {
		t.Fatalf("ImportBatch() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Status != core.BatchRowOK {
		t.Errorf("response = %+v", resp)
	}
}

func TestResolveUsernames(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"resolutions": []Resolution{
				{Username: "ada.lovelace", State: ResolutionNotFound},
				{Username: "alan.turing", State: ResolutionFoundElsewhere, Scopes: []string{"other-school"}},
			},
		})
	}))

	resolutions, err := c.ResolveUsernames(context.Background(), "example", []string{"ada.lovelace", "alan.turing"})
	if err != nil {
		t.Fatalf("ResolveUsernames() error = %v", err)
	}
	if len(resolutions) != 2 {
		t.Fatalf("resolutions = %+v", resolutions)
	}
	if resolutions[1].State != ResolutionFoundElsewhere || len(resolutions[1].Scopes) != 1 {
		t.Errorf("resolutions[1] = %+v", resolutions[1])
	}
}

func TestListGroups(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("school"); got != "example" {
			t.Errorf("school = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"groups": []Group{{ID: "g1", Abbreviation: "1a", Name: "Class 1A", Type: "teaching group"}},
		})
	}))

	groups, err := c.ListGroups(context.Background(), "example")
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 1 || groups[0].Abbreviation != "1a" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestGenerateDocument(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))

	doc, err := c.GenerateDocument(context.Background(), DocumentRequest{
		Kind:    DocumentPDF,
		School:  "example",
		Columns: []core.ColumnKind{core.ColumnUsername, core.ColumnPassword},
		Rows:    [][]string{{"ada.lovelace", "secret"}},
	})
	if err != nil {
		t.Fatalf("GenerateDocument() error = %v", err)
	}
	if doc.ContentType != "application/pdf" || !strings.HasPrefix(string(doc.Data), "%PDF") {
		t.Errorf("document = %+v", doc)
	}

	if _, err := c.GenerateDocument(context.Background(), DocumentRequest{Kind: "docx"}); err == nil {
		t.Error("unsupported document kind accepted")
	}
}

func TestErrorDecoding(t *testing.T) {
	t.Run("structured error payload", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": "the school does not exist"})
		}))
		_, err := c.ListGroups(context.Background(), "nope")
		if err == nil || !strings.Contains(err.Error(), "the school does not exist") {
			t.Errorf("error = %v, want the directory's message", err)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		_, err := c.ListExistingIdentities(context.Background())
		if err == nil || !strings.Contains(err.Error(), "unauthorized") {
			t.Errorf("error = %v, want unauthorized", err)
		}
	})

	t.Run("bare status", func(t *testing.T) {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		_, err := c.GetCurrentIdentities(context.Background(), []string{"x"})
		if err == nil || !strings.Contains(err.Error(), "status 502") {
			t.Errorf("error = %v, want status 502", err)
		}
	})
}
