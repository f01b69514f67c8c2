// Package directory is the HTTP client for the remote school directory
// service. It covers the logical calls the import console needs:
// username resolution, identity lookup, batch import, group listing and
// document generation. The client performs no retries; retrying is
// always an explicit operator action.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/puavo-org/puavo-web-sub002/internal/core"
)

// Resolution states returned by ResolveUsernames.
const (
	ResolutionNotFound       = "not-found"
	ResolutionFoundHere      = "found-in-this-scope"
	ResolutionFoundElsewhere = "found-elsewhere"
)

// Resolution is the directory's answer for one username in a
// duplicate/collision lookup. Scopes is populated only for the
// found-elsewhere state and names the schools carrying the duplicate.
type Resolution struct {
	Username string   `json:"username"`
	State    string   `json:"state"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Group is one user group of a school.
type Group struct {
	ID           string `json:"id"`
	Abbreviation string `json:"abbreviation"`
	Name         string `json:"name"`
	Type         string `json:"type"`
}

// DocumentKind selects the output format of GenerateDocument.
type DocumentKind string

const (
	DocumentPDF DocumentKind = "pdf"
	DocumentCSV DocumentKind = "csv"
)

// DocumentRequest asks the directory to render a credentials document
// for the given rows.
type DocumentRequest struct {
	Kind    DocumentKind      `json:"kind"`
	School  string            `json:"school"`
	Columns []core.ColumnKind `json:"columns"`
	Rows    [][]string        `json:"rows"`
	Options map[string]string `json:"options,omitempty"`
}

// Document is a rendered credentials document.
type Document struct {
	ContentType string
	Data        []byte
}

// Config holds the connection parameters for the directory service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the directory service. It satisfies
// core.DirectoryImporter.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("directory base URL must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}, nil
}

// ResolveUsernames asks which of the usernames already exist and where.
func (c *Client) ResolveUsernames(ctx context.Context, school string, usernames []string) ([]Resolution, error) {
	var out struct {
		Resolutions []Resolution `json:"resolutions"`
	}
	payload := map[string]any{"school": school, "usernames": usernames}
	if err := c.post(ctx, "/v1/usernames/resolve", payload, &out); err != nil {
		return nil, err
	}
	return out.Resolutions, nil
}

// GetCurrentIdentities resolves usernames to record identifiers ahead of
// an import run. Every submitted username comes back as existing or new.
func (c *Client) GetCurrentIdentities(ctx context.Context, usernames []string) ([]core.Identity, error) {
	var out struct {
		Identities []core.Identity `json:"identities"`
	}
	payload := map[string]any{"usernames": usernames}
	if err := c.post(ctx, "/v1/identities/current", payload, &out); err != nil {
		return nil, err
	}
	return out.Identities, nil
}

// ListExistingIdentities fetches all known identities for the cross-row
// duplicate cache.
func (c *Client) ListExistingIdentities(ctx context.Context) ([]core.KnownIdentity, error) {
	var out struct {
		Identities []core.KnownIdentity `json:"identities"`
	}
	if err := c.get(ctx, "/v1/identities", nil, &out); err != nil {
		return nil, err
	}
	return out.Identities, nil
}

// ImportBatch submits one batch of rows. An error return means the
// batch as a whole did not reach the directory; per-row outcomes are in
// the response otherwise.
func (c *Client) ImportBatch(ctx context.Context, req core.BatchRequest) (core.BatchResponse, error) {
	var out core.BatchResponse
	if err := c.post(ctx, "/v1/import/batch", req, &out); err != nil {
		return core.BatchResponse{}, err
	}
	return out, nil
}

// ListGroups fetches the groups of a school.
func (c *Client) ListGroups(ctx context.Context, school string) ([]Group, error) {
	var out struct {
		Groups []Group `json:"groups"`
	}
	q := url.Values{"school": {school}}
	if err := c.get(ctx, "/v1/groups", q, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// GenerateDocument asks the directory to render a credentials document.
func (c *Client) GenerateDocument(ctx context.Context, req DocumentRequest) (*Document, error) {
	if req.Kind != DocumentPDF && req.Kind != DocumentCSV {
		return nil, fmt.Errorf("unsupported document kind %q", req.Kind)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode document request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/documents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	return &Document{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("directory call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}
	return nil
}

// decodeError turns a non-200 response into an error, preferring the
// directory's structured message over the bare status code.
func (c *Client) decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("directory error (status %d): %s", resp.StatusCode, payload.Error)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("directory request unauthorized (status %d)", resp.StatusCode)
	}
	return fmt.Errorf("directory request failed with status %d", resp.StatusCode)
}
