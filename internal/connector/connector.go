// Package connector talks to the platform APIs on behalf of the built-in
// backend: listing a platform's records and importing records into it.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/platform"
)

// ErrImportUnsupported is returned by connectors that cannot receive data.
var ErrImportUnsupported = errors.New("import is not supported")

// ErrNotConfigured is returned when an import target is missing.
var ErrNotConfigured = errors.New("import target not configured")

// Connector loads records from a platform and imports records into it.
type Connector interface {
	Platform() platform.Platform
	Load(ctx context.Context, token string) ([]loader.Record, error)
	Import(ctx context.Context, token string, records []loader.Record) (int, error)
}

// Options configures connectors.
type Options struct {
	// HTTPClient is the base transport. Bearer auth is layered on top.
	HTTPClient *http.Client
	// BaseURL overrides the platform API root (for testing).
	BaseURL string

	NotionPageID   string
	AirtableBaseID string
	AirtableTable  string
}

// New returns the connector for p.
func New(p platform.Platform, opts Options) (Connector, error) {
	switch p {
	case platform.HubSpot:
		return NewHubSpot(opts), nil
	case platform.Notion:
		return NewNotion(opts), nil
	case platform.Airtable:
		return NewAirtable(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", platform.ErrUnsupported, string(p))
	}
}

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform   platform.Platform
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API returned HTTP %d: %s", e.Platform.DisplayName(), e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API returned HTTP %d", e.Platform.DisplayName(), e.StatusCode)
}

// api is the HTTP plumbing shared by the connectors.
type api struct {
	platform platform.Platform
	base     string
	http     *http.Client
	headers  map[string]string
}

func newAPI(p platform.Platform, defaultBase string, opts Options, headers map[string]string) api {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return api{platform: p, base: strings.TrimRight(base, "/"), http: hc, headers: headers}
}

// client returns an HTTP client that sends token as a bearer token.
func (a api) client(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

// do sends a JSON request to path and decodes a JSON response into out
// (when out is non-nil).
func (a api) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", a.platform.DisplayName(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Platform: a.platform, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", a.platform.DisplayName(), err)
	}
	return nil
}

// errorMessage pulls a message out of the error shapes the platform APIs
// use: {"message": ...}, {"error": "..."} and {"error": {"message": ...}}.
func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Message != "" {
		return payload.Message
	}
	var s string
	if json.Unmarshal(payload.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if json.Unmarshal(payload.Error, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Type
	}
	return ""
}

func boolPtr(b bool) *bool { return &b }
