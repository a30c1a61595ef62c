// Package backend is the client for the integrations backend: the service
// that performs the OAuth handshakes and talks to the platform APIs on
// portage's behalf. Every call is a form-encoded POST under
// {base}/integrations/{platform}/.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
)

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// maxResponseBytes bounds how much of a response body is read. Load
// responses carry whole record sets, so this is generous.
const maxResponseBytes = 32 << 20

// Identity is the local user/organization pair every call is made for.
type Identity struct {
	User string
	Org  string
}

// Client calls the integrations backend.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (for testing or custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Transport: c.http.Transport, Timeout: d}
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base: u,
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Authorize asks the backend to start an OAuth flow for p and returns the
// URL the operator must open.
func (c *Client) Authorize(ctx context.Context, p platform.Platform, id Identity) (string, error) {
	body, _, err := c.post(ctx, p, "authorize", url.Values{
		"user_id": {id.User},
		"org_id":  {id.Org},
	})
	if err != nil {
		return "", err
	}

	authURL := decodeString(body)
	if authURL == "" {
		return "", fmt.Errorf("backend returned an empty authorization URL for %s", p)
	}
	return authURL, nil
}

// ExchangeCredentials collects the credential produced by a completed flow.
// An empty or null body yields an empty credential and no error; callers
// decide what an empty result means.
func (c *Client) ExchangeCredentials(ctx context.Context, p platform.Platform, id Identity) (credential.Credential, error) {
	body, _, err := c.post(ctx, p, "credentials", url.Values{
		"user_id": {id.User},
		"org_id":  {id.Org},
	})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return credential.Decode(body)
}

// Load fetches p's records with its credential and decodes the response
// into out.
func (c *Client) Load(ctx context.Context, p platform.Platform, cred credential.Credential, id Identity, out any) error {
	encoded, err := cred.Encode()
	if err != nil {
		return err
	}
	body, _, err := c.post(ctx, p, "load", url.Values{
		"credentials": {encoded},
		"user":        {id.User},
		"org":         {id.Org},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing load response: %w", err)
	}
	return nil
}

// TransferParams describes one transfer call.
type TransferParams struct {
	Source           platform.Platform
	Destination      platform.Platform
	Identity         Identity
	Target           credential.Credential
	SourceCredential credential.Credential
}

// TransferResponse is a 2xx answer from the transfer endpoint. The caller
// decides which statuses count as success.
type TransferResponse struct {
	StatusCode int
	Body       []byte
}

// Transfer asks the backend to copy Source's data into Destination.
func (c *Client) Transfer(ctx context.Context, params TransferParams) (*TransferResponse, error) {
	target, err := params.Target.Encode()
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"to_org":             {string(params.Destination)},
		"user":               {params.Identity.User},
		"org":                {params.Identity.Org},
		"target_credentials": {target},
	}
	if !params.SourceCredential.Empty() {
		src, err := params.SourceCredential.Encode()
		if err != nil {
			return nil, err
		}
		form.Set("source_credentials", src)
	}

	body, status, err := c.post(ctx, params.Source, "transfer_data", form)
	if err != nil {
		return nil, err
	}
	return &TransferResponse{StatusCode: status, Body: body}, nil
}

// post sends form to {base}/integrations/{p}/{op}. Non-2xx answers become
// *APIError.
func (c *Client) post(ctx context.Context, p platform.Platform, op string, form url.Values) ([]byte, int, error) {
	segment, err := p.Endpoint()
	if err != nil {
		return nil, 0, err
	}
	endpoint := c.base.JoinPath("integrations", segment, op).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("backend request failed", "platform", p, "op", op, "error", err)
		return nil, 0, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading %s response: %w", op, err)
	}
	log.Debug("backend request",
		"platform", p,
		"op", op,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, newAPIError(resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

// decodeString accepts either a JSON string or a bare text body.
func decodeString(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	var s string
	if json.Unmarshal(trimmed, &s) == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}
