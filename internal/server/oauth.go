package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/server/kv"
)

// closePage is served after the callback so the browser window closes
// itself and the client notices the flow is done.
const closePage = "<html><script>window.close();</script></html>"

// oauthDefaults holds each platform's public OAuth endpoints.
var oauthDefaults = map[platform.Platform]struct {
	endpoint oauth2.Endpoint
	scopes   []string
	pkce     bool
	opts     []oauth2.AuthCodeOption
}{
	platform.HubSpot: {
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://app.hubspot.com/oauth/authorize",
			TokenURL: "https://api.hubapi.com/oauth/v1/token",
		},
		scopes: []string{"oauth", "crm.objects.companies.read", "crm.objects.contacts.read"},
	},
	platform.Notion: {
		endpoint: oauth2.Endpoint{
			AuthURL:   "https://api.notion.com/v1/oauth/authorize",
			TokenURL:  "https://api.notion.com/v1/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		opts: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("owner", "user")},
	},
	platform.Airtable: {
		endpoint: oauth2.Endpoint{
			AuthURL:   "https://airtable.com/oauth2/v1/authorize",
			TokenURL:  "https://airtable.com/oauth2/v1/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		scopes: []string{"data.records:read", "data.records:write", "schema.bases:read"},
		pkce:   true,
	},
}

// notionExtras are token response fields kept alongside the token.
var notionExtras = []string{"workspace_id", "workspace_name", "bot_id"}

type oauthApp struct {
	platform platform.Platform
	config   *oauth2.Config
	pkce     bool
	opts     []oauth2.AuthCodeOption
}

func newOAuthApp(p platform.Platform, client OAuthClient, redirect string) *oauthApp {
	def := oauthDefaults[p]
	endpoint := def.endpoint
	if client.AuthURL != "" {
		endpoint.AuthURL = client.AuthURL
	}
	if client.TokenURL != "" {
		endpoint.TokenURL = client.TokenURL
	}
	scopes := def.scopes
	if len(client.Scopes) > 0 {
		scopes = client.Scopes
	}
	return &oauthApp{
		platform: p,
		config: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirect,
			Scopes:       scopes,
		},
		pkce: def.pkce,
		opts: def.opts,
	}
}

// stateParam is the state round-tripped through the provider.
type stateParam struct {
	User  string `json:"user_id"`
	Org   string `json:"org_id"`
	Nonce string `json:"nonce"`
}

func (s stateParam) encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeState(raw string) (stateParam, error) {
	var s stateParam
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	if s.User == "" || s.Org == "" || s.Nonce == "" {
		return s, errors.New("incomplete state")
	}
	return s, nil
}

// pendingFlow is what authorize leaves behind for the callback.
type pendingFlow struct {
	Nonce    string `json:"nonce"`
	Verifier string `json:"verifier,omitempty"`
}

type identityForm struct {
	User string `form:"user_id" binding:"required"`
	Org  string `form:"org_id" binding:"required"`
}

func (s *Server) app(c *gin.Context) (*oauthApp, bool) {
	p := platformOf(c)
	app, ok := s.oauth[p]
	if !ok {
		abort(c, http.StatusNotImplemented, p.DisplayName()+" OAuth is not configured")
		return nil, false
	}
	return app, true
}

func (s *Server) handleAuthorize(c *gin.Context) {
	var form identityForm
	if !bindForm(c, &form) {
		return
	}
	app, ok := s.app(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	flow := pendingFlow{Nonce: uuid.NewString()}
	opts := append([]oauth2.AuthCodeOption{}, app.opts...)
	if app.pkce {
		flow.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(flow.Verifier))
	}

	data, err := json.Marshal(flow)
	if err != nil {
		abort(c, http.StatusInternalServerError, "Failed to start authorization")
		return
	}
	if err := s.store.Set(ctx, key(app.platform, "state", form.Org, form.User), string(data), stateTTL); err != nil {
		log.Error("storing oauth state", "platform", app.platform, "error", err)
		abort(c, http.StatusInternalServerError, "Failed to start authorization")
		return
	}

	state, err := stateParam{User: form.User, Org: form.Org, Nonce: flow.Nonce}.encode()
	if err != nil {
		abort(c, http.StatusInternalServerError, "Failed to start authorization")
		return
	}
	c.JSON(http.StatusOK, app.config.AuthCodeURL(state, opts...))
}

func (s *Server) handleCallback(c *gin.Context) {
	app, ok := s.app(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := log.With("platform", app.platform)

	if reason := c.Query("error"); reason != "" {
		logger.Warn("authorization denied", "error", reason)
		abort(c, http.StatusBadRequest, "Authorization failed: "+reason)
		return
	}
	code := c.Query("code")
	if code == "" {
		abort(c, http.StatusBadRequest, "Missing authorization code")
		return
	}
	state, err := decodeState(c.Query("state"))
	if err != nil {
		abort(c, http.StatusBadRequest, "Invalid state")
		return
	}

	raw, err := s.store.Take(ctx, key(app.platform, "state", state.Org, state.User))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			abort(c, http.StatusBadRequest, "Authorization expired or already used")
			return
		}
		abort(c, http.StatusInternalServerError, "Failed to complete authorization")
		return
	}
	var flow pendingFlow
	if err := json.Unmarshal([]byte(raw), &flow); err != nil || flow.Nonce != state.Nonce {
		abort(c, http.StatusBadRequest, "Invalid state")
		return
	}

	var opts []oauth2.AuthCodeOption
	if flow.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(flow.Verifier))
	}
	tok, err := app.config.Exchange(s.oauthContext(ctx), code, opts...)
	if err != nil {
		logger.Warn("token exchange failed", "error", err)
		abort(c, http.StatusBadGateway, "Failed to exchange authorization code")
		return
	}

	cred := tokenCredential(app.platform, tok)
	data, err := cred.Encode()
	if err != nil {
		abort(c, http.StatusBadGateway, "Failed to exchange authorization code")
		return
	}
	if err := s.store.Set(ctx, key(app.platform, "credentials", state.Org, state.User), data, credentialTTL(app.platform)); err != nil {
		logger.Error("storing credentials", "error", err)
		abort(c, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	logger.Info("authorization complete", "user", state.User, "org", state.Org, log.CredentialKeys(cred))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(closePage))
}

func (s *Server) handleCredentials(c *gin.Context) {
	var form identityForm
	if !bindForm(c, &form) {
		return
	}
	p := platformOf(c)
	raw, err := s.store.Take(c.Request.Context(), key(p, "credentials", form.Org, form.User))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			abort(c, http.StatusBadRequest, "No credentials found.")
			return
		}
		log.Error("reading credentials", "platform", p, "error", err)
		abort(c, http.StatusInternalServerError, "Failed to read credentials")
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(raw))
}

// tokenCredential flattens a token into the credential handed to clients.
func tokenCredential(p platform.Platform, tok *oauth2.Token) credential.Credential {
	cred := credential.Credential{
		"access_token": tok.AccessToken,
		"token_type":   tok.Type(),
	}
	if tok.RefreshToken != "" {
		cred["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		cred["expires_at"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if p == platform.Notion {
		for _, k := range notionExtras {
			if v := tok.Extra(k); v != nil {
				cred[k] = v
			}
		}
	}
	return cred
}
