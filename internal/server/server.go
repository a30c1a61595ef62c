// Package server is a self-hosted integrations backend: it runs the OAuth
// handshakes for each platform and answers the load and transfer calls the
// portage client makes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/majorcontext/portage/internal/connector"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/server/kv"
)

const (
	stateTTL = 10 * time.Minute
	dataTTL  = time.Hour
)

// credentialTTL is how long an exchanged credential waits to be collected.
func credentialTTL(p platform.Platform) time.Duration {
	if p == platform.HubSpot {
		return 30 * time.Minute
	}
	return 10 * time.Minute
}

// OAuthClient is one platform's OAuth application. Empty URLs and scopes
// use the platform defaults.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Config configures a Server.
type Config struct {
	// PublicURL is the externally reachable base, e.g. http://localhost:8000.
	PublicURL string

	Clients map[platform.Platform]OAuthClient

	// Connectors overrides the platform connectors (for testing).
	Connectors map[platform.Platform]connector.Connector

	// ConnectorOptions configures the default connectors.
	ConnectorOptions connector.Options

	Store kv.Store

	// HTTPClient is used for token exchanges. nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Server is the integrations backend.
type Server struct {
	publicURL  string
	oauth      map[platform.Platform]*oauthApp
	connectors map[platform.Platform]connector.Connector
	store      kv.Store
	httpClient *http.Client
	engine     *gin.Engine
}

// New creates a Server. Platforms without an OAuth client can still load
// and import but cannot be authorized.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: a kv store is required")
	}
	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		return nil, errors.New("server: public URL is required")
	}

	s := &Server{
		publicURL:  public,
		oauth:      make(map[platform.Platform]*oauthApp),
		connectors: make(map[platform.Platform]connector.Connector),
		store:      cfg.Store,
		httpClient: cfg.HTTPClient,
	}

	for p, client := range cfg.Clients {
		if !p.Valid() {
			return nil, fmt.Errorf("server: %w: %q", platform.ErrUnsupported, string(p))
		}
		s.oauth[p] = newOAuthApp(p, client, s.redirectURL(p))
	}

	for _, p := range platform.All() {
		if c, ok := cfg.Connectors[p]; ok {
			s.connectors[p] = c
			continue
		}
		c, err := connector.New(p, cfg.ConnectorOptions)
		if err != nil {
			return nil, err
		}
		s.connectors[p] = c
	}

	s.engine = s.routes()
	return s, nil
}

func (s *Server) redirectURL(p platform.Platform) string {
	return s.publicURL + "/integrations/" + string(p) + "/oauth2callback"
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(requestID(), recovery(), requestLogger())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := engine.Group("/integrations/:platform", s.platformParam())
	g.POST("/authorize", s.handleAuthorize)
	g.GET("/oauth2callback", s.handleCallback)
	g.POST("/credentials", s.handleCredentials)
	g.POST("/load", s.handleLoad)
	g.POST("/transfer_data", s.handleTransfer)
	return engine
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("backend listening", "addr", ln.Addr().String(), "public_url", s.publicURL)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// oauthContext carries the token exchange HTTP client.
func (s *Server) oauthContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// key builds "<platform>_<kind>:<org>:<user>".
func key(p platform.Platform, kind, org, user string) string {
	return fmt.Sprintf("%s_%s:%s:%s", p, kind, org, user)
}
