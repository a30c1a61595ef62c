// Package config handles ~/.portage/config.yaml.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/majorcontext/portage/internal/platform"
)

// Config holds portage settings.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Backend  BackendConfig  `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Browser  BrowserConfig  `yaml:"browser"`
	Audit    AuditConfig    `yaml:"audit"`
	Debug    DebugConfig    `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
}

// IdentityConfig is the user and organization backend calls are made for.
type IdentityConfig struct {
	User string `yaml:"user" validate:"required"`
	Org  string `yaml:"org" validate:"required"`
}

// BackendConfig locates the integrations backend.
type BackendConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// AuthConfig tunes the authorization window wait.
type AuthConfig struct {
	// PollInterval is how often the window is checked for closure.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	// MaxWait is how long a window may stay open before the attempt is
	// abandoned.
	MaxWait time.Duration `yaml:"max_wait" validate:"gtfield=PollInterval"`
}

// BrowserConfig selects how authorization windows are opened.
type BrowserConfig struct {
	// Mode is "chrome" (a dedicated Chrome window whose closing is
	// detected) or "system" (the default browser, closing confirmed on the
	// terminal).
	Mode       string `yaml:"mode" validate:"oneof=chrome system"`
	ChromePath string `yaml:"chrome_path"`
	RemoteURL  string `yaml:"remote_url" validate:"omitempty,url"`
	NoSandbox  bool   `yaml:"no_sandbox"`
}

// AuditConfig locates the diagnostics journal. An empty path disables it.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// RetentionDays is how many days of debug logs to keep (0 = keep all).
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

// ServerConfig configures the built-in backend started by `portage serve`.
type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	// PublicURL is the externally reachable base of the server, used for
	// OAuth redirect URIs. Defaults to http://<listen>.
	PublicURL string `yaml:"public_url" validate:"omitempty,url"`
	// RedisAddr selects Redis for handshake state. Empty keeps it in memory.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`

	// Clients maps a platform name to its OAuth client.
	Clients map[string]OAuthClient `yaml:"clients" validate:"dive"`
	Targets TargetsConfig          `yaml:"targets"`
}

// OAuthClient is one platform's OAuth application.
type OAuthClient struct {
	ClientID string `yaml:"client_id" validate:"required"`
	// ClientSecret is a literal or a secret reference such as
	// "keyring://notion" or "env://NOTION_SECRET".
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	AuthURL      string   `yaml:"auth_url" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
}

// TargetsConfig names where imported records land on each destination.
type TargetsConfig struct {
	NotionPageID   string `yaml:"notion_page_id"`
	AirtableBaseID string `yaml:"airtable_base_id"`
	AirtableTable  string `yaml:"airtable_table"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{User: "TestUser", Org: "TestOrg"},
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Auth: AuthConfig{
			PollInterval: 500 * time.Millisecond,
			MaxWait:      5 * time.Minute,
		},
		Browser: BrowserConfig{Mode: "chrome"},
		Audit:   AuditConfig{Path: DefaultAuditPath()},
		Debug:   DebugConfig{RetentionDays: 14},
		Server:  ServerConfig{Listen: "localhost:8000"},
	}
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}
	for name := range c.Server.Clients {
		if _, err := platform.Parse(name); err != nil {
			errs = append(errs, fmt.Sprintf("server.clients.%s: unsupported platform", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Client returns the OAuth client configured for p.
func (c *Config) Client(p platform.Platform) (OAuthClient, bool) {
	for name, client := range c.Server.Clients {
		if parsed, err := platform.Parse(name); err == nil && parsed == p {
			return client, true
		}
	}
	return OAuthClient{}, false
}

// describe renders a validation failure using the yaml field path, e.g.
// "auth.max_wait: must be greater than poll_interval".
func describe(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return path + ": is required"
	case "url":
		return path + ": must be a URL"
	case "oneof":
		return fmt.Sprintf("%s: must be one of: %s", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s: must be greater than %s", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s: must be at least %s", path, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s: must be greater than %s", path, snake(fe.Param()))
	case "hostname_port":
		return path + ": must be host:port"
	default:
		return fmt.Sprintf("%s: failed %q check", path, fe.Tag())
	}
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
