package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/majorcontext/portage/internal/platform"
)

// Dir returns the path to ~/.portage.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".portage")
	}
	return filepath.Join(homeDir, ".portage")
}

// DefaultPath returns the path of the config file.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultAuditPath returns the default journal location.
func DefaultAuditPath() string {
	return filepath.Join(Dir(), "journal.db")
}

// DebugDir returns the directory for debug log files.
func DebugDir() string {
	return filepath.Join(Dir(), "debug")
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides and validates the result. A missing file is not an
// error; defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies PORTAGE_* overrides.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("PORTAGE_BACKEND_URL", &cfg.Backend.URL)
	setString("PORTAGE_USER", &cfg.Identity.User)
	setString("PORTAGE_ORG", &cfg.Identity.Org)
	setString("PORTAGE_BROWSER", &cfg.Browser.Mode)
	setString("PORTAGE_REDIS_ADDR", &cfg.Server.RedisAddr)
	setString("PORTAGE_LISTEN", &cfg.Server.Listen)
	if err := setDuration("PORTAGE_POLL_INTERVAL", &cfg.Auth.PollInterval); err != nil {
		return err
	}
	if err := setDuration("PORTAGE_AUTH_TIMEOUT", &cfg.Auth.MaxWait); err != nil {
		return err
	}

	for _, p := range platform.All() {
		prefix := "PORTAGE_" + strings.ToUpper(string(p)) + "_"
		id, secret := os.Getenv(prefix+"CLIENT_ID"), os.Getenv(prefix+"CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		if cfg.Server.Clients == nil {
			cfg.Server.Clients = make(map[string]OAuthClient)
		}
		key := clientKey(cfg, p)
		client := cfg.Server.Clients[key]
		if id != "" {
			client.ClientID = id
		}
		if secret != "" {
			client.ClientSecret = secret
		}
		cfg.Server.Clients[key] = client
	}
	return nil
}

// clientKey returns the map key already used for p, or p's name.
func clientKey(cfg *Config, p platform.Platform) string {
	for name := range cfg.Server.Clients {
		if parsed, err := platform.Parse(name); err == nil && parsed == p {
			return name
		}
	}
	return string(p)
}
