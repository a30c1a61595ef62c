package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing user",
			mutate:  func(c *Config) { c.Identity.User = "" },
			wantErr: "identity.user: is required",
		},
		{
			name:    "bad backend url",
			mutate:  func(c *Config) { c.Backend.URL = "not a url" },
			wantErr: "backend.url: must be a URL",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Auth.PollInterval = 0 },
			wantErr: "auth.poll_interval: must be greater than 0",
		},
		{
			name: "max wait below poll interval",
			mutate: func(c *Config) {
				c.Auth.PollInterval = time.Second
				c.Auth.MaxWait = time.Millisecond
			},
			wantErr: "auth.max_wait: must be greater than poll_interval",
		},
		{
			name:    "unknown browser mode",
			mutate:  func(c *Config) { c.Browser.Mode = "lynx" },
			wantErr: "browser.mode: must be one of: chrome system",
		},
		{
			name:    "bad listen address",
			mutate:  func(c *Config) { c.Server.Listen = "everywhere" },
			wantErr: "server.listen: must be host:port",
		},
		{
			name: "client without id",
			mutate: func(c *Config) {
				c.Server.Clients = map[string]OAuthClient{"notion": {ClientSecret: "s"}}
			},
			wantErr: "client_id: is required",
		},
		{
			name: "unsupported client platform",
			mutate: func(c *Config) {
				c.Server.Clients = map[string]OAuthClient{"dropbox": {ClientID: "x"}}
			},
			wantErr: "server.clients.dropbox: unsupported platform",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Identity.User = ""
	cfg.Identity.Org = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"identity.user", "identity.org"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %q, missing %q", err, want)
		}
	}
}
