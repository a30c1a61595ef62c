package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/majorcontext/portage/internal/credential"
)

func TestInit_DebugFileKeepsSessionAndHidesSecrets(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	if err := Init(Options{DebugDir: dir, Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	SetSessionID("a1b2c3d4")

	Info("connected", "platform", "notion", "access_token", "secret_abc")
	Close()

	logFile := filepath.Join(dir, "portage-"+time.Now().Format("2006-01-02")+".jsonl")
	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(content), "secret_abc") {
		t.Errorf("debug file leaked the access token: %s", content)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &line); err != nil {
		t.Fatalf("debug file line is not JSON: %v\n%s", err, content)
	}
	if line["session_id"] != "a1b2c3d4" {
		t.Errorf("session_id = %v, want a1b2c3d4", line["session_id"])
	}
	if line["access_token"] != Redacted {
		t.Errorf("access_token = %v, want %q", line["access_token"], Redacted)
	}
	if line["platform"] != "notion" {
		t.Errorf("platform = %v, want notion", line["platform"])
	}

	// Info stays off stderr unless verbose.
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}

func TestInit_ShellKeepsStderrQuiet(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{Verbose: true, Interactive: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	Debug("authorization URL received")
	Info("loaded records", "count", 3)
	Warn("load failed", "platform", "hubspot")

	output := stderr.String()
	if strings.Contains(output, "authorization URL") || strings.Contains(output, "loaded records") {
		t.Errorf("debug/info reached stderr inside the shell: %q", output)
	}
	if !strings.Contains(output, "load failed") {
		t.Errorf("warnings should still reach stderr, got %q", output)
	}
}

func TestInit_VerboseJSON(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{Verbose: true, JSONFormat: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	Debug("backend request", "platform", "airtable", "status", 200)

	var line map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &line); err != nil {
		t.Fatalf("stderr is not JSON: %v\n%s", err, stderr.String())
	}
	if line["msg"] != "backend request" || line["platform"] != "airtable" {
		t.Errorf("line = %v", line)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  string
	}{
		{"access_token", "tok-1", Redacted},
		{"refresh_token", "tok-2", Redacted},
		{"client_secret", "shh", Redacted},
		{"code_verifier", "v", Redacted},
		{"Authorization", "Bearer x", Redacted},
		{"platform", "hubspot", "platform=hubspot"},
		{"attempt", 3, "attempt=3"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf)
			Info("event", tt.key, tt.value)

			got := buf.String()
			if tt.want == Redacted {
				if !strings.Contains(got, tt.key+"="+Redacted) {
					t.Errorf("output = %q, want %s redacted", got, tt.key)
				}
				if strings.Contains(got, tt.value.(string)) {
					t.Errorf("output = %q leaks %q", got, tt.value)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("output = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestCredentialValuesNeverLogged(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	c := credential.Credential{"access_token": "secret_abc", "workspace_id": "ws-42"}
	Info("connected", CredentialKeys(c))
	With("platform", "notion").Info("stored", "credential", c)

	got := buf.String()
	for _, leaked := range []string{"secret_abc", "ws-42"} {
		if strings.Contains(got, leaked) {
			t.Errorf("output leaks %q: %s", leaked, got)
		}
	}
	if !strings.Contains(got, `credential_keys="[access_token workspace_id]"`) {
		t.Errorf("CredentialKeys output = %q", got)
	}
	if !strings.Contains(got, `credential="[access_token workspace_id]"`) {
		t.Errorf("whole credential should log as its keys, got %q", got)
	}
}

func TestSetSessionID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetSessionID("s-123")

	With("platform", "notion", "attempt", 2).Info("connect started")

	got := buf.String()
	for _, want := range []string{"session_id=s-123", "platform=notion", "attempt=2"} {
		if !strings.Contains(got, want) {
			t.Errorf("output = %q, want it to contain %q", got, want)
		}
	}
}
