package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/session"
	"github.com/majorcontext/portage/internal/ui"
)

// syncBuffer is written from connect goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type shellFixture struct {
	sh       *shell
	out      *syncBuffer
	journal  *audit.Store
	requests []string
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	f := &shellFixture{out: &syncBuffer{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/integrations/hubspot/load":
			w.Write([]byte(`[
				{"id":"1","name":"Acme","type":"company","creation_time":"2024-01-02T03:04:05Z"},
				{"id":"2","name":"Jane Doe","type":"contact","url":"jane@example.com"}
			]`))
		case "/integrations/hubspot/transfer_data":
			w.Write([]byte(`{"status":"ok","count":2}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := backend.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	journal, err := audit.OpenStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { journal.Close() })
	f.journal = journal

	s := session.New(session.Config{Backend: client, Recorder: journal})
	f.sh = newShell(s, journal, f.out)

	ui.SetOutput(f.out)
	ui.SetWriter(f.out)
	ui.SetColorEnabled(false)
	t.Cleanup(func() {
		ui.SetOutput(nil)
		ui.SetWriter(nil)
	})
	return f
}

func (f *shellFixture) exec(t *testing.T, line string) string {
	t.Helper()
	before := len(f.out.String())
	if f.sh.exec(context.Background(), line) {
		t.Fatalf("exec(%q) asked to quit", line)
	}
	return f.out.String()[before:]
}

func writeCredential(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cred.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"tok"}`), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestShell_Identity(t *testing.T) {
	f := newShellFixture(t)

	if got := f.exec(t, "user"); !strings.Contains(got, "User: TestUser") {
		t.Errorf("user output = %q, want current user", got)
	}
	f.exec(t, "user alice")
	f.exec(t, "org Acme Corp")

	id := f.sh.session.Identity()
	if id.User != "alice" || id.Org != "Acme Corp" {
		t.Errorf("Identity() = %+v, want alice/Acme Corp", id)
	}
}

func TestShell_UseLoadShow(t *testing.T) {
	f := newShellFixture(t)
	cred := writeCredential(t)

	if got := f.exec(t, "load"); !strings.Contains(got, "no platform selected") {
		t.Errorf("load without platform = %q", got)
	}
	if len(f.requests) != 0 {
		t.Fatalf("requests = %v, want none", f.requests)
	}

	f.exec(t, "use HubSpot "+cred)
	got := f.exec(t, "load")
	for _, want := range []string{"Loaded 2 records from HubSpot.", "company (1)", "contact (1)", "Acme", "jane@example.com"} {
		if !strings.Contains(got, want) {
			t.Errorf("load output missing %q:\n%s", want, got)
		}
	}

	if got := f.exec(t, "show"); !strings.Contains(got, "Jane Doe") {
		t.Errorf("show output = %q", got)
	}
	f.exec(t, "clear")
	if got := f.exec(t, "show"); !strings.Contains(got, "Nothing loaded.") {
		t.Errorf("show after clear = %q", got)
	}
}

func TestShell_UseWithoutConnection(t *testing.T) {
	f := newShellFixture(t)
	got := f.exec(t, "use notion")
	if !strings.Contains(got, "Notion is not connected yet") {
		t.Errorf("use output = %q", got)
	}
	if got := f.exec(t, "use salesforce"); !strings.Contains(got, "unsupported platform") {
		t.Errorf("use salesforce = %q", got)
	}
}

func TestShell_Transfer(t *testing.T) {
	f := newShellFixture(t)
	if got := f.exec(t, "transfer airtable"); !strings.Contains(got, "no credentials found for airtable") {
		t.Errorf("transfer with nothing selected = %q", got)
	}

	f.exec(t, "use hubspot "+writeCredential(t))

	if got := f.exec(t, "transfer notion"); !strings.Contains(got, "no credentials found for notion") {
		t.Errorf("transfer without destination credential = %q", got)
	}

	f.sh.session.Credentials().Set(platform.Notion, map[string]any{"access_token": "n"})
	if got := f.exec(t, "transfer notion"); !strings.Contains(got, "Success") {
		t.Errorf("transfer output = %q", got)
	}
}

func TestShell_History(t *testing.T) {
	f := newShellFixture(t)
	f.exec(t, "use hubspot "+writeCredential(t))
	f.exec(t, "load")

	got := f.exec(t, "history 5")
	if !strings.Contains(got, "load") || !strings.Contains(got, "hubspot") {
		t.Errorf("history output = %q", got)
	}
	if got := f.exec(t, "history abc"); !strings.Contains(got, "invalid count") {
		t.Errorf("history abc = %q", got)
	}
}

func TestShell_Errors(t *testing.T) {
	f := newShellFixture(t)
	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", `unknown command "frobnicate"`},
		{"connect", "usage: connect <platform>"},
		{"cancel notion", "no connect to Notion is running"},
		{"transfer", "usage: transfer <platform>"},
		{"use", "usage: use <platform>"},
		{"done", "no authorization window is waiting"},
		{"done notion hubspot", "usage: done [platform]"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := f.exec(t, tt.line); !strings.Contains(got, tt.want) {
				t.Errorf("exec(%q) = %q, want it to contain %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestShell_RunQuits(t *testing.T) {
	f := newShellFixture(t)
	in := strings.NewReader("help\nstatus\nquit\nuser never\n")
	if err := f.sh.run(context.Background(), in); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	out := f.out.String()
	if !strings.Contains(out, "Commands:") || !strings.Contains(out, "Platform:") {
		t.Errorf("run output = %q", out)
	}
	if f.sh.session.Identity().User == "never" {
		t.Error("commands after quit should not run")
	}
}

func TestShell_RunEOF(t *testing.T) {
	f := newShellFixture(t)
	if err := f.sh.run(context.Background(), strings.NewReader("org Globex\n")); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := f.sh.session.Identity().Org; got != "Globex" {
		t.Errorf("Org = %q, want %q", got, "Globex")
	}
}
