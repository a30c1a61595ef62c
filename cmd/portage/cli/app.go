package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/browser"
	"github.com/majorcontext/portage/internal/config"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/session"
)

// app bundles what the session-based commands share.
type app struct {
	session *session.Session
	journal *audit.Store
}

// newApp builds a session from cfg. confirm feeds the system browser's
// "done" lines and prompt receives its instructions.
func newApp(cfg *config.Config, confirm io.Reader, prompt io.Writer) (*app, error) {
	client, err := backend.New(cfg.Backend.URL, backend.WithTimeout(cfg.Backend.Timeout))
	if err != nil {
		return nil, err
	}
	opener, err := newOpener(cfg.Browser, confirm, prompt)
	if err != nil {
		return nil, err
	}

	a := &app{}
	sc := session.Config{
		Backend:      client,
		Opener:       opener,
		Identity:     backend.Identity{User: cfg.Identity.User, Org: cfg.Identity.Org},
		PollInterval: cfg.Auth.PollInterval,
		MaxWait:      cfg.Auth.MaxWait,
	}
	if cfg.Audit.Path != "" {
		journal, err := audit.OpenStore(cfg.Audit.Path)
		if err != nil {
			// The journal is diagnostics only.
			log.Warn("diagnostics journal unavailable", "path", cfg.Audit.Path, "error", err)
		} else {
			a.journal = journal
			sc.Recorder = journal
		}
	}
	a.session = session.New(sc)
	return a, nil
}

func (a *app) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

func newOpener(bc config.BrowserConfig, confirm io.Reader, prompt io.Writer) (browser.Opener, error) {
	mode, err := browser.ParseMode(bc.Mode)
	if err != nil {
		return nil, err
	}
	if mode == browser.ModeSystem {
		return browser.NewSystemOpener(confirm, prompt), nil
	}
	return browser.NewChromeOpener(browser.ChromeConfig{
		ExecPath:  bc.ChromePath,
		RemoteURL: bc.RemoteURL,
		NoSandbox: bc.NoSandbox,
	}), nil
}

// readCredentialFile reads a credential JSON object from path.
func readCredentialFile(path string) (credential.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	cred, err := credential.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cred.Empty() {
		return nil, fmt.Errorf("%s: credential file is empty", path)
	}
	return cred, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
