// Package connect runs the interactive authorization flow for a platform:
// request an authorization URL, open it in a browser window, wait for the
// operator to close the window, then exchange the completed flow for a
// credential and store it.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/browser"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
)

const (
	// DefaultPollInterval is how often the window is checked for closure.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultMaxWait bounds how long a window may stay open.
	DefaultMaxWait = 5 * time.Minute
)

var (
	// ErrAlreadyConnecting is returned when a connect for the same platform
	// is still in progress.
	ErrAlreadyConnecting = errors.New("already connecting")
	// ErrNoCredential is returned when the exchange succeeds with an empty
	// payload.
	ErrNoCredential = errors.New("no credential returned")
	// ErrAbandoned is returned when the window stays open past the maximum
	// wait.
	ErrAbandoned = errors.New("authorization abandoned")
	// ErrCanceled is returned when the attempt is canceled with Cancel.
	ErrCanceled = errors.New("authorization canceled")
	// ErrSuperseded is returned when a credential arrives for an attempt
	// that is no longer current. The credential is discarded.
	ErrSuperseded = errors.New("authorization superseded")
)

// Authorizer is the backend half of the flow. *backend.Client satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, p platform.Platform, id backend.Identity) (string, error)
	ExchangeCredentials(ctx context.Context, p platform.Platform, id backend.Identity) (credential.Credential, error)
}

// Recorder journals outcomes. *audit.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Event, error)
}

// Error is a failed step of the flow. Message is what the operator sees.
type Error struct {
	Platform platform.Platform
	Step     string
	Message  string
	Err      error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Config configures an Orchestrator.
type Config struct {
	Authorizer Authorizer
	Opener     browser.Opener
	Store      *credential.Store
	// Identity returns the identity to authorize as. It is read once per
	// attempt so the authorize and exchange calls always agree.
	Identity     func() backend.Identity
	Recorder     Recorder
	PollInterval time.Duration
	MaxWait      time.Duration
}

type attempt struct {
	token  uint64
	cancel context.CancelCauseFunc
}

// Orchestrator runs connect attempts. Attempts for different platforms run
// concurrently; at most one attempt per platform is active.
type Orchestrator struct {
	auth     Authorizer
	opener   browser.Opener
	store    *credential.Store
	identity func() backend.Identity
	recorder Recorder
	interval time.Duration
	maxWait  time.Duration

	mu       sync.Mutex
	attempts map[platform.Platform]*attempt
	next     uint64
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		auth:     cfg.Authorizer,
		opener:   cfg.Opener,
		store:    cfg.Store,
		identity: cfg.Identity,
		recorder: cfg.Recorder,
		interval: cfg.PollInterval,
		maxWait:  cfg.MaxWait,
		attempts: make(map[platform.Platform]*attempt),
	}
	if o.interval <= 0 {
		o.interval = DefaultPollInterval
	}
	if o.maxWait <= 0 {
		o.maxWait = DefaultMaxWait
	}
	if o.identity == nil {
		o.identity = func() backend.Identity { return backend.Identity{} }
	}
	return o
}

// Connecting reports whether an attempt for p is in progress.
func (o *Orchestrator) Connecting(p platform.Platform) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.attempts[p]
	return ok
}

// Pending returns the platforms with an attempt in progress, sorted.
func (o *Orchestrator) Pending() []platform.Platform {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]platform.Platform, 0, len(o.attempts))
	for p := range o.attempts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cancel ends the attempt for p, closing its window. It reports whether an
// attempt was running.
func (o *Orchestrator) Cancel(p platform.Platform) bool {
	o.mu.Lock()
	a, ok := o.attempts[p]
	o.mu.Unlock()
	if ok {
		a.cancel(ErrCanceled)
	}
	return ok
}

// Connect runs the full flow for p and blocks until it finishes. On success
// the credential is stored and returned.
func (o *Orchestrator) Connect(ctx context.Context, p platform.Platform) (credential.Credential, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", platform.ErrUnsupported, string(p))
	}

	ctx, a, err := o.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	defer o.finish(p, a)

	id := o.identity()
	logger := log.With("platform", p, "attempt", a.token)

	cred, err := o.run(ctx, p, a, id, logger)
	o.journal(p, err)
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return nil, err
	}
	logger.Info("connected", log.CredentialKeys(cred))
	return cred, nil
}

func (o *Orchestrator) begin(ctx context.Context, p platform.Platform) (context.Context, *attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.attempts[p]; ok {
		return nil, nil, fmt.Errorf("%s: %w", p, ErrAlreadyConnecting)
	}
	o.next++
	ctx, cancel := context.WithCancelCause(ctx)
	a := &attempt{token: o.next, cancel: cancel}
	o.attempts[p] = a
	return ctx, a, nil
}

func (o *Orchestrator) finish(p platform.Platform, a *attempt) {
	o.mu.Lock()
	if cur, ok := o.attempts[p]; ok && cur.token == a.token {
		delete(o.attempts, p)
	}
	o.mu.Unlock()
	a.cancel(nil)
}

func (o *Orchestrator) run(ctx context.Context, p platform.Platform, a *attempt, id backend.Identity, logger *slog.Logger) (credential.Credential, error) {
	authURL, err := o.auth.Authorize(ctx, p, id)
	if err != nil {
		return nil, stepError(p, "authorize", err)
	}
	logger.Debug("authorization URL received", "url", authURL)

	win, err := o.opener.Open(ctx, authURL, p.DisplayName()+" Auth")
	if err != nil {
		return nil, stepError(p, "open", err)
	}

	// The window owns browser resources even after the operator closed it.
	defer func() {
		if cerr := win.Close(); cerr != nil {
			logger.Debug("closing window", "error", cerr)
		}
	}()

	if err := o.wait(ctx, win); err != nil {
		return nil, err
	}
	logger.Debug("window closed, exchanging credentials")

	cred, err := o.auth.ExchangeCredentials(ctx, p, id)
	if err != nil {
		return nil, stepError(p, "exchange", err)
	}
	if cred.Empty() {
		return nil, fmt.Errorf("%s: %w", p, ErrNoCredential)
	}

	// Store only while this attempt is still the current one.
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.attempts[p]; !ok || cur.token != a.token || ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", p, ErrSuperseded)
	}
	o.store.Set(p, cred)
	return cred, nil
}

// wait polls win until it closes. The ticker is stopped on every exit.
func (o *Orchestrator) wait(ctx context.Context, win browser.Window) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.maxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if win.Closed() {
				return nil
			}
		case <-deadline.C:
			return ErrAbandoned
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (o *Orchestrator) journal(p platform.Platform, err error) {
	if o.recorder == nil {
		return
	}
	ev := audit.Event{
		Kind:     audit.KindConnect,
		Platform: string(p),
		Outcome:  audit.OutcomeOK,
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailed
		ev.Message = err.Error()
		ev.Status = backend.StatusCode(err)
	}
	if _, rerr := o.recorder.Record(context.Background(), ev); rerr != nil {
		log.Debug("journal write failed", "error", rerr)
	}
}

// stepError builds the operator-facing error for a failed step. A backend
// detail wins; otherwise the authorize and open steps report a generic
// message and the exchange step includes the underlying error.
func stepError(p platform.Platform, step string, err error) error {
	msg := backend.Detail(err)
	if msg == "" {
		if step == "exchange" {
			msg = fmt.Sprintf("Failed to connect to %s: %v", p.DisplayName(), err)
		} else {
			msg = fmt.Sprintf("Failed to connect to %s", p.DisplayName())
		}
	}
	return &Error{Platform: p, Step: step, Message: msg, Err: err}
}
