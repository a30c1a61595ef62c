package connect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/browser"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/platform"
)

type fakeWindow struct {
	openedAt time.Time
	closeIn  time.Duration // zero means never closes on its own
	closed   atomic.Bool
	closes   atomic.Int32
}

func (w *fakeWindow) Closed() bool {
	if w.closed.Load() {
		return true
	}
	return w.closeIn > 0 && time.Since(w.openedAt) >= w.closeIn
}

func (w *fakeWindow) Close() error {
	w.closes.Add(1)
	w.closed.Store(true)
	return nil
}

type fakeOpener struct {
	closeIn time.Duration
	err     error

	mu      sync.Mutex
	windows []*fakeWindow
	urls    []string
	titles  []string
}

func (o *fakeOpener) Open(ctx context.Context, url, title string) (browser.Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	o.titles = append(o.titles, title)
	if o.err != nil {
		return nil, o.err
	}
	w := &fakeWindow{openedAt: time.Now(), closeIn: o.closeIn}
	o.windows = append(o.windows, w)
	return w, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.urls)
}

func (o *fakeOpener) window(i int) *fakeWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.windows[i]
}

type fakeAuthorizer struct {
	authErr  error
	cred     credential.Credential
	exchErr  error
	exchHook func(ctx context.Context)

	authCalls atomic.Int32
	exchCalls atomic.Int32

	mu  sync.Mutex
	ids []backend.Identity
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, p platform.Platform, id backend.Identity) (string, error) {
	a.authCalls.Add(1)
	a.mu.Lock()
	a.ids = append(a.ids, id)
	a.mu.Unlock()
	if a.authErr != nil {
		return "", a.authErr
	}
	return "https://auth.example.com/" + string(p), nil
}

func (a *fakeAuthorizer) ExchangeCredentials(ctx context.Context, p platform.Platform, id backend.Identity) (credential.Credential, error) {
	a.exchCalls.Add(1)
	a.mu.Lock()
	a.ids = append(a.ids, id)
	a.mu.Unlock()
	if a.exchHook != nil {
		a.exchHook(ctx)
	}
	if a.exchErr != nil {
		return nil, a.exchErr
	}
	return a.cred.Clone(), nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *fakeRecorder) Record(ctx context.Context, ev audit.Event) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &ev, nil
}

func newTestOrchestrator(auth Authorizer, opener browser.Opener, store *credential.Store, rec Recorder) *Orchestrator {
	return New(Config{
		Authorizer:   auth,
		Opener:       opener,
		Store:        store,
		Identity:     func() backend.Identity { return backend.Identity{User: "TestUser", Org: "TestOrg"} },
		Recorder:     rec,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      2 * time.Second,
	})
}

func TestConnect_Success(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"api_key": "abc"}}
	opener := &fakeOpener{closeIn: 120 * time.Millisecond}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(auth, opener, store, rec)

	start := time.Now()
	cred, err := o.Connect(context.Background(), platform.Notion)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("Connect returned after %v, before the window closed", elapsed)
	}

	if cred["api_key"] != "abc" {
		t.Errorf("cred[api_key] = %v, want abc", cred["api_key"])
	}
	got, ok := store.Get(platform.Notion)
	if !ok || got["api_key"] != "abc" {
		t.Errorf("store.Get(notion) = %v, %v; want {api_key: abc}", got, ok)
	}
	if o.Connecting(platform.Notion) {
		t.Error("Connecting(notion) = true after Connect returned")
	}
	if n := auth.exchCalls.Load(); n != 1 {
		t.Errorf("exchange calls = %d, want 1", n)
	}
	if n := opener.window(0).closes.Load(); n != 1 {
		t.Errorf("window Close calls = %d, want 1", n)
	}
	if opener.titles[0] != "Notion Auth" {
		t.Errorf("window title = %q, want %q", opener.titles[0], "Notion Auth")
	}
	if opener.urls[0] != "https://auth.example.com/notion" {
		t.Errorf("window url = %q", opener.urls[0])
	}
	for _, id := range auth.ids {
		if id.User != "TestUser" || id.Org != "TestOrg" {
			t.Errorf("identity = %+v, want TestUser/TestOrg", id)
		}
	}
	if len(rec.events) != 1 || rec.events[0].Outcome != audit.OutcomeOK || rec.events[0].Kind != audit.KindConnect {
		t.Errorf("journal = %+v, want one ok connect event", rec.events)
	}
}

func TestConnect_AuthorizeFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "detail",
			err:     &backend.APIError{StatusCode: 400, Detail: "Client not configured"},
			wantMsg: "Client not configured",
		},
		{
			name:    "generic",
			err:     errors.New("connection refused"),
			wantMsg: "Failed to connect to HubSpot",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credential.NewStore()
			auth := &fakeAuthorizer{authErr: tt.err}
			opener := &fakeOpener{closeIn: time.Millisecond}
			o := newTestOrchestrator(auth, opener, store, nil)

			_, err := o.Connect(context.Background(), platform.HubSpot)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Connect error = %v, want *Error", err)
			}
			if cerr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", cerr.Message, tt.wantMsg)
			}
			if cerr.Step != "authorize" {
				t.Errorf("Step = %q, want authorize", cerr.Step)
			}
			if store.Has(platform.HubSpot) {
				t.Error("store has hubspot after failed authorize")
			}
			if o.Connecting(platform.HubSpot) {
				t.Error("Connecting(hubspot) = true after failure")
			}
			if opener.opened() != 0 {
				t.Error("window opened after failed authorize")
			}
			if auth.exchCalls.Load() != 0 {
				t.Error("exchange called after failed authorize")
			}
		})
	}
}

func TestConnect_OpenFailure(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{err: errors.New("chrome not found")}
	o := newTestOrchestrator(auth, opener, store, nil)

	_, err := o.Connect(context.Background(), platform.Airtable)
	if err == nil || err.Error() != "Failed to connect to Airtable" {
		t.Errorf("Connect error = %v, want %q", err, "Failed to connect to Airtable")
	}
	if auth.exchCalls.Load() != 0 {
		t.Error("exchange called after failed open")
	}
	if o.Connecting(platform.Airtable) {
		t.Error("Connecting(airtable) = true after failure")
	}
}

func TestConnect_EmptyCredential(t *testing.T) {
	for _, cred := range []credential.Credential{nil, {}} {
		store := credential.NewStore()
		auth := &fakeAuthorizer{cred: cred}
		opener := &fakeOpener{closeIn: 20 * time.Millisecond}
		rec := &fakeRecorder{}
		o := newTestOrchestrator(auth, opener, store, rec)

		_, err := o.Connect(context.Background(), platform.Airtable)
		if !errors.Is(err, ErrNoCredential) {
			t.Errorf("Connect error = %v, want ErrNoCredential", err)
		}
		if !strings.Contains(err.Error(), "no credential returned") {
			t.Errorf("error text = %q", err)
		}
		if store.Has(platform.Airtable) {
			t.Error("store has airtable after empty exchange")
		}
		if o.Connecting(platform.Airtable) {
			t.Error("Connecting(airtable) = true after failure")
		}
		if len(rec.events) != 1 || rec.events[0].Outcome != audit.OutcomeFailed {
			t.Errorf("journal = %+v, want one failed event", rec.events)
		}
	}
}

func TestConnect_ExchangeFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "detail",
			err:     &backend.APIError{StatusCode: 400, Detail: "No credentials found."},
			wantMsg: "No credentials found.",
		},
		{
			name:    "raw",
			err:     errors.New("credentials request failed: EOF"),
			wantMsg: "Failed to connect to Notion: credentials request failed: EOF",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credential.NewStore()
			store.Set(platform.Notion, credential.Credential{"access_token": "old"})
			auth := &fakeAuthorizer{exchErr: tt.err}
			opener := &fakeOpener{closeIn: 20 * time.Millisecond}
			o := newTestOrchestrator(auth, opener, store, nil)

			_, err := o.Connect(context.Background(), platform.Notion)
			if err == nil || err.Error() != tt.wantMsg {
				t.Errorf("Connect error = %v, want %q", err, tt.wantMsg)
			}
			got, _ := store.Get(platform.Notion)
			if got["access_token"] != "old" {
				t.Errorf("stored credential changed to %v after failed exchange", got)
			}
			if o.Connecting(platform.Notion) {
				t.Error("Connecting(notion) = true after failure")
			}
		})
	}
}

func TestConnect_RejectsDuplicate(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{closeIn: 150 * time.Millisecond}
	o := newTestOrchestrator(auth, opener, store, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Connect(context.Background(), platform.HubSpot)
		done <- err
	}()

	waitFor(t, func() bool { return o.Connecting(platform.HubSpot) })

	_, err := o.Connect(context.Background(), platform.HubSpot)
	if !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("second Connect error = %v, want ErrAlreadyConnecting", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if n := auth.authCalls.Load(); n != 1 {
		t.Errorf("authorize calls = %d, want 1", n)
	}
	if !store.Has(platform.HubSpot) {
		t.Error("first attempt did not store its credential")
	}
}

func TestConnect_ConcurrentPlatforms(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{closeIn: 80 * time.Millisecond}
	o := newTestOrchestrator(auth, opener, store, nil)

	var wg sync.WaitGroup
	errs := make(chan error, len(platform.All()))
	for _, p := range platform.All() {
		wg.Add(1)
		go func(p platform.Platform) {
			defer wg.Done()
			_, err := o.Connect(context.Background(), p)
			errs <- err
		}(p)
	}

	waitFor(t, func() bool { return len(o.Pending()) == len(platform.All()) })

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Connect: %v", err)
		}
	}
	for _, p := range platform.All() {
		if !store.Has(p) {
			t.Errorf("store missing %s", p)
		}
	}
	if len(o.Pending()) != 0 {
		t.Errorf("Pending() = %v after all attempts finished", o.Pending())
	}
}

func TestConnect_Abandoned(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{}
	o := New(Config{
		Authorizer:   auth,
		Opener:       opener,
		Store:        store,
		PollInterval: 5 * time.Millisecond,
		MaxWait:      50 * time.Millisecond,
	})

	_, err := o.Connect(context.Background(), platform.Notion)
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("Connect error = %v, want ErrAbandoned", err)
	}
	if err.Error() != "authorization abandoned" {
		t.Errorf("error text = %q", err)
	}
	if opener.window(0).closes.Load() != 1 {
		t.Error("abandoned window was not closed")
	}
	if auth.exchCalls.Load() != 0 {
		t.Error("exchange called for abandoned attempt")
	}
	if o.Connecting(platform.Notion) {
		t.Error("Connecting(notion) = true after abandon")
	}
}

func TestConnect_Cancel(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{}
	o := newTestOrchestrator(auth, opener, store, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Connect(context.Background(), platform.Airtable)
		done <- err
	}()

	waitFor(t, func() bool { return opener.opened() == 1 })
	if !o.Cancel(platform.Airtable) {
		t.Fatal("Cancel(airtable) = false with an attempt running")
	}

	err := <-done
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("Connect error = %v, want ErrCanceled", err)
	}
	if opener.window(0).closes.Load() != 1 {
		t.Error("canceled window was not closed")
	}
	if o.Connecting(platform.Airtable) {
		t.Error("Connecting(airtable) = true after cancel")
	}
	if o.Cancel(platform.Airtable) {
		t.Error("Cancel(airtable) = true with nothing running")
	}
}

func TestConnect_ContextCanceled(t *testing.T) {
	store := credential.NewStore()
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "x"}}
	opener := &fakeOpener{}
	o := newTestOrchestrator(auth, opener, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := o.Connect(ctx, platform.HubSpot)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect error = %v, want context.DeadlineExceeded", err)
	}
	if o.Connecting(platform.HubSpot) {
		t.Error("Connecting(hubspot) = true after context end")
	}
}

func TestConnect_SupersededDuringExchange(t *testing.T) {
	store := credential.NewStore()
	opener := &fakeOpener{closeIn: 10 * time.Millisecond}
	inExchange := make(chan struct{})
	release := make(chan struct{})
	auth := &fakeAuthorizer{
		cred: credential.Credential{"access_token": "late"},
		exchHook: func(ctx context.Context) {
			close(inExchange)
			<-release
		},
	}
	o := newTestOrchestrator(auth, opener, store, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Connect(context.Background(), platform.Notion)
		done <- err
	}()

	<-inExchange
	o.Cancel(platform.Notion)
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Connect error = %v, want ErrSuperseded", err)
	}
	if store.Has(platform.Notion) {
		t.Error("stale credential was stored")
	}
}

func TestConnect_Reconnect_Overwrites(t *testing.T) {
	store := credential.NewStore()
	store.Set(platform.HubSpot, credential.Credential{"access_token": "first"})
	auth := &fakeAuthorizer{cred: credential.Credential{"access_token": "second"}}
	opener := &fakeOpener{closeIn: 10 * time.Millisecond}
	o := newTestOrchestrator(auth, opener, store, nil)

	if _, err := o.Connect(context.Background(), platform.HubSpot); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got, _ := store.Get(platform.HubSpot)
	if got.AccessToken() != "second" {
		t.Errorf("AccessToken = %q, want second", got.AccessToken())
	}
}

func TestConnect_Unsupported(t *testing.T) {
	auth := &fakeAuthorizer{}
	o := newTestOrchestrator(auth, &fakeOpener{}, credential.NewStore(), nil)

	_, err := o.Connect(context.Background(), platform.Platform("salesforce"))
	if !errors.Is(err, platform.ErrUnsupported) {
		t.Errorf("Connect error = %v, want ErrUnsupported", err)
	}
	if auth.authCalls.Load() != 0 {
		t.Error("authorize called for unsupported platform")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
