// Package session holds the state of one interactive portage session: who
// is working, which platform is active, what has been loaded and which
// platforms are connected. Every change goes through a Session method.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/browser"
	"github.com/majorcontext/portage/internal/connect"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/transfer"
)

// Default identity values.
const (
	DefaultUser = "TestUser"
	DefaultOrg  = "TestOrg"
)

var (
	// ErrNoActivePlatform is returned by operations that need a selected
	// platform.
	ErrNoActivePlatform = errors.New("no platform selected")
	// ErrNoActiveCredential is returned when the active platform has no
	// credential to use.
	ErrNoActiveCredential = errors.New("no credential for the selected platform")
)

// Backend is everything the session needs from the integrations backend.
// *backend.Client satisfies it.
type Backend interface {
	connect.Authorizer
	loader.Backend
	transfer.Backend
}

// Recorder journals outcomes. *audit.Store satisfies it.
type Recorder interface {
	connect.Recorder
}

// Config configures a Session.
type Config struct {
	Backend      Backend
	Opener       browser.Opener
	Recorder     Recorder
	Identity     backend.Identity
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Session is the application state container.
type Session struct {
	store  *credential.Store
	loader *loader.Loader
	orch   *connect.Orchestrator
	coord  *transfer.Coordinator

	mu         sync.RWMutex
	identity   backend.Identity
	active     platform.Platform
	activeCred credential.Credential
}

// New creates a Session.
func New(cfg Config) *Session {
	id := cfg.Identity
	if id.User == "" {
		id.User = DefaultUser
	}
	if id.Org == "" {
		id.Org = DefaultOrg
	}

	s := &Session{
		store:    credential.NewStore(),
		identity: id,
	}

	// A nil Recorder must stay a nil interface in each component.
	var connRec connect.Recorder
	var loadRec loader.Recorder
	var xferRec transfer.Recorder
	if cfg.Recorder != nil {
		connRec, loadRec, xferRec = cfg.Recorder, cfg.Recorder, cfg.Recorder
	}

	s.loader = loader.New(cfg.Backend, loadRec)
	s.coord = transfer.NewCoordinator(cfg.Backend, s.store, xferRec)
	s.orch = connect.New(connect.Config{
		Authorizer:   cfg.Backend,
		Opener:       cfg.Opener,
		Store:        s.store,
		Identity:     s.Identity,
		Recorder:     connRec,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
	})
	return s
}

// Identity returns the current user and organization.
func (s *Session) Identity() backend.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetIdentity changes the user and organization. Empty values keep the
// current ones.
func (s *Session) SetIdentity(user, org string) backend.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user != "" {
		s.identity.User = user
	}
	if org != "" {
		s.identity.Org = org
	}
	return s.identity
}

// Select makes p the active platform with cred as its credential and
// discards any loaded records. A nil cred means the credential stored by a
// connect for p is used.
func (s *Session) Select(p platform.Platform, cred credential.Credential) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", platform.ErrUnsupported, string(p))
	}
	s.mu.Lock()
	s.active = p
	s.activeCred = cred.Clone()
	s.mu.Unlock()
	s.loader.Clear()
	return nil
}

// Active returns the active platform and the credential it will use.
func (s *Session) Active() (platform.Platform, credential.Credential, error) {
	s.mu.RLock()
	p, cred := s.active, s.activeCred.Clone()
	s.mu.RUnlock()

	if p == "" {
		return "", nil, ErrNoActivePlatform
	}
	if cred.Empty() {
		if stored, ok := s.store.Get(p); ok {
			cred = stored
		}
	}
	if cred.Empty() {
		return p, nil, fmt.Errorf("%w (%s)", ErrNoActiveCredential, p.DisplayName())
	}
	return p, cred, nil
}

// Load fetches the active platform's records.
func (s *Session) Load(ctx context.Context) (loader.RecordSet, error) {
	p, cred, err := s.Active()
	if err != nil {
		return loader.RecordSet{}, err
	}
	return s.loader.Load(ctx, p, cred, s.Identity())
}

// Clear discards the loaded records.
func (s *Session) Clear() {
	s.loader.Clear()
}

// Records returns the loaded records grouped by type.
func (s *Session) Records() (loader.RecordSet, []loader.Group, bool) {
	set, ok := s.loader.Current()
	if !ok {
		return loader.RecordSet{}, nil, false
	}
	return set, loader.GroupByType(set.Records), true
}

// Connect runs the authorization flow for p. It blocks until the flow ends.
func (s *Session) Connect(ctx context.Context, p platform.Platform) error {
	_, err := s.orch.Connect(ctx, p)
	return err
}

// CancelConnect stops a running connect for p.
func (s *Session) CancelConnect(p platform.Platform) bool {
	return s.orch.Cancel(p)
}

// Connecting reports whether a connect for p is running.
func (s *Session) Connecting(p platform.Platform) bool {
	return s.orch.Connecting(p)
}

// Transfer copies the active platform's data to dest using dest's
// connected credential.
func (s *Session) Transfer(ctx context.Context, dest platform.Platform) (transfer.Result, error) {
	if err := s.coord.CheckDestination(dest); err != nil {
		return transfer.Result{}, err
	}
	src, cred, err := s.Active()
	if err != nil {
		return transfer.Result{}, err
	}
	return s.coord.Transfer(ctx, transfer.Request{
		Source:           src,
		SourceCredential: cred,
		Destination:      dest,
		Identity:         s.Identity(),
	})
}

// Status is a snapshot of the session.
type Status struct {
	Identity   backend.Identity
	Active     platform.Platform
	HasActive  bool
	Loaded     int
	LoadedFrom platform.Platform
	LoadedAt   time.Time
	Connected  []platform.Platform
	Connecting []platform.Platform
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	st := Status{
		Identity:   s.Identity(),
		Connected:  s.store.Platforms(),
		Connecting: s.orch.Pending(),
	}
	if p, _, err := s.Active(); err == nil {
		st.Active, st.HasActive = p, true
	} else if p != "" {
		st.Active = p
	}
	if set, ok := s.loader.Current(); ok {
		st.Loaded = set.Len()
		st.LoadedFrom = set.Platform
		st.LoadedAt = set.LoadedAt
	}
	return st
}

// Credentials exposes the connected credentials for read-only use.
func (s *Session) Credentials() *credential.Store {
	return s.store
}
