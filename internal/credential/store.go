package credential

import (
	"sort"
	"sync"

	"github.com/majorcontext/portage/internal/platform"
)

// Store maps each connected platform to its most recent credential.
// Entries live for the lifetime of the process; a later Set for the same
// platform replaces the previous credential wholesale. Nothing is evicted.
type Store struct {
	mu    sync.RWMutex
	creds map[platform.Platform]Credential
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{creds: make(map[platform.Platform]Credential)}
}

// Get returns a copy of the credential stored for p.
func (s *Store) Get(p platform.Platform) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[p]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Set stores cred for p, replacing any previous value.
func (s *Store) Set(p platform.Platform, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[p] = cred.Clone()
}

// Has reports whether a credential is stored for p.
func (s *Store) Has(p platform.Platform) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[p]
	return ok
}

// Platforms returns the platforms with a stored credential, sorted.
func (s *Store) Platforms() []platform.Platform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]platform.Platform, 0, len(s.creds))
	for p := range s.creds {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
