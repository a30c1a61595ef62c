package credential

import (
	"sync"
	"testing"

	"github.com/majorcontext/portage/internal/platform"
)

func TestStore_SetAndGet(t *testing.T) {
	s := NewStore()

	if s.Has(platform.Notion) {
		t.Fatal("new store should be empty")
	}
	if _, ok := s.Get(platform.Notion); ok {
		t.Fatal("Get on empty store should report absent")
	}

	s.Set(platform.Notion, Credential{"api_key": "abc"})

	if !s.Has(platform.Notion) {
		t.Fatal("Has(notion) = false after Set")
	}
	got, ok := s.Get(platform.Notion)
	if !ok {
		t.Fatal("Get(notion) reported absent after Set")
	}
	if got["api_key"] != "abc" {
		t.Errorf("api_key = %v, want %q", got["api_key"], "abc")
	}
}

func TestStore_SetReplacesWholesale(t *testing.T) {
	s := NewStore()
	s.Set(platform.Airtable, Credential{"token": "old", "scope": "data.records:write"})
	s.Set(platform.Airtable, Credential{"token": "new"})

	got, _ := s.Get(platform.Airtable)
	if got["token"] != "new" {
		t.Errorf("token = %v, want %q", got["token"], "new")
	}
	if _, ok := got["scope"]; ok {
		t.Error("reconnect should replace the credential, not merge it")
	}
}

func TestStore_ValuesAreIsolated(t *testing.T) {
	s := NewStore()
	cred := Credential{"nested": map[string]any{"k": "v"}}
	s.Set(platform.HubSpot, cred)

	cred["nested"].(map[string]any)["k"] = "mutated"
	got, _ := s.Get(platform.HubSpot)
	if got["nested"].(map[string]any)["k"] != "v" {
		t.Error("mutating the caller's map changed the stored credential")
	}

	got["extra"] = true
	again, _ := s.Get(platform.HubSpot)
	if _, ok := again["extra"]; ok {
		t.Error("mutating a returned credential changed the stored credential")
	}
}

func TestStore_Platforms(t *testing.T) {
	s := NewStore()
	s.Set(platform.Notion, Credential{"a": 1})
	s.Set(platform.Airtable, Credential{"b": 2})

	got := s.Platforms()
	if len(got) != 2 || got[0] != platform.Airtable || got[1] != platform.Notion {
		t.Errorf("Platforms() = %v, want [airtable notion]", got)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Set(platform.Notion, Credential{"n": i})
		}(i)
		go func() {
			defer wg.Done()
			s.Get(platform.Notion)
			s.Has(platform.Notion)
		}()
	}
	wg.Wait()

	if !s.Has(platform.Notion) {
		t.Error("expected a credential after concurrent writes")
	}
}
