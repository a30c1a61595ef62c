// Package secrets resolves secret references such as "keyring://notion" or
// "awssm://us-east-1/portage/hubspot" to their values. It is used for OAuth
// client secrets; platform credentials never pass through it.
package secrets

import (
	"context"
	"strings"
	"sync"
)

// Resolver resolves references of one URI scheme.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles, e.g. "env".
	Scheme() string

	// Resolve fetches the value for the full reference URI.
	Resolve(ctx context.Context, reference string) (string, error)
}

var (
	resolvers = make(map[string]Resolver)
	mu        sync.RWMutex
)

// Register adds a resolver, replacing any resolver for the same scheme.
func Register(r Resolver) {
	mu.Lock()
	defer mu.Unlock()
	resolvers[r.Scheme()] = r
}

// RegisterDefaults registers the env, keyring and AWS Secrets Manager
// resolvers.
func RegisterDefaults() {
	Register(EnvResolver{})
	Register(&KeyringResolver{})
	Register(&SecretsManagerResolver{})
}

// Resolve dispatches reference to the resolver for its scheme.
func Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	mu.RLock()
	r, ok := resolvers[scheme]
	mu.RUnlock()
	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}
	return r.Resolve(ctx, reference)
}

// ResolveValue returns value unchanged when it is not a reference, and the
// resolved secret otherwise.
func ResolveValue(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	return Resolve(ctx, value)
}

// IsReference reports whether value uses a registered scheme.
func IsReference(value string) bool {
	scheme := parseScheme(value)
	if scheme == "" {
		return false
	}
	mu.RLock()
	defer mu.RUnlock()
	_, ok := resolvers[scheme]
	return ok
}

// parseScheme extracts "env" from "env://NAME".
func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	return ref[:idx]
}

// clearRegistry removes all registered resolvers. For testing only.
func clearRegistry() {
	mu.Lock()
	defer mu.Unlock()
	resolvers = make(map[string]Resolver)
}
