package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvResolver resolves env://NAME from the process environment.
type EnvResolver struct{}

// Scheme returns "env".
func (EnvResolver) Scheme() string { return "env" }

// Resolve returns the value of the named variable.
func (EnvResolver) Resolve(ctx context.Context, reference string) (string, error) {
	name := strings.TrimPrefix(reference, "env://")
	if name == "" || strings.ContainsAny(name, "/=") {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected env://VARIABLE"}
	}
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", &NotFoundError{Reference: reference, Backend: "environment"}
	}
	return value, nil
}
