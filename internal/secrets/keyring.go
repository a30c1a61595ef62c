package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/majorcontext/portage/internal/platform"
)

// KeyringService is the default keyring service name. PORTAGE_KEYRING_SERVICE
// overrides it so tests can use isolated entries.
const KeyringService = "portage"

func keyringService() string {
	if name := os.Getenv("PORTAGE_KEYRING_SERVICE"); name != "" {
		return name
	}
	return KeyringService
}

func keyringAccount(p platform.Platform) string {
	return string(p) + "-client-secret"
}

// KeyringResolver resolves keyring://<platform> to the OAuth client secret
// stored with StoreClientSecret.
type KeyringResolver struct{}

// Scheme returns "keyring".
func (*KeyringResolver) Scheme() string { return "keyring" }

// Resolve reads the secret from the OS keyring.
func (*KeyringResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := platform.Parse(strings.TrimPrefix(reference, "keyring://"))
	if err != nil {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected keyring://<platform>"}
	}

	value, err := keyring.Get(keyringService(), keyringAccount(p))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", &NotFoundError{Reference: reference, Backend: "system keychain"}
	}
	if err != nil {
		return "", &BackendError{
			Backend:   "system keychain",
			Reference: reference,
			Reason:    err.Error(),
			Fix:       "Use env:// or a literal client_secret when no keychain is available.",
		}
	}
	return value, nil
}

// StoreClientSecret saves p's OAuth client secret in the OS keyring.
func StoreClientSecret(p platform.Platform, secret string) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", platform.ErrUnsupported, string(p))
	}
	if secret == "" {
		return fmt.Errorf("client secret is empty")
	}
	if err := keyring.Set(keyringService(), keyringAccount(p), secret); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// DeleteClientSecret removes p's OAuth client secret. Deleting a missing
// secret is not an error.
func DeleteClientSecret(p platform.Platform) error {
	err := keyring.Delete(keyringService(), keyringAccount(p))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}
