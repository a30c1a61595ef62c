// Package platform identifies the third-party data platforms portage can
// connect to, load from and transfer into.
package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when a platform name is not in the supported set.
var ErrUnsupported = errors.New("unsupported platform")

// Platform identifies a data platform (hubspot, notion, etc.)
type Platform string

const (
	HubSpot  Platform = "hubspot"
	Notion   Platform = "notion"
	Airtable Platform = "airtable"
)

// displayNames holds the human-facing spelling of each platform.
var displayNames = map[Platform]string{
	HubSpot:  "HubSpot",
	Notion:   "Notion",
	Airtable: "Airtable",
}

// All returns every supported platform in a stable order.
func All() []Platform {
	return []Platform{HubSpot, Notion, Airtable}
}

// Valid reports whether p is a member of the supported set.
func (p Platform) Valid() bool {
	_, ok := displayNames[p]
	return ok
}

// String returns the identifier used in backend paths.
func (p Platform) String() string {
	return string(p)
}

// DisplayName returns the name shown to operators, e.g. "HubSpot".
// Unsupported platforms are returned unchanged.
func (p Platform) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}

// Endpoint returns the path segment of the backend endpoints for p.
func (p Platform) Endpoint() (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, string(p))
	}
	return string(p), nil
}

// Parse converts a user-supplied name into a Platform. Matching is
// case-insensitive so "HubSpot" and "hubspot" are equivalent.
func Parse(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q; supported platforms: %s", ErrUnsupported, name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns the identifiers of all supported platforms.
func Names() []string {
	names := make([]string, 0, len(displayNames))
	for _, p := range All() {
		names = append(names, string(p))
	}
	return names
}
