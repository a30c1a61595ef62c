// Package browser opens authorization URLs in a window whose closure can be
// observed. No close event reaches portage from the authorization page, so
// callers poll Window.Closed.
package browser

import (
	"context"
	"fmt"
)

// Window is an open authorization window.
type Window interface {
	// Closed reports whether the operator (or the page itself) closed the
	// window. It must not block.
	Closed() bool
	// Close closes the window if it is still open. Safe to call repeatedly.
	Close() error
}

// Opener opens url in a new window titled title.
type Opener interface {
	Open(ctx context.Context, url, title string) (Window, error)
}

// Mode selects an Opener implementation.
type Mode string

const (
	// ModeChrome drives a dedicated Chrome window over the DevTools protocol.
	ModeChrome Mode = "chrome"
	// ModeSystem uses the default browser and asks the operator to confirm
	// when they are done.
	ModeSystem Mode = "system"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChrome, ModeSystem:
		return Mode(s), nil
	case "":
		return ModeChrome, nil
	default:
		return "", fmt.Errorf("unknown browser mode %q (expected %q or %q)", s, ModeChrome, ModeSystem)
	}
}
