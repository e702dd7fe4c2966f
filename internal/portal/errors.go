package portal

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse marks a portal answer that parsed but lacked the fields the action needs
// (e.g. get_all_channels without js.data). Portals answer this way when the session is dead.
var ErrInvalidResponse = errors.New("invalid portal response")

// AuthError: the handshake/profile sequence did not yield a usable token.
type AuthError struct {
	Portal string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("portal %s: session establishment failed", e.Portal)
	}
	return fmt.Sprintf("portal %s: session establishment failed: %v", e.Portal, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError: an authenticated call still failed after one forced session refresh.
type UpstreamError struct {
	Portal string
	Action string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("portal %s: %s failed after session refresh: %v", e.Portal, e.Action, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NotFoundError: the requested channel id is not in the catalog.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("channel %q not found", e.ID) }

// ResolutionError: create_link returned no playable URL.
type ResolutionError struct {
	ID  string
	Cmd string
	Raw string // what the portal sent back, for the error body
}

func (e *ResolutionError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("no stream link for %s (cmd %q)", e.ID, e.Cmd)
	}
	return fmt.Sprintf("no playable stream link for %s (cmd %q, portal sent %q)", e.ID, e.Cmd, e.Raw)
}
