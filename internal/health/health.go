// Package health answers "can this deployment talk to its portal" for /healthz and the probe command.
package health

import (
	"context"
	"fmt"
	"time"
)

// Handshaker is the first step of the portal session flow; *portal.Client implements it.
type Handshaker interface {
	Handshake(ctx context.Context, token string) (string, error)
}

// CheckPortal runs a fresh handshake. Returns nil if the portal hands out a token.
// No profile call is made, so the probe does not activate a session.
func CheckPortal(ctx context.Context, hs Handshaker) error {
	if hs == nil {
		return fmt.Errorf("no portal configured")
	}
	tok, err := hs.Handshake(ctx, "")
	if err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	if tok == "" {
		return fmt.Errorf("portal answered handshake without a token (check mac/device ids)")
	}
	return nil
}

// SessionState reports the cached token's expiry; *session.Manager implements it.
type SessionState interface {
	ExpiresAt(ctx context.Context) (time.Time, bool)
}

// Deployment is one entry of the /healthz body.
type Deployment struct {
	Name         string     `json:"name"`
	Route        string     `json:"route"`
	Session      bool       `json:"session"`
	SessionUntil *time.Time `json:"session_until,omitempty"`
}

// Report is the /healthz body.
type Report struct {
	Status      string       `json:"status"`
	Deployments []Deployment `json:"deployments"`
}

// Target pairs a deployment with its session state.
type Target struct {
	Name    string
	Route   string
	Session SessionState
}

// Snapshot builds a Report without touching the network: it only reads cached session state.
func Snapshot(ctx context.Context, targets []Target) Report {
	r := Report{Status: "ok", Deployments: make([]Deployment, 0, len(targets))}
	for _, t := range targets {
		d := Deployment{Name: t.Name, Route: t.Route}
		if t.Session != nil {
			if exp, ok := t.Session.ExpiresAt(ctx); ok {
				d.Session = true
				d.SessionUntil = &exp
			}
		}
		r.Deployments = append(r.Deployments, d)
	}
	return r
}
