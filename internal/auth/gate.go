// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// DeniedMessage is the one-shot message queued when an anonymous session
// is turned away from a protected page.
const DeniedMessage = "You can't access that page before logon."

// Decision is the outcome of guarding a request.
type Decision struct {
	Allowed    bool
	User       *User  // set when Allowed
	RedirectTo string // set when denied
	Message    string // one-shot message to queue when denied
}

// Gate decides whether a session may reach a protected resource.
type Gate struct {
	svc        *Service
	redirectTo string
}

// NewGate creates a Gate that redirects denied requests to redirectTo.
func NewGate(svc *Service, redirectTo string) (*Gate, error) {
	if svc == nil {
		return nil, oops.Code("GATE_INVALID_DEPENDENCY").Errorf("auth service is required")
	}
	if redirectTo == "" {
		return nil, oops.Code("GATE_INVALID_DEPENDENCY").Errorf("redirect target is required")
	}
	return &Gate{svc: svc, redirectTo: redirectTo}, nil
}

// Guard allows the request when the session resolves to a live user, and
// denies it otherwise. The caller is responsible for queueing the Deny
// message on the session and issuing the redirect. A store failure is
// returned as an error, never as a silent Deny.
func (g *Gate) Guard(ctx context.Context, session *Session) (Decision, error) {
	user, err := g.svc.CurrentUser(ctx, session)
	if err != nil {
		// CurrentUser errors are already coded; adding another code here
		// would be shadowed by the deeper one.
		return Decision{}, oops.With("operation", "guard restricted access").Wrap(err)
	}

	if user == nil {
		return Decision{
			Allowed:    false,
			RedirectTo: g.redirectTo,
			Message:    DeniedMessage,
		}, nil
	}

	return Decision{Allowed: true, User: user}, nil
}
