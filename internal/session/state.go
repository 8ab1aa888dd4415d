// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package session

import (
	"time"

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/auth"
)

// Phase is the coordinator's position in the login state machine.
type Phase string

// Phases.
const (
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
	PhaseLocked         Phase = "locked"
)

// State is an immutable snapshot of the authoritative auth state.
type State struct {
	Phase   Phase
	Session *auth.Session

	// IsLoading is true while a login is awaiting the server.
	IsLoading bool

	// Err is the last failure surfaced to the user, nil after a success.
	Err *apierr.Error

	LoginAttempts int
	LockUntil     *time.Time
}

// Authenticated reports whether a session is held.
func (s State) Authenticated() bool { return s.Session != nil }

// User returns the signed-in user, or nil.
func (s State) User() *auth.UserRecord {
	if s.Session == nil {
		return nil
	}
	return &s.Session.User
}

// phase derives the phase from the other fields so it can never disagree
// with them. A pending login wins, then an active lock.
func (s State) phase(now time.Time) Phase {
	switch {
	case s.IsLoading:
		return PhaseAuthenticating
	case auth.IsLockedOut(s.LockUntil, now):
		return PhaseLocked
	case s.Session != nil:
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

// clone deep-copies the pointer fields.
func (s State) clone() State {
	if s.Session != nil {
		sess := *s.Session
		s.Session = &sess
	}
	if s.LockUntil != nil {
		until := *s.LockUntil
		s.LockUntil = &until
	}
	return s
}
