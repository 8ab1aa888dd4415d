// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package auth provides the client-side authentication primitives for FlowFarm.
//
// # Domain Types
//
// UserRecord, Role and Status mirror what the backend reports about an
// account. Roles are a closed enum; wire strings pass through ParseRole once
// and every authorization check goes through HasRole.
//
// Session is the authoritative login: user snapshot, access token, optional
// refresh token and the issue/expiry instants. Sessions are built with
// NewSession so that ExpiresAt always equals IssuedAt plus the granted TTL.
//
// # Validation
//
// Validator checks identifiers and passwords against a PasswordPolicy before
// anything reaches the network. It returns structured results (FieldErrors,
// PasswordCheck) and never returns an error value.
//
// # Lockout
//
// LockoutPolicy holds the attempt threshold and lock duration. The math
// lives here; the state machine that applies it is in internal/session.
package auth
