// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package auth

import (
	"log/slog"
	"time"
)

// Credentials are what a user types at the login prompt.
// They are never persisted and Secret never appears in logs.
type Credentials struct {
	Identifier string
	Secret     string
	Remember   bool
}

// LogValue implements slog.LogValuer so a Credentials value logged by
// accident cannot leak the secret.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identifier", c.Identifier),
		slog.Bool("remember", c.Remember),
	)
}

// Session is the authoritative login held by the coordinator.
type Session struct {
	User         UserRecord
	AccessToken  string
	RefreshToken string // empty when the server issued none
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// NewSession builds a Session whose expiry is issuedAt + ttl.
func NewSession(user UserRecord, access, refresh string, ttl time.Duration, issuedAt time.Time) *Session {
	return &Session{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(ttl),
	}
}

// TTL returns the lifetime the server granted.
func (s *Session) TTL() time.Duration {
	return s.ExpiresAt.Sub(s.IssuedAt)
}

// HasRefreshToken reports whether a silent refresh is possible.
func (s *Session) HasRefreshToken() bool {
	return s != nil && s.RefreshToken != ""
}

// LogValue omits both tokens.
func (s *Session) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.Int64("user_id", s.User.ID),
		slog.String("username", s.User.Username),
		slog.String("role", s.User.Role.String()),
		slog.Time("expires_at", s.ExpiresAt),
		slog.Bool("refreshable", s.RefreshToken != ""),
	)
}
