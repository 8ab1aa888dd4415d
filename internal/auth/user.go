// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Role is the closed set of roles the backend assigns to accounts.
type Role string

// Known roles.
const (
	RoleSystemAdmin Role = "system_admin"
	RoleUserAdmin   Role = "user_admin"
	RoleEmployee    Role = "employee"
)

// ParseRole normalizes a wire role string. Unknown roles are rejected so that
// role checks never have to compare raw strings.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleSystemAdmin, RoleUserAdmin, RoleEmployee:
		return r, nil
	default:
		return "", oops.Code("AUTH_INVALID_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
}

// String returns the wire representation.
func (r Role) String() string { return string(r) }

// Status is the account status reported by the backend.
type Status string

// Known account statuses.
const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// ParseStatus normalizes a wire status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusInactive, StatusSuspended:
		return st, nil
	case "":
		// Older backends omit status for active accounts.
		return StatusActive, nil
	default:
		return "", oops.Code("AUTH_INVALID_STATUS").With("status", s).Errorf("unknown account status %q", s)
	}
}

// UserRecord is an immutable snapshot of the authenticated account.
// It is replaced wholesale on every re-fetch.
type UserRecord struct {
	ID          int64      `json:"id" yaml:"id"`
	Username    string     `json:"username" yaml:"username"`
	Email       string     `json:"email,omitempty" yaml:"email,omitempty"`
	Phone       string     `json:"phone,omitempty" yaml:"phone,omitempty"`
	Role        Role       `json:"role" yaml:"role"`
	Status      Status     `json:"status" yaml:"status"`
	CompanyID   *int64     `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" yaml:"last_login_at,omitempty"`
}

// HasRole reports whether user holds one of the allowed roles.
// A nil user holds no role.
func HasRole(user *UserRecord, allowed ...Role) bool {
	if user == nil {
		return false
	}
	return slices.Contains(allowed, user.Role)
}

// IsAdmin reports whether user administers the system or a company.
func IsAdmin(user *UserRecord) bool {
	return HasRole(user, RoleSystemAdmin, RoleUserAdmin)
}
