// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package apierr classifies remote-call failures into a stable taxonomy.
//
// Everything that crosses the session coordinator boundary is an *Error
// produced here (possibly wrapped with oops context). Callers branch on
// Kind and RequiresReauth, never on raw status codes.
package apierr

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind is the stable failure category.
type Kind string

// Failure kinds.
const (
	Network      Kind = "network"
	Timeout      Kind = "timeout"
	Validation   Kind = "validation"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	NotFound     Kind = "not_found"
	RateLimited  Kind = "rate_limited"
	ServerError  Kind = "server_error"
	Unavailable  Kind = "unavailable"
	Locked       Kind = "locked"
	Unknown      Kind = "unknown"
)

// Server codes that force re-authentication regardless of status.
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

var defaultMessages = map[Kind]string{
	Network:      "network connection failed; check your connection",
	Timeout:      "request timed out; try again later",
	Validation:   "input failed validation",
	Unauthorized: "not authorized; sign in again",
	Forbidden:    "permission denied",
	NotFound:     "resource not found",
	RateLimited:  "too many requests; try again later",
	ServerError:  "server error; try again later",
	Unavailable:  "service temporarily unavailable; try again later",
	Locked:       "too many failed login attempts",
	Unknown:      "internal error",
}

// DefaultMessage returns the generic message for kind.
func DefaultMessage(kind Kind) string {
	if msg, ok := defaultMessages[kind]; ok {
		return msg
	}
	return defaultMessages[Unknown]
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string

	// Status is the HTTP status, zero when no response arrived.
	Status int

	// Code is the machine-readable code from the response body, if any.
	Code string

	// Fields holds per-field messages for Validation failures.
	Fields map[string]string

	// RequiresReauth is the single signal that the session is unusable.
	RequiresReauth bool

	// LockUntil is set on Locked errors.
	LockUntil *time.Time

	cause error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the transport error that caused the failure.
func (e *Error) Unwrap() error { return e.cause }

// Transient reports whether the failure says nothing about the session
// itself (the request never got an answer).
func (e *Error) Transient() bool {
	return e.Kind == Network || e.Kind == Timeout
}

// New creates an Error of kind. An empty msg uses the kind's default.
func New(kind Kind, msg string) *Error {
	if msg == "" {
		msg = DefaultMessage(kind)
	}
	return &Error{Kind: kind, Message: msg, RequiresReauth: kind == Unauthorized}
}

// Wrap creates an Error of kind that keeps cause for errors.Is/As.
func Wrap(kind Kind, msg string, cause error) *Error {
	e := New(kind, msg)
	e.cause = cause
	return e
}

// Invalid builds a local Validation error from field messages.
func Invalid(fields map[string]string) *Error {
	e := New(Validation, joinFields(fields))
	e.Fields = fields
	return e
}

// NewLocked builds the locally synthesized lockout error.
func NewLocked(until time.Time, msg string) *Error {
	e := New(Locked, msg)
	e.LockUntil = &until
	return e
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Unclassified errors are Unknown; nil is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Unknown
}

// RequiresReauth reports whether err demands a fresh login.
func RequiresReauth(err error) bool {
	e, ok := As(err)
	return ok && e.RequiresReauth
}

func joinFields(fields map[string]string) string {
	if len(fields) == 0 {
		return DefaultMessage(Validation)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fields[k])
	}
	return strings.Join(msgs, ", ")
}
