// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package auth

import (
	"fmt"
	"time"
)

// Lockout defaults.
const (
	// DefaultLockoutDuration is how long logins are refused after too many failures.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultMaxLoginAttempts is the number of consecutive failures that triggers a lockout.
	DefaultMaxLoginAttempts = 5
)

// LockoutPolicy configures the client-side login lockout.
type LockoutPolicy struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Duration    time.Duration `koanf:"duration"`
}

// DefaultLockoutPolicy returns the development lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxLoginAttempts, Duration: DefaultLockoutDuration}
}

// LockoutResult describes the lockout state for a failure count.
type LockoutResult struct {
	// IsLockedOut indicates logins must fail locally.
	IsLockedOut bool

	// Remaining is the time until the lock lifts.
	Remaining time.Duration

	// AttemptsLeft is how many failures remain before a lock. Zero when locked.
	AttemptsLeft int
}

// Check evaluates the lockout state at now.
// lockUntil is the current lock expiry (nil if not locked).
func (p LockoutPolicy) Check(attempts int, lockUntil *time.Time, now time.Time) LockoutResult {
	if IsLockedOut(lockUntil, now) {
		return LockoutResult{IsLockedOut: true, Remaining: lockUntil.Sub(now)}
	}
	if attempts >= p.MaxAttempts {
		return LockoutResult{IsLockedOut: true, Remaining: p.Duration}
	}
	return LockoutResult{AttemptsLeft: p.MaxAttempts - attempts}
}

// ComputeLockoutTime returns the lock expiry for the given failure count.
// Returns nil if attempts < MaxAttempts.
func (p LockoutPolicy) ComputeLockoutTime(attempts int, now time.Time) *time.Time {
	if attempts < p.MaxAttempts {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}

// IsLockedOut returns true if lockUntil is after now.
func IsLockedOut(lockUntil *time.Time, now time.Time) bool {
	return lockUntil != nil && lockUntil.After(now)
}

// LockExpired returns true if a lock was set and has lapsed at now.
func LockExpired(lockUntil *time.Time, now time.Time) bool {
	return lockUntil != nil && !lockUntil.After(now)
}

// ResetOnSuccess returns the values to set after a successful login.
func ResetOnSuccess() (int, *time.Time) {
	return 0, nil
}

// FormatRemaining renders a lockout countdown such as "14m32s".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	if m == 0 {
		return fmt.Sprintf("%ds", s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
