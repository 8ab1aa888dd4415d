// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowfarm/flowfarm/internal/auth"
)

func TestLockoutPolicy_Check(t *testing.T) {
	policy := auth.DefaultLockoutPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no failures leaves every attempt", func(t *testing.T) {
		result := policy.Check(0, nil, now)
		assert.False(t, result.IsLockedOut)
		assert.Equal(t, auth.DefaultMaxLoginAttempts, result.AttemptsLeft)
	})

	t.Run("failures below threshold count down", func(t *testing.T) {
		result := policy.Check(3, nil, now)
		assert.False(t, result.IsLockedOut)
		assert.Equal(t, 2, result.AttemptsLeft)
	})

	t.Run("reaching threshold locks for the full duration", func(t *testing.T) {
		result := policy.Check(auth.DefaultMaxLoginAttempts, nil, now)
		assert.True(t, result.IsLockedOut)
		assert.Equal(t, auth.DefaultLockoutDuration, result.Remaining)
		assert.Zero(t, result.AttemptsLeft)
	})

	t.Run("existing lock reports remaining time", func(t *testing.T) {
		until := now.Add(10 * time.Minute)
		result := policy.Check(0, &until, now)
		assert.True(t, result.IsLockedOut)
		assert.Equal(t, 10*time.Minute, result.Remaining)
	})
}

func TestIsLockedOut(t *testing.T) {
	now := time.Now()

	t.Run("nil lock means not locked", func(t *testing.T) {
		assert.False(t, auth.IsLockedOut(nil, now))
		assert.False(t, auth.LockExpired(nil, now))
	})

	t.Run("past lock means expired", func(t *testing.T) {
		past := now.Add(-time.Second)
		assert.False(t, auth.IsLockedOut(&past, now))
		assert.True(t, auth.LockExpired(&past, now))
	})

	t.Run("lock ending exactly now is expired", func(t *testing.T) {
		assert.False(t, auth.IsLockedOut(&now, now))
		assert.True(t, auth.LockExpired(&now, now))
	})

	t.Run("future lock means locked", func(t *testing.T) {
		future := now.Add(time.Hour)
		assert.True(t, auth.IsLockedOut(&future, now))
		assert.False(t, auth.LockExpired(&future, now))
	})
}

func TestLockoutPolicy_ComputeLockoutTime(t *testing.T) {
	policy := auth.LockoutPolicy{MaxAttempts: 3, Duration: 30 * time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("below threshold returns nil", func(t *testing.T) {
		assert.Nil(t, policy.ComputeLockoutTime(2, now))
	})

	t.Run("at threshold returns now plus duration", func(t *testing.T) {
		until := policy.ComputeLockoutTime(3, now)
		require.NotNil(t, until)
		assert.Equal(t, now.Add(30*time.Minute), *until)
	})

	t.Run("past threshold still locks", func(t *testing.T) {
		assert.NotNil(t, policy.ComputeLockoutTime(10, now))
	})
}

func TestResetOnSuccess(t *testing.T) {
	attempts, until := auth.ResetOnSuccess()
	assert.Equal(t, 0, attempts)
	assert.Nil(t, until)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "0s", auth.FormatRemaining(0))
	assert.Equal(t, "1s", auth.FormatRemaining(200*time.Millisecond))
	assert.Equal(t, "45s", auth.FormatRemaining(45*time.Second))
	assert.Equal(t, "14m32s", auth.FormatRemaining(14*time.Minute+32*time.Second))
	assert.Equal(t, "15m00s", auth.FormatRemaining(auth.DefaultLockoutDuration))
}
