// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowfarm/flowfarm/internal/apierr"
)

func TestClassify_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   apierr.Kind
		wantMsg    string
		wantReauth bool
	}{
		{"401 uses server message", 401, `{"message":"invalid username or password"}`, apierr.Unauthorized, "invalid username or password", true},
		{"401 without body", 401, ``, apierr.Unauthorized, apierr.DefaultMessage(apierr.Unauthorized), true},
		{"403", 403, `{"error":"admins only"}`, apierr.Forbidden, "admins only", false},
		{"404", 404, `"user not found"`, apierr.NotFound, "user not found", false},
		{"429", 429, ``, apierr.RateLimited, apierr.DefaultMessage(apierr.RateLimited), false},
		{"500", 500, `{"message":"db exploded"}`, apierr.ServerError, apierr.DefaultMessage(apierr.ServerError), false},
		{"501 is a server error", 501, ``, apierr.ServerError, apierr.DefaultMessage(apierr.ServerError), false},
		{"502", 502, `<html>bad gateway</html>`, apierr.Unavailable, apierr.DefaultMessage(apierr.Unavailable), false},
		{"503", 503, ``, apierr.Unavailable, apierr.DefaultMessage(apierr.Unavailable), false},
		{"504", 504, ``, apierr.Unavailable, apierr.DefaultMessage(apierr.Unavailable), false},
		{"400 plain message is unknown", 400, `{"message":"bad request"}`, apierr.Unknown, "bad request", false},
		{"409 falls back to error field", 409, `{"error":"already exists"}`, apierr.Unknown, "already exists", false},
		{"418 raw text", 418, `short and stout`, apierr.Unknown, "short and stout", false},
		{"418 html page is ignored", 418, `<!doctype html>`, apierr.Unknown, apierr.DefaultMessage(apierr.Unknown), false},
		{"token expired code on 403", 403, `{"code":"TOKEN_EXPIRED","message":"expired"}`, apierr.Forbidden, "expired", true},
		{"token invalid nested code", 400, `{"error":{"code":"TOKEN_INVALID","message":"bad token"}}`, apierr.Unknown, "bad token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := apierr.FromStatus(tt.status, []byte(tt.body))
			require.NotNil(t, e)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Equal(t, tt.wantReauth, e.RequiresReauth)
			assert.Equal(t, tt.status, e.Status)
		})
	}
}

func TestClassify_ValidationBodies(t *testing.T) {
	t.Run("single message", func(t *testing.T) {
		e := apierr.FromStatus(422, []byte(`{"message":"username taken"}`))
		assert.Equal(t, apierr.Validation, e.Kind)
		assert.Equal(t, "username taken", e.Message)
	})

	t.Run("detail list with msg and message", func(t *testing.T) {
		body := `{"detail":[
			{"loc":["body","username"],"msg":"too short"},
			{"loc":["body","password"],"message":"required"},
			{"type":"missing"}
		]}`
		e := apierr.FromStatus(422, []byte(body))
		assert.Equal(t, apierr.Validation, e.Kind)
		assert.Equal(t, "too short, required, field failed validation", e.Message)
		assert.Equal(t, map[string]string{"username": "too short", "password": "required"}, e.Fields)
	})

	t.Run("detail string", func(t *testing.T) {
		e := apierr.FromStatus(422, []byte(`{"detail":"payload malformed"}`))
		assert.Equal(t, "payload malformed", e.Message)
	})

	t.Run("field list", func(t *testing.T) {
		body := `{"errors":[{"field":"old_password","message":"incorrect"},{"field":"new_password","message":"too weak"}]}`
		e := apierr.FromStatus(422, []byte(body))
		assert.Equal(t, apierr.Validation, e.Kind)
		assert.Equal(t, "too weak, incorrect", e.Message)
		assert.Equal(t, "incorrect", e.Fields["old_password"])
	})

	t.Run("400 with field list is validation", func(t *testing.T) {
		body := `{"errors":[{"field":"username","message":"required"}]}`
		e := apierr.FromStatus(400, []byte(body))
		assert.Equal(t, apierr.Validation, e.Kind)
		assert.Equal(t, "required", e.Message)
	})

	t.Run("plain string", func(t *testing.T) {
		e := apierr.FromStatus(422, []byte(`"nope"`))
		assert.Equal(t, "nope", e.Message)
	})

	t.Run("empty body uses default", func(t *testing.T) {
		e := apierr.FromStatus(422, nil)
		assert.Equal(t, apierr.DefaultMessage(apierr.Validation), e.Message)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify_NoResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apierr.Kind
	}{
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), apierr.Timeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, apierr.Timeout},
		{"os deadline", os.ErrDeadlineExceeded, apierr.Timeout},
		{"connection refused", errors.New("connection refused"), apierr.Network},
		{"canceled", context.Canceled, apierr.Network},
		{"nothing at all", nil, apierr.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := apierr.Classify(apierr.Failure{Err: tt.err})
			assert.Equal(t, tt.want, e.Kind)
			assert.False(t, e.RequiresReauth)
			assert.Zero(t, e.Status)
			if tt.err != nil {
				assert.ErrorIs(t, e, tt.err)
			}
		})
	}
}

func TestClassify_AlreadyClassifiedPassesThrough(t *testing.T) {
	orig := apierr.New(apierr.Forbidden, "")
	assert.Same(t, orig, apierr.Classify(apierr.Failure{Err: fmt.Errorf("wrapped: %w", orig)}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, apierr.Kind(""), apierr.KindOf(nil))
	assert.Equal(t, apierr.Unknown, apierr.KindOf(errors.New("plain")))

	wrapped := oops.Code("AUTH_LOGIN_FAILED").Wrap(apierr.New(apierr.RateLimited, ""))
	assert.Equal(t, apierr.RateLimited, apierr.KindOf(wrapped))
	assert.False(t, apierr.RequiresReauth(wrapped))

	reauth := oops.Wrap(apierr.New(apierr.Unauthorized, ""))
	assert.True(t, apierr.RequiresReauth(reauth))
}

func TestHelpers(t *testing.T) {
	t.Run("invalid joins fields", func(t *testing.T) {
		e := apierr.Invalid(map[string]string{"identifier": "too short", "password": "required"})
		assert.Equal(t, apierr.Validation, e.Kind)
		assert.Equal(t, "too short, required", e.Message)
	})

	t.Run("locked carries expiry", func(t *testing.T) {
		until := time.Now().Add(time.Minute)
		e := apierr.NewLocked(until, "")
		assert.Equal(t, apierr.Locked, e.Kind)
		require.NotNil(t, e.LockUntil)
		assert.Equal(t, until, *e.LockUntil)
		assert.False(t, e.Transient())
	})

	t.Run("error string includes status", func(t *testing.T) {
		assert.Equal(t, "forbidden (403): permission denied", apierr.FromStatus(403, nil).Error())
		assert.Equal(t, "timeout: request timed out; try again later",
			apierr.New(apierr.Timeout, "").Error())
		assert.True(t, apierr.New(apierr.Timeout, "").Transient())
	})
}
