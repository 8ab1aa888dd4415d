// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/flowfarm/flowfarm/internal/auth"
)

// Envelope is the backend's standard response wrapper.
type Envelope[T any] struct {
	Success bool         `json:"success"`
	Data    *T           `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldIssue `json:"errors,omitempty"`
}

// FieldIssue is one entry of an envelope's errors list.
type FieldIssue struct {
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginData struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	RefreshSnake string   `json:"refresh_token,omitempty"`
	ExpiresIn    int64    `json:"expiresIn,omitempty"`
	ExpiresSnake int64    `json:"expires_in,omitempty"`
	User         userWire `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	RefreshSnake string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	ExpiresSnake int64  `json:"expires_in,omitempty"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// userWire is the backend's user JSON.
type userWire struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	CompanyID   *int64     `json:"company_id,omitempty"`
	CreatedAt   Timestamp  `json:"created_at"`
	LastLoginAt *Timestamp `json:"last_login_at,omitempty"`
}

func (u userWire) toRecord() (auth.UserRecord, error) {
	role, err := auth.ParseRole(u.Role)
	if err != nil {
		return auth.UserRecord{}, err
	}
	status, err := auth.ParseStatus(u.Status)
	if err != nil {
		return auth.UserRecord{}, err
	}
	if u.ID == 0 && u.Username == "" {
		return auth.UserRecord{}, oops.Code("API_INVALID_USER").Errorf("user record has neither id nor username")
	}

	rec := auth.UserRecord{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      role,
		Status:    status,
		CompanyID: u.CompanyID,
		CreatedAt: u.CreatedAt.Time,
	}
	if u.LastLoginAt != nil && !u.LastLoginAt.IsZero() {
		t := u.LastLoginAt.Time
		rec.LastLoginAt = &t
	}
	return rec, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp accepts RFC 3339 and the naive UTC layouts some backends emit.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return oops.Code("API_INVALID_TIMESTAMP").Wrap(err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return oops.Code("API_INVALID_TIMESTAMP").With("value", s).Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Format(time.RFC3339))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int64) int64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// rawData defers decoding of an envelope's data field.
type rawData struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *rawData) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	r.raw = append(r.raw[:0], b...)
	return nil
}

func (r *rawData) decode(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return oops.Code("API_DECODE_FAILED").Wrap(err)
	}
	return nil
}
