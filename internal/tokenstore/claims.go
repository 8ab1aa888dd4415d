// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package tokenstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// TokenInfo is what an access token says about itself. It is decoded
// without signature verification and is for display only.
type TokenInfo struct {
	Subject   string    `json:"sub,omitempty" yaml:"sub,omitempty"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	Role      string    `json:"role,omitempty" yaml:"role,omitempty"`
	CompanyID *int64    `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	IssuedAt  time.Time `json:"iat,omitzero" yaml:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitzero" yaml:"exp,omitempty"`
}

// IsTokenFormat reports whether token looks like a compact JWT.
func IsTokenFormat(token string) bool {
	return token != "" && strings.Count(token, ".") == 2
}

// Claims decodes the payload of a JWT access token without verifying it.
func Claims(token string) (TokenInfo, error) {
	if !IsTokenFormat(token) {
		return TokenInfo{}, oops.Code("TOKEN_NOT_JWT").Errorf("token is not a JWT")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenInfo{}, oops.Code("TOKEN_UNPARSEABLE").Wrap(err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return TokenInfo{}, oops.Code("TOKEN_UNPARSEABLE").Errorf("unexpected claims type %T", parsed.Claims)
	}

	info := TokenInfo{
		Username: stringClaim(claims, "username"),
		Role:     stringClaim(claims, "role"),
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		info.Subject = sub
	} else if uid, ok := claims["user_id"].(float64); ok {
		info.Subject = strconv.FormatInt(int64(uid), 10)
	}
	if cid, ok := claims["company_id"].(float64); ok {
		id := int64(cid)
		info.CompanyID = &id
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	return info, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
