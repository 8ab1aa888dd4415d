// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package api is the typed client for the backend's authentication endpoints.
//
// Every error returned from this package is an *apierr.Error.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/transport"
)

// Doer sends one logical request. *transport.Gateway implements it.
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Endpoints are the auth paths relative to the gateway base URL.
type Endpoints struct {
	Login          string `koanf:"login"`
	Logout         string `koanf:"logout"`
	Me             string `koanf:"me"`
	Refresh        string `koanf:"refresh"`
	ChangePassword string `koanf:"change_password"`
}

// DefaultEndpoints returns the backend's standard auth routes.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:          "/auth/login",
		Logout:         "/auth/logout",
		Me:             "/auth/me",
		Refresh:        "/auth/refresh",
		ChangePassword: "/auth/change-password",
	}
}

// PublicPaths lists the endpoints that must never carry a bearer or be retried.
func (e Endpoints) PublicPaths() []string {
	return []string{e.Login, e.Refresh}
}

// Grant is what the server hands back on login or refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string // empty when not issued
	// TTL is zero when the server did not say.
	TTL  time.Duration
	User *auth.UserRecord // nil on refresh
}

// Client calls the auth endpoints.
type Client struct {
	doer      Doer
	endpoints Endpoints
}

// NewClient creates a Client. Empty endpoint fields take their default.
func NewClient(doer Doer, endpoints Endpoints) *Client {
	def := DefaultEndpoints()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&endpoints.Login, def.Login)
	fill(&endpoints.Logout, def.Logout)
	fill(&endpoints.Me, def.Me)
	fill(&endpoints.Refresh, def.Refresh)
	fill(&endpoints.ChangePassword, def.ChangePassword)
	return &Client{doer: doer, endpoints: endpoints}
}

// Endpoints returns the resolved endpoint paths.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Login exchanges credentials for a grant.
func (c *Client) Login(ctx context.Context, identifier, secret string) (Grant, error) {
	req := transport.NewRequest(http.MethodPost, c.endpoints.Login, loginRequest{Username: identifier, Password: secret})
	req.Public = true

	var data loginData
	if err := c.call(ctx, req, &data); err != nil {
		return Grant{}, err
	}
	if data.Token == "" {
		return Grant{}, apierr.New(apierr.Unknown, "login response carried no token")
	}
	user, err := data.User.toRecord()
	if err != nil {
		return Grant{}, apierr.Wrap(apierr.Unknown, "login response carried an invalid user", err)
	}
	return Grant{
		AccessToken:  data.Token,
		RefreshToken: firstNonEmpty(data.RefreshToken, data.RefreshSnake),
		TTL:          seconds(firstPositive(data.ExpiresIn, data.ExpiresSnake)),
		User:         &user,
	}, nil
}

// Logout revokes accessToken on the server. The token is attached
// explicitly so the call works after the local session is gone.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req := transport.NewRequest(http.MethodPost, c.endpoints.Logout, nil)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	_, err := c.doer.Do(ctx, req)
	return classified(err)
}

// CurrentUser fetches the profile behind the current bearer.
func (c *Client) CurrentUser(ctx context.Context) (auth.UserRecord, error) {
	var data userWire
	if err := c.call(ctx, transport.NewRequest(http.MethodGet, c.endpoints.Me, nil), &data); err != nil {
		return auth.UserRecord{}, err
	}
	user, err := data.toRecord()
	if err != nil {
		return auth.UserRecord{}, apierr.Wrap(apierr.Unknown, "profile response carried an invalid user", err)
	}
	return user, nil
}

// Refresh trades a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	req := transport.NewRequest(http.MethodPost, c.endpoints.Refresh, refreshRequest{RefreshToken: refreshToken})
	req.Public = true

	var data refreshData
	if err := c.call(ctx, req, &data); err != nil {
		return Grant{}, err
	}
	if data.Token == "" {
		return Grant{}, apierr.New(apierr.Unknown, "refresh response carried no token")
	}
	return Grant{
		AccessToken:  data.Token,
		RefreshToken: firstNonEmpty(data.RefreshToken, data.RefreshSnake),
		TTL:          seconds(firstPositive(data.ExpiresIn, data.ExpiresSnake)),
	}, nil
}

// ChangePassword changes the signed-in user's password.
func (c *Client) ChangePassword(ctx context.Context, oldSecret, newSecret string) error {
	req := transport.NewRequest(http.MethodPost, c.endpoints.ChangePassword,
		changePasswordRequest{OldPassword: oldSecret, NewPassword: newSecret})

	var data struct{}
	return c.call(ctx, req, &data)
}

// call sends req and unwraps the envelope into data. A missing data
// object is accepted when data is the empty struct.
func (c *Client) call(ctx context.Context, req *transport.Request, data any) error {
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return classified(err)
	}

	var env Envelope[rawData]
	if err := resp.Decode(&env); err != nil {
		return apierr.Wrap(apierr.Unknown, "unexpected response from server", err)
	}
	if !env.Success {
		return envelopeError(resp, env)
	}
	if env.Data == nil || len(env.Data.raw) == 0 {
		if _, empty := data.(*struct{}); empty {
			return nil
		}
		return apierr.New(apierr.Unknown, "response carried no data")
	}
	if err := env.Data.decode(data); err != nil {
		return apierr.Wrap(apierr.Unknown, "unexpected response from server", err)
	}
	return nil
}

func envelopeError(resp *transport.Response, env Envelope[rawData]) *apierr.Error {
	if len(env.Errors) > 0 {
		fields := make(map[string]string, len(env.Errors))
		for _, issue := range env.Errors {
			if issue.Field != "" {
				fields[issue.Field] = issue.Message
			}
		}
		if len(fields) > 0 {
			e := apierr.Invalid(fields)
			e.Status = resp.StatusCode
			e.Code = env.Errors[0].Code
			if env.Message != "" {
				e.Message = env.Message
			}
			return e
		}
	}
	e := apierr.FromStatus(resp.StatusCode, resp.Body)
	if e.Message == "" || e.Message == apierr.DefaultMessage(e.Kind) {
		if env.Message != "" {
			e.Message = env.Message
		} else if len(env.Errors) > 0 {
			e.Message = env.Errors[0].Message
		}
	}
	return e
}

// classified guarantees err is an *apierr.Error. The gateway already
// classifies, so this only catches misbehaving Doers.
func classified(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Classify(apierr.Failure{Err: err})
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
