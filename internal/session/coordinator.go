// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package session owns the authoritative authentication state.
//
// The Coordinator is the single writer of both the in-memory State and the
// token store. Its mutex is held only while applying a transition, never
// across a network call. Every transition that waits on the network
// captures an epoch first; Logout, Invalidate and a newer Login advance the
// epoch, and a completion carrying a stale epoch is discarded.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"github.com/flowfarm/flowfarm/internal/api"
	"github.com/flowfarm/flowfarm/internal/apierr"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/tokenstore"
)

// DefaultTTL is used when the server grants a token without saying how long it lives.
const DefaultTTL = time.Hour

// Remote is the backend the coordinator talks to. *api.Client implements it.
type Remote interface {
	Login(ctx context.Context, identifier, secret string) (api.Grant, error)
	Logout(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context) (auth.UserRecord, error)
	Refresh(ctx context.Context, refreshToken string) (api.Grant, error)
	ChangePassword(ctx context.Context, oldSecret, newSecret string) error
}

// Store persists the session. *tokenstore.Store implements it.
type Store interface {
	Save(access, refresh string, ttl time.Duration, remember bool, user *auth.UserRecord) error
	UpdateAccess(access, refresh string, ttl time.Duration) error
	UpdateUser(user auth.UserRecord) error
	Read() (tokenstore.Record, bool)
	IsValid() bool
	ValidAccessToken() (string, bool)
	Clear() error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithValidator sets the input validator.
func WithValidator(v *auth.Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithLockoutPolicy sets the attempt threshold and lock duration.
func WithLockoutPolicy(p auth.LockoutPolicy) Option {
	return func(c *Coordinator) { c.lockout = p }
}

// WithDefaultTTL sets the lifetime assumed when the server omits one.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.defaultTTL = d }
}

// WithNowFunc sets the clock. Use the same clock as the token store.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator runs login, logout, refresh and status checks.
type Coordinator struct {
	remote     Remote
	store      Store
	validator  *auth.Validator
	lockout    auth.LockoutPolicy
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	state   State
	epoch   uint64
	subs    map[int]chan State
	nextSub int
}

// New creates a Coordinator and loads any valid persisted session.
func New(remote Remote, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:     remote,
		store:      store,
		validator:  auth.NewValidator(auth.DefaultPasswordPolicy()),
		lockout:    auth.DefaultLockoutPolicy(),
		defaultTTL: DefaultTTL,
		now:        time.Now,
		logger:     slog.Default(),
		subs:       make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lockout.MaxAttempts <= 0 {
		c.lockout.MaxAttempts = auth.DefaultMaxLoginAttempts
	}
	if c.lockout.Duration <= 0 {
		c.lockout.Duration = auth.DefaultLockoutDuration
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}

	if rec, ok := store.Read(); ok && store.IsValid() {
		c.state.Session = sessionFromRecord(rec, nil)
	}
	c.publishLocked()
	return c
}

// State returns the current snapshot. An elapsed lock is cleared first.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLockLocked()
	return c.state.clone()
}

// HasRole reports whether the signed-in user holds one of allowed.
func (c *Coordinator) HasRole(allowed ...auth.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Session == nil {
		return false
	}
	return auth.HasRole(&c.state.Session.User, allowed...)
}

// Subscribe returns a channel that receives the latest State after every
// transition. Slow readers only ever see the newest snapshot. The returned
// func unsubscribes and closes the channel.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 1)
	ch <- c.state.clone()
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// Login authenticates creds. A locked coordinator fails without a network
// call; invalid input fails without a transition.
func (c *Coordinator) Login(ctx context.Context, creds auth.Credentials) (*auth.Session, error) {
	c.mu.Lock()
	c.expireLockLocked()
	if auth.IsLockedOut(c.state.LockUntil, c.now()) {
		locked := c.lockedErrorLocked()
		c.state.Err = locked
		c.publishLocked()
		c.mu.Unlock()
		return nil, oops.Code("AUTH_LOCKED").
			With("operation", "login").
			With("lock_until", *locked.LockUntil).
			Wrap(locked)
	}

	identifier := auth.Sanitize(creds.Identifier)
	if fields := c.validator.ValidateCredentials(identifier, creds.Secret); !fields.OK() {
		c.mu.Unlock()
		return nil, oops.Code("AUTH_INVALID_INPUT").
			With("operation", "login").
			With("fields", fields.Fields()).
			Wrap(apierr.Invalid(fields))
	}

	c.epoch++
	epoch := c.epoch
	prevErr := c.state.Err
	c.state.IsLoading = true
	c.state.Err = nil
	c.publishLocked()
	c.mu.Unlock()

	grant, err := c.remote.Login(ctx, identifier, creds.Secret)

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.logger.DebugContext(ctx, "discarding superseded login", "operation", "login")
		return nil, oops.Code("AUTH_LOGIN_SUPERSEDED").
			With("operation", "login").
			Wrap(apierr.New(apierr.Unknown, "login superseded by a newer session change"))
	}
	c.state.IsLoading = false

	if err != nil {
		return nil, c.loginFailedLocked(ctx, err, prevErr)
	}

	ttl := grant.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Save(grant.AccessToken, grant.RefreshToken, ttl, creds.Remember, grant.User); err != nil {
		c.state.Err = apierr.Wrap(apierr.Unknown, "could not save the session", err)
		c.publishLocked()
		return nil, oops.Code("AUTH_SESSION_PERSIST_FAILED").With("operation", "login").Wrap(c.state.Err)
	}

	rec, _ := c.store.Read()
	c.state.Session = sessionFromRecord(rec, grant.User)
	c.state.LoginAttempts, c.state.LockUntil = auth.ResetOnSuccess()
	c.state.Err = nil
	c.publishLocked()

	Logins.WithLabelValues(OutcomeSuccess).Inc()
	c.logger.InfoContext(ctx, "login succeeded",
		"user_id", c.state.Session.User.ID,
		"remember", creds.Remember,
		"expires_at", c.state.Session.ExpiresAt,
	)
	return cloneSession(c.state.Session), nil
}

// loginFailedLocked records a failed login. A transient failure restores
// prevErr and leaves the attempt counter alone.
func (c *Coordinator) loginFailedLocked(ctx context.Context, err error, prevErr *apierr.Error) error {
	failure := classify(err)
	Logins.WithLabelValues(string(failure.Kind)).Inc()

	if failure.Transient() {
		c.state.Err = prevErr
	} else {
		c.state.Err = failure
		c.state.LoginAttempts++
		now := c.now()
		if until := c.lockout.ComputeLockoutTime(c.state.LoginAttempts, now); until != nil {
			c.state.LockUntil = until
			c.state.Err = c.lockedErrorLocked()
			Lockouts.Inc()
			c.logger.WarnContext(ctx, "login locked",
				"attempts", c.state.LoginAttempts,
				"lock_until", *until,
			)
		}
	}
	c.publishLocked()

	c.logger.InfoContext(ctx, "login failed",
		"kind", failure.Kind,
		"status", failure.Status,
		"attempts", c.state.LoginAttempts,
	)
	return oops.Code("AUTH_LOGIN_FAILED").
		With("operation", "login").
		With("kind", string(failure.Kind)).
		With("attempts", c.state.LoginAttempts).
		Wrap(failure)
}

// Logout clears the session locally and then revokes it remotely on a
// best-effort basis. Only a local storage failure is returned.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	var token string
	if c.state.Session != nil {
		token = c.state.Session.AccessToken
	} else if rec, ok := c.store.Read(); ok {
		token = rec.AccessToken
	}
	clearErr := c.clearLocked(ctx, nil)
	c.mu.Unlock()

	if token != "" {
		if err := c.remote.Logout(ctx, token); err != nil {
			c.logger.WarnContext(ctx, "best-effort logout failed",
				"operation", "logout",
				"error", err.Error(),
			)
		}
	}
	c.logger.InfoContext(ctx, "logged out")

	if clearErr != nil {
		return oops.Code("SESSION_CLEAR_FAILED").With("operation", "logout").Wrap(clearErr)
	}
	return nil
}

// Invalidate tears the session down after the server rejected
// rejectedToken. It does nothing once the store holds a different token,
// so a late 401 cannot clear a newer session.
func (c *Coordinator) Invalidate(ctx context.Context, rejectedToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.store.Read(); !ok || rec.AccessToken != rejectedToken {
		c.logger.DebugContext(ctx, "ignoring invalidation of a replaced token", "operation", "invalidate")
		return
	}
	if c.state.Session != nil {
		Invalidations.Inc()
	}
	if err := c.clearLocked(ctx, apierr.New(apierr.Unauthorized, "session expired; sign in again")); err != nil {
		c.logger.WarnContext(ctx, "clearing token store failed",
			"operation", "invalidate",
			"error", err.Error(),
		)
	}
}

// Refresh mints a new access token from the stored refresh token.
// Concurrent callers share one flight. Transient failures keep the session;
// any other failure clears it and requires re-authentication.
func (c *Coordinator) Refresh(ctx context.Context) (*auth.Session, error) {
	v, err, _ := c.flight.Do("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return cloneSession(v.(*auth.Session)), nil
}

// RefreshStale refreshes unless the store already holds a valid token
// other than staleToken, in which case another caller won the race. The
// same check is repeated when the refresh fails, so a refresh superseded
// by a newer login reports success and the caller resends with its token.
func (c *Coordinator) RefreshStale(ctx context.Context, staleToken string) error {
	if c.replaced(staleToken) {
		return nil
	}
	_, err := c.Refresh(ctx)
	if err != nil && c.replaced(staleToken) {
		c.logger.DebugContext(ctx, "refresh superseded by a newer session", "operation", "refresh_stale")
		return nil
	}
	return err
}

func (c *Coordinator) replaced(staleToken string) bool {
	current, ok := c.store.ValidAccessToken()
	return ok && current != staleToken
}

func (c *Coordinator) refresh(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	rec, ok := c.store.Read()
	if !ok || rec.RefreshToken == "" {
		failure := apierr.New(apierr.Unauthorized, "no refresh token; sign in again")
		if c.state.Session != nil {
			Invalidations.Inc()
		}
		if err := c.clearLocked(ctx, failure); err != nil {
			c.logger.WarnContext(ctx, "clearing token store failed", "operation", "refresh", "error", err.Error())
		}
		c.mu.Unlock()
		Refreshes.WithLabelValues(string(failure.Kind)).Inc()
		return nil, oops.Code("SESSION_REFRESH_FAILED").With("operation", "refresh").Wrap(failure)
	}
	epoch := c.epoch
	c.mu.Unlock()

	grant, err := c.remote.Refresh(ctx, rec.RefreshToken)

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return nil, oops.Code("SESSION_REFRESH_SUPERSEDED").
			With("operation", "refresh").
			Wrap(apierr.New(apierr.Unauthorized, "session changed during refresh"))
	}

	if err != nil {
		failure := classify(err)
		Refreshes.WithLabelValues(string(failure.Kind)).Inc()
		if failure.Transient() {
			c.logger.WarnContext(ctx, "token refresh failed; keeping session",
				"operation", "refresh",
				"kind", failure.Kind,
			)
			return nil, oops.Code("SESSION_REFRESH_FAILED").
				With("operation", "refresh").
				With("kind", string(failure.Kind)).
				Wrap(failure)
		}

		reauth := *failure
		reauth.RequiresReauth = true
		if cerr := c.clearLocked(ctx, &reauth); cerr != nil {
			c.logger.WarnContext(ctx, "clearing token store failed", "operation", "refresh", "error", cerr.Error())
		}
		Invalidations.Inc()
		c.logger.InfoContext(ctx, "token refresh rejected; session cleared",
			"kind", failure.Kind,
			"status", failure.Status,
		)
		return nil, oops.Code("SESSION_REFRESH_FAILED").
			With("operation", "refresh").
			With("kind", string(failure.Kind)).
			Wrap(&reauth)
	}

	ttl := grant.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.UpdateAccess(grant.AccessToken, grant.RefreshToken, ttl); err != nil {
		failure := apierr.Wrap(apierr.Unknown, "could not save the refreshed session", err)
		Refreshes.WithLabelValues(string(failure.Kind)).Inc()
		return nil, oops.Code("SESSION_PERSIST_FAILED").With("operation", "refresh").Wrap(failure)
	}

	rec, _ = c.store.Read()
	var known *auth.UserRecord
	if c.state.Session != nil {
		known = &c.state.Session.User
	}
	c.state.Session = sessionFromRecord(rec, known)
	c.state.Err = nil
	c.publishLocked()

	Refreshes.WithLabelValues(OutcomeSuccess).Inc()
	c.logger.DebugContext(ctx, "token refreshed", "expires_at", c.state.Session.ExpiresAt)
	return cloneSession(c.state.Session), nil
}

// CheckStatus confirms the session with the server. A missing or expired
// session without a refresh token is cleared. An expired session with a
// refresh token is refreshed once. The user record is then re-fetched so a
// server-revoked token is caught here. Rejections yield an anonymous State
// and a nil error; transient failures keep the session and return the error.
func (c *Coordinator) CheckStatus(ctx context.Context) (State, error) {
	rec, ok := c.store.Read()
	if !ok || rec.AccessToken == "" {
		c.clear(ctx, nil)
		return c.State(), nil
	}

	if !c.store.IsValid() {
		if rec.RefreshToken == "" {
			c.clear(ctx, nil)
			return c.State(), nil
		}
		if _, err := c.Refresh(ctx); err != nil {
			if apierr.RequiresReauth(err) {
				return c.State(), nil
			}
			return c.State(), err
		}
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	token, _ := c.store.ValidAccessToken()

	user, err := c.remote.CurrentUser(ctx)
	if err != nil {
		if apierr.RequiresReauth(err) {
			c.Invalidate(ctx, token)
			return c.State(), nil
		}
		return c.State(), oops.Code("SESSION_STATUS_FAILED").
			With("operation", "check_status").
			With("kind", string(apierr.KindOf(err))).
			Wrap(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch {
		if err := c.store.UpdateUser(user); err != nil {
			c.logger.WarnContext(ctx, "saving user profile failed", "operation", "check_status", "error", err.Error())
		}
		if c.state.Session == nil {
			rec, _ := c.store.Read()
			c.state.Session = sessionFromRecord(rec, &user)
		} else {
			c.state.Session.User = user
		}
		c.state.Err = nil
		c.publishLocked()
	}
	c.expireLockLocked()
	return c.state.clone(), nil
}

// CurrentUser returns the server-confirmed user.
func (c *Coordinator) CurrentUser(ctx context.Context) (*auth.UserRecord, error) {
	state, err := c.CheckStatus(ctx)
	if err != nil {
		return nil, err
	}
	if state.Session == nil {
		return nil, oops.Code("SESSION_NOT_AUTHENTICATED").
			With("operation", "current_user").
			Wrap(apierr.New(apierr.Unauthorized, "not signed in"))
	}
	return state.User(), nil
}

// ChangePassword validates the new password locally and submits the change.
// A server failure does not alter the session.
func (c *Coordinator) ChangePassword(ctx context.Context, oldSecret, newSecret string) error {
	if fields := c.validator.ValidatePasswordChange(oldSecret, newSecret); !fields.OK() {
		return oops.Code("AUTH_INVALID_INPUT").
			With("operation", "change_password").
			With("fields", fields.Fields()).
			Wrap(apierr.Invalid(fields))
	}

	c.mu.Lock()
	signedIn := c.state.Session != nil
	c.mu.Unlock()
	if !signedIn {
		return oops.Code("SESSION_NOT_AUTHENTICATED").
			With("operation", "change_password").
			Wrap(apierr.New(apierr.Unauthorized, "not signed in"))
	}

	if err := c.remote.ChangePassword(ctx, oldSecret, newSecret); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "change_password").
			With("kind", string(apierr.KindOf(err))).
			Wrap(err)
	}
	c.logger.InfoContext(ctx, "password changed")
	return nil
}

// Validator returns the validator used for local checks.
func (c *Coordinator) Validator() *auth.Validator { return c.validator }

func (c *Coordinator) clear(ctx context.Context, cause *apierr.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.clearLocked(ctx, cause); err != nil {
		c.logger.WarnContext(ctx, "clearing token store failed", "operation", "clear", "error", err.Error())
	}
}

// clearLocked drops the session, advances the epoch and wipes the store.
// The lockout counters survive.
func (c *Coordinator) clearLocked(_ context.Context, cause *apierr.Error) error {
	c.epoch++
	err := c.store.Clear()
	c.state.Session = nil
	c.state.IsLoading = false
	c.state.Err = cause
	c.publishLocked()
	return err
}

// expireLockLocked lifts an elapsed lock. It is a transition so that only
// the first observer pays for it.
func (c *Coordinator) expireLockLocked() {
	if !auth.LockExpired(c.state.LockUntil, c.now()) {
		return
	}
	c.state.LoginAttempts, c.state.LockUntil = auth.ResetOnSuccess()
	if c.state.Err != nil && c.state.Err.Kind == apierr.Locked {
		c.state.Err = nil
	}
	c.publishLocked()
}

func (c *Coordinator) lockedErrorLocked() *apierr.Error {
	until := *c.state.LockUntil
	msg := fmt.Sprintf("too many failed login attempts; try again in %s",
		auth.FormatRemaining(until.Sub(c.now())))
	return apierr.NewLocked(until, msg)
}

func (c *Coordinator) publishLocked() {
	c.state.Phase = c.state.phase(c.now())
	if c.state.Session != nil {
		Authenticated.Set(1)
	} else {
		Authenticated.Set(0)
	}

	snap := c.state.clone()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func sessionFromRecord(rec tokenstore.Record, known *auth.UserRecord) *auth.Session {
	s := &auth.Session{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		IssuedAt:     rec.IssuedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
	switch {
	case rec.User != nil:
		s.User = *rec.User
	case known != nil:
		s.User = *known
	}
	return s
}

func cloneSession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// classify guarantees a classified failure for state and metrics.
func classify(err error) *apierr.Error {
	if e, ok := apierr.As(err); ok {
		return e
	}
	return apierr.Classify(apierr.Failure{Err: err})
}
