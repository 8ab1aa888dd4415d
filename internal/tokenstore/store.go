// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package tokenstore persists session artifacts across two lifetime tiers.
//
// A record lives in exactly one tier, chosen by the remember flag at write
// time: the session tier for logins that should end with the OS session and
// the durable tier otherwise. Reads consult both tiers and the session tier
// wins. A legacy single-key "token" entry is imported once on first read.
package tokenstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/flowfarm/flowfarm/internal/auth"
)

// Storage keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
	KeyIssuedAt     = "token_issued_at"
	KeyRememberMe   = "remember_me"
	KeyUserProfile  = "user_profile"
	KeyLegacyToken  = "token"
)

// Timing defaults.
const (
	// DefaultSkew is subtracted from the stated expiry when judging validity.
	DefaultSkew = 5 * time.Minute

	// DefaultRefreshThreshold is the remaining lifetime below which a
	// preemptive refresh is started.
	DefaultRefreshThreshold = 15 * time.Minute
)

// Record is a persisted session. Zero times mean the key was absent.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	Remember     bool
	User         *auth.UserRecord
	Tier         string
}

// Option configures a Store.
type Option func(*Store)

// WithSkew sets the early-expiry margin.
func WithSkew(d time.Duration) Option {
	return func(s *Store) { s.skew = d }
}

// WithRefreshThreshold sets the preemptive refresh window.
func WithRefreshThreshold(d time.Duration) Option {
	return func(s *Store) { s.threshold = d }
}

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store reads and writes session records. It is safe for concurrent use;
// every operation holds the store mutex for its full tier round-trip.
type Store struct {
	session   Tier
	durable   Tier
	skew      time.Duration
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	migrated bool
}

// New creates a Store over the given tiers.
func New(session, durable Tier, opts ...Option) *Store {
	s := &Store{
		session:   session,
		durable:   durable,
		skew:      DefaultSkew,
		threshold: DefaultRefreshThreshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory creates a Store over two in-memory tiers.
func NewMemory(opts ...Option) *Store {
	return New(NewMemoryTier(TierSession), NewMemoryTier(TierDurable), opts...)
}

// Skew returns the early-expiry margin.
func (s *Store) Skew() time.Duration { return s.skew }

// Save writes a record into the tier chosen by remember and purges the
// other tier, so no stale token survives a tier switch. A non-positive ttl
// leaves the expiry absent, which readers treat as invalid.
func (s *Store) Save(access, refresh string, ttl time.Duration, remember bool, user *auth.UserRecord) error {
	if access == "" {
		return oops.Code("TOKENSTORE_EMPTY_TOKEN").Errorf("access token is empty")
	}

	now := s.now()
	rec := Record{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     now,
		Remember:     remember,
		User:         user,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.tiersFor(remember)
	if err := target.Save(data); err != nil {
		return oops.With("operation", "save_tokens").Wrap(err)
	}
	if err := other.Save(nil); err != nil {
		return oops.With("operation", "purge_other_tier").Wrap(err)
	}
	// A fresh save supersedes whatever legacy entry might still exist.
	s.migrated = true
	return nil
}

// UpdateAccess replaces the access token and expiry of the current record
// in place. The refresh token is replaced only when refresh is non-empty.
func (s *Store) UpdateAccess(access, refresh string, ttl time.Duration) error {
	if access == "" {
		return oops.Code("TOKENSTORE_EMPTY_TOKEN").Errorf("access token is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.readLocked()
	if !ok {
		return oops.Code("TOKENSTORE_NO_SESSION").Errorf("no stored session to update")
	}

	now := s.now()
	rec.AccessToken = access
	if refresh != "" {
		rec.RefreshToken = refresh
	}
	rec.IssuedAt = now
	rec.ExpiresAt = time.Time{}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	data, err := encode(rec)
	if err != nil {
		return err
	}
	target, _ := s.tiersFor(rec.Remember)
	if err := target.Save(data); err != nil {
		return oops.With("operation", "update_access_token").Wrap(err)
	}
	return nil
}

// UpdateUser replaces the stored user snapshot.
func (s *Store) UpdateUser(user auth.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.readLocked()
	if !ok {
		return oops.Code("TOKENSTORE_NO_SESSION").Errorf("no stored session to update")
	}
	rec.User = &user

	data, err := encode(rec)
	if err != nil {
		return err
	}
	target, _ := s.tiersFor(rec.Remember)
	if err := target.Save(data); err != nil {
		return oops.With("operation", "update_user_profile").Wrap(err)
	}
	return nil
}

// Read returns the current record. The session tier wins when both tiers
// hold a token.
func (s *Store) Read() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// IsValid reports whether an access token exists and has not reached its
// expiry minus the skew margin.
func (s *Store) IsValid() bool {
	rec, ok := s.Read()
	return ok && s.valid(rec)
}

// ValidAccessToken returns the current access token if it is valid.
func (s *Store) ValidAccessToken() (string, bool) {
	rec, ok := s.Read()
	if !ok || !s.valid(rec) {
		return "", false
	}
	return rec.AccessToken, true
}

// AuthorizationHeader returns "Bearer <token>" for a valid token, or "".
func (s *Store) AuthorizationHeader() string {
	if tok, ok := s.ValidAccessToken(); ok {
		return "Bearer " + tok
	}
	return ""
}

// RemainingSeconds returns the whole seconds until the stated expiry.
func (s *Store) RemainingSeconds() int {
	rec, ok := s.Read()
	if !ok {
		return 0
	}
	return s.remaining(rec)
}

// ShouldPreemptivelyRefresh is true while the remaining lifetime is positive
// but below the refresh threshold.
func (s *Store) ShouldPreemptivelyRefresh() bool {
	rec, ok := s.Read()
	if !ok {
		return false
	}
	rem := time.Duration(s.remaining(rec)) * time.Second
	return rem > 0 && rem < s.threshold
}

// Clear removes every key from both tiers, legacy keys included.
// Calling it on empty storage is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(
		wrapClear(s.session.Save(nil), s.session.Name()),
		wrapClear(s.durable.Save(nil), s.durable.Name()),
	)
}

// MigrateLegacy imports a legacy single-key token into the current format.
// It never overwrites a current-format token and reports whether an import
// happened. Failures are logged and swallowed.
func (s *Store) MigrateLegacy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrated = true
	return s.migrateLocked()
}

func (s *Store) migrateLocked() bool {
	if _, ok := s.readTiersLocked(); ok {
		return false
	}
	for _, tier := range []Tier{s.durable, s.session} {
		data, err := tier.Load()
		if err != nil {
			s.logger.Warn("best-effort legacy token migration failed",
				"operation", "migrate_legacy", "tier", tier.Name(), "error", err)
			continue
		}
		legacy := data[KeyLegacyToken]
		if legacy == "" {
			continue
		}
		delete(data, KeyLegacyToken)
		data[KeyAccessToken] = legacy
		data[KeyRememberMe] = strconv.FormatBool(tier == s.durable)
		if err := tier.Save(data); err != nil {
			s.logger.Warn("best-effort legacy token migration failed",
				"operation", "migrate_legacy", "tier", tier.Name(), "error", err)
			return false
		}
		s.logger.Info("migrated legacy token", "tier", tier.Name())
		return true
	}
	return false
}

func (s *Store) readLocked() (Record, bool) {
	if !s.migrated {
		s.migrated = true
		s.migrateLocked()
	}
	return s.readTiersLocked()
}

func (s *Store) readTiersLocked() (Record, bool) {
	for _, tier := range []Tier{s.session, s.durable} {
		data, err := tier.Load()
		if err != nil {
			s.logger.Warn("best-effort token tier read failed",
				"operation", "read_tokens", "tier", tier.Name(), "error", err)
			continue
		}
		if data[KeyAccessToken] == "" {
			continue
		}
		rec := decode(data, s.logger)
		rec.Tier = tier.Name()
		return rec, true
	}
	return Record{}, false
}

func (s *Store) tiersFor(remember bool) (target, other Tier) {
	if remember {
		return s.durable, s.session
	}
	return s.session, s.durable
}

func (s *Store) valid(rec Record) bool {
	if rec.AccessToken == "" || rec.ExpiresAt.IsZero() {
		return false
	}
	return s.now().Before(rec.ExpiresAt.Add(-s.skew))
}

func (s *Store) remaining(rec Record) int {
	if rec.ExpiresAt.IsZero() {
		return 0
	}
	d := rec.ExpiresAt.Sub(s.now())
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

func wrapClear(err error, tier string) error {
	if err == nil {
		return nil
	}
	return oops.With("operation", "clear_tokens").With("tier", tier).Wrap(err)
}

func encode(rec Record) (map[string]string, error) {
	data := map[string]string{
		KeyAccessToken: rec.AccessToken,
		KeyRememberMe:  strconv.FormatBool(rec.Remember),
	}
	if rec.RefreshToken != "" {
		data[KeyRefreshToken] = rec.RefreshToken
	}
	if !rec.ExpiresAt.IsZero() {
		data[KeyTokenExpiry] = strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	}
	if !rec.IssuedAt.IsZero() {
		data[KeyIssuedAt] = strconv.FormatInt(rec.IssuedAt.UnixMilli(), 10)
	}
	if rec.User != nil {
		raw, err := json.Marshal(rec.User)
		if err != nil {
			return nil, oops.Code("TOKENSTORE_ENCODE_FAILED").With("field", KeyUserProfile).Wrap(err)
		}
		data[KeyUserProfile] = string(raw)
	}
	return data, nil
}

func decode(data map[string]string, logger *slog.Logger) Record {
	rec := Record{
		AccessToken:  data[KeyAccessToken],
		RefreshToken: data[KeyRefreshToken],
		Remember:     data[KeyRememberMe] == "true",
		ExpiresAt:    parseMillis(data[KeyTokenExpiry]),
		IssuedAt:     parseMillis(data[KeyIssuedAt]),
	}
	if raw := data[KeyUserProfile]; raw != "" {
		var u auth.UserRecord
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			logger.Warn("discarding unreadable user profile", "operation", "decode_tokens", "error", err)
		} else {
			rec.User = &u
		}
	}
	return rec
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
