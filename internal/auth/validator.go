// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package auth

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Identifier and password length limits.
const (
	IdentifierMinLength = 3
	IdentifierMaxLength = 50
	UsernameMinLength   = 3
	UsernameMaxLength   = 30
	PasswordMaxLength   = 128
)

// Field names used as FieldErrors keys.
const (
	FieldIdentifier      = "identifier"
	FieldPassword        = "password"
	FieldOldPassword     = "old_password"
	FieldNewPassword     = "new_password"
	FieldConfirmPassword = "confirm_password"
)

// PasswordPolicy lists the rules a password must satisfy. Each class
// requirement toggles independently.
type PasswordPolicy struct {
	MinLength        int  `koanf:"min_length"`
	RequireUppercase bool `koanf:"require_uppercase"`
	RequireLowercase bool `koanf:"require_lowercase"`
	RequireNumbers   bool `koanf:"require_numbers"`
	RequireSpecial   bool `koanf:"require_special"`
}

// DefaultPasswordPolicy is the development policy: six characters, no class rules.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 6}
}

// StrictPasswordPolicy is the production policy.
func StrictPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   true,
	}
}

// Strength is UX feedback on a password. It never gates anything.
type Strength string

// Password strengths.
const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// IdentifierKind classifies a login identifier for display.
type IdentifierKind string

// Identifier kinds.
const (
	IdentifierUsername IdentifierKind = "username"
	IdentifierEmail    IdentifierKind = "email"
	IdentifierPhone    IdentifierKind = "phone"
	IdentifierUnknown  IdentifierKind = "unknown"
)

// FieldErrors maps a field name to its validation message.
type FieldErrors map[string]string

// OK reports whether no field failed.
func (fe FieldErrors) OK() bool { return len(fe) == 0 }

// Fields returns the failing field names in sorted order.
func (fe FieldErrors) Fields() []string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String joins the messages in field order.
func (fe FieldErrors) String() string {
	parts := make([]string, 0, len(fe))
	for _, k := range fe.Fields() {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fe[k]))
	}
	return strings.Join(parts, "; ")
}

// PasswordCheck is the structured result of ValidatePassword.
type PasswordCheck struct {
	Valid    bool
	Issues   []string
	Strength Strength
}

// Message returns the issues joined for display.
func (pc PasswordCheck) Message() string {
	if pc.Valid {
		return "password meets requirements"
	}
	return strings.Join(pc.Issues, ", ")
}

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern    = regexp.MustCompile(`^1[3-9]\d{9}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

const specialChars = `!@#$%^&*()_+-={}";':\|,.<>?`

var commonPasswords = []string{
	"123456", "password", "123456789", "12345678",
	"abc123", "qwerty", "admin", "letmein",
	"welcome", "monkey", "1234567890", "password123",
}

// Validator checks user input against a password policy. It does no I/O
// and never panics on any input.
type Validator struct {
	policy PasswordPolicy
}

// NewValidator creates a Validator. A non-positive MinLength falls back to
// the default policy's minimum.
func NewValidator(policy PasswordPolicy) *Validator {
	if policy.MinLength <= 0 {
		policy.MinLength = DefaultPasswordPolicy().MinLength
	}
	return &Validator{policy: policy}
}

// Policy returns the active policy.
func (v *Validator) Policy() PasswordPolicy { return v.policy }

// ValidateCredentials returns one error per invalid field.
func (v *Validator) ValidateCredentials(identifier, secret string) FieldErrors {
	errs := FieldErrors{}

	id := strings.TrimSpace(identifier)
	switch n := utf8.RuneCountInString(id); {
	case n == 0:
		errs[FieldIdentifier] = "enter a username, email or phone number"
	case n < IdentifierMinLength:
		errs[FieldIdentifier] = fmt.Sprintf("identifier must be at least %d characters", IdentifierMinLength)
	case n > IdentifierMaxLength:
		errs[FieldIdentifier] = fmt.Sprintf("identifier must be at most %d characters", IdentifierMaxLength)
	}

	if check := v.ValidatePassword(secret); !check.Valid {
		errs[FieldPassword] = check.Message()
	}
	return errs
}

// ValidatePassword checks secret against every enabled policy rule.
func (v *Validator) ValidatePassword(secret string) PasswordCheck {
	n := utf8.RuneCountInString(secret)
	switch {
	case n == 0:
		return PasswordCheck{Issues: []string{"enter a password"}, Strength: StrengthWeak}
	case n < v.policy.MinLength:
		return PasswordCheck{
			Issues:   []string{fmt.Sprintf("password must be at least %d characters", v.policy.MinLength)},
			Strength: StrengthWeak,
		}
	case n > PasswordMaxLength:
		return PasswordCheck{
			Issues:   []string{fmt.Sprintf("password must be at most %d characters", PasswordMaxLength)},
			Strength: StrengthWeak,
		}
	}

	c := classesOf(secret)
	var issues []string
	if v.policy.RequireUppercase && !c.upper {
		issues = append(issues, "at least one uppercase letter")
	}
	if v.policy.RequireLowercase && !c.lower {
		issues = append(issues, "at least one lowercase letter")
	}
	if v.policy.RequireNumbers && !c.digit {
		issues = append(issues, "at least one digit")
	}
	if v.policy.RequireSpecial && !c.special {
		issues = append(issues, "at least one special character")
	}

	if len(issues) > 0 {
		return PasswordCheck{Issues: issues, Strength: StrengthWeak}
	}
	return PasswordCheck{Valid: true, Strength: scoreStrength(secret, c)}
}

// PasswordStrength rates secret. Any policy violation yields StrengthWeak.
func (v *Validator) PasswordStrength(secret string) Strength {
	return v.ValidatePassword(secret).Strength
}

// ValidatePasswordConfirmation checks that the confirmation matches.
func (v *Validator) ValidatePasswordConfirmation(password, confirm string) FieldErrors {
	errs := FieldErrors{}
	switch {
	case confirm == "":
		errs[FieldConfirmPassword] = "confirm the password"
	case password != confirm:
		errs[FieldConfirmPassword] = "passwords do not match"
	}
	return errs
}

// ValidatePasswordChange validates a change-password request.
func (v *Validator) ValidatePasswordChange(oldSecret, newSecret string) FieldErrors {
	errs := FieldErrors{}
	if oldSecret == "" {
		errs[FieldOldPassword] = "enter the current password"
	}
	if check := v.ValidatePassword(newSecret); !check.Valid {
		errs[FieldNewPassword] = check.Message()
	} else if oldSecret != "" && oldSecret == newSecret {
		errs[FieldNewPassword] = "new password must differ from the current one"
	}
	return errs
}

// PolicyTips lists the enabled rules for display next to a password prompt.
func (v *Validator) PolicyTips() []string {
	var tips []string
	if v.policy.MinLength > DefaultPasswordPolicy().MinLength {
		tips = append(tips, fmt.Sprintf("at least %d characters", v.policy.MinLength))
	}
	if v.policy.RequireUppercase {
		tips = append(tips, "an uppercase letter")
	}
	if v.policy.RequireLowercase {
		tips = append(tips, "a lowercase letter")
	}
	if v.policy.RequireNumbers {
		tips = append(tips, "a digit")
	}
	if v.policy.RequireSpecial {
		tips = append(tips, "a special character")
	}
	return tips
}

// ValidateUsername checks the account username format.
func ValidateUsername(username string) (bool, string) {
	n := utf8.RuneCountInString(username)
	switch {
	case n == 0:
		return false, "enter a username"
	case n < UsernameMinLength:
		return false, fmt.Sprintf("username must be at least %d characters", UsernameMinLength)
	case n > UsernameMaxLength:
		return false, fmt.Sprintf("username must be at most %d characters", UsernameMaxLength)
	case !usernamePattern.MatchString(username):
		return false, "username may contain only letters, digits, underscores and hyphens"
	case username[0] >= '0' && username[0] <= '9':
		return false, "username must not start with a digit"
	}
	return true, ""
}

// ClassifyIdentifier guesses what kind of identifier the user typed.
// The result is for display only.
func ClassifyIdentifier(identifier string) IdentifierKind {
	id := strings.TrimSpace(identifier)
	switch {
	case id == "":
		return IdentifierUnknown
	case emailPattern.MatchString(id):
		return IdentifierEmail
	case phonePattern.MatchString(id):
		return IdentifierPhone
	}
	if ok, _ := ValidateUsername(id); ok {
		return IdentifierUsername
	}
	return IdentifierUnknown
}

// Sanitize trims input and collapses internal whitespace runs to one space.
func Sanitize(input string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(input), " ")
}

// IsCommonPassword reports whether secret is on the well-known weak list.
func IsCommonPassword(secret string) bool {
	return slices.Contains(commonPasswords, strings.ToLower(secret))
}

type charClasses struct {
	upper, lower, digit, special bool
}

func classesOf(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= 'a' && r <= 'z':
			c.lower = true
		case unicode.IsDigit(r) && r < utf8.RuneSelf:
			c.digit = true
		case strings.ContainsRune(specialChars, r):
			c.special = true
		}
	}
	return c
}

func scoreStrength(s string, c charClasses) Strength {
	score := 0
	for _, present := range []bool{c.upper, c.lower, c.digit, c.special} {
		if present {
			score++
		}
	}
	if utf8.RuneCountInString(s) >= 12 {
		score++
	}
	if hasTripleRun(s) {
		score--
	}
	switch {
	case score >= 4:
		return StrengthStrong
	case score >= 2:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

// hasTripleRun reports three or more identical consecutive runes.
func hasTripleRun(s string) bool {
	var prev rune = -1
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 3 {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}
