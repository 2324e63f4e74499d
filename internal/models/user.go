package models

import (
	"strings"
	"time"
)

// Second factor kinds a user can have enabled
const (
	FactorTOTP         = "totp"
	FactorSMS          = "sms"
	FactorRecoveryCode = "recovery_code"
	FactorMagicLink    = "magic_link"
	FactorExternal     = "external"
)

type User struct {
	ID                  string
	Username            string
	Email               string // unique, stored lowercase
	PasswordHash        string // empty for external-login-only users
	EmailConfirmed      bool
	PhoneNumber         string
	PhoneConfirmed      bool
	EnabledFactors      []string // FactorTOTP, FactorSMS, ...
	TOTPSecretEncrypted []byte     // AES-256-GCM encrypted, nil unless TOTP enabled
	TOTPSecretNonce     []byte
	TOTPLastUsedAt      *time.Time // last successful TOTP validation, for replay rejection
	RecoveryCodeHashes  []string // bcrypt hashes, each single-use
	SecurityStamp       string   // rotated on any credential change
	LockoutEnabled      bool
	FailedAccessCount   int
	LockoutEnd          *time.Time
	ExternalLogins      []ExternalLogin
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ExternalLogin links a federated identity to a user. (Provider, Subject)
// is unique per provider at the store boundary.
type ExternalLogin struct {
	Provider string
	Subject  string
}

// TwoFactorEnabled reports whether any second factor beyond recovery codes
// is enabled. Recovery codes alone never force a challenge; they exist to
// escape one.
func (u *User) TwoFactorEnabled() bool {
	for _, f := range u.EnabledFactors {
		if f != FactorRecoveryCode {
			return true
		}
	}
	return false
}

// HasFactor reports whether a specific factor kind is enabled.
func (u *User) HasFactor(kind string) bool {
	for _, f := range u.EnabledFactors {
		if f == kind {
			return true
		}
	}
	return false
}

// HasExternalLogin reports whether the given provider identity is linked.
// Provider names compare case-insensitively; subjects are exact.
func (u *User) HasExternalLogin(provider, subject string) bool {
	for _, l := range u.ExternalLogins {
		if strings.EqualFold(l.Provider, provider) && l.Subject == subject {
			return true
		}
	}
	return false
}

// IsLockedOut reports whether the account is locked at the given instant.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}
