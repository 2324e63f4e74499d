// Package onetime defines the redeem-once artifact store shared by
// authorization codes, device codes, refresh-token records, magic-link
// tokens, SMS codes and pending two-factor handles. An artifact is valid
// for exactly one successful redemption; concurrent redemptions of the
// same key produce one winner.
package onetime

import (
	"context"
	"errors"
	"time"
)

// Kind partitions the key space so different artifact families cannot
// collide or be redeemed through the wrong path.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindDeviceCode        Kind = "device_code"
	KindDeviceUserCode    Kind = "device_user_code"
	KindRefreshToken      Kind = "refresh_token"
	KindMagicLink         Kind = "magic_link"
	KindSMSCode           Kind = "sms_code"
	KindTwoFactorPending  Kind = "two_factor_pending"
	KindEmailConfirmation Kind = "email_confirmation"
	KindPasswordReset     Kind = "password_reset"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrExpired  = errors.New("artifact expired")
	ErrConsumed = errors.New("artifact already redeemed")
)

// Artifact is one single-use record. Payload carries kind-specific data
// (JSON); FamilyID groups refresh tokens for family-wide revocation.
type Artifact struct {
	Kind       Kind
	Key        string
	UserID     string
	ClientID   string
	FamilyID   string
	Payload    []byte
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Live reports whether the artifact is still redeemable at the given instant.
func (a *Artifact) Live(now time.Time) bool {
	return a.ConsumedAt == nil && now.Before(a.ExpiresAt)
}

// Store is the persistence contract. Redeem must be atomic with its
// validity check: of two concurrent redemptions exactly one succeeds and
// the other observes ErrConsumed.
type Store interface {
	// Put inserts or replaces the artifact under (Kind, Key).
	Put(ctx context.Context, a *Artifact) error

	// Get returns the artifact if it exists and is live, ErrNotFound if
	// unknown, ErrExpired/ErrConsumed otherwise. It does not consume.
	Get(ctx context.Context, kind Kind, key string) (*Artifact, error)

	// Redeem atomically validates and consumes the artifact, returning it.
	Redeem(ctx context.Context, kind Kind, key string) (*Artifact, error)

	// Update rewrites a live artifact in place (device-flow approval).
	Update(ctx context.Context, a *Artifact) error

	// Revoke consumes the artifact without a successful redemption.
	// Unknown keys are not an error.
	Revoke(ctx context.Context, kind Kind, key string) error

	// RevokeFamily consumes every live artifact of the kind sharing the
	// family id, returning how many were revoked.
	RevokeFamily(ctx context.Context, kind Kind, familyID string) (int, error)

	// DeleteExpired removes expired and consumed rows. Expiry is enforced
	// on read; this exists for storage hygiene.
	DeleteExpired(ctx context.Context) (int, error)
}
