package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")

	// Login failures. ErrInvalidCredentials covers both unknown identifier
	// and wrong password so callers cannot probe for account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrEmailNotConfirmed  = errors.New("email address not confirmed")

	// Second-factor failures
	ErrChallengeExpired  = errors.New("second-factor challenge expired")
	ErrChallengeMismatch = errors.New("second-factor code did not match")

	// OAuth2 grant failures
	ErrInvalidGrant             = errors.New("invalid grant")
	ErrUnsupportedGrantType     = errors.New("unsupported grant type")
	ErrInvalidScope             = errors.New("invalid scope")
	ErrClientAuthFailed         = errors.New("client authentication failed")
	ErrAuthorizationPending     = errors.New("authorization pending")
	ErrAuthorizationDenied      = errors.New("authorization denied")
	ErrAuthorizationExpired     = errors.New("authorization expired")
	ErrSecondFactorNotSupported = errors.New("second factor not supported for this grant")
)
