package models

import "time"

// LoginStatus is the terminal (or mid-flow) state of a sign-in attempt.
type LoginStatus string

const (
	LoginSuccess           LoginStatus = "success"
	LoginTwoFactorRequired LoginStatus = "two_factor_required"
	LoginLockedOut         LoginStatus = "locked_out"
	LoginFailed            LoginStatus = "failed"
	LoginEmailNotConfirmed LoginStatus = "email_confirmation_required"
)

// LoginResult is returned by both primary and second-factor verification.
// User is set only on LoginSuccess; PendingHandle only on
// LoginTwoFactorRequired; RetryAfter only on LoginLockedOut.
type LoginResult struct {
	Status        LoginStatus
	User          *User
	PendingHandle string
	RetryAfter    *time.Time
}

// SecondFactorChallenge is a tagged union over the supported factor kinds.
// Exactly one payload field is meaningful for a given Kind.
type SecondFactorChallenge struct {
	Kind string // FactorTOTP, FactorSMS, FactorRecoveryCode, FactorMagicLink, FactorExternal

	// TOTP, SMS and recovery codes: the value the user typed.
	Code string

	// Magic link: the signed single-use token from the link.
	MagicToken string

	// External provider: claims already asserted upstream.
	Provider string
	Subject  string
}
