// Package auth holds credential hashing and random-secret helpers shared
// by the services and repositories.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
	MaxPasswordLen = 128

	securityStampBytes = 24
)

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword checks a plaintext password against a bcrypt hash.
func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidatePassword enforces the password policy. The error text stays
// generic so requirements cannot be probed.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return fmt.Errorf("invalid password")
	}
	return nil
}

// GenerateSecurityStamp returns a fresh opaque version token. It must be
// regenerated whenever the password, second-factor secrets, or recovery
// codes change.
func GenerateSecurityStamp() (string, error) {
	buf := make([]byte, securityStampBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate security stamp: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateNumericCode returns a random code of the given number of digits,
// zero-padded. Used for SMS challenges.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("digits must be positive")
	}
	code := make([]byte, digits)
	for i := range code {
		b := make([]byte, 1)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random digit: %w", err)
		}
		code[i] = '0' + b[0]%10
	}
	return string(code), nil
}

// GenerateRecoveryCodes returns count random 10-character codes drawn from
// an alphabet without ambiguous characters (0/O, 1/I/L).
func GenerateRecoveryCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	const codeLen = 10

	codes := make([]string, count)
	for i := range codes {
		code := make([]byte, codeLen)
		for j := range code {
			b := make([]byte, 1)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("failed to generate random byte: %w", err)
			}
			code[j] = charset[b[0]%byte(len(charset))]
		}
		codes[i] = string(code)
	}
	return codes, nil
}
