package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSecretSize = 32

	// TOTPReplayWindow covers the validation window (current step plus one
	// step of drift each way). A code accepted once must not be accepted
	// again until the whole window has rolled past.
	TOTPReplayWindow = 3 * totpPeriod * time.Second
)

// TOTPManager generates and validates time-based one-time codes. Shared
// secrets are AES-256-GCM encrypted before they reach storage.
type TOTPManager struct {
	encryptionKey []byte // 32 bytes
	issuer        string
}

// NewTOTPManager creates a TOTP manager. encryptionKey must be exactly
// 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateSecret creates a new shared secret for the account and returns it
// encrypted for storage plus a provisioning QR code data URL for the
// authenticator app.
// Returns: (encryptedSecret, nonce, plaintextSecret, qrDataURL, error)
func (tm *TOTPManager) GenerateSecret(accountName string) ([]byte, []byte, string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", "", err
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	return encrypted, nonce, key.Secret(), qrDataURL, nil
}

// EncryptSecret encrypts a shared secret with AES-256-GCM.
func (tm *TOTPManager) EncryptSecret(secret []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret reverses EncryptSecret.
func (tm *TOTPManager) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

// ValidateCode checks a submitted code against the shared secret at the
// given instant, accepting one time step of drift in either direction.
// lastUsedAt is the timestamp of the previous successful validation, if
// any; a code arriving within TOTPReplayWindow of it is rejected as a
// replay even when the digits match.
func (tm *TOTPManager) ValidateCode(secret []byte, code string, at time.Time, lastUsedAt *time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, string(secret), at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP code: %w", err)
	}
	if valid && lastUsedAt != nil && at.Sub(*lastUsedAt) < TOTPReplayWindow {
		return false, nil
	}
	return valid, nil
}

// GenerateCode computes the current code for a secret. Used by tests and
// by operator tooling, never exposed over the API.
func (tm *TOTPManager) GenerateCode(secret []byte, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(string(secret), at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}
