package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// MFAConfig holds enrollment policy.
type MFAConfig struct {
	RecoveryCodeBatchSize int
}

// MFAService manages a user's enrolled second factors: TOTP setup,
// recovery-code batches, phone confirmation and external-login links.
// Every mutation rotates the security stamp, invalidating session
// artifacts issued under the old credentials.
type MFAService struct {
	userRepo    UserRepository
	totpMgr     *auth.TOTPManager
	factors     *SecondFactorService
	config      MFAConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMFAService creates an MFAService.
func NewMFAService(
	userRepo UserRepository,
	totpMgr *auth.TOTPManager,
	factors *SecondFactorService,
	config MFAConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		userRepo:    userRepo,
		totpMgr:     totpMgr,
		factors:     factors,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// TOTPSetup is returned from BeginTOTPEnrollment for the authenticator
// hand-off. The plaintext secret is never stored.
type TOTPSetup struct {
	Secret    string
	QRDataURL string
}

// BeginTOTPEnrollment provisions a shared secret for the user. The factor
// stays disabled until the first code is verified via CompleteTOTPEnrollment.
func (s *MFAService) BeginTOTPEnrollment(ctx context.Context, userID string) (*TOTPSetup, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	encrypted, nonce, secret, qr, err := s.totpMgr.GenerateSecret(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user.TOTPSecretEncrypted = encrypted
	user.TOTPSecretNonce = nonce
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, models.ErrInternalServer
	}

	return &TOTPSetup{Secret: secret, QRDataURL: qr}, nil
}

// CompleteTOTPEnrollment enables the TOTP factor after the user proves
// possession of the secret, and issues the first recovery-code batch.
func (s *MFAService) CompleteTOTPEnrollment(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.TOTPSecretEncrypted) == 0 {
		return nil, models.ErrBadRequest
	}

	secret, err := s.totpMgr.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	now := time.Now()
	valid, err := s.totpMgr.ValidateCode(secret, strings.TrimSpace(code), now, user.TOTPLastUsedAt)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	if !valid {
		return nil, models.ErrChallengeMismatch
	}

	if !user.HasFactor(models.FactorTOTP) {
		user.EnabledFactors = append(user.EnabledFactors, models.FactorTOTP)
	}
	// The enrollment code counts as used; it cannot double as the first
	// login challenge.
	user.TOTPLastUsedAt = &now

	codes, err := s.rewriteRecoveryCodes(user)
	if err != nil {
		return nil, err
	}
	if err := s.rotateStampAndSave(ctx, user); err != nil {
		return nil, err
	}

	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: "totp_enabled",
		UserID:    user.ID,
		Success:   true,
	})
	return codes, nil
}

// DisableFactor removes an enabled factor. Disabling TOTP also discards
// the stored secret.
func (s *MFAService) DisableFactor(ctx context.Context, userID, kind string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasFactor(kind) {
		return models.ErrNotFound
	}

	factors := user.EnabledFactors[:0]
	for _, f := range user.EnabledFactors {
		if f != kind {
			factors = append(factors, f)
		}
	}
	user.EnabledFactors = factors

	if kind == models.FactorTOTP {
		user.TOTPSecretEncrypted = nil
		user.TOTPSecretNonce = nil
		user.TOTPLastUsedAt = nil
	}

	if err := s.rotateStampAndSave(ctx, user); err != nil {
		return err
	}
	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType:  "factor_disabled",
		UserID:     user.ID,
		FactorKind: kind,
		Success:    true,
	})
	return nil
}

// RegenerateRecoveryCodes replaces the whole batch; every previously
// issued code stops working.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	codes, err := s.rewriteRecoveryCodes(user)
	if err != nil {
		return nil, err
	}
	if !user.HasFactor(models.FactorRecoveryCode) {
		user.EnabledFactors = append(user.EnabledFactors, models.FactorRecoveryCode)
	}
	if err := s.rotateStampAndSave(ctx, user); err != nil {
		return nil, err
	}

	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: "recovery_codes_regenerated",
		UserID:    user.ID,
		Success:   true,
	})
	return codes, nil
}

// ConfirmPhone records a confirmed phone number and enables the SMS factor.
// The caller is expected to have verified control of the number through a
// code issued by SendSMSCode against the unconfirmed number.
func (s *MFAService) ConfirmPhone(ctx context.Context, userID, phoneNumber string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	user.PhoneNumber = phoneNumber
	user.PhoneConfirmed = true
	if !user.HasFactor(models.FactorSMS) {
		user.EnabledFactors = append(user.EnabledFactors, models.FactorSMS)
	}
	return s.rotateStampAndSave(ctx, user)
}

// LinkExternalLogin attaches a federated identity so it can serve as a
// second factor. Duplicate links for the same provider are rejected.
func (s *MFAService) LinkExternalLogin(ctx context.Context, userID, provider, subject string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	for _, l := range user.ExternalLogins {
		if strings.EqualFold(l.Provider, provider) {
			return models.ErrConflict
		}
	}
	user.ExternalLogins = append(user.ExternalLogins, models.ExternalLogin{
		Provider: provider,
		Subject:  subject,
	})
	if !user.HasFactor(models.FactorExternal) {
		user.EnabledFactors = append(user.EnabledFactors, models.FactorExternal)
	}
	return s.rotateStampAndSave(ctx, user)
}

// UnlinkExternalLogin removes a linked identity. The external factor is
// disabled when the last link goes away.
func (s *MFAService) UnlinkExternalLogin(ctx context.Context, userID, provider string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	logins := user.ExternalLogins[:0]
	found := false
	for _, l := range user.ExternalLogins {
		if strings.EqualFold(l.Provider, provider) {
			found = true
			continue
		}
		logins = append(logins, l)
	}
	if !found {
		return models.ErrNotFound
	}
	user.ExternalLogins = logins

	if len(user.ExternalLogins) == 0 && user.HasFactor(models.FactorExternal) {
		factors := user.EnabledFactors[:0]
		for _, f := range user.EnabledFactors {
			if f != models.FactorExternal {
				factors = append(factors, f)
			}
		}
		user.EnabledFactors = factors
	}
	return s.rotateStampAndSave(ctx, user)
}

func (s *MFAService) rewriteRecoveryCodes(user *models.User) ([]string, error) {
	codes, err := pkgauth.GenerateRecoveryCodes(s.config.RecoveryCodeBatchSize)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, models.ErrInternalServer
		}
		hashes[i] = string(hash)
	}
	user.RecoveryCodeHashes = hashes
	return codes, nil
}

func (s *MFAService) rotateStampAndSave(ctx context.Context, user *models.User) error {
	stamp, err := pkgauth.GenerateSecurityStamp()
	if err != nil {
		return models.ErrInternalServer
	}
	user.SecurityStamp = stamp
	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ErrConflict
		}
		s.logger.Error("failed to save user",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}
