package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// SMSSender delivers a text message. Delivery infrastructure is an
// external collaborator; the core only hands off.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) error
}

// EmailSender delivers an email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// FactorConfig holds second-factor policy knobs.
type FactorConfig struct {
	SMSCodeTTL    time.Duration
	SMSCodeDigits int
	MagicLinkTTL  time.Duration
	PublicBaseURL string
	ServiceName   string
}

// SecondFactorService generates and verifies every challenge variant. It
// implements SecondFactorVerifier for the login state machine and the
// issuance side (SMS dispatch, magic links) for the handlers.
type SecondFactorService struct {
	userRepo    UserRepository
	artifacts   onetime.Store
	totpMgr     *auth.TOTPManager
	tokenMgr    *auth.TokenManager
	sms         SMSSender
	email       EmailSender
	config      FactorConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewSecondFactorService creates a SecondFactorService.
func NewSecondFactorService(
	userRepo UserRepository,
	artifacts onetime.Store,
	totpMgr *auth.TOTPManager,
	tokenMgr *auth.TokenManager,
	sms SMSSender,
	email EmailSender,
	config FactorConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *SecondFactorService {
	return &SecondFactorService{
		userRepo:    userRepo,
		artifacts:   artifacts,
		totpMgr:     totpMgr,
		tokenMgr:    tokenMgr,
		sms:         sms,
		email:       email,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Verify dispatches one challenge to its generator. A false return is a
// mismatch; errors are infrastructure faults only. Single-use artifacts
// (SMS codes, recovery codes, magic links) are consumed before success is
// reported.
func (s *SecondFactorService) Verify(ctx context.Context, user *models.User, challenge models.SecondFactorChallenge) (bool, error) {
	switch challenge.Kind {
	case models.FactorTOTP:
		return s.verifyTOTP(ctx, user, challenge.Code)
	case models.FactorSMS:
		return s.verifySMSCode(ctx, user, challenge.Code)
	case models.FactorRecoveryCode:
		return s.verifyRecoveryCode(ctx, user, challenge.Code)
	case models.FactorMagicLink:
		return s.verifyMagicLink(ctx, user, challenge.MagicToken)
	case models.FactorExternal:
		return s.verifyExternal(user, challenge.Provider, challenge.Subject), nil
	default:
		return false, fmt.Errorf("unknown second factor kind %q", challenge.Kind)
	}
}

func (s *SecondFactorService) verifyTOTP(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.HasFactor(models.FactorTOTP) || len(user.TOTPSecretEncrypted) == 0 {
		return false, nil
	}
	secret, err := s.totpMgr.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		return false, err
	}
	now := time.Now()
	valid, err := s.totpMgr.ValidateCode(secret, strings.TrimSpace(code), now, user.TOTPLastUsedAt)
	if err != nil || !valid {
		return valid, err
	}
	// Claim the window before reporting success; a concurrent submission
	// of the same code loses here.
	if err := s.userRepo.MarkTOTPUsed(ctx, user.ID, now, auth.TOTPReplayWindow); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	user.TOTPLastUsedAt = &now
	return true, nil
}

// smsPayload is the JSON body of an outstanding SMS code artifact.
type smsPayload struct {
	CodeHash string `json:"code_hash"`
}

func (s *SecondFactorService) verifySMSCode(ctx context.Context, user *models.User, code string) (bool, error) {
	artifact, err := s.artifacts.Get(ctx, onetime.KindSMSCode, user.ID)
	if err != nil {
		if errors.Is(err, onetime.ErrNotFound) || errors.Is(err, onetime.ErrExpired) || errors.Is(err, onetime.ErrConsumed) {
			return false, nil
		}
		return false, err
	}

	var payload smsPayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
		return false, err
	}
	if bcrypt.CompareHashAndPassword([]byte(payload.CodeHash), []byte(strings.TrimSpace(code))) != nil {
		return false, nil
	}

	// Consume before reporting success; a concurrent duplicate loses.
	if _, err := s.artifacts.Redeem(ctx, onetime.KindSMSCode, user.ID); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *SecondFactorService) verifyRecoveryCode(ctx context.Context, user *models.User, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, hash := range user.RecoveryCodeHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
			continue
		}
		// The store removes the matched hash conditionally, so of two
		// concurrent redemptions of the same code exactly one succeeds.
		if err := s.userRepo.RemoveRecoveryCode(ctx, user.ID, hash); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
			EventType: "recovery_code_redeemed",
			UserID:    user.ID,
			Success:   true,
		})
		return true, nil
	}
	return false, nil
}

func (s *SecondFactorService) verifyMagicLink(ctx context.Context, user *models.User, token string) (bool, error) {
	claims, err := s.tokenMgr.ValidateTokenOfType(token, auth.TokenTypeMagicLink)
	if err != nil {
		return false, nil
	}
	if claims.Subject != user.ID || claims.SecurityStamp != user.SecurityStamp {
		return false, nil
	}
	// Signature checks out; the jti record enforces single use.
	if _, err := s.artifacts.Redeem(ctx, onetime.KindMagicLink, claims.ID); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *SecondFactorService) verifyExternal(user *models.User, provider, subject string) bool {
	if provider == "" || subject == "" {
		return false
	}
	// Trust is delegated to the upstream flow; the only local check is
	// that this identity was linked beforehand.
	return user.HasFactor(models.FactorExternal) && user.HasExternalLogin(provider, subject)
}

// SendSMSCode generates and dispatches a fresh SMS code for the pending
// user. Issuing a new code invalidates any outstanding one. Accounts
// without a confirmed phone report success without sending, so the
// endpoint cannot be used to probe enrollment.
func (s *SecondFactorService) SendSMSCode(ctx context.Context, userID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return models.ErrInternalServer
	}
	if user.PhoneNumber == "" || !user.PhoneConfirmed {
		return nil
	}

	code, err := pkgauth.GenerateNumericCode(s.config.SMSCodeDigits)
	if err != nil {
		return models.ErrInternalServer
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return models.ErrInternalServer
	}
	payload, err := json.Marshal(smsPayload{CodeHash: string(hash)})
	if err != nil {
		return models.ErrInternalServer
	}

	// Keyed by user id: Put replaces the previous outstanding code.
	artifact := &onetime.Artifact{
		Kind:      onetime.KindSMSCode,
		Key:       user.ID,
		UserID:    user.ID,
		Payload:   payload,
		ExpiresAt: time.Now().Add(s.config.SMSCodeTTL),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		return models.ErrInternalServer
	}

	message := fmt.Sprintf("%s sign-in code: %s", s.config.ServiceName, code)
	if err := s.sms.SendSMS(ctx, user.PhoneNumber, message); err != nil {
		s.logger.Error("failed to send SMS code",
			slog.String("user_id", user.ID),
			slog.String("phone", pkglogger.SanitizedPhone(user.PhoneNumber)),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("SMS code dispatched", slog.String("user_id", user.ID))
	return nil
}

// SendMagicLink emails a single-use sign-in link. Unknown or unconfirmed
// addresses report success without sending, for the same anti-enumeration
// reason as SendSMSCode.
func (s *SecondFactorService) SendMagicLink(ctx context.Context, email string) error {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return models.ErrInternalServer
	}
	if !user.EmailConfirmed {
		return nil
	}

	token, jti, err := s.tokenMgr.GenerateMagicLinkToken(user.ID, user.SecurityStamp, s.config.MagicLinkTTL)
	if err != nil {
		return models.ErrInternalServer
	}
	artifact := &onetime.Artifact{
		Kind:      onetime.KindMagicLink,
		Key:       jti,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.config.MagicLinkTTL),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		return models.ErrInternalServer
	}

	link := fmt.Sprintf("%s/login/magic?token=%s", s.config.PublicBaseURL, token)
	htmlBody := fmt.Sprintf(`<p>Click the link below to sign in to %s:</p><p><a href="%s">Sign in</a></p><p>The link can be used once and expires shortly.</p>`,
		s.config.ServiceName, link)
	textBody := fmt.Sprintf("Sign in to %s: %s\nThe link can be used once and expires shortly.", s.config.ServiceName, link)

	if err := s.email.SendEmail(ctx, user.Email, "Your sign-in link", htmlBody, textBody); err != nil {
		s.logger.Error("failed to send magic link",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("magic link dispatched", slog.String("user_id", user.ID))
	return nil
}
