package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// PasswordResetConfig holds reset-flow policy.
type PasswordResetConfig struct {
	ResetTTL      time.Duration
	PublicBaseURL string
	ServiceName   string
}

// PasswordResetService runs the forgot/reset-password loop. Reset tokens
// are single-use and bound to the account's security stamp, so a reset
// link dies as soon as any other credential change lands.
type PasswordResetService struct {
	userRepo    UserRepository
	artifacts   onetime.Store
	tokenMgr    *auth.TokenManager
	email       EmailSender
	config      PasswordResetConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewPasswordResetService creates a PasswordResetService.
func NewPasswordResetService(
	userRepo UserRepository,
	artifacts onetime.Store,
	tokenMgr *auth.TokenManager,
	email EmailSender,
	config PasswordResetConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		userRepo:    userRepo,
		artifacts:   artifacts,
		tokenMgr:    tokenMgr,
		email:       email,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RequestReset mails a single-use reset link. Unknown or unconfirmed
// addresses report success without sending, so the endpoint cannot be
// used to probe which emails have accounts.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
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

	token, jti, err := s.tokenMgr.GeneratePasswordResetToken(user.ID, user.SecurityStamp, s.config.ResetTTL)
	if err != nil {
		return models.ErrInternalServer
	}
	artifact := &onetime.Artifact{
		Kind:      onetime.KindPasswordReset,
		Key:       jti,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.config.ResetTTL),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		return models.ErrInternalServer
	}

	link := fmt.Sprintf("%s/password/reset?token=%s", s.config.PublicBaseURL, token)
	htmlBody := fmt.Sprintf(`<p>Reset your %s password by clicking the link below:</p><p><a href="%s">Reset password</a></p><p>The link can be used once and expires shortly. If you did not request this, ignore this email.</p>`,
		s.config.ServiceName, link)
	textBody := fmt.Sprintf("Reset your %s password: %s\nThe link can be used once and expires shortly. If you did not request this, ignore this email.",
		s.config.ServiceName, link)

	if err := s.email.SendEmail(ctx, user.Email, "Reset your password", htmlBody, textBody); err != nil {
		s.logger.Error("failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password reset link dispatched", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword validates a reset token and installs the new password.
// Rotating the security stamp voids every other outstanding credential
// artifact; any active lockout is cleared so the user can sign in with
// the new password immediately.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokenMgr.ValidateTokenOfType(token, auth.TokenTypePasswordReset)
	if err != nil {
		return models.ErrInvalidGrant
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.ErrBadRequest
	}
	if _, err := s.artifacts.Redeem(ctx, onetime.KindPasswordReset, claims.ID); err != nil {
		return models.ErrInvalidGrant
	}

	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		return models.ErrInvalidGrant
	}
	if claims.SecurityStamp != user.SecurityStamp {
		return models.ErrInvalidGrant
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		return models.ErrInternalServer
	}
	stamp, err := pkgauth.GenerateSecurityStamp()
	if err != nil {
		return models.ErrInternalServer
	}

	now := time.Now()
	user.PasswordHash = hash
	user.SecurityStamp = stamp
	user.PasswordChangedAt = &now
	user.FailedAccessCount = 0
	user.LockoutEnd = nil
	if err := s.userRepo.Update(ctx, user); err != nil {
		return models.ErrInternalServer
	}

	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: "password_reset",
		UserID:    user.ID,
		Success:   true,
	})
	return nil
}
