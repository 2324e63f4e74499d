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

// RegisterConfig holds registration policy.
type RegisterConfig struct {
	ConfirmationTTL time.Duration
	PublicBaseURL   string
	ServiceName     string
}

// RegisterService creates accounts and runs the email-confirmation loop.
type RegisterService struct {
	userRepo    UserRepository
	artifacts   onetime.Store
	tokenMgr    *auth.TokenManager
	email       EmailSender
	config      RegisterConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewRegisterService creates a RegisterService.
func NewRegisterService(
	userRepo UserRepository,
	artifacts onetime.Store,
	tokenMgr *auth.TokenManager,
	email EmailSender,
	config RegisterConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *RegisterService {
	return &RegisterService{
		userRepo:    userRepo,
		artifacts:   artifacts,
		tokenMgr:    tokenMgr,
		email:       email,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Register creates a user with a hashed password and sends a confirmation
// email. Email uniqueness is enforced at the store boundary.
func (s *RegisterService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrBadRequest
	}
	if username == "" {
		username = email
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, models.ErrBadRequest
	}

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	stamp, err := pkgauth.GenerateSecurityStamp()
	if err != nil {
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user := &models.User{
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		SecurityStamp:     stamp,
		LockoutEnabled:    true,
		PasswordChangedAt: &now,
	}

	created, err := s.userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.SendConfirmationEmail(ctx, created); err != nil {
		// The account exists; confirmation can be re-requested.
		s.logger.Error("failed to send confirmation email",
			slog.String("user_id", created.ID), slog.Any("error", err))
	}

	s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
		EventType: "user_registered",
		UserID:    created.ID,
		Success:   true,
	})
	return created, nil
}

// SendConfirmationEmail mints a single-use confirmation token and mails it.
func (s *RegisterService) SendConfirmationEmail(ctx context.Context, user *models.User) error {
	token, jti, err := s.tokenMgr.GenerateEmailConfirmationToken(user.ID, user.Email, s.config.ConfirmationTTL)
	if err != nil {
		return models.ErrInternalServer
	}
	artifact := &onetime.Artifact{
		Kind:      onetime.KindEmailConfirmation,
		Key:       jti,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.config.ConfirmationTTL),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		return models.ErrInternalServer
	}

	link := fmt.Sprintf("%s/register/confirm?token=%s", s.config.PublicBaseURL, token)
	htmlBody := fmt.Sprintf(`<p>Confirm your %s account by clicking the link below:</p><p><a href="%s">Confirm email address</a></p>`,
		s.config.ServiceName, link)
	textBody := fmt.Sprintf("Confirm your %s account: %s", s.config.ServiceName, link)

	return s.email.SendEmail(ctx, user.Email, "Confirm your email address", htmlBody, textBody)
}

// ConfirmEmail validates a confirmation token and marks the address
// confirmed. Tokens are single-use; the address in the token must still
// match the account.
func (s *RegisterService) ConfirmEmail(ctx context.Context, token string) error {
	claims, err := s.tokenMgr.ValidateTokenOfType(token, auth.TokenTypeEmailConfirmation)
	if err != nil {
		return models.ErrInvalidGrant
	}
	if _, err := s.artifacts.Redeem(ctx, onetime.KindEmailConfirmation, claims.ID); err != nil {
		return models.ErrInvalidGrant
	}

	user, err := s.userRepo.GetByID(ctx, claims.Subject)
	if err != nil {
		return models.ErrInvalidGrant
	}
	if user.Email != claims.Email {
		return models.ErrInvalidGrant
	}
	if user.EmailConfirmed {
		return nil
	}

	user.EmailConfirmed = true
	if err := s.userRepo.Update(ctx, user); err != nil {
		return models.ErrInternalServer
	}

	s.logger.Info("email confirmed", slog.String("user_id", user.ID))
	return nil
}
