package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/lockout"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// UserRepository defines the user store contract the login flow depends on.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	RemoveRecoveryCode(ctx context.Context, userID, codeHash string) error
	MarkTOTPUsed(ctx context.Context, userID string, usedAt time.Time, window time.Duration) error
}

// SecondFactorVerifier verifies one challenge variant against a user,
// consuming any single-use artifact before reporting success.
type SecondFactorVerifier interface {
	Verify(ctx context.Context, user *models.User, challenge models.SecondFactorChallenge) (bool, error)
}

// LoginConfig holds the policy knobs for the sign-in flow.
type LoginConfig struct {
	RequireConfirmedEmail bool
	PendingTTL            time.Duration
}

// LoginService drives a sign-in attempt from primary credentials through an
// optional second-factor challenge to a terminal decision.
type LoginService struct {
	userRepo    UserRepository
	tracker     *lockout.Tracker
	artifacts   onetime.Store
	verifier    SecondFactorVerifier
	config      LoginConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewLoginService creates a LoginService.
func NewLoginService(
	userRepo UserRepository,
	tracker *lockout.Tracker,
	artifacts onetime.Store,
	verifier SecondFactorVerifier,
	config LoginConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *LoginService {
	return &LoginService{
		userRepo:    userRepo,
		tracker:     tracker,
		artifacts:   artifacts,
		verifier:    verifier,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// pendingPayload is the JSON body of a two-factor pending artifact.
type pendingPayload struct {
	SecurityStamp string `json:"sst"`
}

func failedResult() *models.LoginResult {
	return &models.LoginResult{Status: models.LoginFailed}
}

// resolveUser looks the identifier up as a username first, then as an
// email. Both misses collapse into ErrNotFound.
func (s *LoginService) resolveUser(ctx context.Context, identifier string) (*models.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return s.userRepo.GetByEmail(ctx, strings.ToLower(identifier))
}

// AuthenticatePrimary verifies a username-or-email plus password pair.
// Unknown identifiers and wrong passwords produce the same failure shape;
// locked accounts stay locked regardless of password correctness.
// ipAddress is the already-resolved client address, recorded on audit
// events; empty when the transport did not provide one.
func (s *LoginService) AuthenticatePrimary(ctx context.Context, identifier, password, ipAddress string) (*models.LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return failedResult(), nil
	}

	user, err := s.resolveUser(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     ipAddress,
				FailureReason: "invalid_credentials",
			})
			return failedResult(), nil
		}
		s.logger.Error("user lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if locked := s.lockedResult(ctx, user); locked != nil {
		return locked, nil
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		return s.recordFailure(ctx, user, "invalid_credentials", ipAddress)
	}

	if s.config.RequireConfirmedEmail && !user.EmailConfirmed {
		s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "email_not_confirmed",
		})
		return &models.LoginResult{Status: models.LoginEmailNotConfirmed}, nil
	}

	if err := s.recordSuccess(ctx, user); err != nil {
		return nil, err
	}

	if user.TwoFactorEnabled() {
		handle, err := s.issuePendingHandle(ctx, user)
		if err != nil {
			return nil, err
		}
		s.logger.Info("primary verification passed, second factor required",
			slog.String("user_id", user.ID))
		return &models.LoginResult{Status: models.LoginTwoFactorRequired, PendingHandle: handle}, nil
	}

	s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})
	return &models.LoginResult{Status: models.LoginSuccess, User: user}, nil
}

// AuthenticateSecondFactor completes a pending two-factor login. A simple
// mismatch keeps the handle alive for retry; lockout and expiry end the
// attempt.
func (s *LoginService) AuthenticateSecondFactor(ctx context.Context, handle string, challenge models.SecondFactorChallenge, ipAddress string) (*models.LoginResult, error) {
	artifact, err := s.artifacts.Get(ctx, onetime.KindTwoFactorPending, handle)
	if err != nil {
		if errors.Is(err, onetime.ErrNotFound) || errors.Is(err, onetime.ErrExpired) || errors.Is(err, onetime.ErrConsumed) {
			return nil, models.ErrChallengeExpired
		}
		s.logger.Error("pending handle lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.userRepo.GetByID(ctx, artifact.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrChallengeExpired
		}
		s.logger.Error("user lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// A credential change since the handle was issued voids it.
	var payload pendingPayload
	if err := json.Unmarshal(artifact.Payload, &payload); err != nil || payload.SecurityStamp != user.SecurityStamp {
		_ = s.artifacts.Revoke(ctx, onetime.KindTwoFactorPending, handle)
		return nil, models.ErrChallengeExpired
	}

	if locked := s.lockedResult(ctx, user); locked != nil {
		return locked, nil
	}

	ok, err := s.verifier.Verify(ctx, user, challenge)
	if err != nil {
		s.logger.Error("second-factor verification failed",
			slog.String("user_id", user.ID),
			slog.String("factor", challenge.Kind),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !ok {
		result, rerr := s.recordFailure(ctx, user, "challenge_mismatch", ipAddress)
		if rerr != nil {
			return nil, rerr
		}
		if result.Status == models.LoginLockedOut {
			_ = s.artifacts.Revoke(ctx, onetime.KindTwoFactorPending, handle)
		}
		return result, nil
	}

	// Exactly one concurrent submission may complete the handle.
	if _, err := s.artifacts.Redeem(ctx, onetime.KindTwoFactorPending, handle); err != nil {
		return nil, models.ErrChallengeExpired
	}

	if err := s.recordSuccess(ctx, user); err != nil {
		return nil, err
	}

	s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
		EventType:  "login_success",
		UserID:     user.ID,
		FactorKind: challenge.Kind,
		IPAddress:  ipAddress,
		Success:    true,
	})
	return &models.LoginResult{Status: models.LoginSuccess, User: user}, nil
}

// ResolvePendingUser returns the user id behind a live pending handle
// without consuming it, for factor dispatch between the two login steps.
func (s *LoginService) ResolvePendingUser(ctx context.Context, handle string) (string, error) {
	artifact, err := s.artifacts.Get(ctx, onetime.KindTwoFactorPending, handle)
	if err != nil {
		if errors.Is(err, onetime.ErrNotFound) || errors.Is(err, onetime.ErrExpired) || errors.Is(err, onetime.ErrConsumed) {
			return "", models.ErrChallengeExpired
		}
		s.logger.Error("pending handle lookup failed", slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	return artifact.UserID, nil
}

// lockedResult returns a LockedOut result when either the in-memory
// tracker or the persisted lockout window is active, nil otherwise.
func (s *LoginService) lockedResult(ctx context.Context, user *models.User) *models.LoginResult {
	if retryAfter := s.tracker.RetryAfter(user.ID); retryAfter != nil {
		return &models.LoginResult{Status: models.LoginLockedOut, RetryAfter: retryAfter}
	}
	if user.IsLockedOut(time.Now()) {
		return &models.LoginResult{Status: models.LoginLockedOut, RetryAfter: user.LockoutEnd}
	}
	return nil
}

// recordFailure increments the shared failure counter and translates a
// threshold crossing into a LockedOut result, persisting the window so it
// survives restarts.
func (s *LoginService) recordFailure(ctx context.Context, user *models.User, reason, ipAddress string) (*models.LoginResult, error) {
	if !user.LockoutEnabled {
		s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: reason,
		})
		return failedResult(), nil
	}

	count, lockedUntil := s.tracker.RecordFailure(user.ID)
	user.FailedAccessCount = count
	user.LockoutEnd = lockedUntil
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Error("failed to persist lockout state",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	if lockedUntil != nil {
		s.auditLogger.LogSecurityEvent(pkglogger.AuditEvent{
			EventType:     "account_locked",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: reason,
		})
		return &models.LoginResult{Status: models.LoginLockedOut, RetryAfter: lockedUntil}, nil
	}

	s.auditLogger.LogLoginAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        user.ID,
		IPAddress:     ipAddress,
		FailureReason: reason,
	})
	return failedResult(), nil
}

func (s *LoginService) recordSuccess(ctx context.Context, user *models.User) error {
	s.tracker.RecordSuccess(user.ID)
	if user.FailedAccessCount != 0 || user.LockoutEnd != nil {
		user.FailedAccessCount = 0
		user.LockoutEnd = nil
		if err := s.userRepo.Update(ctx, user); err != nil {
			s.logger.Error("failed to reset lockout state",
				slog.String("user_id", user.ID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}
	return nil
}

func (s *LoginService) issuePendingHandle(ctx context.Context, user *models.User) (string, error) {
	payload, err := json.Marshal(pendingPayload{SecurityStamp: user.SecurityStamp})
	if err != nil {
		return "", models.ErrInternalServer
	}
	handle := uuid.New().String()
	artifact := &onetime.Artifact{
		Kind:      onetime.KindTwoFactorPending,
		Key:       handle,
		UserID:    user.ID,
		Payload:   payload,
		ExpiresAt: time.Now().Add(s.config.PendingTTL),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		s.logger.Error("failed to store pending handle", slog.Any("error", err))
		return "", models.ErrInternalServer
	}
	return handle, nil
}
