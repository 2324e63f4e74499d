package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pellmont/signet/internal/lockout"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

type loginFixture struct {
	service   *LoginService
	tracker   *lockout.Tracker
	artifacts *onetime.MemoryStore
	verifier  *MockSecondFactorVerifier
}

func newLoginFixture(t *testing.T, user *models.User, maxAttempts int) *loginFixture {
	t.Helper()

	tracker := lockout.NewTracker(lockout.Config{
		MaxFailedAttempts: maxAttempts,
		LockoutDuration:   15 * time.Minute,
	})
	artifacts := onetime.NewMemoryStore()
	verifier := &MockSecondFactorVerifier{}
	logger := slog.Default()

	service := NewLoginService(
		singleUserRepo(user),
		tracker,
		artifacts,
		verifier,
		LoginConfig{RequireConfirmedEmail: true, PendingTTL: 10 * time.Minute},
		logger,
		pkglogger.NewAuditLogger(logger),
	)

	return &loginFixture{service: service, tracker: tracker, artifacts: artifacts, verifier: verifier}
}

func TestLoginService_AuthenticatePrimary_Success(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 5)

	result, err := fx.service.AuthenticatePrimary(context.Background(), "alice", "CorrectHorse9!", "")

	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
	require.NotNil(t, result.User)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Empty(t, result.PendingHandle)
}

func TestLoginService_AuthenticatePrimary_EmailIdentifier(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 5)

	result, err := fx.service.AuthenticatePrimary(context.Background(), "Alice@Example.com", "CorrectHorse9!", "")

	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
}

func TestLoginService_AuthenticatePrimary_UnknownUserMatchesWrongPasswordShape(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 5)

	unknown, err := fx.service.AuthenticatePrimary(context.Background(), "nobody", "whatever", "")
	require.NoError(t, err)

	wrongPassword, err := fx.service.AuthenticatePrimary(context.Background(), "alice", "wrong", "")
	require.NoError(t, err)

	// An attacker must not be able to tell the two apart from the result.
	assert.Equal(t, unknown, wrongPassword)
	assert.Equal(t, models.LoginFailed, unknown.Status)
	assert.Nil(t, unknown.User)
}

func TestLoginService_AuthenticatePrimary_EmptyCredentials(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 5)

	result, err := fx.service.AuthenticatePrimary(context.Background(), "", "pw", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginFailed, result.Status)

	result, err = fx.service.AuthenticatePrimary(context.Background(), "alice", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginFailed, result.Status)
}

func TestLoginService_AuthenticatePrimary_LockoutAtThreshold(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
		require.NoError(t, err)
		assert.Equal(t, models.LoginFailed, result.Status, "attempt %d", i+1)
	}

	result, err := fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginLockedOut, result.Status)
	require.NotNil(t, result.RetryAfter)
	assert.True(t, result.RetryAfter.After(time.Now()))

	// Lockout window is persisted on the account.
	assert.NotNil(t, user.LockoutEnd)
}

func TestLoginService_AuthenticatePrimary_LockoutOverridesCorrectPassword(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
		require.NoError(t, err)
	}

	result, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginLockedOut, result.Status)
	assert.NotNil(t, result.RetryAfter)
}

func TestLoginService_AuthenticatePrimary_SuccessResetsCounter(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
		require.NoError(t, err)
	}

	result, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
	assert.Zero(t, user.FailedAccessCount)

	// The streak starts over: two more misses still do not lock.
	for i := 0; i < 2; i++ {
		result, err = fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
		require.NoError(t, err)
		assert.Equal(t, models.LoginFailed, result.Status)
	}
}

func TestLoginService_AuthenticatePrimary_LockoutDisabledNeverLocks(t *testing.T) {
	user := NewTestUser("svc", "svc@example.com", "CorrectHorse9!")
	user.LockoutEnabled = false
	fx := newLoginFixture(t, user, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := fx.service.AuthenticatePrimary(ctx, "svc", "wrong", "")
		require.NoError(t, err)
		assert.Equal(t, models.LoginFailed, result.Status, "attempt %d", i+1)
	}

	result, err := fx.service.AuthenticatePrimary(ctx, "svc", "CorrectHorse9!", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
}

func TestLoginService_AuthenticatePrimary_UnconfirmedEmail(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EmailConfirmed = false
	fx := newLoginFixture(t, user, 5)

	result, err := fx.service.AuthenticatePrimary(context.Background(), "alice", "CorrectHorse9!", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginEmailNotConfirmed, result.Status)
}

func TestLoginService_AuthenticatePrimary_TwoFactorRequired(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorTOTP}
	fx := newLoginFixture(t, user, 5)

	result, err := fx.service.AuthenticatePrimary(context.Background(), "alice", "CorrectHorse9!", "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginTwoFactorRequired, result.Status)
	require.NotEmpty(t, result.PendingHandle)
	assert.Nil(t, result.User)

	artifact, err := fx.artifacts.Get(context.Background(), onetime.KindTwoFactorPending, result.PendingHandle)
	require.NoError(t, err)
	assert.Equal(t, user.ID, artifact.UserID)
}

func TestLoginService_AuthenticateSecondFactor_Success(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorTOTP}
	fx := newLoginFixture(t, user, 5)
	ctx := context.Background()

	primary, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)

	fx.verifier.VerifyFunc = func(ctx context.Context, u *models.User, c models.SecondFactorChallenge) (bool, error) {
		return c.Code == "123456", nil
	}

	result, err := fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "123456"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
	require.NotNil(t, result.User)

	// The handle is consumed; a replay of the same submission fails.
	_, err = fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "123456"}, "")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestLoginService_AuthenticateSecondFactor_MismatchKeepsHandleAlive(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorTOTP}
	fx := newLoginFixture(t, user, 5)
	ctx := context.Background()

	primary, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)

	fx.verifier.VerifyFunc = func(ctx context.Context, u *models.User, c models.SecondFactorChallenge) (bool, error) {
		return c.Code == "123456", nil
	}

	result, err := fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "000000"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginFailed, result.Status)

	// A retry with the right code on the same handle still works.
	result, err = fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "123456"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.LoginSuccess, result.Status)
}

func TestLoginService_AuthenticateSecondFactor_FailuresShareLockoutCounter(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorTOTP}
	fx := newLoginFixture(t, user, 3)
	ctx := context.Background()

	// One failed password attempt, then primary success into pending 2FA.
	_, err := fx.service.AuthenticatePrimary(ctx, "alice", "wrong", "")
	require.NoError(t, err)

	primary, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)
	require.Equal(t, models.LoginTwoFactorRequired, primary.Status)

	fx.verifier.VerifyFunc = func(ctx context.Context, u *models.User, c models.SecondFactorChallenge) (bool, error) {
		return false, nil
	}

	// Primary success reset the streak, so three 2FA misses reach the
	// threshold of 3 and the handle is revoked with the lockout.
	var result *models.LoginResult
	for i := 0; i < 3; i++ {
		result, err = fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
			models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "000000"}, "")
		require.NoError(t, err)
	}
	assert.Equal(t, models.LoginLockedOut, result.Status)

	_, err = fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "000000"}, "")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestLoginService_AuthenticateSecondFactor_UnknownHandle(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	fx := newLoginFixture(t, user, 5)

	_, err := fx.service.AuthenticateSecondFactor(context.Background(), "no-such-handle",
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "123456"}, "")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestLoginService_AuthenticateSecondFactor_StampRotationVoidsHandle(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorTOTP}
	fx := newLoginFixture(t, user, 5)
	ctx := context.Background()

	primary, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)

	// Credential change between the two steps rotates the stamp.
	user.SecurityStamp = "rotated"

	fx.verifier.VerifyFunc = func(ctx context.Context, u *models.User, c models.SecondFactorChallenge) (bool, error) {
		return true, nil
	}

	_, err = fx.service.AuthenticateSecondFactor(ctx, primary.PendingHandle,
		models.SecondFactorChallenge{Kind: models.FactorTOTP, Code: "123456"}, "")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestLoginService_ResolvePendingUser(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	user.EnabledFactors = []string{models.FactorSMS}
	fx := newLoginFixture(t, user, 5)
	ctx := context.Background()

	primary, err := fx.service.AuthenticatePrimary(ctx, "alice", "CorrectHorse9!", "")
	require.NoError(t, err)

	userID, err := fx.service.ResolvePendingUser(ctx, primary.PendingHandle)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = fx.service.ResolvePendingUser(ctx, "bogus")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}
