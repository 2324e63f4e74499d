package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pellmont/signet/internal/models"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

func newMFAFixture(t *testing.T, user *models.User) (*MFAService, *factorFixture) {
	t.Helper()

	fx := newFactorFixture(t, user)
	logger := slog.Default()
	service := NewMFAService(
		singleUserRepo(user), fx.totpMgr, fx.service,
		MFAConfig{RecoveryCodeBatchSize: 4},
		logger, pkglogger.NewAuditLogger(logger),
	)
	return service, fx
}

func TestMFAService_TOTPEnrollmentFlow(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, fx := newMFAFixture(t, user)
	ctx := context.Background()
	originalStamp := user.SecurityStamp

	setup, err := mfa.BeginTOTPEnrollment(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.QRDataURL, "data:image/png;base64,")

	// Secret is stored but the factor stays off until verified.
	assert.NotEmpty(t, user.TOTPSecretEncrypted)
	assert.False(t, user.HasFactor(models.FactorTOTP))

	_, err = mfa.CompleteTOTPEnrollment(ctx, user.ID, "000000")
	assert.ErrorIs(t, err, models.ErrChallengeMismatch)
	assert.False(t, user.HasFactor(models.FactorTOTP))

	code, err := fx.totpMgr.GenerateCode([]byte(setup.Secret), time.Now())
	require.NoError(t, err)

	recoveryCodes, err := mfa.CompleteTOTPEnrollment(ctx, user.ID, code)
	require.NoError(t, err)
	assert.Len(t, recoveryCodes, 4)
	assert.True(t, user.HasFactor(models.FactorTOTP))
	assert.Len(t, user.RecoveryCodeHashes, 4)
	assert.NotEqual(t, originalStamp, user.SecurityStamp)
}

func TestMFAService_CompleteTOTPWithoutBegin(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, _ := newMFAFixture(t, user)

	_, err := mfa.CompleteTOTPEnrollment(context.Background(), user.ID, "123456")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestMFAService_DisableTOTPDiscardsSecret(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, fx := newMFAFixture(t, user)
	ctx := context.Background()

	setup, err := mfa.BeginTOTPEnrollment(ctx, user.ID)
	require.NoError(t, err)
	code, err := fx.totpMgr.GenerateCode([]byte(setup.Secret), time.Now())
	require.NoError(t, err)
	_, err = mfa.CompleteTOTPEnrollment(ctx, user.ID, code)
	require.NoError(t, err)

	require.NoError(t, mfa.DisableFactor(ctx, user.ID, models.FactorTOTP))
	assert.False(t, user.HasFactor(models.FactorTOTP))
	assert.Empty(t, user.TOTPSecretEncrypted)
	assert.Empty(t, user.TOTPSecretNonce)

	assert.ErrorIs(t, mfa.DisableFactor(ctx, user.ID, models.FactorTOTP), models.ErrNotFound)
}

func TestMFAService_RegenerateRecoveryCodesReplacesBatch(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, fx := newMFAFixture(t, user)
	ctx := context.Background()

	first, err := mfa.RegenerateRecoveryCodes(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, first, 4)
	assert.True(t, user.HasFactor(models.FactorRecoveryCode))

	second, err := mfa.RegenerateRecoveryCodes(ctx, user.ID)
	require.NoError(t, err)

	// Codes from the first batch no longer verify.
	ok, err := fx.service.Verify(ctx, user,
		models.SecondFactorChallenge{Kind: models.FactorRecoveryCode, Code: first[0]})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fx.service.Verify(ctx, user,
		models.SecondFactorChallenge{Kind: models.FactorRecoveryCode, Code: second[0]})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMFAService_ConfirmPhoneEnablesSMS(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, _ := newMFAFixture(t, user)

	require.NoError(t, mfa.ConfirmPhone(context.Background(), user.ID, "+15551230001"))
	assert.Equal(t, "+15551230001", user.PhoneNumber)
	assert.True(t, user.PhoneConfirmed)
	assert.True(t, user.HasFactor(models.FactorSMS))
}

func TestMFAService_ExternalLoginLifecycle(t *testing.T) {
	user := NewTestUser("alice", "alice@example.com", "CorrectHorse9!")
	mfa, _ := newMFAFixture(t, user)
	ctx := context.Background()

	require.NoError(t, mfa.LinkExternalLogin(ctx, user.ID, "github", "gh-42"))
	assert.True(t, user.HasFactor(models.FactorExternal))
	assert.True(t, user.HasExternalLogin("github", "gh-42"))

	// One link per provider.
	assert.ErrorIs(t, mfa.LinkExternalLogin(ctx, user.ID, "GitHub", "gh-99"), models.ErrConflict)

	require.NoError(t, mfa.LinkExternalLogin(ctx, user.ID, "google", "goog-7"))

	require.NoError(t, mfa.UnlinkExternalLogin(ctx, user.ID, "github"))
	assert.True(t, user.HasFactor(models.FactorExternal), "still one link left")

	require.NoError(t, mfa.UnlinkExternalLogin(ctx, user.ID, "google"))
	assert.False(t, user.HasFactor(models.FactorExternal), "last link removes the factor")

	assert.ErrorIs(t, mfa.UnlinkExternalLogin(ctx, user.ID, "google"), models.ErrNotFound)
}
