package services

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pellmont/signet/internal/auth"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
	pkgauth "github.com/pellmont/signet/pkg/auth"
	pkglogger "github.com/pellmont/signet/pkg/logger"
)

type registerFixture struct {
	service   *RegisterService
	artifacts onetime.Store
	email     *MockEmailSender
	users     map[string]*models.User
}

// newRegisterFixture backs the service with an in-memory user map so the
// create/confirm round trip exercises real persistence semantics.
func newRegisterFixture(t *testing.T) *registerFixture {
	t.Helper()

	users := make(map[string]*models.User)
	repo := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			if u, ok := users[id]; ok {
				return u, nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			for _, u := range users {
				if u.Email == email {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			user.ID = uuid.New().String()
			users[user.ID] = user
			return user, nil
		},
		UpdateFunc: func(ctx context.Context, user *models.User) error {
			if _, ok := users[user.ID]; !ok {
				return models.ErrNotFound
			}
			users[user.ID] = user
			return nil
		},
	}

	tokenMgr := auth.NewTokenManager("test-secret-test-secret", "signet", 15*time.Minute, 24*time.Hour)
	artifacts := onetime.NewMemoryStore()
	email := &MockEmailSender{}
	logger := slog.Default()

	service := NewRegisterService(
		repo, artifacts, tokenMgr, email,
		RegisterConfig{
			ConfirmationTTL: time.Hour,
			PublicBaseURL:   "https://id.example.com",
			ServiceName:     "Signet",
		},
		logger, pkglogger.NewAuditLogger(logger),
	)

	return &registerFixture{service: service, artifacts: artifacts, email: email, users: users}
}

func TestRegisterService_RegisterSendsConfirmation(t *testing.T) {
	fx := newRegisterFixture(t)

	user, err := fx.service.Register(context.Background(), "alice", "Alice@Example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email, "email should be canonicalized to lower case")
	assert.False(t, user.EmailConfirmed)
	assert.True(t, user.LockoutEnabled)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NoError(t, pkgauth.ComparePassword(user.PasswordHash, "Str0ngPassw0rd!"))

	require.Equal(t, 1, fx.email.Count())
	sent := fx.email.Sent[0]
	assert.Equal(t, "alice@example.com", sent.To)
	assert.Contains(t, sent.TextBody, "/register/confirm?token=")
}

func TestRegisterService_UsernameDefaultsToEmail(t *testing.T) {
	fx := newRegisterFixture(t)

	user, err := fx.service.Register(context.Background(), "  ", "bob@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Username)
}

func TestRegisterService_DuplicateEmail(t *testing.T) {
	fx := newRegisterFixture(t)

	_, err := fx.service.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)

	_, err = fx.service.Register(context.Background(), "alice2", "ALICE@example.com", "An0therPassw0rd!")
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 1, fx.email.Count(), "no confirmation mail for a rejected registration")
}

func TestRegisterService_RejectsWeakPassword(t *testing.T) {
	fx := newRegisterFixture(t)

	_, err := fx.service.Register(context.Background(), "alice", "alice@example.com", "short")
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, fx.users)
	assert.Equal(t, 0, fx.email.Count())
}

func TestRegisterService_RejectsEmptyEmail(t *testing.T) {
	fx := newRegisterFixture(t)

	_, err := fx.service.Register(context.Background(), "alice", "   ", "Str0ngPassw0rd!")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRegisterService_ConfirmEmailRoundTrip(t *testing.T) {
	fx := newRegisterFixture(t)
	ctx := context.Background()

	user, err := fx.service.Register(ctx, "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)
	require.False(t, user.EmailConfirmed)

	token := extractQueryToken(t, fx.email.Sent[0].TextBody)
	require.NoError(t, fx.service.ConfirmEmail(ctx, token))
	assert.True(t, fx.users[user.ID].EmailConfirmed)
}

func TestRegisterService_ConfirmationTokenIsSingleUse(t *testing.T) {
	fx := newRegisterFixture(t)
	ctx := context.Background()

	_, err := fx.service.Register(ctx, "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)

	token := extractQueryToken(t, fx.email.Sent[0].TextBody)
	require.NoError(t, fx.service.ConfirmEmail(ctx, token))

	err = fx.service.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestRegisterService_ConfirmEmailRejectsGarbageToken(t *testing.T) {
	fx := newRegisterFixture(t)

	err := fx.service.ConfirmEmail(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestRegisterService_ConfirmEmailRejectsWrongTokenType(t *testing.T) {
	fx := newRegisterFixture(t)
	ctx := context.Background()

	user, err := fx.service.Register(ctx, "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)

	tokenMgr := auth.NewTokenManager("test-secret-test-secret", "signet", 15*time.Minute, 24*time.Hour)
	access, err := tokenMgr.GenerateAccessToken(user, "signet-web", []string{"openid"})
	require.NoError(t, err)

	err = fx.service.ConfirmEmail(ctx, access)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
}

func TestRegisterService_ConfirmEmailRejectsStaleAddress(t *testing.T) {
	fx := newRegisterFixture(t)
	ctx := context.Background()

	user, err := fx.service.Register(ctx, "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)
	token := extractQueryToken(t, fx.email.Sent[0].TextBody)

	// Address changed after the mail went out; the old token must not
	// confirm the new one.
	fx.users[user.ID].Email = "new@example.com"

	err = fx.service.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidGrant)
	assert.False(t, fx.users[user.ID].EmailConfirmed)
}

func TestRegisterService_ConfirmEmailIdempotentWhenAlreadyConfirmed(t *testing.T) {
	fx := newRegisterFixture(t)
	ctx := context.Background()

	user, err := fx.service.Register(ctx, "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)

	// A second confirmation mail is requested before the first token is used.
	require.NoError(t, fx.service.SendConfirmationEmail(ctx, user))
	require.Equal(t, 2, fx.email.Count())

	first := extractQueryToken(t, fx.email.Sent[0].TextBody)
	second := extractQueryToken(t, fx.email.Sent[1].TextBody)
	require.NotEqual(t, first, second)

	require.NoError(t, fx.service.ConfirmEmail(ctx, first))
	assert.True(t, fx.users[user.ID].EmailConfirmed)

	// The second token is still unredeemed and confirms a no-op.
	assert.NoError(t, fx.service.ConfirmEmail(ctx, second))
}

func TestRegisterService_RegisterSurvivesMailFailure(t *testing.T) {
	fx := newRegisterFixture(t)
	fx.email.SendEmailFunc = func(ctx context.Context, to, subject, htmlBody, textBody string) error {
		return assert.AnError
	}

	user, err := fx.service.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err, "account creation should not fail on mail delivery")
	require.NotNil(t, fx.users[user.ID])

	// Confirmation can be re-requested once delivery recovers.
	fx.email.SendEmailFunc = nil
	require.NoError(t, fx.service.SendConfirmationEmail(context.Background(), user))
	token := extractQueryToken(t, fx.email.Sent[0].TextBody)
	require.NoError(t, fx.service.ConfirmEmail(context.Background(), token))
}

func TestRegisterService_ConfirmationLinkTargetsPublicBase(t *testing.T) {
	fx := newRegisterFixture(t)

	_, err := fx.service.Register(context.Background(), "alice", "alice@example.com", "Str0ngPassw0rd!")
	require.NoError(t, err)

	require.Equal(t, 1, fx.email.Count())
	assert.True(t, strings.HasPrefix(
		fx.email.Sent[0].TextBody[strings.Index(fx.email.Sent[0].TextBody, "https://"):],
		"https://id.example.com/register/confirm?token="))
}
