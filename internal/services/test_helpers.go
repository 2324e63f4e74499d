package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pellmont/signet/internal/models"
	pkgauth "github.com/pellmont/signet/pkg/auth"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc      func(ctx context.Context, username string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.User, error)
	CreateFunc             func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc             func(ctx context.Context, user *models.User) error
	RemoveRecoveryCodeFunc func(ctx context.Context, userID, codeHash string) error
	MarkTOTPUsedFunc       func(ctx context.Context, userID string, usedAt time.Time, window time.Duration) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, user)
	}
	return nil
}

func (m *MockUserRepository) RemoveRecoveryCode(ctx context.Context, userID, codeHash string) error {
	if m.RemoveRecoveryCodeFunc != nil {
		return m.RemoveRecoveryCodeFunc(ctx, userID, codeHash)
	}
	return models.ErrNotFound
}

func (m *MockUserRepository) MarkTOTPUsed(ctx context.Context, userID string, usedAt time.Time, window time.Duration) error {
	if m.MarkTOTPUsedFunc != nil {
		return m.MarkTOTPUsedFunc(ctx, userID, usedAt, window)
	}
	return nil
}

// MockSecondFactorVerifier implements SecondFactorVerifier for testing
type MockSecondFactorVerifier struct {
	VerifyFunc func(ctx context.Context, user *models.User, challenge models.SecondFactorChallenge) (bool, error)
}

func (m *MockSecondFactorVerifier) Verify(ctx context.Context, user *models.User, challenge models.SecondFactorChallenge) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, user, challenge)
	}
	return false, nil
}

// MockEmailSender records outbound mail for assertions
type MockEmailSender struct {
	mu   sync.Mutex
	Sent []SentEmail

	SendEmailFunc func(ctx context.Context, to, subject, htmlBody, textBody string) error
}

type SentEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, to, subject, htmlBody, textBody)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{To: to, Subject: subject, HTMLBody: htmlBody, TextBody: textBody})
	return nil
}

func (m *MockEmailSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockSMSSender records outbound SMS for assertions
type MockSMSSender struct {
	mu   sync.Mutex
	Sent []SentSMS

	SendSMSFunc func(ctx context.Context, phoneNumber, message string) error
}

type SentSMS struct {
	PhoneNumber string
	Message     string
}

func (m *MockSMSSender) SendSMS(ctx context.Context, phoneNumber, message string) error {
	if m.SendSMSFunc != nil {
		return m.SendSMSFunc(ctx, phoneNumber, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentSMS{PhoneNumber: phoneNumber, Message: message})
	return nil
}

func (m *MockSMSSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// NewTestUser builds a confirmed user with the given password hashed.
func NewTestUser(username, email, password string) *models.User {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	stamp, err := pkgauth.GenerateSecurityStamp()
	if err != nil {
		panic(err)
	}
	return &models.User{
		ID:             uuid.New().String(),
		Username:       username,
		Email:          email,
		PasswordHash:   hash,
		EmailConfirmed: true,
		SecurityStamp:  stamp,
		LockoutEnabled: true,
		EnabledFactors: []string{},
	}
}

// singleUserRepo wraps one user behind the repository contract, persisting
// Update calls so lockout counters survive across calls in a test.
func singleUserRepo(user *models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			if user != nil && user.ID == id {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.User, error) {
			if user != nil && user.Username == username {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if user != nil && user.Email == email {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
		UpdateFunc: func(ctx context.Context, updated *models.User) error {
			*user = *updated
			return nil
		},
		RemoveRecoveryCodeFunc: func(ctx context.Context, userID, codeHash string) error {
			if user == nil || user.ID != userID {
				return models.ErrNotFound
			}
			for i, h := range user.RecoveryCodeHashes {
				if h == codeHash {
					user.RecoveryCodeHashes = append(
						user.RecoveryCodeHashes[:i], user.RecoveryCodeHashes[i+1:]...)
					return nil
				}
			}
			return models.ErrNotFound
		},
		MarkTOTPUsedFunc: func(ctx context.Context, userID string, usedAt time.Time, window time.Duration) error {
			if user == nil || user.ID != userID {
				return models.ErrConflict
			}
			if user.TOTPLastUsedAt != nil && user.TOTPLastUsedAt.After(usedAt.Add(-window)) {
				return models.ErrConflict
			}
			used := usedAt
			user.TOTPLastUsedAt = &used
			return nil
		},
	}
}
