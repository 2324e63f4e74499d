package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/pellmont/signet/internal/database"
	"github.com/pellmont/signet/internal/models"
)

const userColumns = `id, username, email, password_hash, email_confirmed, phone_number, phone_confirmed,
	enabled_factors, totp_secret_encrypted, totp_secret_nonce, totp_last_used_at, recovery_code_hashes,
	security_stamp, lockout_enabled, failed_access_count, lockout_end, external_logins, password_changed_at,
	created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner lets scanUserRow work with both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row.
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string
	var totpLastUsedAt, lockoutEnd, passwordChangedAt *time.Time
	var externalLogins []byte

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &passwordHash,
		&user.EmailConfirmed, &user.PhoneNumber, &user.PhoneConfirmed,
		pq.Array(&user.EnabledFactors), &user.TOTPSecretEncrypted, &user.TOTPSecretNonce,
		&totpLastUsedAt, pq.Array(&user.RecoveryCodeHashes), &user.SecurityStamp,
		&user.LockoutEnabled, &user.FailedAccessCount, &lockoutEnd,
		&externalLogins, &passwordChangedAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	user.TOTPLastUsedAt = totpLastUsedAt
	user.LockoutEnd = lockoutEnd
	user.PasswordChangedAt = passwordChangedAt

	if len(externalLogins) > 0 {
		if err := json.Unmarshal(externalLogins, &user.ExternalLogins); err != nil {
			return nil, fmt.Errorf("failed to decode external logins: %w", err)
		}
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`

	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.EnabledFactors == nil {
		user.EnabledFactors = []string{}
	}
	if user.RecoveryCodeHashes == nil {
		user.RecoveryCodeHashes = []string{}
	}

	externalLogins, err := encodeExternalLogins(user.ExternalLogins)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING ` + userColumns

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Username, user.Email, passwordHash,
		user.EmailConfirmed, user.PhoneNumber, user.PhoneConfirmed,
		pq.Array(user.EnabledFactors), user.TOTPSecretEncrypted, user.TOTPSecretNonce,
		user.TOTPLastUsedAt, pq.Array(user.RecoveryCodeHashes), user.SecurityStamp,
		user.LockoutEnabled, user.FailedAccessCount, user.LockoutEnd,
		externalLogins, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	externalLogins, err := encodeExternalLogins(user.ExternalLogins)
	if err != nil {
		return err
	}

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	query := `
		UPDATE users SET
			username = $1, email = $2, password_hash = $3, email_confirmed = $4,
			phone_number = $5, phone_confirmed = $6, enabled_factors = $7,
			totp_secret_encrypted = $8, totp_secret_nonce = $9, totp_last_used_at = $10,
			recovery_code_hashes = $11, security_stamp = $12, lockout_enabled = $13,
			failed_access_count = $14, lockout_end = $15, external_logins = $16,
			password_changed_at = $17, updated_at = $18
		WHERE id = $19
	`

	result, err := r.pool.Exec(ctx, query,
		user.Username, user.Email, passwordHash, user.EmailConfirmed,
		user.PhoneNumber, user.PhoneConfirmed, pq.Array(user.EnabledFactors),
		user.TOTPSecretEncrypted, user.TOTPSecretNonce, user.TOTPLastUsedAt,
		pq.Array(user.RecoveryCodeHashes), user.SecurityStamp, user.LockoutEnabled,
		user.FailedAccessCount, user.LockoutEnd, externalLogins,
		user.PasswordChangedAt, user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// RemoveRecoveryCode invalidates a single recovery code hash. The removal
// is conditional on the hash still being present, so when two logins race
// on the same code exactly one caller wins; the loser gets ErrNotFound.
func (r *UserRepository) RemoveRecoveryCode(ctx context.Context, userID, codeHash string) error {
	query := `
		UPDATE users SET
			recovery_code_hashes = array_remove(recovery_code_hashes, $2),
			updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(recovery_code_hashes)
	`

	result, err := r.pool.Exec(ctx, query, userID, codeHash)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// MarkTOTPUsed records a successful TOTP validation at usedAt, conditional
// on no other validation having landed within the replay window. The loser
// of a concurrent submission gets ErrConflict.
func (r *UserRepository) MarkTOTPUsed(ctx context.Context, userID string, usedAt time.Time, window time.Duration) error {
	query := `
		UPDATE users SET totp_last_used_at = $2, updated_at = NOW()
		WHERE id = $1 AND (totp_last_used_at IS NULL OR totp_last_used_at <= $3)
	`

	result, err := r.pool.Exec(ctx, query, userID, usedAt, usedAt.Add(-window))
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}

	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func encodeExternalLogins(logins []models.ExternalLogin) ([]byte, error) {
	if logins == nil {
		logins = []models.ExternalLogin{}
	}

	encoded, err := json.Marshal(logins)
	if err != nil {
		return nil, fmt.Errorf("failed to encode external logins: %w", err)
	}

	return encoded, nil
}
