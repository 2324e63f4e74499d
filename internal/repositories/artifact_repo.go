package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pellmont/signet/internal/database"
	"github.com/pellmont/signet/internal/models"
	"github.com/pellmont/signet/internal/onetime"
)

const artifactColumns = `kind, key, user_id, client_id, family_id, payload, expires_at, consumed_at`

// ArtifactRepository is the Postgres implementation of onetime.Store.
// Redeem relies on a conditional UPDATE so that of two concurrent
// redemptions exactly one row update wins.
type ArtifactRepository struct {
	pool *pgxpool.Pool
}

func NewArtifactRepository(db *database.DB) *ArtifactRepository {
	return &ArtifactRepository{pool: db.Pool}
}

func scanArtifactRow(scanner rowScanner) (*onetime.Artifact, error) {
	var a onetime.Artifact
	var consumedAt *time.Time

	err := scanner.Scan(
		&a.Kind, &a.Key, &a.UserID, &a.ClientID, &a.FamilyID,
		&a.Payload, &a.ExpiresAt, &consumedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	a.ConsumedAt = consumedAt
	return &a, nil
}

func (r *ArtifactRepository) Put(ctx context.Context, a *onetime.Artifact) error {
	query := `
		INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (kind, key) DO UPDATE SET
			user_id = EXCLUDED.user_id, client_id = EXCLUDED.client_id,
			family_id = EXCLUDED.family_id, payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at, consumed_at = NULL
	`

	_, err := r.pool.Exec(ctx, query,
		a.Kind, a.Key, a.UserID, a.ClientID, a.FamilyID, a.Payload, a.ExpiresAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *ArtifactRepository) Get(ctx context.Context, kind onetime.Kind, key string) (*onetime.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE kind = $1 AND key = $2`

	a, err := scanArtifactRow(r.pool.QueryRow(ctx, query, kind, key))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, onetime.ErrNotFound
		}
		return nil, err
	}

	return checkLive(a)
}

func (r *ArtifactRepository) Redeem(ctx context.Context, kind onetime.Kind, key string) (*onetime.Artifact, error) {
	// The WHERE clause makes the consume conditional on the row still
	// being unconsumed; a concurrent winner leaves zero rows for the loser.
	query := `
		UPDATE artifacts SET consumed_at = NOW()
		WHERE kind = $1 AND key = $2 AND consumed_at IS NULL
		RETURNING ` + artifactColumns

	a, err := scanArtifactRow(r.pool.QueryRow(ctx, query, kind, key))
	if err == nil {
		if time.Now().After(a.ExpiresAt) {
			return nil, onetime.ErrExpired
		}
		return a, nil
	}

	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	// Nothing updated: either unknown, or already consumed. Distinguish
	// for the callers that treat reuse as a security signal.
	existing, err := scanArtifactRow(r.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE kind = $1 AND key = $2`, kind, key))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, onetime.ErrNotFound
		}
		return nil, err
	}

	if existing.ConsumedAt != nil {
		return nil, onetime.ErrConsumed
	}
	return nil, onetime.ErrExpired
}

func (r *ArtifactRepository) Update(ctx context.Context, a *onetime.Artifact) error {
	query := `
		UPDATE artifacts SET user_id = $3, client_id = $4, family_id = $5, payload = $6, expires_at = $7
		WHERE kind = $1 AND key = $2 AND consumed_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		a.Kind, a.Key, a.UserID, a.ClientID, a.FamilyID, a.Payload, a.ExpiresAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return onetime.ErrNotFound
	}

	return nil
}

func (r *ArtifactRepository) Revoke(ctx context.Context, kind onetime.Kind, key string) error {
	query := `
		UPDATE artifacts SET consumed_at = NOW()
		WHERE kind = $1 AND key = $2 AND consumed_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, kind, key); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *ArtifactRepository) RevokeFamily(ctx context.Context, kind onetime.Kind, familyID string) (int, error) {
	if familyID == "" {
		return 0, nil
	}

	query := `
		UPDATE artifacts SET consumed_at = NOW()
		WHERE kind = $1 AND family_id = $2 AND consumed_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, kind, familyID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return int(result.RowsAffected()), nil
}

func (r *ArtifactRepository) DeleteExpired(ctx context.Context) (int, error) {
	query := `DELETE FROM artifacts WHERE expires_at < NOW() OR consumed_at IS NOT NULL`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return int(result.RowsAffected()), nil
}

func checkLive(a *onetime.Artifact) (*onetime.Artifact, error) {
	if a.ConsumedAt != nil {
		return nil, onetime.ErrConsumed
	}
	if time.Now().After(a.ExpiresAt) {
		return nil, onetime.ErrExpired
	}
	return a, nil
}
