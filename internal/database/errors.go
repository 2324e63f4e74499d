package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pellmont/signet/internal/models"
)

// MapPostgresError translates driver errors into the model sentinels the
// services branch on. Empty selects become ErrNotFound; unique violations
// (users.email, clients.id, the artifacts primary key) become ErrConflict.
// Anything else passes through for the caller to log.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrConflict
	}

	return err
}
