package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/pellmont/signet/internal/database"
	"github.com/pellmont/signet/internal/models"
)

const clientColumns = `id, name, secret_hash, confidential, allowed_grant_types, allowed_scopes, redirect_uris, created_at`

type ClientRepository struct {
	pool *pgxpool.Pool
}

func NewClientRepository(db *database.DB) *ClientRepository {
	return &ClientRepository{pool: db.Pool}
}

func scanClientRow(scanner rowScanner) (*models.Client, error) {
	var client models.Client

	err := scanner.Scan(
		&client.ID, &client.Name, &client.SecretHash, &client.Confidential,
		pq.Array(&client.AllowedGrantTypes), pq.Array(&client.AllowedScopes),
		pq.Array(&client.RedirectURIs), &client.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &client, nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

	return scanClientRow(r.pool.QueryRow(ctx, query, id))
}

func (r *ClientRepository) Create(ctx context.Context, client *models.Client) (*models.Client, error) {
	query := `
		INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + clientColumns

	return scanClientRow(r.pool.QueryRow(ctx, query,
		client.ID, client.Name, client.SecretHash, client.Confidential,
		pq.Array(client.AllowedGrantTypes), pq.Array(client.AllowedScopes),
		pq.Array(client.RedirectURIs),
	))
}
