package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresReceiverRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresReceiverRepository(pool *pgxpool.Pool) *PostgresReceiverRepository {
	return &PostgresReceiverRepository{pool: pool}
}

func (r *PostgresReceiverRepository) GetSecret(ctx context.Context, orgID, receiverID string) (string, error) {
	query := `SELECT shared_secret FROM receivers
	          WHERE org_id = $1 AND receiver_id = $2 AND status = 'active'`

	var secret *string
	err := r.pool.QueryRow(ctx, query, orgID, receiverID).Scan(&secret)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get receiver secret: %w", err)
	}
	if secret == nil || *secret == "" {
		return "", ErrNotFound
	}
	return *secret, nil
}
