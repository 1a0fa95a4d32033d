package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

type PostgresWebhookEndpointRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresWebhookEndpointRepository(pool *pgxpool.Pool) *PostgresWebhookEndpointRepository {
	return &PostgresWebhookEndpointRepository{pool: pool}
}

func (r *PostgresWebhookEndpointRepository) GetByOrg(ctx context.Context, orgID string) (*models.WebhookEndpoint, error) {
	query := `SELECT org_id, url, COALESCE(secret, '')
	          FROM org_webhooks
	          WHERE org_id = $1 AND enabled`

	var ep models.WebhookEndpoint
	err := r.pool.QueryRow(ctx, query, orgID).Scan(&ep.OrgID, &ep.URL, &ep.Secret)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}
	return &ep, nil
}
