package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

type PostgresLinkRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkRepository(pool *pgxpool.Pool) *PostgresLinkRepository {
	return &PostgresLinkRepository{pool: pool}
}

func (r *PostgresLinkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `INSERT INTO links (id, org_id, device_id, user_ref)
	          VALUES ($1, $2, $3, $4)
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		link.ID,
		link.OrgID,
		link.DeviceID,
		link.UserRef,
	).Scan(&link.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (r *PostgresLinkRepository) GetByID(ctx context.Context, orgID, linkID string) (*models.Link, error) {
	query := `SELECT id, org_id, device_id, user_ref, created_at, revoked_at
	          FROM links
	          WHERE org_id = $1 AND id = $2`

	return r.scanOne(r.pool.QueryRow(ctx, query, orgID, linkID))
}

func (r *PostgresLinkRepository) FindActive(ctx context.Context, orgID, deviceID string) (*models.Link, error) {
	query := `SELECT id, org_id, device_id, user_ref, created_at, revoked_at
	          FROM links
	          WHERE org_id = $1 AND device_id = $2 AND revoked_at IS NULL
	          ORDER BY created_at DESC
	          LIMIT 1`

	return r.scanOne(r.pool.QueryRow(ctx, query, orgID, deviceID))
}

func (r *PostgresLinkRepository) Revoke(ctx context.Context, orgID, linkID string, at time.Time) (*models.Link, error) {
	query := `UPDATE links
	          SET revoked_at = $1
	          WHERE org_id = $2 AND id = $3 AND revoked_at IS NULL
	          RETURNING id, org_id, device_id, user_ref, created_at, revoked_at`

	return r.scanOne(r.pool.QueryRow(ctx, query, at, orgID, linkID))
}

func (r *PostgresLinkRepository) scanOne(row pgx.Row) (*models.Link, error) {
	var link models.Link
	err := row.Scan(
		&link.ID,
		&link.OrgID,
		&link.DeviceID,
		&link.UserRef,
		&link.CreatedAt,
		&link.RevokedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}
