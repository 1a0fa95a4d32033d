package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

type PostgresDeviceKeyRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceKeyRepository(pool *pgxpool.Pool) *PostgresDeviceKeyRepository {
	return &PostgresDeviceKeyRepository{pool: pool}
}

func (r *PostgresDeviceKeyRepository) Get(ctx context.Context, orgID, deviceID string) (*models.DeviceKeyRecord, error) {
	query := `SELECT org_id, device_id, device_auth_key_hex, registered_at
	          FROM device_keys
	          WHERE org_id = $1 AND device_id = $2`

	var rec models.DeviceKeyRecord
	err := r.pool.QueryRow(ctx, query, orgID, deviceID).Scan(
		&rec.OrgID,
		&rec.DeviceID,
		&rec.DeviceAuthKeyHex,
		&rec.RegisteredAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device key: %w", err)
	}
	return &rec, nil
}

// Register stores the device's auth key. Re-registration replaces the key.
func (r *PostgresDeviceKeyRepository) Register(ctx context.Context, record *models.DeviceKeyRecord) error {
	query := `INSERT INTO device_keys (org_id, device_id, device_auth_key_hex)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (org_id, device_id)
	          DO UPDATE SET device_auth_key_hex = EXCLUDED.device_auth_key_hex, registered_at = NOW()
	          RETURNING registered_at`

	err := r.pool.QueryRow(ctx, query,
		record.OrgID,
		record.DeviceID,
		record.DeviceAuthKeyHex,
	).Scan(&record.RegisteredAt)

	if err != nil {
		return fmt.Errorf("failed to register device key: %w", err)
	}
	return nil
}
