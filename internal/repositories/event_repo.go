package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

type PostgresPresenceEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPresenceEventRepository(pool *pgxpool.Pool) *PostgresPresenceEventRepository {
	return &PostgresPresenceEventRepository{pool: pool}
}

// Append inserts an event. Events are never updated afterwards.
func (r *PostgresPresenceEventRepository) Append(ctx context.Context, event *models.PresenceEvent) error {
	query := `INSERT INTO presence_events (
	              id, org_id, device_id, device_id_base, receiver_id, user_ref,
	              client_timestamp, time_slot, version, flags,
	              token_prefix, token_hash, mac_hex, signature_hex,
	              is_anonymous, policy, auth_result, reason,
	              suspicious_duplicate, suspicious_flags, presence_session_id, link_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	                  $15, $16, $17, $18, $19, $20, $21, $22)
	          RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		event.ID,
		event.OrgID,
		nullIfEmpty(event.DeviceID),
		nullIfEmpty(event.DeviceIDBase),
		event.ReceiverID,
		nullIfEmpty(event.UserRef),
		event.Timestamp,
		int64(event.TimeSlot),
		int16(event.Version),
		int16(event.Flags),
		event.TokenPrefix,
		event.TokenHash,
		nullIfEmpty(event.MAC),
		nullIfEmpty(event.Signature),
		event.Anonymous,
		nullIfEmpty(event.Policy),
		string(event.AuthResult),
		nullIfEmpty(event.Reason),
		event.SuspiciousDuplicate,
		int16(event.SuspiciousFlags),
		nullIfEmpty(event.PresenceSessionID),
		nullIfEmpty(event.LinkID),
	).Scan(&event.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append presence event: %w", err)
	}
	return nil
}

func (r *PostgresPresenceEventRepository) RecentAccepted(ctx context.Context, orgID, deviceID string, limit int) ([]*models.PresenceEvent, error) {
	query := `SELECT id, org_id, device_id, COALESCE(device_id_base, ''), receiver_id,
	                 client_timestamp, time_slot, version, flags, token_prefix,
	                 suspicious_duplicate, suspicious_flags, created_at
	          FROM presence_events
	          WHERE org_id = $1 AND device_id = $2 AND auth_result = 'accepted'
	          ORDER BY client_timestamp DESC, created_at DESC
	          LIMIT $3`

	rows, err := r.pool.Query(ctx, query, orgID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence events: %w", err)
	}
	defer rows.Close()

	var events []*models.PresenceEvent
	for rows.Next() {
		var (
			e                             models.PresenceEvent
			slot                          int64
			version, flags, suspiciousSet int16
		)
		err := rows.Scan(
			&e.ID,
			&e.OrgID,
			&e.DeviceID,
			&e.DeviceIDBase,
			&e.ReceiverID,
			&e.Timestamp,
			&slot,
			&version,
			&flags,
			&e.TokenPrefix,
			&e.SuspiciousDuplicate,
			&suspiciousSet,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence event: %w", err)
		}
		e.TimeSlot = uint32(slot)
		e.Version = uint8(version)
		e.Flags = uint8(flags)
		e.SuspiciousFlags = models.FlagSet(suspiciousSet)
		e.AuthResult = models.AuthAccepted
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence events: %w", err)
	}

	return events, nil
}

func (r *PostgresPresenceEventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM presence_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count presence events: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
