package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix       = "presence_session:"
	openSessionIndexKey = "presence_session:org:%s:device:%s:open"
	openSessionsSetKey  = "presence_sessions:open"

	// Sessions are kept this long after their last write.
	sessionRetention = 7 * 24 * time.Hour
)

// RedisSessionRepository stores presence sessions as JSON blobs with a
// per-(org, device) pointer to the currently open session.
type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *models.PresenceSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, sessionRetention)
	pipe.Set(ctx, openIndexKey(session.OrgID, session.DeviceID), session.ID, sessionRetention)
	pipe.SAdd(ctx, openSessionsSetKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*models.PresenceSession, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.PresenceSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) FindOpen(ctx context.Context, orgID, deviceID string) (*models.PresenceSession, error) {
	indexKey := openIndexKey(orgID, deviceID)
	id, err := r.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open session index: %w", err)
	}

	session, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && !session.Open()) {
		// Stale pointer: the session expired or was already finished.
		r.client.Del(ctx, indexKey)
		r.client.SRem(ctx, openSessionsSetKey, id)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *RedisSessionRepository) Touch(ctx context.Context, id, receiverID string, lastSeenAt time.Time) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !session.Open() {
		return ErrNotFound
	}

	session.LastSeenAt = lastSeenAt
	session.ReceiverID = receiverID

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(id), data, sessionRetention)
	pipe.Expire(ctx, openIndexKey(session.OrgID, session.DeviceID), sessionRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Close(ctx context.Context, id string, at time.Time) error {
	return r.finish(ctx, id, func(s *models.PresenceSession) { s.ClosedAt = &at })
}

func (r *RedisSessionRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	return r.finish(ctx, id, func(s *models.PresenceSession) { s.ResolvedAt = &at })
}

// finish marks an open session as no longer open and drops it from the
// open indexes. Finishing a session that is not open returns ErrNotFound.
func (r *RedisSessionRepository) finish(ctx context.Context, id string, mark func(*models.PresenceSession)) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !session.Open() {
		return ErrNotFound
	}
	mark(session)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	indexKey := openIndexKey(session.OrgID, session.DeviceID)
	current, err := r.client.Get(ctx, indexKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get open session index: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(id), data, sessionRetention)
	if current == id {
		pipe.Del(ctx, indexKey)
	}
	pipe.SRem(ctx, openSessionsSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) CountOpen(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, openSessionsSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}
	return n, nil
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

func openIndexKey(orgID, deviceID string) string {
	return fmt.Sprintf(openSessionIndexKey, orgID, deviceID)
}
