package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	webhookDueKey      = "webhook:due"      // zset: job id scored by next_retry_at (unix ms)
	webhookJobsKey     = "webhook:jobs"     // hash: job id -> job JSON
	webhookInflightKey = "webhook:inflight" // set: claimed job ids
	webhookDeadKey     = "webhook:dead"     // list: dead-lettered job JSON, newest first
)

type RedisWebhookQueue struct {
	client *redis.Client
}

func NewRedisWebhookQueue(client *redis.Client) *RedisWebhookQueue {
	return &RedisWebhookQueue{client: client}
}

func (q *RedisWebhookQueue) Enqueue(ctx context.Context, job *models.WebhookJob) error {
	job.Status = models.WebhookQueued
	return q.store(ctx, job, "enqueue")
}

// ClaimDue hands out jobs whose next_retry_at has passed. A job is owned by
// whichever caller wins the ZREM, so concurrent dispatchers never deliver
// the same job twice.
func (q *RedisWebhookQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookJob, error) {
	ids, err := q.client.ZRangeByScore(ctx, webhookDueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan due webhooks: %w", err)
	}

	var jobs []*models.WebhookJob
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, webhookDueKey, id).Result()
		if err != nil {
			return jobs, fmt.Errorf("failed to claim webhook %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.SAdd(ctx, webhookInflightKey, id).Err(); err != nil {
			return jobs, fmt.Errorf("failed to mark webhook %s inflight: %w", id, err)
		}

		job, err := q.load(ctx, id)
		if err == ErrNotFound {
			q.client.SRem(ctx, webhookInflightKey, id)
			continue
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *RedisWebhookQueue) Complete(ctx context.Context, job *models.WebhookJob) error {
	job.Status = models.WebhookDelivered

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, webhookJobsKey, job.ID)
	pipe.SRem(ctx, webhookInflightKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete webhook: %w", err)
	}
	return nil
}

func (q *RedisWebhookQueue) Reschedule(ctx context.Context, job *models.WebhookJob) error {
	job.Status = models.WebhookQueued
	return q.store(ctx, job, "reschedule")
}

func (q *RedisWebhookQueue) DeadLetter(ctx context.Context, job *models.WebhookJob) error {
	job.Status = models.WebhookDeadLetter
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, webhookJobsKey, job.ID)
	pipe.SRem(ctx, webhookInflightKey, job.ID)
	pipe.ZRem(ctx, webhookDueKey, job.ID)
	pipe.LPush(ctx, webhookDeadKey, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter webhook: %w", err)
	}
	return nil
}

func (q *RedisWebhookQueue) RecoverInflight(ctx context.Context) (int, error) {
	ids, err := q.client.SMembers(ctx, webhookInflightKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list inflight webhooks: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err == ErrNotFound {
			q.client.SRem(ctx, webhookInflightKey, id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if err := q.store(ctx, job, "recover"); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *RedisWebhookQueue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.HLen(ctx, webhookJobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get webhook queue size: %w", err)
	}
	return n, nil
}

func (q *RedisWebhookQueue) DeadLetterSize(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, webhookDeadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get dead letter size: %w", err)
	}
	return n, nil
}

func (q *RedisWebhookQueue) DeadLetters(ctx context.Context, limit int) ([]*models.WebhookJob, error) {
	raw, err := q.client.LRange(ctx, webhookDeadKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	jobs := make([]*models.WebhookJob, 0, len(raw))
	for _, data := range raw {
		var job models.WebhookJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// store writes the job body and (re)schedules it on the due set.
func (q *RedisWebhookQueue) store(ctx context.Context, job *models.WebhookJob, op string) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, webhookJobsKey, job.ID, data)
	pipe.ZAdd(ctx, webhookDueKey, redis.Z{Score: float64(job.NextRetryAt.UnixMilli()), Member: job.ID})
	pipe.SRem(ctx, webhookInflightKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to %s webhook: %w", op, err)
	}
	return nil
}

func (q *RedisWebhookQueue) load(ctx context.Context, id string) (*models.WebhookJob, error) {
	data, err := q.client.HGet(ctx, webhookJobsKey, id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook job: %w", err)
	}

	var job models.WebhookJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook job: %w", err)
	}
	return &job, nil
}
