package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxBackoffSeconds = 60

// Backoff returns the delay before retry number attempt: 2^attempt seconds,
// capped at one minute.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 6 {
		return maxBackoffSeconds * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

type DispatcherConfig struct {
	DefaultURL   string
	MasterSecret string
	MaxAttempts  int
	TickInterval time.Duration
	Concurrency  int
	Timeout      time.Duration
	BatchSize    int
}

// WebhookDispatcher queues signed webhook jobs and delivers them on a tick.
// Enqueue never blocks on delivery.
type WebhookDispatcher struct {
	queue     repositories.WebhookQueue
	endpoints repositories.WebhookEndpointRepository
	client    *resty.Client
	cfg       DispatcherConfig
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewWebhookDispatcher(
	queue repositories.WebhookQueue,
	endpoints repositories.WebhookEndpointRepository,
	cfg DispatcherConfig,
	logger *zap.Logger,
	metrics *Metrics,
) *WebhookDispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "hnnp-webhooks/2")

	return &WebhookDispatcher{
		queue:     queue,
		endpoints: endpoints,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// WithClock overrides the dispatcher's time source.
func (d *WebhookDispatcher) WithClock(now func() time.Time) *WebhookDispatcher {
	d.now = now
	return d
}

// Enqueue resolves the org's endpoint and queues payload for delivery. Orgs
// without an endpoint or a signing secret are skipped.
func (d *WebhookDispatcher) Enqueue(ctx context.Context, orgID string, eventType models.WebhookEventType, payload any) error {
	endpoint, err := d.resolveEndpoint(ctx, orgID)
	if err != nil {
		return err
	}
	if endpoint == nil {
		d.logger.Debug("no webhook endpoint for org", zap.String("org_id", orgID), zap.String("event_type", string(eventType)))
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	now := d.now()
	job := &models.WebhookJob{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		URL:         endpoint.URL,
		Secret:      endpoint.Secret,
		EventType:   eventType,
		Payload:     body,
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue webhook: %w", err)
	}

	d.logger.Debug("webhook queued",
		zap.String("job_id", job.ID),
		zap.String("org_id", orgID),
		zap.String("event_type", string(eventType)),
	)
	return nil
}

func (d *WebhookDispatcher) resolveEndpoint(ctx context.Context, orgID string) (*models.WebhookEndpoint, error) {
	endpoint, err := d.endpoints.GetByOrg(ctx, orgID)
	if errors.Is(err, repositories.ErrNotFound) {
		if d.cfg.DefaultURL == "" {
			return nil, nil
		}
		endpoint = &models.WebhookEndpoint{OrgID: orgID, URL: d.cfg.DefaultURL}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}

	if endpoint.Secret == "" {
		endpoint.Secret = DeriveWebhookSecret(d.cfg.MasterSecret, orgID)
	}
	if endpoint.Secret == "" {
		d.logger.Warn("webhook endpoint has no signing secret, skipping", zap.String("org_id", orgID))
		return nil, nil
	}
	return endpoint, nil
}

// Run delivers due jobs every tick until ctx is cancelled. Jobs left claimed
// by a previous process are put back on the queue first.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if n, err := d.queue.RecoverInflight(ctx); err != nil {
		d.logger.Error("failed to recover inflight webhooks", zap.Error(err))
	} else if n > 0 {
		d.logger.Info("recovered inflight webhooks", zap.Int("count", n))
	}

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Info("webhook dispatcher started",
		zap.Duration("tick_interval", d.cfg.TickInterval),
		zap.Int("concurrency", d.cfg.Concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopped")
			return nil
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("webhook tick failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims every due job and delivers them in parallel, bounded by
// the configured concurrency. It returns the number of jobs processed.
func (d *WebhookDispatcher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.queue.ClaimDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	// A failed store write for one job must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return d.process(ctx, job)
		})
	}
	return len(jobs), g.Wait()
}

func (d *WebhookDispatcher) process(ctx context.Context, job *models.WebhookJob) error {
	start := time.Now()
	status, err := d.deliver(ctx, job)
	elapsed := time.Since(start).Seconds()

	log := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("org_id", job.OrgID),
		zap.String("event_type", string(job.EventType)),
		zap.Int("attempt", job.Attempt+1),
	)

	switch {
	case err == nil && status >= 200 && status < 300:
		d.metrics.observeDelivery("delivered", elapsed)
		log.Info("webhook delivered", zap.Int("status", status))
		return d.queue.Complete(ctx, job)

	case err != nil || status >= 500:
		job.Attempt++
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = "HTTP " + strconv.Itoa(status)
		}
		if job.Attempt >= d.cfg.MaxAttempts {
			d.metrics.observeDelivery("dead_letter", elapsed)
			log.Warn("webhook exhausted retries", zap.String("last_error", job.LastError))
			return d.queue.DeadLetter(ctx, job)
		}
		job.NextRetryAt = d.now().Add(Backoff(job.Attempt))
		d.metrics.observeDelivery("retry", elapsed)
		log.Info("webhook delivery failed, retrying",
			zap.String("last_error", job.LastError),
			zap.Time("next_retry_at", job.NextRetryAt),
		)
		return d.queue.Reschedule(ctx, job)

	default:
		job.Attempt++
		job.LastError = "HTTP " + strconv.Itoa(status)
		d.metrics.observeDelivery("dead_letter", elapsed)
		log.Warn("webhook rejected by endpoint", zap.Int("status", status))
		return d.queue.DeadLetter(ctx, job)
	}
}

// deliver POSTs the job body once. A non-nil error means no HTTP response
// was received.
func (d *WebhookDispatcher) deliver(ctx context.Context, job *models.WebhookJob) (int, error) {
	ts := d.now().Unix()
	body := []byte(job.Payload)

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader(HeaderTimestamp, strconv.FormatInt(ts, 10)).
		SetHeader(HeaderSignature, SignWebhook(job.Secret, ts, body)).
		SetBody(body).
		Post(job.URL)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// Stats reports queue depths for the debug endpoint.
func (d *WebhookDispatcher) Stats(ctx context.Context) (queued, dead int64, err error) {
	if queued, err = d.queue.Size(ctx); err != nil {
		return 0, 0, err
	}
	if dead, err = d.queue.DeadLetterSize(ctx); err != nil {
		return 0, 0, err
	}
	return queued, dead, nil
}
