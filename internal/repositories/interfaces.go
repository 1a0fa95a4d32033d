package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

var ErrNotFound = errors.New("not found")

// ReceiverRepository resolves the shared secret of a provisioned receiver.
type ReceiverRepository interface {
	GetSecret(ctx context.Context, orgID, receiverID string) (string, error)
}

type DeviceKeyRepository interface {
	Get(ctx context.Context, orgID, deviceID string) (*models.DeviceKeyRecord, error)
	Register(ctx context.Context, record *models.DeviceKeyRecord) error
}

type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	GetByID(ctx context.Context, orgID, linkID string) (*models.Link, error)
	FindActive(ctx context.Context, orgID, deviceID string) (*models.Link, error)
	Revoke(ctx context.Context, orgID, linkID string, at time.Time) (*models.Link, error)
}

type PresenceEventRepository interface {
	Append(ctx context.Context, event *models.PresenceEvent) error
	// RecentAccepted returns up to limit accepted events for the device,
	// newest first by claimed timestamp.
	RecentAccepted(ctx context.Context, orgID, deviceID string, limit int) ([]*models.PresenceEvent, error)
	Count(ctx context.Context) (int64, error)
}

type PresenceSessionRepository interface {
	Create(ctx context.Context, session *models.PresenceSession) error
	GetByID(ctx context.Context, id string) (*models.PresenceSession, error)
	FindOpen(ctx context.Context, orgID, deviceID string) (*models.PresenceSession, error)
	Touch(ctx context.Context, id, receiverID string, lastSeenAt time.Time) error
	Close(ctx context.Context, id string, at time.Time) error
	Resolve(ctx context.Context, id string, at time.Time) error
	CountOpen(ctx context.Context) (int64, error)
}

type WebhookEndpointRepository interface {
	GetByOrg(ctx context.Context, orgID string) (*models.WebhookEndpoint, error)
}

// WebhookQueue holds pending deliveries. ClaimDue hands each job to exactly
// one caller until it is completed, rescheduled or dead-lettered.
type WebhookQueue interface {
	Enqueue(ctx context.Context, job *models.WebhookJob) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookJob, error)
	Complete(ctx context.Context, job *models.WebhookJob) error
	Reschedule(ctx context.Context, job *models.WebhookJob) error
	DeadLetter(ctx context.Context, job *models.WebhookJob) error
	// RecoverInflight returns claimed-but-unfinished jobs to the queue,
	// e.g. after a crash.
	RecoverInflight(ctx context.Context) (int, error)
	Size(ctx context.Context) (int64, error)
	DeadLetterSize(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context, limit int) ([]*models.WebhookJob, error)
}
