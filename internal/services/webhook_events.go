package services

import (
	"context"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

// WebhookEnqueuer is the fire-and-forget side of the dispatcher.
type WebhookEnqueuer interface {
	Enqueue(ctx context.Context, orgID string, eventType models.WebhookEventType, payload any) error
}

type PresenceCheckInPayload struct {
	Type       models.WebhookEventType `json:"type"`
	EventID    string                  `json:"event_id"`
	OrgID      string                  `json:"org_id"`
	DeviceID   string                  `json:"device_id"`
	LinkID     string                  `json:"link_id"`
	UserRef    string                  `json:"user_ref"`
	ReceiverID string                  `json:"receiver_id"`
	Timestamp  int64                   `json:"timestamp"`
	Suspicious bool                    `json:"suspicious"`
}

type PresenceUnknownPayload struct {
	Type              models.WebhookEventType `json:"type"`
	EventID           string                  `json:"event_id"`
	OrgID             string                  `json:"org_id"`
	DeviceID          string                  `json:"device_id"`
	PresenceSessionID string                  `json:"presence_session_id"`
	ReceiverID        string                  `json:"receiver_id"`
	Timestamp         int64                   `json:"timestamp"`
}

type LinkCreatedPayload struct {
	Type     models.WebhookEventType `json:"type"`
	OrgID    string                  `json:"org_id"`
	LinkID   string                  `json:"link_id"`
	DeviceID string                  `json:"device_id"`
	UserRef  string                  `json:"user_ref"`
}

type LinkRevokedPayload struct {
	Type   models.WebhookEventType `json:"type"`
	OrgID  string                  `json:"org_id"`
	LinkID string                  `json:"link_id"`
}
