package models

import (
	"encoding/json"
	"time"
)

type WebhookEventType string

const (
	WebhookPresenceCheckIn WebhookEventType = "presence.check_in"
	WebhookPresenceUnknown WebhookEventType = "presence.unknown"
	WebhookLinkCreated     WebhookEventType = "link.created"
	WebhookLinkRevoked     WebhookEventType = "link.revoked"
)

// WebhookEndpoint is the delivery target configured for an org.
type WebhookEndpoint struct {
	OrgID  string `json:"org_id"`
	URL    string `json:"url"`
	Secret string `json:"-"`
}

type WebhookJobStatus string

const (
	WebhookQueued     WebhookJobStatus = "queued"
	WebhookDelivered  WebhookJobStatus = "delivered"
	WebhookDeadLetter WebhookJobStatus = "dead_letter"
)

// WebhookJob is a queued delivery. Payload holds the exact JSON body that is
// signed and sent, so retries resend identical bytes.
type WebhookJob struct {
	ID          string           `json:"id"`
	OrgID       string           `json:"org_id"`
	URL         string           `json:"url"`
	Secret      string           `json:"secret"`
	EventType   WebhookEventType `json:"event_type"`
	Payload     json.RawMessage  `json:"payload"`
	Attempt     int              `json:"attempt"`
	NextRetryAt time.Time        `json:"next_retry_at"`
	LastError   string           `json:"last_error,omitempty"`
	Status      WebhookJobStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}
