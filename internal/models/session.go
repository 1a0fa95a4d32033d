package models

import "time"

// PresenceSession groups unlinked presence activity for one device in one org.
type PresenceSession struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	DeviceID    string     `json:"device_id"`
	ReceiverID  string     `json:"receiver_id"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the session can still be extended or linked.
func (s *PresenceSession) Open() bool {
	return s.ResolvedAt == nil && s.ClosedAt == nil
}
