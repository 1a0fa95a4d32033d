package models

import "time"

type Link struct {
	ID        string     `json:"link_id"`
	OrgID     string     `json:"org_id"`
	DeviceID  string     `json:"device_id"`
	UserRef   string     `json:"user_ref"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (l *Link) Active() bool {
	return l.RevokedAt == nil
}
