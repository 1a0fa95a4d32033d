package models

import "time"

// PresenceReport is the relayed report as received on POST /v2/presence,
// after field validation. Never stored verbatim.
type PresenceReport struct {
	OrgID       string
	ReceiverID  string
	Timestamp   int64
	TimeSlot    uint32
	Version     uint8
	Flags       uint8
	TokenPrefix []byte
	MAC         []byte
	Signature   []byte
}

type AuthResult string

const (
	AuthAccepted                 AuthResult = "accepted"
	AuthRejectedReceiverSecret   AuthResult = "rejected_receiver_secret"
	AuthRejectedSignature        AuthResult = "rejected_signature"
	AuthRejectedWindow           AuthResult = "rejected_window"
	AuthRejectedServerConfig     AuthResult = "rejected_server_config"
	AuthRejectedMAC              AuthResult = "rejected_mac"
	AuthIgnoredDuplicate         AuthResult = "ignored_duplicate"
	AuthRejectedSuspicious       AuthResult = "rejected_suspicious"
	AuthRejectedAnonymousBlocked AuthResult = "rejected_anonymous_blocked"
)

// PresenceEvent is the append-only record of a processed report.
type PresenceEvent struct {
	ID                  string     `json:"event_id"`
	OrgID               string     `json:"org_id"`
	DeviceID            string     `json:"device_id,omitempty"`
	DeviceIDBase        string     `json:"device_id_base,omitempty"`
	ReceiverID          string     `json:"receiver_id"`
	UserRef             string     `json:"user_ref,omitempty"`
	Timestamp           int64      `json:"timestamp"`
	TimeSlot            uint32     `json:"time_slot"`
	Version             uint8      `json:"version"`
	Flags               uint8      `json:"flags"`
	TokenPrefix         string     `json:"token_prefix"`
	TokenHash           string     `json:"token_hash"`
	MAC                 string     `json:"mac,omitempty"`
	Signature           string     `json:"-"`
	Anonymous           bool       `json:"anonymous,omitempty"`
	Policy              string     `json:"policy,omitempty"`
	AuthResult          AuthResult `json:"auth_result"`
	Reason              string     `json:"reason,omitempty"`
	SuspiciousDuplicate bool       `json:"suspicious_duplicate,omitempty"`
	SuspiciousFlags     FlagSet    `json:"suspicious_flags,omitempty"`
	PresenceSessionID   string     `json:"presence_session_id,omitempty"`
	LinkID              string     `json:"link_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (e *PresenceEvent) Accepted() bool {
	return e.AuthResult == AuthAccepted
}
