package models

import "time"

// DeviceIdentity holds the cloud-side pseudonyms for a broadcasting device.
type DeviceIdentity struct {
	DeviceIDBase string `json:"device_id_base"`
	DeviceID     string `json:"device_id"`
}

type DeviceKeyRecord struct {
	OrgID            string    `json:"org_id"`
	DeviceID         string    `json:"device_id"`
	DeviceAuthKeyHex string    `json:"-"`
	RegisteredAt     time.Time `json:"registered_at"`
}
