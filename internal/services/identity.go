package services

import (
	"encoding/hex"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
)

var deviceIDLabel = []byte("hnnp_v2_id")

// DeriveDeviceIdentity maps a per-slot token prefix to the cloud pseudonyms.
// device_id_base rotates with the slot; device_id is stable across slots for
// the same device and cannot be computed without the salt.
func DeriveDeviceIdentity(salt string, timeSlot uint32, tokenPrefix []byte) models.DeviceIdentity {
	key := []byte(salt)
	base := utils.HMACSHA256(key, utils.EncodeUint32BE(timeSlot), tokenPrefix)
	id := utils.HMACSHA256(key, deviceIDLabel, base)

	return models.DeviceIdentity{
		DeviceIDBase: hex.EncodeToString(base),
		DeviceID:     hex.EncodeToString(id),
	}
}
