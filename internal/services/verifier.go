package services

import (
	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
)

var (
	presenceLabel   = []byte("hnnp_v2_presence")
	localNonceLabel = []byte("hnnp_v2_local_nonce")
)

// ReceiverSignature computes the signature a receiver attaches to a relayed
// report: HMAC(secret, org || receiver || slot || prefix || timestamp).
func ReceiverSignature(receiverSecret string, orgID, receiverID string, timeSlot uint32, tokenPrefix []byte, timestamp int64) []byte {
	return utils.HMACSHA256([]byte(receiverSecret),
		[]byte(orgID),
		[]byte(receiverID),
		utils.EncodeUint32BE(timeSlot),
		tokenPrefix,
		utils.EncodeUint32BE(uint32(timestamp)),
	)
}

func VerifyReceiverSignature(receiverSecret string, r *models.PresenceReport) bool {
	expected := ReceiverSignature(receiverSecret, r.OrgID, r.ReceiverID, r.TimeSlot, r.TokenPrefix, r.Timestamp)
	return utils.ConstantTimeEqual(expected, r.Signature)
}

// PacketMAC is the truncated device MAC over the advertised packet fields.
func PacketMAC(deviceAuthKey []byte, version, flags uint8, timeSlot uint32, tokenPrefix []byte) []byte {
	full := utils.HMACSHA256(deviceAuthKey,
		[]byte{version, flags},
		utils.EncodeUint32BE(timeSlot),
		tokenPrefix,
	)
	return full[:utils.MacLength]
}

func VerifyPacketMAC(deviceAuthKey []byte, r *models.PresenceReport) bool {
	expected := PacketMAC(deviceAuthKey, r.Version, r.Flags, r.TimeSlot, r.TokenPrefix)
	return utils.ConstantTimeEqual(expected, r.MAC)
}

// LocalBeaconNonce is the per-slot nonce a receiver advertises locally so
// that devices bind their token to the receiver they actually hear.
func LocalBeaconNonce(receiverSecret string, timeSlot uint32) []byte {
	full := utils.HMACSHA256([]byte(receiverSecret), utils.EncodeUint32BE(timeSlot), localNonceLabel)
	return full[:utils.TokenPrefixLength]
}

// ExpectedTokenPrefix is the prefix a registered device broadcasts when it
// has mixed in the receiver's local nonce.
func ExpectedTokenPrefix(deviceAuthKey []byte, timeSlot uint32, nonce []byte) []byte {
	full := utils.HMACSHA256(deviceAuthKey, utils.EncodeUint32BE(timeSlot), presenceLabel, nonce)
	return full[:utils.TokenPrefixLength]
}

// DeviceTokenPrefix is the plain per-slot prefix broadcast without a nonce.
func DeviceTokenPrefix(deviceAuthKey []byte, timeSlot uint32) []byte {
	full := utils.HMACSHA256(deviceAuthKey, utils.EncodeUint32BE(timeSlot), presenceLabel)
	return full[:utils.TokenPrefixLength]
}
