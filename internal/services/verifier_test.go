package services

import (
	"bytes"
	"testing"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
	"github.com/stretchr/testify/assert"
)

func testDeviceAuthKey(deviceSecret string) []byte {
	return utils.HMACSHA256([]byte(deviceSecret), []byte("hnnp_device_auth_v2"))
}

func TestVerifyReceiverSignature(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x11}, utils.TokenPrefixLength)
	report := &models.PresenceReport{
		OrgID:       "org-1",
		ReceiverID:  "rcv-1",
		Timestamp:   1_700_000_100,
		TimeSlot:    113333340,
		Version:     ProtocolVersion,
		TokenPrefix: prefix,
	}
	report.Signature = ReceiverSignature("secret", report.OrgID, report.ReceiverID, report.TimeSlot, prefix, report.Timestamp)

	assert.True(t, VerifyReceiverSignature("secret", report))
	assert.False(t, VerifyReceiverSignature("other-secret", report))

	tampered := *report
	tampered.Timestamp++
	assert.False(t, VerifyReceiverSignature("secret", &tampered), "timestamp is covered by the signature")

	tampered = *report
	tampered.ReceiverID = "rcv-2"
	assert.False(t, VerifyReceiverSignature("secret", &tampered))

	tampered = *report
	tampered.Signature = report.Signature[:16]
	assert.False(t, VerifyReceiverSignature("secret", &tampered), "short signatures never match")
}

func TestVerifyPacketMAC(t *testing.T) {
	key := testDeviceAuthKey("device-secret")
	slot := uint32(42)
	prefix := DeviceTokenPrefix(key, slot)

	report := &models.PresenceReport{Version: ProtocolVersion, Flags: 0x01, TimeSlot: slot, TokenPrefix: prefix}
	report.MAC = PacketMAC(key, report.Version, report.Flags, slot, prefix)

	assert.Len(t, report.MAC, utils.MacLength)
	assert.True(t, VerifyPacketMAC(key, report))

	report.Flags = 0x00
	assert.False(t, VerifyPacketMAC(key, report), "flags are covered by the MAC")
}

func TestLocalBeaconNonce(t *testing.T) {
	key := testDeviceAuthKey("device-secret")
	nonce := LocalBeaconNonce("receiver-secret", 100)

	assert.Len(t, nonce, utils.TokenPrefixLength)
	assert.Equal(t, nonce, LocalBeaconNonce("receiver-secret", 100))
	assert.NotEqual(t, nonce, LocalBeaconNonce("receiver-secret", 101))
	assert.NotEqual(t, nonce, LocalBeaconNonce("other-receiver", 100))

	withNonce := ExpectedTokenPrefix(key, 100, nonce)
	assert.Len(t, withNonce, utils.TokenPrefixLength)
	assert.NotEqual(t, DeviceTokenPrefix(key, 100), withNonce)
}
