package services

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
	"golang.org/x/crypto/hkdf"
)

const (
	HeaderTimestamp = "X-HNNP-Timestamp"
	HeaderSignature = "X-HNNP-Signature"
)

// SignWebhook returns the hex HMAC-SHA256 of timestamp || body.
func SignWebhook(secret string, timestamp int64, body []byte) string {
	mac := utils.HMACSHA256([]byte(secret), []byte(strconv.FormatInt(timestamp, 10)), body)
	return hex.EncodeToString(mac)
}

// VerifyWebhook is the consumer-side check of a delivered webhook.
func VerifyWebhook(secret, timestampHeader, signatureHeader string, body []byte) bool {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignWebhook(secret, ts, body))
	return utils.ConstantTimeEqual(want, got)
}

// DeriveWebhookSecret derives a per-org signing secret from the deployment
// master secret. Returns "" when no master secret is configured.
func DeriveWebhookSecret(master, orgID string) string {
	if master == "" {
		return ""
	}
	r := hkdf.New(sha256.New, []byte(master), nil, []byte("hnnp_webhook:"+orgID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*HashLen bytes of output.
		panic(err)
	}
	return hex.EncodeToString(key)
}
