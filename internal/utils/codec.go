package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	TokenPrefixLength = 16
	MacLength         = 8
	SignatureLength   = sha256.Size
)

// EncodeUint32BE returns the 4-byte big-endian encoding of v.
func EncodeUint32BE(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// HMACSHA256 computes HMAC-SHA256 over the concatenation of parts.
func HMACSHA256(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// ConstantTimeEqual reports whether a and b are equal without leaking
// timing information about their contents. Length mismatch returns false.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// DecodeHexExact decodes s and checks the decoded length.
func DecodeHexExact(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}
