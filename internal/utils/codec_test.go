package utils

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeUint32BE(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, EncodeUint32BE(0))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, EncodeUint32BE(0x01020304))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, EncodeUint32BE(0xffffffff))
}

// RFC 4231 test case 2
func TestHMACSHA256_KnownVector(t *testing.T) {
	got := HMACSHA256([]byte("Jefe"), []byte("what do ya want "), []byte("for nothing?"))
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		hex.EncodeToString(got),
		"parts must be hashed as one concatenated message")
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	assert.False(t, ConstantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
	assert.False(t, ConstantTimeEqual([]byte{1, 2, 3}, []byte{1, 2}))
	assert.True(t, ConstantTimeEqual(nil, []byte{}))
}

func TestDecodeHexExact(t *testing.T) {
	b, err := DecodeHexExact("00112233445566778899aabbccddeeff", TokenPrefixLength)
	require.NoError(t, err)
	assert.Len(t, b, TokenPrefixLength)

	_, err = DecodeHexExact("0011", TokenPrefixLength)
	assert.Error(t, err, "short input must be rejected")

	_, err = DecodeHexExact("zz112233445566778899aabbccddeeff", TokenPrefixLength)
	assert.Error(t, err, "non-hex input must be rejected")
}
