package services

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prudhvinik1/hnnp-cloud/internal/utils"
)

// RegistrationClaims is the payload of a registration_blob issued by the
// onboarding flow.
type RegistrationClaims struct {
	DeviceAuthKey string `json:"device_auth_key"`
	DeviceID      string `json:"device_id,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// ParseRegistrationBlob verifies an HS256 registration blob and returns its
// claims. device_auth_key must be 32 bytes of hex.
func ParseRegistrationBlob(blob, signingKey string) (*RegistrationClaims, error) {
	claims := &RegistrationClaims{}
	token, err := jwt.ParseWithClaims(blob, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(signingKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}

	claims.DeviceAuthKey = strings.ToLower(claims.DeviceAuthKey)
	if _, err := utils.DecodeHexExact(claims.DeviceAuthKey, 32); err != nil {
		return nil, fmt.Errorf("%w: device_auth_key: %v", ErrInvalidRegistration, err)
	}
	return claims, nil
}

// IssueRegistrationBlob signs claims with the registration key.
func IssueRegistrationBlob(claims *RegistrationClaims, signingKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign registration blob: %w", err)
	}
	return signed, nil
}
