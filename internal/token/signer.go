// Package token issues short-lived signed entitlement tokens that the
// desktop client can verify offline between status checks.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for deriving the HMAC key from the configured secret.
// Interactive-strength is enough here; the secret is server-side only.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keyLen  = 32
)

var keySalt = []byte("tracecut-entitlement-token-v1")

// Claims is the payload embedded in an entitlement token.
type Claims struct {
	DeviceID       string           `json:"device_id"`
	State          string           `json:"state"`
	CanExport      bool             `json:"can_export"`
	NextCheckAfter *jwt.NumericDate `json:"next_check_after,omitempty"`
	jwt.RegisteredClaims
}

// Signer signs entitlement tokens with an HMAC key derived from a shared
// secret. A nil *Signer is valid and means signing is disabled.
type Signer struct {
	key      []byte
	issuer   string
	maxValid time.Duration
}

// NewSigner derives the signing key from secret. An empty secret returns
// (nil, nil) so callers can wire the result straight through.
func NewSigner(secret, issuer string, maxValid time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, nil
	}
	if maxValid <= 0 {
		maxValid = 24 * time.Hour
	}
	key, err := scrypt.Key([]byte(secret), keySalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, issuer: issuer, maxValid: maxValid}, nil
}

// Sign issues a token for the device's current entitlement. The token
// expires at nextCheck so a stale client cannot outlive its poll
// schedule, clamped to the configured maximum validity.
func (s *Signer) Sign(deviceID, state string, canExport bool, nextCheck time.Time) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := nextCheck.UTC()
	if max := now.Add(s.maxValid); expires.After(max) {
		expires = max
	}
	if !expires.After(now) {
		expires = now.Add(time.Minute)
	}

	claims := Claims{
		DeviceID:       deviceID,
		State:          state,
		CanExport:      canExport,
		NextCheckAfter: jwt.NewNumericDate(nextCheck.UTC()),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify parses and validates a token issued by Sign. It exists for the
// desktop client and for tests; the server itself never verifies.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
