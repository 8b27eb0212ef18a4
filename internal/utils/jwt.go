package utils // package utils provides helpers for access tokens and passphrase hashing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleFreeAccess is the role claim carried by tokens of the privileged
// no-payment path.
const RoleFreeAccess = "FREE_ACCESS"

// AccessToken represents a signed JWT along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken signs an HS256 JWT carrying sub, role, exp and iat.  The
// subject identifies who was granted the token (an operator name or a
// random grant id for passphrase exchanges).
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("jwt secret is empty")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewFreeAccessToken mints a FREE_ACCESS token for a fresh grant id.
func NewFreeAccessToken(secret string, ttl time.Duration) (AccessToken, error) {
	grant, err := RandomHex(8)
	if err != nil {
		return AccessToken{}, err
	}
	return NewAccessToken(secret, "grant-"+grant, RoleFreeAccess, ttl)
}

// RandomHex returns 2n hex characters of secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
