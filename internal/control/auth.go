package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OwnerClaims is the identity carried by an owner token.
type OwnerClaims struct {
	Owner      string
	Privileged bool
}

type tokenClaims struct {
	Privileged bool `json:"op,omitempty"`
	jwt.RegisteredClaims
}

// SignOwnerToken mints an HMAC-signed owner token. ttl <= 0 means the token
// never expires.
func SignOwnerToken(secret []byte, claims OwnerClaims, ttl time.Duration) (string, error) {
	if claims.Owner == "" {
		return "", errors.New("owner is required")
	}

	tc := tokenClaims{
		Privileged: claims.Privileged,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  claims.Owner,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		tc.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(secret)
}

// VerifyOwnerToken validates a token and returns the identity it carries.
func VerifyOwnerToken(secret []byte, token string) (*OwnerClaims, error) {
	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || tc.Subject == "" {
		return nil, errors.New("invalid token")
	}

	return &OwnerClaims{Owner: tc.Subject, Privileged: tc.Privileged}, nil
}
