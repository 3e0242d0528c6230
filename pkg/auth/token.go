package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload: the subject is the principal id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for p valid for ttl.
func IssueToken(p Principal, secret []byte, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("auth: principal id is required")
	}
	now := time.Now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies token and returns its principal.
func ParseToken(token string, secret []byte) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, errors.New("auth: invalid token")
	}
	return Principal{ID: claims.Subject, Role: claims.Role}, nil
}
