package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by a session token. Subject is the user id; ID (jti) is the
// session id that scopes the user's sync lifecycle.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenIssuer signs and parses HS256 session tokens.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTokenIssuer(signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey, ttl: ttl}
}

// Issue creates a signed session token for the user. Each call mints a fresh
// session id.
func (i *TokenIssuer) Issue(userID uuid.UUID, role string) (token string, sessionID string, err error) {
	sessionID = uuid.NewString()
	now := time.Now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(i.signingKey)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return token, sessionID, nil
}

// Parse validates a session token and returns its claims.
func (i *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("session token subject is not a user id: %w", err)
	}
	return claims, nil
}
