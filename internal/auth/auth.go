// Package auth issues and validates the bearer tokens guarding the debug
// trace query API.
//
// Tokens are HMAC-signed JWTs bound to a single chat user ID; a token for
// one user can never read another user's traces.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxTokenTTL caps the lifetime of a debug token regardless of what was
// requested.
const MaxTokenTTL = time.Hour

const issuer = "valine"

// Claims binds a debug token to the chat user whose traces it may read.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// JWTManager signs and validates debug tokens with an HMAC secret.
type JWTManager struct {
	secret  []byte
	nowFunc func() time.Time
}

// NewJWTManager creates a manager. The secret comes from config at process
// start; an empty secret is a construction error, never a silent pass-through.
func NewJWTManager(secret string) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: empty JWT secret")
	}
	return &JWTManager{
		secret:  []byte(secret),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (m *JWTManager) SetNowFunc(now func() time.Time) { m.nowFunc = now }

// IssueToken creates a signed token for the given chat user. TTL is capped
// at MaxTokenTTL.
func (m *JWTManager) IssueToken(userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("auth: empty user id")
	}
	if ttl <= 0 || ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}

	now := m.nowFunc()
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a debug token, returning its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
		jwt.WithTimeFunc(func() time.Time { return m.nowFunc() }),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("auth: token carries no user id")
	}
	return claims, nil
}
