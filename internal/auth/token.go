package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/campuskinect/kinect-go/internal/logger"
)

var (
	ErrMalformedToken = errors.New("malformed token")

	log = logger.New("auth")
)

// Claims are the fields the API server embeds in access tokens. The client
// only decodes them; signature verification is the server's job, the client
// merely needs the user id and the expiry to gate requests.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseClaims decodes an access token without verifying its signature.
func ParseClaims(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformedToken
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		log.Debug("Failed to decode token: %v", err)
		return nil, ErrMalformedToken
	}

	if claims.UserID == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// Expired reports whether the claims carry an expiry in the past. Tokens
// without an expiry are treated as live; the server still rejects them with
// 401 if it disagrees.
func (c *Claims) Expired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(time.Now())
}

// TokenUsable reports whether the token decodes and has not expired yet.
// It is the cheap local check behind the polling auth gate.
func TokenUsable(tokenString string) bool {
	claims, err := ParseClaims(tokenString)
	if err != nil {
		return false
	}
	return !claims.Expired()
}

// UserIDFromToken extracts the subject user id from an access token.
func UserIDFromToken(tokenString string) (string, error) {
	claims, err := ParseClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
