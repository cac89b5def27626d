// Package auth protects the HTTP surface with bearer tokens.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. An operator runs `server -issue-token <client-name>` with JWT_SECRET set
//  2. The printed token is configured in the MCP client
//  3. The client sends it on every request: Authorization: Bearer <jwt>
//  4. RequireBearer validates it and puts the client name in the request context
//
// WHY JWT?
// JWT (JSON Web Token) is stateless: the server keeps no token table.
// Everything needed (client name, expiry) is inside the signed token, and the
// signature means nobody can alter it without the secret key.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"claude-desktop","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("auth: missing bearer token")

// Issuer is written into and required on every token.
const Issuer = "python-sandbox"

// DefaultTokenTTL is the lifetime of tokens issued with Generate. Clients are
// configured once by hand, so tokens are long-lived.
const DefaultTokenTTL = 90 * 24 * time.Hour

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. "sub" (Subject) names the client.
type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for client valid for DefaultTokenTTL.
func (s *TokenService) Generate(client string) (string, error) {
	return s.GenerateWithDuration(client, DefaultTokenTTL)
}

// GenerateWithDuration signs a token for client valid for d.
// A negative d produces an already-expired token (useful in tests).
func (s *TokenService) GenerateWithDuration(client string, d time.Duration) (string, error) {
	if client == "" {
		return "", errors.New("auth: token subject is required")
	}

	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    Issuer,
		},
	}

	// jwt.NewWithClaims creates an unsigned token with the given algorithm.
	// SignedString(key) signs it and returns the complete JWT string.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the client name
// stored in its "sub" claim.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future)
//   - Issuer matches Issuer (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
