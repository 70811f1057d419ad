// Package auth verifies identity provider tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-sync-service/internal/apperr"
)

// Identity is the authenticated caller as described by the token.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// Claims are the identity provider's token claims.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses a token and returns the identity it carries. Expired,
// malformed or wrongly signed tokens are Unauthenticated.
func (v *TokenVerifier) Verify(tokenStr string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Wrap(apperr.KindUnauthenticated, "token expired", err)
		}
		return Identity{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, apperr.Unauthenticated("invalid token")
	}
	return Identity{UserID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// Issue signs a token for id. Used by tests and local tooling.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  id.Name,
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
