// Package auth resolves bearer credentials to user ids and answers group membership.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"groupgames/internal/apperr"
)

// Verifier resolves a credential to a stable user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Membership answers whether a user belongs to a group.
type Membership interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	Groups(ctx context.Context, userID string) ([]string, error)
}

// JWTVerifier verifies HS256 tokens whose subject is the user id.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", apperr.ErrUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", apperr.Wrap(apperr.KindUnauthenticated, apperr.CodeUnauthenticated, "invalid token", err)
	}
	if claims.Subject == "" {
		return "", apperr.New(apperr.KindUnauthenticated, apperr.CodeUnauthenticated, "token has no subject")
	}
	return claims.Subject, nil
}

// Sign issues a token for userID valid for ttl.
func Sign(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Token extracts the bearer token from the Authorization header, falling back to the
// token query parameter for clients that cannot set headers (browser websockets).
func Token(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return r.URL.Query().Get("token")
}

type userIDKey struct{}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user id from ctx.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}
