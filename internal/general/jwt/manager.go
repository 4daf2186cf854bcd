package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleet-tracking/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential       = errors.New("bearer credential missing")
	ErrBadAuthScheme      = errors.New("authorization must start with Bearer")
	ErrEmptyToken         = errors.New("bearer token missing")
	ErrInvalidSigningAlgo = errors.New("unexpected signing method")
	ErrInvalidToken       = errors.New("invalid token")
)

// Manager handles JWT creation and validation.
type Manager struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewManager creates a token manager.
func NewManager(secret string, accessTTL time.Duration) *Manager {
	s := strings.TrimSpace(secret)
	if s == "" {
		panic("jwt: empty secret key")
	}

	return &Manager{
		secret:    []byte(s),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// TTL is the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.accessTTL }

// IssueUserToken returns a signed access token for a POS user.
func (m *Manager) IssueUserToken(ident user.Identity, rol string) (string, *Claims, error) {
	if err := ident.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid identity: %w", err)
	}

	claims := NewUserClaims(ident, rol, m.accessTTL)
	tkn := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := tkn.SignedString(m.secret)

	return signed, claims, err
}

// FromAuthorization reads the bearer credential from "Authorization: Bearer <token>",
// falling back to the "token" or "Authorization" query parameter for browser
// WebSocket clients that cannot set headers.
func FromAuthorization(r *http.Request) (string, error) {
	if authHeader := strings.TrimSpace(r.Header.Get("Authorization")); authHeader != "" {
		after, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return "", ErrBadAuthScheme
		}
		if strings.TrimSpace(after) == "" {
			return "", ErrEmptyToken
		}
		return strings.TrimSpace(after), nil
	}

	q := r.URL.Query()
	for _, key := range []string{"token", "Authorization"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			v = strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
			if v == "" {
				return "", ErrEmptyToken
			}
			return v, nil
		}
	}

	return "", ErrNoCredential
}

// ParseAndValidate verifies signature and standard claims (expiry included).
func (m *Manager) ParseAndValidate(tokenString string) (*Claims, error) {
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(m.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method != jwtlib.SigningMethodHS256 {
			return nil, ErrInvalidSigningAlgo
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate extracts and validates the request credential and resolves the identity.
// It is used both by the REST middleware and by the channel handshake.
func (m *Manager) Authenticate(r *http.Request) (user.Identity, *Claims, error) {
	raw, err := FromAuthorization(r)
	if err != nil {
		return user.Identity{}, nil, err
	}
	claims, err := m.ParseAndValidate(raw)
	if err != nil {
		return user.Identity{}, nil, err
	}
	ident, err := claims.Identity()
	if err != nil {
		return user.Identity{}, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return ident, claims, nil
}

// Context wiring (used by middleware)
type ctxKey string

const (
	claimsCtxKey   ctxKey = "jwtClaims"
	identityCtxKey ctxKey = "jwtIdentity"
)

// InjectClaims adds JWT claims and the resolved identity to the context.
func InjectClaims(ctx context.Context, c *Claims, ident user.Identity) context.Context {
	ctx = context.WithValue(ctx, claimsCtxKey, c)
	return context.WithValue(ctx, identityCtxKey, ident)
}

// FromContext extracts JWT claims from the context.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*Claims)
	return c, ok
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (user.Identity, bool) {
	ident, ok := ctx.Value(identityCtxKey).(user.Identity)
	return ident, ok
}
