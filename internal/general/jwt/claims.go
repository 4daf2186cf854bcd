package jwt

import (
	"strconv"
	"time"

	"fleet-tracking/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims matches the token minted by the POS login: {"id":7,"username":"carlos"}.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Rol      string `json:"rol,omitempty"` // informational only; channel roles come from announce events
	jwtlib.RegisteredClaims
}

// ensure Claims implements jwtlib.Claims interface
var _ jwtlib.Claims = (*Claims)(nil)

// NewUserClaims constructs claims for an authenticated POS user.
func NewUserClaims(ident user.Identity, rol string, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		ID:       ident.ID,
		Username: ident.Username,
		Rol:      rol,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(ident.ID, 10),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}

// Identity resolves the principal carried by the claims. Tokens minted
// without the numeric id claim fall back to the subject.
func (c *Claims) Identity() (user.Identity, error) {
	id := c.ID
	if id == 0 && c.Subject != "" {
		parsed, err := user.ParseUserID(c.Subject)
		if err != nil {
			return user.Identity{}, err
		}
		id = parsed
	}
	return user.NewIdentity(id, c.Username)
}
