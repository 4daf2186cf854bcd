package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/jwt"
)

// GenerateUserToken mints a JWT shaped like the POS login token ({"id","username"}).
//
// Typical use (dev-only):
//
//	token, _, err := cli.GenerateUserToken(secret, 2*time.Hour, 7, "carlos", "chofer")
func GenerateUserToken(secret string, ttl time.Duration, userID int64, username, rol string) (string, jwt.Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return "", jwt.Claims{}, errors.New("secret is required")
	}
	ident, err := user.NewIdentity(userID, username)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid identity: %w", err)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	mgr := jwt.NewManager(secret, ttl)
	token, claims, err := mgr.IssueUserToken(ident, rol)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}
	return token, *claims, nil
}
