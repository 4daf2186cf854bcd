package user

import (
	"errors"
	"strconv"
	"strings"
)

// Identity is the authenticated principal behind a connection or request.
// It is resolved from the bearer token and never from client payloads.
type Identity struct {
	ID       int64
	Username string
}

var (
	ErrInvalidUserID = errors.New("user id must be a positive integer")
	ErrEmptyUsername = errors.New("username cannot be empty")
)

// NewIdentity validates and constructs an Identity.
func NewIdentity(id int64, username string) (Identity, error) {
	ident := Identity{ID: id, Username: strings.TrimSpace(username)}
	if err := ident.Validate(); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// ParseUserID parses the textual form of a user id (token subject, path value).
func ParseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidUserID
	}
	return id, nil
}

// Validate checks invariants of the Identity.
func (ident Identity) Validate() error {
	if ident.ID <= 0 {
		return ErrInvalidUserID
	}
	if ident.Username == "" {
		return ErrEmptyUsername
	}
	return nil
}

// Key is the textual user id used for registry keys and logs.
func (ident Identity) Key() string {
	return strconv.FormatInt(ident.ID, 10)
}
