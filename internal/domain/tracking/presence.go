package tracking

import (
	"errors"
	"slices"
	"time"

	"fleet-tracking/internal/domain/user"
)

// Group names a broadcast audience.
type Group string

const (
	GroupDrivers  Group = "drivers"
	GroupMonitors Group = "monitors"
)

// PresenceEntry records that a driver is currently connected.
// SessionID is the transport session handle of the connection that owns the entry;
// at most one entry exists per UserID.
type PresenceEntry struct {
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

var ErrEmptySession = errors.New("session id cannot be empty")

// NewPresenceEntry builds the entry for an announced driver connection.
func NewPresenceEntry(ident user.Identity, sessionID string, at time.Time) (PresenceEntry, error) {
	if err := ident.Validate(); err != nil {
		return PresenceEntry{}, err
	}
	if sessionID == "" {
		return PresenceEntry{}, ErrEmptySession
	}
	return PresenceEntry{
		UserID:      ident.ID,
		Username:    ident.Username,
		SessionID:   sessionID,
		ConnectedAt: at.UTC(),
	}, nil
}

// SortEntries orders entries by connection time, then user id.
func SortEntries(entries []PresenceEntry) {
	slices.SortFunc(entries, func(a, b PresenceEntry) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
}
