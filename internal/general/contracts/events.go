package contracts

import "time"

// DriverNew announces a driver joining the live roster.
type DriverNew struct {
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// DriverDisconnected announces a driver leaving the live roster.
type DriverDisconnected struct {
	UserID         int64     `json:"userId"`
	Username       string    `json:"username"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
}

// LocationUpdated carries one accepted sample to monitors.
type LocationUpdated struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Velocidad *float64  `json:"velocidad,omitempty"`
	Precision *float64  `json:"precision,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveDriver is one element of the monitor-active-drivers snapshot.
type ActiveDriver struct {
	UserID      int64     `json:"userId"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// TrackingToggled is sent when a driver enables or disables tracking through REST.
type TrackingToggled struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Activo    bool      `json:"activo"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationRejected is the negative acknowledgement for an invalid report.
type LocationRejected struct {
	Reason string `json:"reason"`
}

// ErrorMessage answers undecodable frames and unknown event types.
type ErrorMessage struct {
	Error string `json:"error"`
}

// LocationSampleMessage is published on ExchangeLocationFanout for downstream consumers.
type LocationSampleMessage struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Velocidad *float64  `json:"velocidad,omitempty"`
	Precision *float64  `json:"precision,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Envelope
}

// PresenceMessage is published on ExchangePresenceTopic with routing key
// "presence.connected" or "presence.disconnected".
type PresenceMessage struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
	Envelope
}
