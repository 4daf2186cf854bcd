package contracts

import (
	"time"

	json "github.com/goccy/go-json"
)

// Frame is the JSON text frame exchanged on the tracking channel in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope adds cross-cutting headers to messages published on the broker.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	SentAt        time.Time `json:"sent_at,omitempty"`
}

// EncodeFrame marshals an event name and its payload into a single frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Frame{Type: event, Data: data})
}

// DecodeFrame parses a text frame. The payload stays raw until the event is known.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
