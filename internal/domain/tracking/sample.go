package tracking

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/user"
)

// Report is the inbound location-report payload as sent by a driver device.
// Pointer fields distinguish "absent" from zero.
type Report struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Velocidad *float64   `json:"velocidad,omitempty"`
	Precision *float64   `json:"precision,omitempty"`
	Timestamp ClientTime `json:"timestamp,omitempty"`
}

// ClientTime accepts an RFC3339 string or epoch milliseconds.
// Anything else decodes to the zero time without failing the payload.
type ClientTime struct {
	time.Time
}

// NewClientTime wraps t for an outbound report.
func NewClientTime(t time.Time) ClientTime {
	return ClientTime{Time: t.UTC()}
}

func (ct ClientTime) MarshalJSON() ([]byte, error) {
	if ct.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(ct.UTC().Format(time.RFC3339Nano))), nil
}

func (ct *ClientTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
			if t, err := time.Parse(layout, s); err == nil {
				ct.Time = t.UTC()
				return nil
			}
		}
		return nil
	}
	if ms, err := strconv.ParseFloat(string(b), 64); err == nil && ms > 0 && ms <= maxClientMillis {
		ct.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}

// maxClientMillis is 9999-12-31T23:59:59.999Z, the last instant RFC 3339 can carry.
const maxClientMillis = 253402300799999

// Sample is a validated location observation attributed to an authenticated driver.
type Sample struct {
	UserID    int64
	Username  string
	Point     geo.Point
	Speed     *float64
	Accuracy  *float64
	Timestamp time.Time
}

// NewSample validates a report and attributes it to ident. Identity always
// comes from the connection, never from the payload.
//
// The client timestamp is kept unless it is missing, unparseable, outside
// years 1..9999, or further than maxSkew in the future, in which case now is
// used.
func NewSample(ident user.Identity, r Report, now time.Time, maxSkew time.Duration) (Sample, error) {
	p, err := geo.PointFrom(r.Lat, r.Lng)
	if err != nil {
		return Sample{}, err
	}

	ts := r.Timestamp.Time
	if ts.IsZero() || ts.Year() < 1 || ts.Year() > 9999 || (maxSkew > 0 && ts.After(now.Add(maxSkew))) {
		ts = now
	}

	return Sample{
		UserID:    ident.ID,
		Username:  ident.Username,
		Point:     p,
		Speed:     nonNegative(r.Velocidad),
		Accuracy:  nonNegative(r.Precision),
		Timestamp: ts.UTC(),
	}, nil
}

// nonNegative drops negative or non-finite optional readings.
func nonNegative(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return nil
	}
	out := *v
	return &out
}
