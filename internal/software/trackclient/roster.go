package trackclient

import (
	"slices"
	"strings"
	"sync"
	"time"

	"fleet-tracking/internal/general/contracts"
)

// Driver is one roster row as seen by a monitor.
type Driver struct {
	UserID       int64
	Username     string
	Active       bool
	Tracking     bool
	ConnectedAt  time.Time
	LastLocation *contracts.LocationUpdated
	UpdatedAt    time.Time
}

// Roster reconciles channel events into the monitor's view of the fleet.
// Entries are never deleted by events; a disconnect only flips Active.
type Roster struct {
	mu      sync.RWMutex
	drivers map[int64]*Driver
	now     func() time.Time
}

func NewRoster() *Roster {
	return &Roster{drivers: make(map[int64]*Driver), now: time.Now}
}

func (r *Roster) upsert(userID int64, username string) *Driver {
	d, ok := r.drivers[userID]
	if !ok {
		d = &Driver{UserID: userID}
		r.drivers[userID] = d
	}
	if username != "" {
		d.Username = username
	}
	return d
}

// Seed merges a monitor-active-drivers snapshot. Drivers missing from it are marked inactive.
func (r *Roster) Seed(snapshot []contracts.ActiveDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[int64]struct{}, len(snapshot))
	for _, a := range snapshot {
		d := r.upsert(a.UserID, a.Username)
		d.Active = true
		d.ConnectedAt = a.ConnectedAt
		live[a.UserID] = struct{}{}
	}
	for id, d := range r.drivers {
		if _, ok := live[id]; !ok {
			d.Active = false
		}
	}
}

// SeedLastKnown adds rows from the REST cold-start roster without marking them live.
func (r *Roster) SeedLastKnown(rows []LastKnown) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		d := r.upsert(row.UserID, row.Username)
		d.Tracking = row.Activo
		if row.Lat == nil || row.Lng == nil {
			continue
		}
		if d.LastLocation != nil && row.Timestamp != nil && !row.Timestamp.After(d.LastLocation.Timestamp) {
			continue
		}
		loc := contracts.LocationUpdated{
			UserID:    row.UserID,
			Username:  row.Username,
			Lat:       *row.Lat,
			Lng:       *row.Lng,
			Velocidad: row.Velocidad,
		}
		if row.Timestamp != nil {
			loc.Timestamp = *row.Timestamp
		}
		d.LastLocation = &loc
		d.UpdatedAt = row.UpdatedAt
	}
}

// DriverNew inserts a driver or reactivates a known one.
func (r *Roster) DriverNew(ev contracts.DriverNew) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.upsert(ev.UserID, ev.Username)
	d.Active = true
	d.ConnectedAt = ev.ConnectedAt
}

// LocationUpdated stores the sample and marks the driver active.
func (r *Roster) LocationUpdated(ev contracts.LocationUpdated) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.upsert(ev.UserID, ev.Username)
	loc := ev
	d.LastLocation = &loc
	d.Active = true
	d.UpdatedAt = r.now()
}

// DriverDisconnected keeps the row for "last seen" and flips it inactive.
func (r *Roster) DriverDisconnected(ev contracts.DriverDisconnected) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[ev.UserID]; ok {
		d.Active = false
		d.UpdatedAt = ev.DisconnectedAt
	}
}

// TrackingToggled records a driver switching tracking on or off.
func (r *Roster) TrackingToggled(ev contracts.TrackingToggled) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.upsert(ev.UserID, ev.Username)
	d.Tracking = ev.Activo
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = make(map[int64]*Driver)
}

func (r *Roster) Get(userID int64) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[userID]
	if !ok {
		return Driver{}, false
	}
	return *d, true
}

// Drivers returns a copy of the roster, active drivers first, then by name.
func (r *Roster) Drivers() []Driver {
	r.mu.RLock()
	out := make([]Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Driver) int {
		if a.Active != b.Active {
			if a.Active {
				return -1
			}
			return 1
		}
		if c := strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)); c != 0 {
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
	return out
}

func (r *Roster) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.drivers {
		if d.Active {
			n++
		}
	}
	return n
}
