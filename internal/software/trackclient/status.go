package trackclient

import (
	"fmt"
	"time"
)

// Label is the short status text shown next to the connection indicator.
func (s State) Label() string {
	switch s {
	case StateConnected:
		return "Conectado"
	case StateConnecting:
		return "Conectando..."
	case StateError:
		return "Error de conexion"
	default:
		return "Desconectado"
	}
}

// Indicator is a one-glyph status light for terminals.
func (s State) Indicator() string {
	switch s {
	case StateConnected:
		return "●"
	case StateConnecting:
		return "◐"
	case StateError:
		return "✕"
	default:
		return "○"
	}
}

// TimeSince renders how long ago t was, coarsely.
func TimeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 10*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// StatusLine summarises the channel for a status bar.
func StatusLine(ch *Channel, activeDrivers int) string {
	line := fmt.Sprintf("%s %s", ch.State().Indicator(), ch.State().Label())
	switch ch.State() {
	case StateConnected:
		line += fmt.Sprintf(" · %d active", activeDrivers)
	case StateConnecting:
		if n := ch.Attempts(); n > 0 {
			line += fmt.Sprintf(" (attempt %d)", n+1)
		}
	case StateError:
		if err := ch.LastError(); err != nil {
			line += ": " + err.Error()
		}
	}
	return line
}
