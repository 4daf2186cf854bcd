package ports

import (
	"context"

	"fleet-tracking/internal/domain/user"
)

// Session is one authenticated, live channel connection.
type Session interface {
	// ID is the transport session handle, unique per connection.
	ID() string
	Identity() user.Identity
	// Send queues a text frame without blocking. It reports false when the
	// frame was dropped (buffer full or session closed).
	Send(frame []byte) bool
	Close()
}

// ChannelHandler receives the lifecycle of every session in order.
type ChannelHandler interface {
	Connected(ctx context.Context, s Session)
	Dispatch(ctx context.Context, s Session, frame []byte)
	Disconnected(ctx context.Context, s Session)
}
