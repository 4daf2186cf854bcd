package contracts

// Exchanges
const (
	ExchangeLocationFanout = "location_fanout"
	ExchangePresenceTopic  = "presence_topic"
)

// Queues
const (
	QueueLocationArchive = "tracking_location_archive"
	QueuePresenceAudit   = "tracking_presence_audit"
)

// Routing patterns
const (
	RoutePresencePrefix = "presence." // {connected|disconnected}
)

// Inbound channel events (client -> gateway).
const (
	EventDriverAnnounce  = "driver-announce"
	EventMonitorAnnounce = "monitor-announce"
	EventLocationReport  = "location-report"
)

// Outbound channel events (gateway -> client).
const (
	EventDriverNew           = "driver-new"
	EventDriverDisconnected  = "driver-disconnected"
	EventLocationUpdated     = "location-updated"
	EventActiveDrivers       = "monitor-active-drivers"
	EventTrackingActivated   = "tracking-activated"
	EventTrackingDeactivated = "tracking-deactivated"
	EventLocationRejected    = "location-rejected"
	EventError               = "error"
)
