package service

import (
	"context"
	"errors"
	"time"

	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/ports"
)

// ErrPersistenceDisabled is returned by REST operations when no database is configured.
var ErrPersistenceDisabled = errors.New("persistence is disabled")

// MonitorNotifier pushes an event to every connected monitor.
type MonitorNotifier interface {
	NotifyMonitors(ctx context.Context, event string, payload any) error
}

// trackingService holds all dependencies of the REST side of the tracking core.
type trackingService struct {
	logger   *logger.Logger
	uow      ports.UnitOfWork
	repo     ports.LocationRepository
	presence ports.PresenceRegistry
	notifier MonitorNotifier
	maxSkew  time.Duration
	now      func() time.Time
}

// NewTrackingService constructs the service. uow and repo may be nil when
// persistence is disabled; persistence operations then fail with ErrPersistenceDisabled.
func NewTrackingService(
	logger *logger.Logger,
	uow ports.UnitOfWork,
	repo ports.LocationRepository,
	presence ports.PresenceRegistry,
	notifier MonitorNotifier,
	maxSkew time.Duration,
) ports.TrackingService {
	return &trackingService{
		logger:   logger,
		uow:      uow,
		repo:     repo,
		presence: presence,
		notifier: notifier,
		maxSkew:  maxSkew,
		now:      time.Now,
	}
}

func (service *trackingService) persistenceEnabled() bool {
	return service.uow != nil && service.repo != nil
}
