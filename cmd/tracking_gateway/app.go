package trackinggateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/jwt"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/postgres"
	"fleet-tracking/internal/general/rabbitmq"
	"fleet-tracking/internal/general/redis"
	"fleet-tracking/internal/general/websocket"
	"fleet-tracking/internal/ports"
	"fleet-tracking/internal/software/tracking/handler"
	"fleet-tracking/internal/software/tracking/service"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Run(ctx context.Context, configPath string, maxConcurrent int) error {
	// startup logs share a static request id
	log := logger.New("tracking-gateway")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": configPath})
		return err
	}
	log = logger.NewWithWriter("tracking-gateway", os.Stdout, logger.ParseLevel(cfg.Server.LogLevel))
	if maxConcurrent < 1 {
		maxConcurrent = cfg.Server.MaxConcurrent
	}

	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.TTL)

	// Postgres backs the REST endpoints and, optionally, live sample persistence
	var (
		uow  ports.UnitOfWork
		repo ports.LocationRepository
	)
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, pool, log); err != nil {
				log.Error(ctx, "db_migration_failed", "Failed to apply migrations", err, nil)
				return err
			}
		}
		uow, repo = newStore(pool)
	} else {
		log.Warn(ctx, "persistence_disabled", "Database disabled; REST persistence endpoints answer 503", nil, nil)
	}

	presence, closePresence, err := newPresence(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePresence()

	var (
		sampleSinks   []ports.SampleSink
		presenceSinks []ports.PresenceSink
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg.RabbitMQ, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()

		pub := rabbitmq.NewMQPublisher(rmq)
		sampleSinks = append(sampleSinks, service.NewPublishSampleSink(pub))
		presenceSinks = append(presenceSinks, service.NewPresencePublisher(pub))

		// with a broker, live samples reach Postgres through the archive queue
		if cfg.Tracking.PersistLiveSamples && repo != nil {
			service.StartArchiveConsumer(ctx, rmq, uow, repo, log)
		}
		service.StartPresenceAudit(ctx, rmq, log)
	} else if cfg.Tracking.PersistLiveSamples && repo != nil {
		sampleSinks = append(sampleSinks, service.NewPersistSampleSink(uow, repo))
	}

	gateway := service.NewGateway(log, presence, service.NewGroups(), service.GatewayOptions{
		NackInvalidReports: cfg.Tracking.NackInvalidReports,
		MaxClockSkew:       cfg.Tracking.MaxClockSkew,
		SinkBuffer:         cfg.Tracking.SinkBuffer,
		PresenceHeartbeat:  presenceHeartbeat(cfg),
	}, sampleSinks, presenceSinks)

	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		gateway.Run(ctx)
	}()

	ws := websocket.NewWebSocket(log, jwtManager, gateway, websocket.Options{
		SendBuffer:     cfg.Tracking.SendBuffer,
		PingInterval:   cfg.Tracking.PingInterval,
		PongWait:       cfg.Tracking.PongWait,
		AllowedOrigins: cfg.Tracking.AllowedOrigins,
	})

	svc := service.NewTrackingService(log, uow, repo, presence, gateway, cfg.Tracking.MaxClockSkew)

	mux := http.NewServeMux()
	httpHandler := handler.NewTrackingHTTPHandler(svc, log, jwtManager, ws.ServeTracking, handler.Options{
		RateLimit:      cfg.Tracking.RESTRateLimit,
		AllowDevTokens: cfg.JWT.AllowDevTokens,
	})
	httpHandler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           withConcurrencyLimit(maxConcurrent, mux),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Tracking gateway started on port %d", cfg.Server.Port),
		map[string]any{
			"port":           cfg.Server.Port,
			"max_concurrent": maxConcurrent,
			"database":       cfg.Database.Enabled,
			"redis":          cfg.Redis.Enabled,
			"rabbitmq":       cfg.RabbitMQ.Enabled,
		},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown; they end with ctx
		if err := srv.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		<-gatewayDone
		log.Info(ctx, "service_stopped", "Tracking gateway stopped", nil)
		return nil
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Server.Port})
			return err
		}
		return nil
	}
}

func newStore(pool *pgxpool.Pool) (ports.UnitOfWork, ports.LocationRepository) {
	return postgres.NewUnitOfWork(pool), postgres.NewLocationRepo()
}

// newPresence picks the shared Redis registry when enabled, otherwise the in-process map.
func newPresence(ctx context.Context, cfg *config.Config, log *logger.Logger) (ports.PresenceRegistry, func(), error) {
	if !cfg.Redis.Enabled {
		return service.NewMemoryPresence(), func() {}, nil
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
		return nil, nil, err
	}
	return redis.NewPresenceRegistry(rdb, cfg.Redis.KeyPrefix, cfg.Redis.PresenceTTL), func() { _ = rdb.Close() }, nil
}

// presenceHeartbeat renews shared entries once per ping interval; the
// in-process registry needs no renewal.
func presenceHeartbeat(cfg *config.Config) time.Duration {
	if !cfg.Redis.Enabled || cfg.Redis.PresenceTTL <= 0 {
		return 0
	}
	return cfg.Tracking.PingInterval
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// Long-lived websocket sessions hold a slot for their whole lifetime.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
