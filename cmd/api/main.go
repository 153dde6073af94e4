package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/api/routes"
	"github.com/gocomet/ride-dispatch/internal/config"
	"github.com/gocomet/ride-dispatch/internal/domain/driver"
	"github.com/gocomet/ride-dispatch/internal/notify"
	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/internal/service/availability"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/pricing"
	"github.com/gocomet/ride-dispatch/internal/storage"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/gocomet/ride-dispatch/pkg/database"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/monitoring"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ride dispatch service",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp = monitoring.Disabled()
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized", logger.String("app_name", cfg.NewRelic.AppName))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cache.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
			MinIdleConn: cfg.Redis.MinIdleConn,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
		}
		defer cache.Close(redisClient)
		appLogger.Info("Connected to Redis")
	}

	// Initialize PostgreSQL
	var postgresDB *sql.DB
	if cfg.Database.Enabled {
		postgresDB, err = database.NewPostgresDB(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.Name,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConnections,
			MaxIdle:     cfg.Database.MaxIdleConns,
			MaxLifetime: cfg.Database.MaxLifetime,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer postgresDB.Close()
		appLogger.Info("Connected to PostgreSQL")

		if cfg.Features.AutoMigrate {
			if err := storage.Migrate(ctx, postgresDB); err != nil {
				appLogger.Fatal("Failed to migrate schema", logger.Err(err))
			}
		}
	}

	directory, archive := buildStores(cfg, postgresDB, redisClient, appLogger)

	// Driver availability
	poolOpts := []availability.Option{}
	if cfg.Availability.ScoreBy == "eta" {
		poolOpts = append(poolOpts, availability.WithScorer(availability.ETAScorer(cfg.Pricing.AverageSpeedKMH)))
	}
	if redisClient != nil {
		mirror := availability.NewMirror(availability.NewRedisStore(redisClient), cfg.Availability.MirrorBuffer, appLogger)
		go mirror.Run(ctx)
		poolOpts = append(poolOpts, availability.WithMirror(mirror))
	}
	pool := availability.NewPool(appLogger, availability.Config{MaxRadiusKM: cfg.Availability.MaxRadiusKM}, poolOpts...)

	// Realtime delivery
	var wsHub *websocket.Hub
	notifiers := notify.Multi{}
	if cfg.Features.EnableRealTimeUpdates {
		wsHub = websocket.NewHub(appLogger)
		go wsHub.Run(ctx)
		notifiers = append(notifiers, notify.NewWebsocketNotifier(wsHub, appLogger))
	}
	broker, closeBroker := buildBroker(cfg.Events, appLogger)
	if broker != nil {
		notifiers = append(notifiers, broker)
	}
	defer closeBroker()

	outbox := notify.NewQueue(notifiers, cfg.Events.QueueSize, appLogger)
	outboxDone := make(chan struct{})
	go func() {
		outbox.Run(ctx)
		close(outboxDone)
	}()

	// Dispatch
	rides := dispatch.NewService(dispatchConfig(cfg.Dispatch), pool, directory, appLogger,
		dispatch.WithNotifier(outbox),
		dispatch.WithArchive(archive),
		dispatch.WithMonitor(nrApp),
	)
	sweeper := dispatch.NewSweeper(rides, appLogger)
	go sweeper.Run(ctx)

	// Pricing
	var demand pricing.DemandFunc
	if cfg.Features.EnableSurgePricing {
		demand = rides.Demand
	}
	prices := pricing.NewService(redisClient, pricingConfig(cfg.Pricing), demand)

	// Metrics
	observability.RegisterPoolGauges(prometheus.DefaultRegisterer, func() (int, int, int) {
		s := pool.Stats()
		return s.Online, s.Busy, s.Available
	})
	observability.RegisterActiveRides(prometheus.DefaultRegisterer, rides.ActiveRides)
	if nrApp.IsEnabled() {
		go reportPoolStats(ctx, nrApp, postgresDB, redisClient)
	}

	// Initialize handlers with dependencies
	upgrader := gorilla.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins in development
		},
	}
	h := handlers.NewHandlers(rides, prices, wsHub, upgrader, appLogger)

	// Initialize Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), routes.CORSMiddleware(cfg.Server.AllowedOrigins))
	routes.SetupRoutes(router, h, nrApp.Application)

	appLogger.Info("Routes configured")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	select {
	case <-outboxDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Notification queue not flushed before shutdown")
	}

	appLogger.Info("Server stopped gracefully",
		logger.Int("active_rides", rides.ActiveRides()),
		logger.Int64("notifications_dropped", outbox.Dropped()),
	)
}

// buildStores picks Postgres backed stores when a database is configured and
// in-memory ones otherwise
func buildStores(cfg *config.Config, db *sql.DB, redisClient *redis.Client, log *logger.Logger) (dispatch.Directory, dispatch.Archive) {
	if db == nil {
		dir := storage.NewMemoryDirectory()
		if cfg.Database.FixturesPath != "" {
			f, err := os.Open(cfg.Database.FixturesPath)
			if err != nil {
				log.Fatal("Failed to open directory fixtures", logger.Err(err))
			}
			n, err := dir.LoadFixtures(f)
			f.Close()
			if err != nil {
				log.Fatal("Failed to load directory fixtures", logger.Err(err))
			}
			log.Info("Loaded directory fixtures", logger.Int("cards", n))
		}
		log.Warn("Database disabled; rides are archived in memory only")
		return dir, storage.NewMemoryArchive()
	}

	var dir dispatch.Directory = storage.NewPostgresDirectory(db)
	if redisClient != nil {
		dir = storage.NewCachedDirectory(storage.NewPostgresDirectory(db), redisClient, cfg.Cache.TTLDirectory, log)
	}
	return dir, storage.NewPostgresArchive(db, log)
}

// buildBroker returns the configured event publisher and its closer
func buildBroker(cfg config.EventsConfig, log *logger.Logger) (notify.Notifier, func()) {
	switch cfg.Broker {
	case "kafka":
		p := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info("Publishing ride events to Kafka", logger.String("topic", cfg.KafkaTopic))
		return p, func() {
			if err := p.Close(); err != nil {
				log.Warn("Failed to close Kafka writer", logger.Err(err))
			}
		}
	case "rabbitmq":
		p, err := notify.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", logger.Err(err))
		}
		log.Info("Publishing ride events to RabbitMQ", logger.String("exchange", cfg.RabbitExchange))
		return p, func() {
			if err := p.Close(); err != nil {
				log.Warn("Failed to close RabbitMQ channel", logger.Err(err))
			}
		}
	}
	return nil, func() {}
}

func dispatchConfig(c config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		MaxCandidates:     c.MaxCandidates,
		OfferTTL:          c.OfferTTL,
		RequestTimeout:    c.RequestTimeout,
		MaxRounds:         c.MaxRounds,
		SweepInterval:     c.SweepInterval,
		TerminalRetention: c.TerminalRetention,
		RequirePickupOTP:  c.RequirePickupOTP,
		CommissionRate:    c.CommissionRate,
		ArchiveRetries:    c.ArchiveRetries,
		ArchiveBackoff:    c.ArchiveBackoff,
	}
}

func pricingConfig(c config.PricingConfig) pricing.Config {
	return pricing.Config{
		BaseFare: map[driver.VehicleType]float64{
			driver.VehicleEconomy: c.BaseFare.Economy,
			driver.VehiclePremium: c.BaseFare.Premium,
			driver.VehicleLuxury:  c.BaseFare.Luxury,
		},
		PerKMRate: map[driver.VehicleType]float64{
			driver.VehicleEconomy: c.PerKMRate.Economy,
			driver.VehiclePremium: c.PerKMRate.Premium,
			driver.VehicleLuxury:  c.PerKMRate.Luxury,
		},
		PerMinuteRate: map[driver.VehicleType]float64{
			driver.VehicleEconomy: c.PerMinuteRate.Economy,
			driver.VehiclePremium: c.PerMinuteRate.Premium,
			driver.VehicleLuxury:  c.PerMinuteRate.Luxury,
		},
		MinimumFare:        c.MinimumFare,
		MaxSurgeMultiplier: c.MaxSurgeMultiplier,
		MinSurgeMultiplier: c.MinSurgeMultiplier,
		AverageSpeedKMH:    c.AverageSpeedKMH,
	}
}

// reportPoolStats forwards connection pool stats to New Relic every minute
func reportPoolStats(ctx context.Context, nrApp *monitoring.NewRelicApp, db *sql.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if db != nil {
				nrApp.RecordDatabasePoolStats(database.PoolStats(db))
			}
			if redisClient != nil {
				nrApp.RecordRedisPoolStats(cache.GetClientStats(redisClient))
			}
		}
	}
}
