package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/auth"
	"github.com/tesseract-hub/pharmacy-request-service/internal/cache"
	"github.com/tesseract-hub/pharmacy-request-service/internal/config"
	"github.com/tesseract-hub/pharmacy-request-service/internal/consumer"
	"github.com/tesseract-hub/pharmacy-request-service/internal/database"
	"github.com/tesseract-hub/pharmacy-request-service/internal/handlers"
	"github.com/tesseract-hub/pharmacy-request-service/internal/metrics"
	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	pharmacyNats "github.com/tesseract-hub/pharmacy-request-service/internal/nats"
	"github.com/tesseract-hub/pharmacy-request-service/internal/notify"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/scheduler"
	"github.com/tesseract-hub/pharmacy-request-service/internal/seeder"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
	"github.com/tesseract-hub/pharmacy-request-service/internal/storage"
)

// repositories groups the storage backends the services run on
type repositories struct {
	requests   repository.RequestRepository
	pharmacies repository.PharmacyRepository
	users      repository.UserRepository
	messages   repository.MessageRepository
	directory  repository.DirectoryRepository
	complaints repository.ComplaintRepository
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	} else if cfg.IsProduction() {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	m := metrics.New()

	// Initialize Redis client
	redisClient := initRedis(cfg, logger)
	defer func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	directoryCache := cache.NewDirectoryCache(cache.CacheConfig{
		RedisClient: redisClient,
		Logger:      logger,
		TTL:         cfg.Redis.CacheTTL,
	})

	health := handlers.NewHealthHandlers()
	health.AddStats("directory_cache", directoryCache.GetStats)

	// Initialize storage
	var repos repositories
	if cfg.UsesMemoryStore() {
		store := repository.NewMemoryStore()
		repos = repositories{
			requests:   store.Requests(),
			pharmacies: store.Pharmacies(),
			users:      store.Users(),
			messages:   store.Messages(),
			directory:  store.Directory(),
			complaints: store.Complaints(),
		}
		logger.Warn("Using in-memory storage, all state is lost on restart")
	} else {
		dbManager, err := database.NewManager(ctx, database.ManagerConfig{
			DSN:                 cfg.GetDatabaseDSN(),
			Logger:              logger,
			MaxOpenConns:        cfg.Database.MaxOpenConns,
			MaxIdleConns:        cfg.Database.MaxIdleConns,
			ConnectionTimeout:   10 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer dbManager.Close()

		if cfg.Database.AutoMigrate {
			if err := dbManager.Migrate(); err != nil {
				logger.WithError(err).Fatal("Failed to migrate database")
			}
			logger.Info("Database migrated")
		}

		db, err := dbManager.DB()
		if err != nil {
			logger.WithError(err).Fatal("Database unavailable")
		}
		repos = repositories{
			requests:   repository.NewRequestRepository(db),
			pharmacies: repository.NewPharmacyRepository(db),
			users:      repository.NewUserRepository(db),
			messages:   repository.NewMessageRepository(db),
			directory:  repository.NewDirectoryRepository(db),
			complaints: repository.NewComplaintRepository(db),
		}
		health.AddCheck("database", dbManager)
		health.AddStats("database", dbManager.GetStats)
	}

	if cfg.Database.Seed {
		inserted, err := seeder.SeedDirectory(ctx, repos.directory, seeder.DefaultRegions(), logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to seed directory")
		}
		if inserted > 0 {
			// ids cached in Redis by a previous deployment no longer exist
			if err := directoryCache.Invalidate(ctx); err != nil {
				logger.WithError(err).Warn("Failed to invalidate directory cache")
			}
		}
	}

	// Initialize push notifications
	dispatcher := notify.NewDispatcher(initNotifier(ctx, cfg, logger), notify.DispatcherConfig{
		Timeout: cfg.Push.Timeout,
		Logger:  logger,
		Metrics: m,
	})
	health.AddStats("push", func() map[string]interface{} {
		return map[string]interface{}{"breaker_state": dispatcher.State()}
	})

	// Initialize prescription storage
	deps := services.Collaborators{Push: dispatcher, Metrics: m}
	if cfg.Storage.Bucket != "" {
		blobs, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			PublicBaseURL:   cfg.Storage.PublicBaseURL,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize S3 storage, prescriptions cannot be uploaded")
		} else {
			deps.Blobs = blobs
			logger.WithField("bucket", cfg.Storage.Bucket).Info("Prescription storage initialized")
		}
	} else {
		logger.Warn("S3_BUCKET not configured, prescriptions cannot be uploaded")
	}

	// Initialize NATS client for domain events
	var natsClient *pharmacyNats.Client
	var natsSubscriber *pharmacyNats.Subscriber
	if cfg.NATS.Enabled {
		natsClient, err = pharmacyNats.NewClient(pharmacyNats.Config{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: time.Duration(cfg.NATS.ReconnectWait) * time.Second,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize NATS, domain events disabled")
		} else {
			deps.Publisher = pharmacyNats.NewPublisher(natsClient, m, logger)
			natsSubscriber = pharmacyNats.NewSubscriber(natsClient, logger)
			health.AddStats("nats", natsSubscriber.GetStats)
			logger.Info("NATS client initialized for domain events")
		}
	} else {
		logger.Info("NATS disabled, admin stream uses polling")
	}
	defer func() {
		if natsSubscriber != nil {
			natsSubscriber.Close()
		}
		if natsClient != nil {
			natsClient.Close()
		}
	}()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token manager")
	}

	// Initialize services
	directoryService := services.NewDirectoryService(repos.directory, directoryCache, logger)
	eligibility := services.NewEligibilityResolver(repos.pharmacies, deps)
	requestService := services.NewRequestService(
		repos.requests, repos.pharmacies, repos.users,
		directoryService, eligibility,
		services.RequestServiceConfig{
			LocalHold:    cfg.Lifecycle.LocalHold,
			NationalHold: cfg.Lifecycle.NationalHold,
		},
		deps, logger,
	)
	messageService := services.NewMessageService(repos.messages, repos.requests, repos.users, repos.pharmacies, deps, logger)
	subscriptionService := services.NewSubscriptionService(repos.pharmacies, deps, logger)
	accountService := services.NewAccountService(repos.users, repos.pharmacies, directoryService, tokens, deps, logger)
	complaintService := services.NewComplaintService(repos.complaints, repos.users, repos.pharmacies, deps, logger)

	if err := accountService.EnsureAdmin(ctx, cfg.Admin.Phone, cfg.Admin.Password); err != nil {
		logger.WithError(err).Warn("Failed to create bootstrap administrator")
	}

	// Initialize subscription-expired consumer
	var subscriptionConsumer *consumer.SubscriptionEventConsumer
	if natsClient != nil {
		subscriptionConsumer, err = consumer.NewSubscriptionEventConsumer(natsClient.Conn(), repos.pharmacies, dispatcher, m, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create subscription event consumer")
		} else if err := subscriptionConsumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("Failed to start subscription event consumer")
		}
	}
	defer func() {
		if subscriptionConsumer != nil {
			subscriptionConsumer.Stop()
		}
	}()

	// Initialize sweep scheduler
	sweeper := scheduler.NewSweeper(subscriptionService, requestService, cfg.Sweep, m, logger)
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Warn("Failed to start sweep scheduler (continuing without scheduled sweeps)")
	}
	defer sweeper.Stop()
	health.AddStats("scheduler", sweeper.GetStats)

	var eventSource handlers.EventSource
	if natsSubscriber != nil {
		eventSource = natsSubscriber
	}

	router := setupRouter(cfg, logger, m, tokens, health,
		handlers.NewAccountHandlers(accountService, logger),
		handlers.NewDirectoryHandlers(directoryService, logger),
		handlers.NewRequestHandlers(requestService, logger),
		handlers.NewMessageHandlers(messageService, logger),
		handlers.NewAdminHandlers(accountService, subscriptionService, sweeper, logger),
		handlers.NewUserHandlers(accountService, logger),
		handlers.NewComplaintHandlers(complaintService, logger),
		handlers.NewEventStreamHandlers(requestService, eventSource, logger),
	)

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("address", cfg.GetServerAddress()).Info("Starting pharmacy request service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down pharmacy request service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	dispatcher.Wait()
	logger.Info("Pharmacy request service stopped")
}

// initRedis initializes the Redis client
func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		logger.Warn("Redis URL not configured, caching will use local memory only")
		return nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Warn("Failed to parse Redis URL, using local memory cache only")
		return nil
	}
	opt.MaxRetries = cfg.Redis.MaxRetries
	opt.PoolSize = cfg.Redis.PoolSize
	opt.MinIdleConns = cfg.Redis.MinIdleConns

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Failed to connect to Redis, using local memory cache only")
		client.Close()
		return nil
	}

	logger.Info("Redis connection established")
	return client
}

// initNotifier returns the FCM notifier, or a logging notifier when push is
// not configured
func initNotifier(ctx context.Context, cfg *config.Config, logger *logrus.Logger) notify.Notifier {
	if cfg.Push.ProjectID == "" {
		logger.Warn("FCM_PROJECT_ID not configured, push notifications are only logged")
		return notify.NewLogNotifier(logger)
	}

	fcmCfg := notify.FCMConfig{ProjectID: cfg.Push.ProjectID}
	if cfg.Push.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.Push.CredentialsFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to read FCM credentials, push notifications are only logged")
			return notify.NewLogNotifier(logger)
		}
		fcmCfg.CredentialsJSON = string(data)
	}

	notifier, err := notify.NewFCMNotifier(ctx, fcmCfg)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize FCM, push notifications are only logged")
		return notify.NewLogNotifier(logger)
	}
	logger.WithField("project_id", cfg.Push.ProjectID).Info("FCM push notifications initialized")
	return notifier
}

type routeRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// setupRouter configures the Gin router with middleware and routes
func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	m *metrics.Metrics,
	tokens *auth.TokenManager,
	health *handlers.HealthHandlers,
	accounts *handlers.AccountHandlers,
	directory *handlers.DirectoryHandlers,
	protected ...routeRegistrar,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.SetupCORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(m.GinMiddleware())

	// Health check endpoints
	health.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api/v1")
	accounts.RegisterRoutes(api)
	directory.RegisterRoutes(api)

	authenticated := api.Group("", middleware.Authenticate(tokens))
	for _, h := range protected {
		h.RegisterRoutes(authenticated)
	}

	return router
}
