package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/config"
	"github.com/noah-isme/codequest-api/internal/database"
	"github.com/noah-isme/codequest-api/internal/handler"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/repository"
	"github.com/noah-isme/codequest-api/internal/router"
	"github.com/noah-isme/codequest-api/internal/scoring"
	"github.com/noah-isme/codequest-api/internal/service"
	cloud "github.com/noah-isme/codequest-api/pkg/cloudinary"
	"github.com/noah-isme/codequest-api/pkg/docker"
	"github.com/noah-isme/codequest-api/pkg/judge0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PostgresOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL, database.RedisOptions{ClientName: "codequest-api"})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, dashboard cache and event fan-out disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, event fan-out limited to redis")
			natsConn = nil
		} else {
			defer natsConn.Drain()
		}
	}

	runner, closeRunner, err := buildRunner(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create code runner")
	}
	defer closeRunner()

	aggregation, err := scoring.ParseAggregation(cfg.CodingAggregation)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid coding aggregation policy")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	testRepo := repository.NewTestRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	assetRepo := repository.NewAssetRepository(db)
	activityRepo := repository.NewActivityRepository(db)

	var mailer service.Mailer = service.NewLogMailer(logger)
	if cfg.MailEnabled() {
		mailer = service.NewSMTPMailer(service.SMTPConfig{
			Host:     cfg.EmailHost,
			Port:     cfg.EmailPort,
			Username: cfg.EmailUsername,
			Password: cfg.EmailPassword,
			From:     cfg.EmailFrom,
		}, logger)
	}

	verifyBaseURL := cfg.ServerURL + "/api/certificates"
	bus := service.NewEventBus(redisClient, natsConn, cfg.EventChannel, logger)

	auditService := service.NewAuditService(activityRepo, validate, logger)
	authService := service.NewAuthService(userRepo, mailer, validate, service.AuthConfig{
		JWTSecret:     cfg.JWTSecret,
		JWTExpiry:     cfg.JWTExpiry,
		ResetTokenTTL: cfg.ResetTokenTTL,
		FrontendURL:   cfg.FrontendURL,
	}, logger)
	testService := service.NewTestService(testRepo, auditService, bus, validate, logger)
	invitationService := service.NewInvitationService(invitationRepo, testRepo, mailer, auditService, validate, cfg.FrontendURL, logger)
	sessionService := service.NewSessionService(sessionRepo, submissionRepo, testRepo, analyticsRepo, invitationService, bus, validate, logger)
	submissionService := service.NewSubmissionService(
		submissionRepo, sessionRepo, testRepo, certificateRepo, analyticsRepo,
		invitationService, runner, bus,
		service.SubmissionConfig{Aggregation: aggregation, VerifyBaseURL: verifyBaseURL},
		validate, logger,
	)
	codeService := service.NewCodeService(runner, validate, logger)
	certificateService := service.NewCertificateService(certificateRepo, verifyBaseURL, logger)
	analyticsService := service.NewAnalyticsService(analyticsRepo, testRepo, submissionRepo, validate, logger)
	dashboardService := service.NewDashboardService(userRepo, testRepo, sessionRepo, certificateRepo, analyticsRepo, redisClient, cfg.DashboardCacheTTL, logger)
	userAdminService := service.NewUserAdminService(userRepo, auditService, validate, logger)
	seedService := service.NewSeedService(userRepo, testRepo, cfg.SeedEnabled, cfg.SeedToken, logger)

	// Session close finalises the submission before dashboards are
	// invalidated, so handler order matters.
	bus.Handle(submissionService.HandleSessionEvent)
	bus.Handle(dashboardService.HandleEvent)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	bus.Start(rootCtx)

	if cfg.AdminEmail != "" {
		created, err := seedService.EnsureAdmin(rootCtx, service.AdminSeed{
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
			Name:     cfg.AdminName,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to ensure admin account")
		} else if created {
			logger.Info().Str("email", cfg.AdminEmail).Msg("admin account created")
		}
	}

	sweeper := service.NewSessionSweeper(sessionService, invitationService, cfg.SessionSweepInterval, logger)
	go sweeper.Run(rootCtx)

	var assetHandler *handler.AssetHandler
	storage, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	switch {
	case err == nil:
		assetHandler = handler.NewAssetHandler(service.NewAssetService(storage, assetRepo, cfg.UploadMaxSizeMB, logger), logger)
	case errors.Is(err, cloud.ErrNotConfigured):
		logger.Warn().Msg("cloudinary not configured, asset uploads disabled")
	default:
		logger.Fatal().Err(err).Msg("failed to create cloudinary client")
	}

	analyticsHandler := handler.NewAnalyticsHandler(analyticsService, dashboardService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:    &logger,
		AccessLog: cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authService, logger),
		TestHandler:        handler.NewTestHandler(testService, logger),
		InvitationHandler:  handler.NewInvitationHandler(invitationService, logger),
		SessionHandler:     handler.NewSessionHandler(sessionService, logger),
		SubmissionHandler:  handler.NewSubmissionHandler(submissionService, logger),
		CodeHandler:        handler.NewCodeHandler(codeService, logger),
		CertificateHandler: handler.NewCertificateHandler(certificateService, logger),
		AnalyticsHandler:   analyticsHandler,
		AdminHandler:       handler.NewAdminHandler(userAdminService, auditService, analyticsHandler, logger),
		AssetHandler:       assetHandler,
		SeedHandler:        handler.NewSeedHandler(seedService, logger),
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:       healthProbes(db, redisClient, natsConn),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, cancelRoot, logger)
}

// buildRunner selects the execution backend. The returned close function is
// always safe to call.
func buildRunner(cfg config.Config, logger zerolog.Logger) (service.CodeRunner, func(), error) {
	if cfg.ExecutionProvider == config.ExecutionProviderDocker {
		executor, err := docker.NewDockerExecutor(docker.Config{
			Host:          cfg.DockerHost,
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, func() {}, err
		}
		sandbox := docker.NewSandbox(executor, docker.SandboxConfig{
			Timeout:       cfg.ExecutionTimeout,
			MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		})
		return sandbox, func() { _ = executor.Close() }, nil
	}

	client, err := judge0.NewClient(judge0.Config{
		BaseURL:      cfg.Judge0URL,
		APIKey:       cfg.Judge0APIKey,
		APIHost:      cfg.Judge0APIHost,
		PollInterval: cfg.Judge0PollInterval,
		MaxPolls:     cfg.Judge0MaxPolls,
		Logger:       logger,
	})
	if err != nil {
		return nil, func() {}, err
	}
	return client, func() {}, nil
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.Probe {
	probes := []handler.Probe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, handler.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if natsConn != nil {
		probes = append(probes, handler.Probe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return nil
			},
		})
	}
	return probes
}

func waitForShutdown(app *fiber.App, stopWorkers context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
