package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/dispatch"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/notify"
	"github.com/Ramsey-B/clover/pkg/ratelimit"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/sms"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	wallClock, err := clock.New(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	var (
		shutdownTracing func(context.Context) error
		db              database.DB
		redisClient     *redis.Client
		producer        *kafka.Producer
		sender          sms.Sender
		dispatcher      *dispatch.Dispatcher
		checker         *health.Checker
		server          *echo.Echo
	)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&startup.Dependency{
		Name: "tracing",
		StartFunc: func(ctx context.Context) error {
			var err error
			shutdownTracing, err = tracing.Init(ctx, tracing.Config{
				Enabled:     cfg.OTLPEnabled,
				ServiceName: cfg.AppName,
				Exporter:    "otlp",
				SampleRatio: cfg.TracingSampleRatio,
				OTLP: exporters.OTLPConfig{
					Endpoint: cfg.OTLPEndpoint,
					Protocol: cfg.OTLPProtocol,
					Insecure: cfg.OTLPInsecure,
				},
			})
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(ctx)
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(ctx, database.Config{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				Username:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "migrations",
		Needs: []string{"database"},
		StartFunc: func(ctx context.Context) error {
			instance, ok := db.(*database.DatabaseInstance)
			if !ok {
				return errors.New("migrations need the raw postgres handle")
			}
			driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
			if err != nil {
				return err
			}
			return database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			}).Migrate(cfg.DatabaseName, driver)
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "redis",
		StartFunc: func(ctx context.Context) error {
			var err error
			redisClient, err = redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "kafka",
		StartFunc: func(ctx context.Context) error {
			if !cfg.KafkaEnabled {
				logger.WithContext(ctx).Info("Kafka event publishing is disabled")
				return nil
			}
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaEventsTopic,
			}, logger)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "sms",
		StartFunc: func(ctx context.Context) error {
			var err error
			sender, err = sms.New(sms.Config{
				BaseURL:  cfg.SMSBaseURL,
				APIKey:   cfg.SMSAPIKey,
				From:     cfg.SMSFrom,
				Timeout:  cfg.SMSTimeout,
				TestMode: cfg.SMSTestMode,
			}, logger)
			return err
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "dispatcher",
		Needs: []string{"database", "migrations", "redis", "kafka", "sms"},
		StartFunc: func(ctx context.Context) error {
			if !cfg.DispatcherEnabled {
				logger.WithContext(ctx).Info("Dispatcher is disabled")
				return nil
			}

			notifications := repositories.NewNotificationRepository(db, logger)
			appointments := repositories.NewAppointmentRepository(db, logger)
			limiter := ratelimit.NewSendLimiter(redisClient, ratelimit.Config{
				Enabled:           cfg.RateLimitEnabled,
				MessagesPerWindow: cfg.RateLimitMessagesPerWindow,
				Window:            cfg.RateLimitWindow,
				MaxWait:           cfg.RateLimitMaxWait,
			}, logger)

			dispatcher = dispatch.NewDispatcher(
				notifications,
				notify.NewEvaluator(appointments, wallClock, logger),
				notify.NewRenderer(wallClock),
				sender,
				limiter,
				events.NewEmitter(producer, logger),
				wallClock,
				dispatch.Config{
					PollInterval: cfg.DispatcherPollInterval,
					BatchSize:    cfg.DispatcherBatchSize,
					SendTimeout:  cfg.DispatcherSendTimeout,
				},
				logger,
			)

			// The poll loop must outlive the startup context; Stop owns its
			// shutdown.
			return dispatcher.Start(context.Background())
		},
		StopFunc: func(ctx context.Context) error {
			if dispatcher == nil {
				return nil
			}
			return dispatcher.Stop(ctx)
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "server",
		Needs: []string{"database", "migrations", "redis", "kafka", "dispatcher"},
		StartFunc: func(ctx context.Context) error {
			notifications := repositories.NewNotificationRepository(db, logger)
			appointments := repositories.NewAppointmentRepository(db, logger)
			households := repositories.NewHouseholdRepository(db, logger)
			locations := repositories.NewLocationRepository(db, logger)

			service := notify.NewService(
				db,
				notifications,
				appointments,
				households,
				notify.NewRenderer(wallClock),
				events.NewEmitter(producer, logger),
				wallClock,
				logger,
			)

			e := echo.New()
			e.HideBanner = true
			e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
			e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
			e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
			e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
			e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
			e.HTTPErrorHandler = middleware.Error(logger)

			e.Use(otelecho.Middleware(cfg.AppName))
			e.Use(middleware.Context())
			e.Use(middleware.Logger(logger))
			e.Use(echomw.Recover())
			e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowOrigins: cfg.AllowOrigins,
				AllowMethods: cfg.AllowMethods,
			}))

			var worker health.Worker
			if dispatcher != nil {
				worker = dispatcher
			}
			var redisProbe *goredis.Client
			if redisClient != nil {
				redisProbe = redisClient.Redis()
			}
			checker = health.NewChecker(db, redisProbe, worker, version)
			checker.RegisterRoutes(e)
			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			g := e.Group("")
			handlers.NewAppointmentHandler(service, appointments).RegisterRoutes(g)
			handlers.NewHouseholdHandler(service, households).RegisterRoutes(g)
			handlers.NewLocationHandler(locations).RegisterRoutes(g)

			server = e
			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("http server stopped unexpectedly")
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if server == nil {
				return nil
			}
			if checker != nil {
				checker.SetReady(false)
			}
			return server.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}

	checker.SetReady(true)
	logger.WithFields(map[string]any{
		"port":    cfg.Port,
		"version": version,
	}).Infof("%s is ready", cfg.AppName)

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(stopCtx)
}
