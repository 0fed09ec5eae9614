package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locamove/internal/api"
	"locamove/internal/config"
	"locamove/internal/database"
	"locamove/internal/database/mongo"
	"locamove/internal/domain"
	"locamove/internal/events"
	"locamove/internal/logging"
	"locamove/internal/metrics"
	"locamove/internal/models"
	"locamove/internal/payments"
	"locamove/internal/repository"
	"locamove/internal/service"
	"locamove/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	catalog, err := loadCatalog(cfg, &logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, catalog, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	quotes := initQuoteRepository(cfg, redisClient, &logger)

	rules, err := cfg.RuleSet()
	if err != nil {
		return fmt.Errorf("build surcharge rules: %w", err)
	}

	eventBus := events.NewEventBus()

	mongoClient, err := initArchive(cfg, db, eventBus, &logger)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Close(ctx)
		}()
	}

	refundWorker := initRefundWorker(cfg, db, redisClient, &logger)

	var refunds domain.RefundWorker
	if refundWorker != nil {
		refunds = refundWorker
	}

	bookings := service.NewBookingService(db, rules, eventBus, refunds, quotes, cfg.Booking, &logger)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Booking, bookings, quotes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if refundWorker != nil {
		go refundWorker.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadCatalog reads the rate card from its own file so operations can edit it
// without touching service config. The config-embedded catalog is the fallback.
func loadCatalog(cfg *config.Config, logger *zerolog.Logger) ([]models.CatalogItem, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		if os.IsNotExist(err) && len(cfg.Catalog) > 0 {
			logger.Info().Str("catalog_path", catalogPath).Msg("catalog file missing, using config catalog")
			return cfg.Catalog, nil
		}
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return nil, err
	}

	var catalogConfig struct {
		Catalog []models.CatalogItem `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &catalogConfig); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return nil, err
	}

	if err := config.ValidateCatalog(catalogConfig.Catalog); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	return catalogConfig.Catalog, nil
}

func initDatabase(cfg *config.Config, catalog []models.CatalogItem, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	db.SetCatalog(catalog)
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initQuoteRepository(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.QuoteRepository {
	ttl := time.Duration(cfg.Booking.QuoteTTLSeconds) * time.Second
	memory := repository.NewMemoryQuoteRepository(ttl)

	if redisClient == nil {
		return memory
	}

	primary := repository.NewRedisQuoteRepository(redisClient, ttl)
	return repository.NewFailoverQuoteRepository(primary, memory, logger)
}

// initArchive connects to mongo and subscribes the booking archive to terminal
// status events. Returns nil without error when mongo is disabled.
func initArchive(cfg *config.Config, db *database.DB, eventBus *events.EventBus, logger *zerolog.Logger) (*mongo.Client, error) {
	if !cfg.Mongo.Enabled {
		return nil, nil
	}

	mongoClient, err := mongo.NewClient(cfg.Mongo, logger)
	if err != nil {
		return nil, fmt.Errorf("init mongo: %w", err)
	}
	logger.Info().Str("database", cfg.Mongo.Database).Msg("mongo connected")

	archive := mongo.NewBookingArchive(mongoClient.DB, time.Duration(cfg.Mongo.TimeoutSeconds)*time.Second)

	archiveHandler := func(event *events.Event) error {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event_type", event.Type).Msg("decode archive event")
			return err
		}

		ctx := context.Background()
		booking, err := db.GetBooking(ctx, payload.BookingID)
		if err != nil {
			logger.Error().Err(err).Int64("booking_id", payload.BookingID).Msg("load booking for archive")
			return err
		}

		if err := archive.Archive(ctx, booking); err != nil {
			logger.Error().Err(err).Int64("booking_id", payload.BookingID).Msg("archive booking")
			return err
		}
		return nil
	}

	// Архивируем только брони в терминальных статусах
	eventBus.Subscribe(events.EventBookingCompleted, archiveHandler)
	eventBus.Subscribe(events.EventBookingCancelled, archiveHandler)
	eventBus.Subscribe(events.EventBookingRejected, archiveHandler)

	return mongoClient, nil
}

func initRefundWorker(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) *worker.RefundWorker {
	if cfg.Payments.BaseURL == "" {
		logger.Warn().Msg("payments.base_url not set, refunds will not be paid out")
		return nil
	}

	paymentsClient := payments.NewClient(cfg.Payments, logger)

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.MaxRetries,
		InitialDelay:  time.Duration(cfg.Worker.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Worker.MaxDelaySeconds) * time.Second,
		BackoffFactor: 2,
	}

	return worker.NewRefundWorker(db, paymentsClient, redisClient, retry, log.Default())
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
