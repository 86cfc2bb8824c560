package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadflow/leadflow-backend/internal/api/handler"
	"github.com/leadflow/leadflow-backend/internal/api/router"
	"github.com/leadflow/leadflow-backend/internal/config"
	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/platform"
	"github.com/leadflow/leadflow-backend/internal/queue/executor"
	qstorage "github.com/leadflow/leadflow-backend/internal/queue/storage"
	"github.com/leadflow/leadflow-backend/internal/schedule"
	"github.com/leadflow/leadflow-backend/internal/sequence/engine"
	sstorage "github.com/leadflow/leadflow-backend/internal/sequence/storage"
	"github.com/leadflow/leadflow-backend/internal/worker"
	"github.com/leadflow/leadflow-backend/shared/logger"
	"github.com/leadflow/leadflow-backend/shared/mailer"
	"github.com/leadflow/leadflow-backend/shared/postgresql"
	"github.com/leadflow/leadflow-backend/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableSource,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.RabbitMQ.Host,
		Port:              cfg.RabbitMQ.Port,
		User:              cfg.RabbitMQ.User,
		Password:          cfg.RabbitMQ.Password,
		VHost:             cfg.RabbitMQ.VHost,
		Exchange:          cfg.RabbitMQ.Exchange,
		Queue:             cfg.RabbitMQ.Queue,
		RoutingKey:        cfg.RabbitMQ.RoutingKey,
		DialAttempts:      cfg.RabbitMQ.DialAttempts,
		DialRetryInterval: cfg.RabbitMQ.DialRetryInterval,
		Heartbeat:         cfg.RabbitMQ.Heartbeat,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	jobStore := qstorage.NewStorage(dbClient, appLogger.Logger)
	sequenceStore := sstorage.NewStorage(dbClient, appLogger.Logger)
	leadStore := crm.NewLeadStore(dbClient, appLogger.Logger)
	activityLog := crm.NewActivityLog(dbClient, appLogger.Logger)

	smtpMailer := mailer.New(&mailer.Config{
		Host:        cfg.Email.Host,
		Port:        cfg.Email.Port,
		User:        cfg.Email.User,
		Password:    cfg.Email.Password,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, appLogger.Logger)

	policy := schedule.DefaultPolicy()
	if cfg.Schedule.StartHour != 0 || cfg.Schedule.EndHour != 0 {
		loc := time.UTC
		if cfg.Schedule.Timezone != "" {
			if parsed, err := time.LoadLocation(cfg.Schedule.Timezone); err == nil {
				loc = parsed
			}
		}
		policy = schedule.NewPolicy(cfg.Schedule.StartHour, cfg.Schedule.EndHour, loc)
	}
	sequenceEngine := engine.New(sequenceStore, leadStore, smtpMailer, activityLog, policy, appLogger.Logger)

	// A one-shot worker backs the manual tick endpoint. It shares the
	// same atomic claim as the worker service, so running both is safe.
	platformClient := platform.NewClient(&platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		APIKey:  cfg.Platform.APIKey,
		Timeout: cfg.Platform.Timeout,
	}, appLogger.Logger)
	exec := executor.New(jobStore, cfg.Worker.JobTimeout, appLogger.Logger)
	for _, h := range jobHandlers(leadStore, smtpMailer, sequenceEngine, platformClient, appLogger.Logger) {
		if err := exec.Register(h); err != nil {
			return fmt.Errorf("failed to register job handlers: %w", err)
		}
	}
	ticker := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Jobs:              jobStore,
		Executor:          exec,
		Engine:            sequenceEngine,
		JobBatchSize:      cfg.Worker.JobBatchSize,
		SequenceBatchSize: cfg.Worker.SequenceBatchSize,
	})

	deps := &handler.Dependencies{
		Logger:     appLogger.Logger,
		Jobs:       jobStore,
		Sequences:  sequenceStore,
		Engine:     sequenceEngine,
		Leads:      leadStore,
		Activities: activityLog,
		Events:     rabbitClient,
		Ticker:     ticker,
		Health:     dbClient,
		AppName:    cfg.App.Name,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP server listening", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("HTTP server error", slog.String("error", err.Error()))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP server shutdown timed out", slog.String("error", err.Error()))
	}

	appLogger.Info("API service shutdown complete")
	return nil
}

func jobHandlers(
	leads *crm.LeadStore,
	smtpMailer *mailer.Mailer,
	sequenceEngine *engine.Engine,
	platformClient *platform.Client,
	log *slog.Logger,
) []executor.Handler {
	handlers := []executor.Handler{
		worker.NewSendEmailHandler(leads, smtpMailer),
		worker.NewFollowupHandler(sequenceEngine),
		worker.NewProcessWebhookHandler(leads, sequenceEngine, log),
	}
	return append(handlers, worker.PlatformHandlers(platformClient)...)
}
