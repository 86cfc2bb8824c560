package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	// Storage and collaborators.
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

	policy := sendPolicy(&cfg.Schedule, appLogger.Logger)
	sequenceEngine := engine.New(sequenceStore, leadStore, smtpMailer, activityLog, policy, appLogger.Logger)

	platformClient := platform.NewClient(&platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		APIKey:  cfg.Platform.APIKey,
		Timeout: cfg.Platform.Timeout,
	}, appLogger.Logger)

	// Job executor with one handler per job type.
	exec := executor.New(jobStore, cfg.Worker.JobTimeout, appLogger.Logger)
	if err := registerHandlers(exec, leadStore, smtpMailer, sequenceEngine, platformClient, appLogger.Logger); err != nil {
		return fmt.Errorf("failed to register job handlers: %w", err)
	}

	tickWorker := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Jobs:              jobStore,
		Executor:          exec,
		Engine:            sequenceEngine,
		TickInterval:      cfg.Worker.TickInterval,
		JobBatchSize:      cfg.Worker.JobBatchSize,
		SequenceBatchSize: cfg.Worker.SequenceBatchSize,
		StaleJobCutoff:    cfg.Worker.StaleJobCutoff,
		ReaperSchedule:    cfg.Worker.ReaperSchedule,
	})
	eventConsumer := worker.NewEngagementConsumer(rabbitClient, sequenceEngine, appLogger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return tickWorker.Run(groupCtx) })
	group.Go(func() error { return eventConsumer.Run(groupCtx) })

	appLogger.Info("Worker service started successfully")

	if err := group.Wait(); err != nil {
		appLogger.Error("Worker error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func registerHandlers(
	exec *executor.Executor,
	leads *crm.LeadStore,
	smtpMailer *mailer.Mailer,
	sequenceEngine *engine.Engine,
	platformClient *platform.Client,
	log *slog.Logger,
) error {
	handlers := []executor.Handler{
		worker.NewSendEmailHandler(leads, smtpMailer),
		worker.NewFollowupHandler(sequenceEngine),
		worker.NewProcessWebhookHandler(leads, sequenceEngine, log),
	}
	handlers = append(handlers, worker.PlatformHandlers(platformClient)...)
	for _, h := range handlers {
		if err := exec.Register(h); err != nil {
			return err
		}
	}
	return nil
}

func sendPolicy(cfg *config.ScheduleConfig, log *slog.Logger) schedule.Policy {
	if cfg.StartHour == 0 && cfg.EndHour == 0 {
		return schedule.DefaultPolicy()
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Warn("Unknown timezone, falling back to UTC", slog.String("timezone", cfg.Timezone))
		} else {
			loc = parsed
		}
	}
	return schedule.NewPolicy(cfg.StartHour, cfg.EndHour, loc)
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// initRabbitMQ initializes the engagement-events client
func initRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		Exchange:          cfg.Exchange,
		Queue:             cfg.Queue,
		RoutingKey:        cfg.RoutingKey,
		PrefetchCount:     cfg.PrefetchCount,
		DialAttempts:      cfg.DialAttempts,
		DialRetryInterval: cfg.DialRetryInterval,
		Heartbeat:         cfg.Heartbeat,
	}, log)
}
