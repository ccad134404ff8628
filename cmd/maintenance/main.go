// Package main is the entrypoint for the Maintenance Lambda function.
//
// The Maintenance Lambda acts as a task multiplexer. EventBridge rules send
// JSON payloads indicating the TaskType, and the handler routes execution to
// the appropriate scheduler service. This consolidates the low-frequency
// queue maintenance tasks into a single Lambda to reduce cold starts and
// infrastructure sprawl.
//
// Handler flow:
//  1. Parse MaintenancePayload from EventBridge.
//  2. Determine the reference time (defaults to now, overridable for
//     backfill).
//  3. Switch on TaskType and call the appropriate service method.
//
// All tasks are idempotent, so no distributed lock is taken: two overlapping
// reclaim or purge runs resolve through the store's conditional updates, and
// overlapping sweeps are serialized by the atomic claim.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenderwatch/internal/archive"
	"tenderwatch/internal/catalog"
	"tenderwatch/internal/config"
	"tenderwatch/internal/db"
	"tenderwatch/internal/dispatch"
	"tenderwatch/internal/scheduler"
	"tenderwatch/internal/senders"
	"tenderwatch/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// Service interfaces define the subset of methods the handler calls.
// These allow clean decoupling from the concrete scheduler types.

// StaleReclaimer returns abandoned processing claims to the pending pool.
type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, now time.Time, threshold time.Duration) (int, error)
}

// TerminalPurger removes terminal jobs past their retention period.
type TerminalPurger interface {
	PurgeTerminal(ctx context.Context, retention time.Duration) (int, error)
}

// Sweeper runs one dispatch pass over the pending queue.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ServiceRegistry holds the service implementations the multiplexer routes
// to. Services are eagerly initialized during cold start and reused across
// invocations.
type ServiceRegistry struct {
	Reclaim StaleReclaimer
	Purge   TerminalPurger
	Sweep   Sweeper
}

// Handler holds the dependencies for the maintenance Lambda handler.
type Handler struct {
	Services       ServiceRegistry
	StaleThreshold time.Duration
	Retention      time.Duration
	WorkerID       string
	Logger         *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge, routing to the
// appropriate service method based on the TaskType.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "maintenance handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	items, err := h.dispatch(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", err,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)

	return result, nil
}

// dispatch routes a TaskType to the appropriate service method.
// Returns the number of items processed and any error.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskReclaimStale:
		return h.Services.Reclaim.ReclaimStale(ctx, now, h.StaleThreshold)

	case scheduler.TaskPurgeTerminal:
		return h.Services.Purge.PurgeTerminal(ctx, h.Retention)

	case scheduler.TaskDispatchTick:
		return h.Services.Sweep.Sweep(ctx)

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("maintenance Lambda initializing (cold start)")

	typedLogger := &slogAdapter{logger: logger}

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	clock := types.RealClock{}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	repo := db.NewJobRepository(pool)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	var tickMetrics dispatch.TickMetrics = dispatch.NoopTickMetrics{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		tickMetrics = dispatch.NewCloudWatchTickMetrics(cwClient, typedLogger)
	}

	mailer := senders.NewMailerClient(
		&http.Client{Timeout: 10 * time.Second},
		senders.MailerClientConfig{
			APIKey: cfg.Email.SendGridAPIKey,
			Logger: typedLogger,
		},
	)
	emailSender := senders.NewEmailSender(
		catalog.NewReader(pool),
		mailer,
		senders.NewRendererRegistry(),
		senders.EmailAddress{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
		clock,
		typedLogger,
	)

	dispatcher := dispatch.NewDispatcher(repo, emailSender, dispatch.Config{
		Policy: dispatch.RetryPolicy{
			BaseDelay: cfg.Queue.RetryBaseDelay,
			MaxDelay:  cfg.Queue.RetryMaxDelay,
		},
		SendTimeout: cfg.Queue.SendTimeout,
		Concurrency: cfg.Queue.Concurrency,
	}, tickMetrics, clock, typedLogger)

	var archiver dispatch.Archiver
	if cfg.Queue.ArchiveDir != "" {
		fileArchiver, err := archive.NewFileArchiver(cfg.Queue.ArchiveDir, clock, typedLogger)
		if err != nil {
			logger.Error("failed to create archiver", "error", err)
			os.Exit(1)
		}
		archiver = fileArchiver
	}
	adminOps := dispatch.NewAdminOps(repo, archiver, clock, typedLogger)

	// Unique worker ID for this Lambda instance, carried in logs so
	// overlapping invocations can be told apart.
	workerID := uuid.New().String()

	handler := &Handler{
		Services: ServiceRegistry{
			Reclaim: scheduler.NewReclaimService(repo, logger),
			Purge:   scheduler.NewPurgeService(adminOps, logger),
			Sweep:   scheduler.NewSweepService(dispatcher, cfg.Queue.BatchSize, logger),
		},
		StaleThreshold: cfg.Queue.StaleThreshold,
		Retention:      cfg.Queue.Retention,
		WorkerID:       workerID,
		Logger:         logger,
	}

	logger.Info("maintenance Lambda initialized",
		"worker_id", workerID,
		"stale_threshold", cfg.Queue.StaleThreshold.String(),
		"retention", cfg.Queue.Retention.String(),
	)

	lambda.Start(handler.Handle)
}

var _ types.Logger = (*slogAdapter)(nil)
