// Package main is the entry point for the TenderWatch queue API server.
//
// It loads configuration, connects to Postgres, wires the dispatch pipeline
// (enqueuer, dispatcher, admin operations, stats) behind the HTTP chassis,
// and starts listening for requests.
//
// In local mode (APP_ENV=local), it runs as a standard HTTP server on the
// configured port. Graceful shutdown is handled via OS signal interception
// (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenderwatch/internal/api/handlers"
	"tenderwatch/internal/archive"
	"tenderwatch/internal/catalog"
	"tenderwatch/internal/config"
	"tenderwatch/internal/core"
	"tenderwatch/internal/db"
	"tenderwatch/internal/dispatch"
	"tenderwatch/internal/queue"
	"tenderwatch/internal/senders"
	"tenderwatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// Load configuration. SSM resolution is skipped when APP_ENV=local, so
	// the provider is only constructed for deployed environments.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tenderwatch queue API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	typedLogger := &slogAdapter{logger: logger}
	clock := types.RealClock{}

	// Database pool. Tuning parameters come from DatabaseConfig so deployed
	// environments can size the pool per Lambda concurrency.
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}

	repo := db.NewJobRepository(pool)

	// AWS clients. BaseEndpoint is overridden when AWS_ENDPOINT_URL is set
	// (LocalStack).
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var tickMetrics dispatch.TickMetrics = dispatch.NoopTickMetrics{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		tickMetrics = dispatch.NewCloudWatchTickMetrics(cwClient, typedLogger)
	}

	// Delivery pipeline.
	enqueuer := dispatch.NewEnqueuer(repo, clock, typedLogger, cfg.Queue.DefaultMaxRetries)

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
			return fmt.Errorf("creating archiver: %w", err)
		}
		archiver = fileArchiver
	}
	adminOps := dispatch.NewAdminOps(repo, archiver, clock, typedLogger)
	statsAgg := dispatch.NewStatsAggregator(repo)

	trigger := queue.NewDispatchTrigger(sqsClient, cfg.AWS.DispatchQueue, clock, logger)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes,
		&dbProbe{pool: pool},
		&sqsProbe{client: sqsClient, queueURL: cfg.AWS.DispatchQueue},
	)
	srv.RegisterCloser(poolCloser{pool})

	queueHandler := handlers.NewQueueHandler(
		enqueuer,
		dispatcher,
		adminOps,
		statsAgg,
		repo,
		trigger,
		srv.Validator,
		logger,
		cfg.Queue.BatchSize,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		queueHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from DatabaseConfig and verifies
// connectivity with a ping.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// dbProbe reports database health for the /health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// sqsProbe verifies the dispatch queue is reachable. Enqueue still works
// when SQS is down, but jobs sit pending until a scheduled sweep, so the
// queue's reachability belongs in the health report.
type sqsProbe struct {
	client   *sqs.Client
	queueURL string
}

func (p *sqsProbe) Name() string { return "sqs" }

func (p *sqsProbe) Check(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(p.queueURL),
	})
	if err != nil {
		return fmt.Errorf("dispatch queue unreachable: %w", err)
	}
	return nil
}

// poolCloser adapts pgxpool.Pool's valueless Close to the io.Closer shape
// the server's shutdown sequence expects.
type poolCloser struct {
	pool *pgxpool.Pool
}

func (c poolCloser) Close() error {
	c.pool.Close()
	return nil
}

var (
	_ types.Logger     = (*slogAdapter)(nil)
	_ core.HealthProbe = (*dbProbe)(nil)
	_ core.HealthProbe = (*sqsProbe)(nil)
)
