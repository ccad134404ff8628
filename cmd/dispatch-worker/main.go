// Package main is the entrypoint for the Dispatch Worker Lambda function.
//
// The Dispatch Worker consumes trigger messages from the Dispatch SQS Queue
// and runs delivery ticks: claim a batch of due jobs, attempt delivery via
// the email sender, and apply retry policy to failures. Correctness under
// concurrent invocations rests on the store's atomic claim, so multiple
// workers draining the queue at once never double-send a job.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load configuration (SSM-resolved outside local mode).
//  3. Connect the Postgres pool.
//  4. Initialize the email sender and dispatcher.
//  5. Register handler and call lambda.Start.
//
// Lambda SQS integration uses partial batch responses: trigger messages
// whose tick fails are returned in batchItemFailures so SQS redelivers them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenderwatch/internal/catalog"
	"tenderwatch/internal/config"
	"tenderwatch/internal/db"
	"tenderwatch/internal/dispatch"
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

// ticker is the slice of the dispatcher the handler needs.
type ticker interface {
	Tick(ctx context.Context, batchSize int) (types.TickResult, error)
}

// Handler holds the dependencies for the dispatch worker Lambda handler.
type Handler struct {
	dispatcher       ticker
	defaultBatchSize int
	logger           types.Logger
}

// Handle processes an SQS event containing one or more dispatch triggers.
// Each trigger runs one tick. A tick that fails outright is reported as a
// partial batch failure so SQS redelivers the trigger; per-job failures are
// resolved inside the tick and never fail the message.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process dispatch trigger",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage runs one dispatch tick for a single trigger message.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.DispatchMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal dispatch trigger",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure, do not retry (return nil to ACK).
		return nil
	}

	logger := h.logger.With(
		"trigger_id", msg.TriggerID,
		"reason", msg.Reason,
	)

	batchSize := msg.BatchSize
	if batchSize <= 0 {
		batchSize = h.defaultBatchSize
	}

	start := time.Now()
	result, err := h.dispatcher.Tick(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("dispatch tick: %w", err)
	}

	logger.Info("dispatch tick completed",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(result.Errors) > 0 {
		logger.Warn("dispatch tick reported errors", "errors", result.Errors)
	}

	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("dispatch worker Lambda initializing (cold start)")

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

	handler := &Handler{
		dispatcher:       dispatcher,
		defaultBatchSize: cfg.Queue.BatchSize,
		logger:           typedLogger,
	}

	logger.Info("dispatch worker Lambda initialized",
		"dispatch_queue", cfg.AWS.DispatchQueue,
		"batch_size", cfg.Queue.BatchSize,
		"concurrency", cfg.Queue.Concurrency,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. Enables local integration testing without the RIE.
	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads one SQS event from stdin, runs the handler, and exits.
func runLocal(handler *Handler, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading SQS event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		logger.Error("no input received on stdin")
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("failed to parse stdin as SQS event", "error", err)
		os.Exit(1)
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		os.Exit(1)
	}
	if len(response.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures",
			"failed_count", len(response.BatchItemFailures),
		)
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}

	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
}

var _ types.Logger = (*slogAdapter)(nil)
