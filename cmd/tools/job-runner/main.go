// Package main implements the job-runner CLI tool for invoking queue
// maintenance tasks directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It constructs a scheduler.MaintenancePayload and
// invokes the maintenance dispatch logic directly.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=reclaim_stale
//	go run ./cmd/tools/job-runner --task=purge_terminal --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=dispatch_tick
//	go run ./cmd/tools/job-runner --list
//
// The tool reads DATABASE_URL from environment variables (or .env file via
// godotenv). In --dry-run mode, it prints the constructed JSON payload
// without executing. Tasks that only touch the database run locally;
// dispatch_tick requires the SendGrid mailer and is blocked in CLI context.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"tenderwatch/internal/archive"
	"tenderwatch/internal/db"
	"tenderwatch/internal/dispatch"
	"tenderwatch/internal/scheduler"
	"tenderwatch/internal/types"
)

// validTasks is the exhaustive set of TaskType values the maintenance
// multiplexer supports. Maintained in sync with the constants in
// internal/scheduler/types.go and the dispatch table in cmd/maintenance.
var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskDispatchTick:  "Claim and send a batch of pending notification jobs",
	scheduler.TaskReclaimStale:  "Return jobs stuck in processing past the liveness threshold to pending",
	scheduler.TaskPurgeTerminal: "Archive and delete terminal jobs past the retention period",
}

// tasksRequiringExternalServices lists tasks that cannot be executed locally
// because they depend on external services not available in the CLI context.
var tasksRequiringExternalServices = map[scheduler.TaskType]string{
	scheduler.TaskDispatchTick: "SendGrid mailer client (email delivery)",
}

// Operational constants matching the cmd/maintenance defaults.
// Duplicated here because cmd/maintenance is a main package and cannot be
// imported.
const (
	staleThreshold = 10 * time.Minute
	retention      = 90 * 24 * time.Hour
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

func main() {
	taskFlag := flag.String("task", "", "Task type to execute (e.g., reclaim_stale)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-01-15T02:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available task types and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke queue maintenance tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available task types.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	taskType := scheduler.TaskType(*taskFlag)
	if _, ok := validTasks[taskType]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task type %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}

	var refTime *time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T02:00:00Z\n")
			os.Exit(1)
		}
		refTime = &t
	}

	payload := scheduler.MaintenancePayload{
		Task:          taskType,
		ReferenceTime: refTime,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *dryRunFlag {
		printPayload(payload)
		return
	}

	if reason, ok := tasksRequiringExternalServices[taskType]; ok {
		fmt.Fprintf(os.Stderr, "error: task %q requires %s which is not available in CLI context\n", taskType, reason)
		fmt.Fprintf(os.Stderr, "  use --dry-run to generate the JSON payload for manual invocation\n")
		os.Exit(1)
	}

	// Load .env file for local development (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeTask(ctx, payload, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(payload.Task),
		"result", result,
	)
}

// executeTask wires up the database and service dependencies, then invokes
// the maintenance routing logic directly (bypassing Lambda).
//
// This mirrors the cold-start wiring in cmd/maintenance/main.go:
//  1. Connect to the database.
//  2. Determine reference time.
//  3. Dispatch to the appropriate scheduler service.
//
// No distributed lock is taken: a concurrent Lambda run of the same task
// resolves through the store's conditional updates.
func executeTask(ctx context.Context, payload scheduler.MaintenancePayload, logger *slog.Logger) (string, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return "", fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return "", fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("database connection established")

	repo := db.NewJobRepository(pool)

	// Unique worker ID carried in logs so a CLI run can be told apart from
	// overlapping Lambda invocations.
	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	items, execErr := routeTask(ctx, payload.Task, now, repo, logger)
	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

// routeTask routes a TaskType to the appropriate scheduler service method.
//
// This mirrors the routing in cmd/maintenance Handler.dispatch. Tasks
// requiring external services are blocked at the CLI argument validation
// stage before reaching this function.
func routeTask(ctx context.Context, task scheduler.TaskType, now time.Time, repo *db.JobRepository, logger *slog.Logger) (int, error) {
	clock := types.RealClock{}
	typedLogger := &slogAdapter{logger: logger}

	switch task {
	case scheduler.TaskReclaimStale:
		svc := scheduler.NewReclaimService(repo, logger)
		return svc.ReclaimStale(ctx, now, staleThreshold)

	case scheduler.TaskPurgeTerminal:
		var archiver dispatch.Archiver
		if dir := os.Getenv("QUEUE_ARCHIVE_DIR"); dir != "" {
			fileArchiver, err := archive.NewFileArchiver(dir, clock, typedLogger)
			if err != nil {
				return 0, fmt.Errorf("creating archiver: %w", err)
			}
			archiver = fileArchiver
		} else {
			logger.Info("QUEUE_ARCHIVE_DIR not set, purging without archival")
		}
		adminOps := dispatch.NewAdminOps(repo, archiver, clock, typedLogger)
		svc := scheduler.NewPurgeService(adminOps, logger)
		return svc.PurgeTerminal(ctx, retention)

	default:
		// External-service tasks are caught in main() before reaching here.
		return 0, fmt.Errorf("task %q cannot be dispatched in CLI context", task)
	}
}

// printAvailableTasks prints all valid task types and their descriptions to
// stderr, sorted alphabetically by task name.
func printAvailableTasks() {
	fmt.Fprintf(os.Stderr, "Available task types:\n\n")

	tasks := make([]scheduler.TaskType, 0, len(validTasks))
	for t := range validTasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return string(tasks[i]) < string(tasks[j])
	})

	maxLen := 0
	for _, t := range tasks {
		if len(string(t)) > maxLen {
			maxLen = len(string(t))
		}
	}

	for _, t := range tasks {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, string(t), validTasks[t])
	}
	fmt.Fprintln(os.Stderr)
}

// printPayload marshals the MaintenancePayload to pretty-printed JSON and
// writes it to stdout for inspection or piping.
func printPayload(payload scheduler.MaintenancePayload) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))

	if desc, ok := validTasks[payload.Task]; ok {
		fmt.Fprintf(os.Stderr, "\nTask: %s\nDescription: %s\n", payload.Task, desc)
		if payload.ReferenceTime != nil {
			fmt.Fprintf(os.Stderr, "Reference time: %s\n", payload.ReferenceTime.Format(time.RFC3339))
		} else {
			fmt.Fprintf(os.Stderr, "Reference time: (current UTC time will be used)\n")
		}
	}
}

var _ types.Logger = (*slogAdapter)(nil)
