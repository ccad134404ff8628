// Package main implements the bootstrap CLI tool for the TenderWatch platform.
//
// Before the first deployment of the notification queue an operator has to
// create the external accounts (SendGrid), mint internal keys, and seed AWS
// SSM Parameter Store with every secret the services read at startup. This
// tool walks a human through that once-per-environment process.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//	go run ./cmd/ops/bootstrap --env=prod --profile=tenderwatch-prod --region=us-east-1
//
// The session verifies the active AWS identity with STS before touching
// anything, gates prod behind an interactive confirmation, then runs the
// parameter inventory: prompted external secrets, generated internal keys,
// and fixed placeholders, each written under /{env}/tenderwatch/. With
// --export-env the finished parameters are read back into a .env file for
// local development.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// validEnvironments lists the deployable targets. "local" is deliberately
// absent; local development reads a .env file, not SSM.
var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// BootstrapContext carries the session state established at startup through
// the bootstrap phases.
type BootstrapContext struct {
	// Environment is the target deployment environment (dev/staging/prod).
	Environment string

	// AWSProfile is the AWS CLI profile used for authentication.
	AWSProfile string

	// AWSRegion is the target AWS region.
	AWSRegion string

	// AccountID is the AWS account resolved via STS GetCallerIdentity.
	AccountID string

	// CallerARN is the full ARN of the authenticated identity.
	CallerARN string

	// AWSConfig is the resolved SDK configuration, reused for the SSM client.
	AWSConfig aws.Config

	// Logger is the structured logger for the session.
	Logger *slog.Logger
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	exportEnvFlag := flag.Bool("export-env", false, "After bootstrap, export SSM parameters to a .env file for local development")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for the exported .env file (default: .env in project root)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "TenderWatch Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Guides the setup of external accounts and AWS SSM parameters\n")
		fmt.Fprintf(os.Stderr, "required before the first SAM deployment.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--export-env]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Ctrl-C mid-session leaves already-written parameters in place; the
	// runner's skip-existing behavior makes a rerun pick up where it stopped.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bctx, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if bctx.Environment == "prod" {
		if !confirmProduction(bctx) {
			fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
			os.Exit(0)
		}
	}

	printBanner(bctx)

	runner := NewBootstrapRunner(bctx)
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bootstrap completed successfully",
		"env", bctx.Environment,
		"account", bctx.AccountID,
		"region", bctx.AWSRegion,
	)

	if *exportEnvFlag {
		logger.Info("exporting SSM parameters to .env file",
			"path", *exportEnvPath,
		)

		exportCfg := ExportEnvConfig{
			OutputPath:           *exportEnvPath,
			Environment:          bctx.Environment,
			SSM:                  runner.SSM,
			Stderr:               os.Stderr,
			IncludeLocalDefaults: true,
		}

		if err := ExportEnvFile(ctx, exportCfg); err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}

		logger.Info(".env file exported successfully",
			"path", *exportEnvPath,
		)
	}
}

// initializeSession loads the AWS SDK configuration and confirms the active
// identity with STS GetCallerIdentity, so a wrong profile fails here instead
// of half-way through writing parameters.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*BootstrapContext, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := stsClient.GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	accountID := aws.ToString(identity.Account)
	callerARN := aws.ToString(identity.Arn)

	logger.Info("AWS identity verified",
		"account_id", accountID,
		"arn", callerARN,
		"region", region,
	)

	return &BootstrapContext{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   accountID,
		CallerARN:   callerARN,
		AWSConfig:   cfg,
		Logger:      logger,
	}, nil
}

// confirmProduction asks the operator to type "yes" before a prod session
// proceeds. Returns true only on a case-insensitive "yes".
func confirmProduction(bctx *BootstrapContext) bool {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "============================================================")
	fmt.Fprintln(os.Stderr, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(os.Stderr, "============================================================")
	fmt.Fprintf(os.Stderr, "  Account: %s\n", bctx.AccountID)
	fmt.Fprintf(os.Stderr, "  Region:  %s\n", bctx.AWSRegion)
	fmt.Fprintf(os.Stderr, "  ARN:     %s\n", bctx.CallerARN)
	fmt.Fprintln(os.Stderr, "============================================================")
	fmt.Fprintln(os.Stderr)
	fmt.Fprint(os.Stderr, "Type 'yes' to continue: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

// printBanner summarizes the session before the first prompt.
func printBanner(bctx *BootstrapContext) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "------------------------------------------------------------")
	fmt.Fprintln(os.Stderr, "  TenderWatch Bootstrap")
	fmt.Fprintln(os.Stderr, "------------------------------------------------------------")
	fmt.Fprintf(os.Stderr, "  Environment:  %s\n", bctx.Environment)
	fmt.Fprintf(os.Stderr, "  AWS Account:  %s\n", bctx.AccountID)
	fmt.Fprintf(os.Stderr, "  AWS Region:   %s\n", bctx.AWSRegion)
	fmt.Fprintf(os.Stderr, "  Identity:     %s\n", bctx.CallerARN)
	if bctx.AWSProfile != "" {
		fmt.Fprintf(os.Stderr, "  Profile:      %s\n", bctx.AWSProfile)
	}
	fmt.Fprintf(os.Stderr, "  SSM Prefix:   /%s/tenderwatch/\n", bctx.Environment)
	fmt.Fprintln(os.Stderr, "------------------------------------------------------------")
	fmt.Fprintln(os.Stderr)
}
