// Package main implements the bootstrap CLI tool for the reducer.
//
// This tool walks an operator through populating AWS SSM Parameter Store with
// the values the reducer resolves at cold start through its _SSM_PARAM
// pointers: the database URL, the feed manifest (TARGET_SPEC), the requeue
// queue and the Slack webhook.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev --target-spec=deploy/target_spec.json
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//	go run ./cmd/ops/bootstrap --env=prod --profile=reducer-prod --region=us-east-1
//
// The tool performs the following:
//  1. Initializes the AWS SDK session with the specified profile/region.
//  2. Calls STS GetCallerIdentity to verify the active AWS identity.
//  3. If --env=prod, requires explicit interactive confirmation ("yes").
//  4. Walks the parameter inventory, probing SSM before prompting so reruns
//     are idempotent.
//  5. If --export-env is set, reads the parameters back and writes a .env
//     file for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
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

// Supported environments for the bootstrap tool.
var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// BootstrapContext holds the session-wide context established during
// initialization.
type BootstrapContext struct {
	Environment string
	AWSProfile  string
	AWSRegion   string

	// AccountID and CallerARN come from STS GetCallerIdentity.
	AccountID string
	CallerARN string

	AWSConfig aws.Config
	Logger    *slog.Logger
}

// options are the parsed command-line flags.
type options struct {
	Env            string
	Profile        string
	Region         string
	TargetSpecPath string
	ExportEnv      bool
	ExportEnvPath  string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.Env, "env", "", "Target environment (dev/staging/prod) [required]")
	fs.StringVar(&opts.Profile, "profile", "", "AWS CLI profile (default: uses default credential chain)")
	fs.StringVar(&opts.Region, "region", "us-east-1", "AWS region")
	fs.StringVar(&opts.TargetSpecPath, "target-spec", "", "Path to the TARGET_SPEC JSON manifest (prompted when empty)")
	fs.BoolVar(&opts.ExportEnv, "export-env", false, "After bootstrap, export SSM parameters to a .env file for local development")
	fs.StringVar(&opts.ExportEnvPath, "export-env-path", ".env", "Path for the exported .env file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Reducer Bootstrap Tool\n\n")
		fmt.Fprintf(stderr, "Populates the AWS SSM parameters the reducer resolves at startup.\n\n")
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--target-spec=FILE] [--export-env]\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.Env == "" {
		fs.Usage()
		return options{}, fmt.Errorf("--env is required")
	}
	if !validEnvironments[opts.Env] {
		return options{}, fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", opts.Env)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bctx, err := initializeSession(ctx, opts.Env, opts.Profile, opts.Region, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	runner := NewBootstrapRunner(bctx)
	if bctx.Environment == "prod" && !confirmProduction(bctx, runner) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	printBanner(bctx, os.Stderr)

	if opts.TargetSpecPath != "" {
		spec, err := os.ReadFile(opts.TargetSpecPath)
		if err != nil {
			logger.Error("failed to read target spec", "path", opts.TargetSpecPath, "error", err)
			os.Exit(1)
		}
		runner.TargetSpec = string(spec)
	}
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bootstrap completed successfully",
		"env", bctx.Environment,
		"account", bctx.AccountID,
		"region", bctx.AWSRegion,
	)

	if opts.ExportEnv {
		exportCfg := ExportEnvConfig{
			OutputPath:  opts.ExportEnvPath,
			Environment: bctx.Environment,
			Params:      runner.Params,
			Inventory:   BuildInventory(runner.Validator),
			Stderr:      os.Stderr,
		}
		if err := ExportEnvFile(ctx, exportCfg); err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file exported successfully", "path", opts.ExportEnvPath)
	}
}

// initializeSession configures the AWS SDK session and calls STS
// GetCallerIdentity to confirm the active identity.
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

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
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

// confirmProduction returns true only if the operator types "yes". It reads
// through the runner so no buffered input is lost to a second scanner.
func confirmProduction(bctx *BootstrapContext, r *BootstrapRunner) bool {
	out := r.Stderr
	fmt.Fprintln(out)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintf(out, "  Account: %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  ARN:     %s\n", bctx.CallerARN)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out)
	line, err := r.readInput("Type 'yes' to continue: ")
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printBanner(bctx *BootstrapContext, out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  Reducer Bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", bctx.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  Identity:     %s\n", bctx.CallerARN)
	if bctx.AWSProfile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", bctx.AWSProfile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ParamPrefix(bctx.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out)
}
