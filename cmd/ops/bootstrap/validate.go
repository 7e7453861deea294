package main

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"reducer/internal/config"
)

// ValidationResult is the outcome of one validation check, with a message
// suitable for the CLI.
type ValidationResult struct {
	Valid   bool
	Message string
}

// DatabaseConnector verifies a DSN is reachable and carries the reducer's
// schema. Implementations must not leave a connection open.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector connects with pgx and checks that tracked_reservoirs exists.
type PgxConnector struct{}

// Connect opens a connection, probes the geometry table and closes it.
func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	var present bool
	if err := conn.QueryRow(ctx, `SELECT to_regclass('tracked_reservoirs') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("probing schema: %w", err)
	}
	if !present {
		return fmt.Errorf("table tracked_reservoirs does not exist")
	}
	return nil
}

// Validator holds the dependencies of the active checks. A nil dbConn skips
// the connection probe.
type Validator struct {
	dbConn   DatabaseConnector
	validate *validator.Validate
}

// NewValidator creates a Validator that probes the real database.
func NewValidator() *Validator {
	return NewValidatorWithDeps(&PgxConnector{})
}

// NewValidatorWithDeps creates a Validator with an injected connector.
func NewValidatorWithDeps(dbConn DatabaseConnector) *Validator {
	return &Validator{dbConn: dbConn, validate: validator.New()}
}

// validateTimeout bounds each active probe.
const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the DSN's scheme and host, then connects.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme),
		}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Valid: false, Message: "database URL has no host"}
	}

	if v.dbConn != nil {
		connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()
		if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
			return ValidationResult{Valid: false, Message: fmt.Sprintf("connection failed: %v", err)}
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname()),
	}
}

// ValidateTargetSpec decodes and validates a TARGET_SPEC manifest exactly as
// the reducer does at startup.
func (v *Validator) ValidateTargetSpec(_ context.Context, raw string) ValidationResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ValidationResult{Valid: false, Message: "TARGET_SPEC must not be empty"}
	}

	var manifest config.FeedManifest
	if err := manifest.Decode(raw); err != nil {
		return ValidationResult{Valid: false, Message: err.Error()}
	}
	if err := manifest.Validate(v.validate); err != nil {
		return ValidationResult{Valid: false, Message: err.Error()}
	}

	names := make([]string, 0, len(manifest))
	for _, spec := range manifest {
		names = append(names, fmt.Sprintf("%s->%s", spec.Name, spec.Table))
	}
	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("%d feed(s): %s", len(manifest), strings.Join(names, ", ")),
	}
}

var (
	slackWebhookPattern = `^https://hooks\.slack\.com/services/[A-Za-z0-9]+/[A-Za-z0-9]+/[A-Za-z0-9]+$`
	queueURLPattern     = `^https?://[^/\s]+/[0-9]{12}/[A-Za-z0-9_-]+(\.fifo)?$`
)

// ValidateSlackWebhook checks an incoming-webhook URL's shape. No message is
// posted.
func (v *Validator) ValidateSlackWebhook(ctx context.Context, input string) ValidationResult {
	return v.ValidateRegex(ctx, input, slackWebhookPattern, "Slack webhook URL")
}

// ValidateQueueURL checks an SQS queue URL's shape.
func (v *Validator) ValidateQueueURL(ctx context.Context, input string) ValidationResult {
	return v.ValidateRegex(ctx, input, queueURLPattern, "SQS queue URL")
}

// ValidateRegex checks input against pattern.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Valid: false, Message: fmt.Sprintf("invalid regex pattern %q: %v", pattern, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s does not match expected format (pattern: %s)", fieldName, pattern),
		}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format validated", fieldName)}
}
