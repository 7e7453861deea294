// Package main is the entrypoint for the reducer Lambda function.
//
// The function is invoked two ways:
//
//   - By the daily schedule or an operator with {"today": "YYYY-MM-DD"}.
//     An empty today means the current UTC date.
//   - By the requeue queue as an SQS batch. Each record carries a RunMessage;
//     records that are not yet due are re-sent with the remaining delay.
//
// Cold Start (main):
//  1. Resolve _SSM_PARAM pointers into the environment.
//  2. Load and validate configuration, including TARGET_SPEC.
//  3. Connect the database pool and the AWS clients.
//  4. Wire the runtime and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jonboulle/clockwork"

	"reducer/internal/app"
	"reducer/internal/config"
	"reducer/internal/core"
	"reducer/internal/queue"
	"reducer/internal/types"
)

// Invocation is the union of the payloads the function accepts.
type Invocation struct {
	Records []events.SQSMessage `json:"Records"`
	Today   string              `json:"today"`
}

// Deferrer re-sends requeue messages that arrived early.
type Deferrer interface {
	Defer(ctx context.Context, msg queue.RunMessage) (bool, error)
}

// Handler holds the dependencies for the Lambda handler.
type Handler struct {
	runner   core.Runner
	deferrer Deferrer
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Response is returned for direct invocations. SQS invocations return the
// partial batch response instead.
type Response struct {
	Result            *types.RunResult             `json:"result,omitempty"`
	BatchItemFailures []events.SQSBatchItemFailure `json:"batchItemFailures,omitempty"`
}

// Handle dispatches on the payload shape.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	var inv Invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Response{}, types.NewAppError(types.ErrCodeValidationInvalidBody, "unrecognized invocation payload", err)
	}
	if len(inv.Records) > 0 {
		resp := h.HandleSQS(ctx, events.SQSEvent{Records: inv.Records})
		return Response{BatchItemFailures: resp.BatchItemFailures}, nil
	}
	result, err := h.HandleDirect(ctx, inv.Today)
	return Response{Result: result}, err
}

// HandleDirect runs the catch-up for today, defaulting to the current date.
func (h *Handler) HandleDirect(ctx context.Context, today string) (*types.RunResult, error) {
	if today == "" {
		today = h.clock.Now().UTC().Format(types.DateLayout)
	}
	result, err := h.runner.Run(ctx, types.RunInput{Today: today})
	if err != nil {
		h.logger.ErrorContext(ctx, "catch-up run failed", "today", today, "error", err)
		return result, err
	}
	return result, nil
}

// HandleSQS processes requeue messages. Messages that fail are returned in
// BatchItemFailures so SQS redelivers only them.
func (h *Handler) HandleSQS(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	response := events.SQSEventResponse{}
	for _, record := range event.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}
	return response
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.ParseRunMessage(record.Body)
	if err != nil {
		// Redelivery cannot fix a malformed body; ACK it.
		h.logger.ErrorContext(ctx, "dropping malformed requeue message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	if h.deferrer != nil {
		deferred, err := h.deferrer.Defer(ctx, msg)
		if err != nil {
			return err
		}
		if deferred {
			return nil
		}
	} else if h.clock.Now().Before(msg.NotBefore) {
		h.logger.WarnContext(ctx, "requeue disabled, running early message now",
			"today", msg.Today,
			"not_before", msg.NotBefore,
		)
	}

	result, err := h.runner.Run(ctx, types.RunInput{Today: msg.Today})
	if err != nil {
		return err
	}
	if result != nil && result.Status == types.RunStatusSkipped {
		h.logger.InfoContext(ctx, "run skipped, another worker holds the lock", "today", msg.Today)
	}
	return nil
}

func main() {
	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: resolving secrets: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg)
	logger.Info("reducer Lambda initializing (cold start)")

	ctx := context.Background()
	clients, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect clients", "error", err)
		os.Exit(1)
	}
	rt := app.New(cfg, logger, clients, app.Options{})

	handler := &Handler{
		runner: rt,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	if rt.Requeuer != nil {
		handler.deferrer = rt.Requeuer
	}

	logger.Info("reducer Lambda initialized",
		"feeds", len(cfg.Feeds),
		"requeue", rt.Requeuer != nil,
		"notify", rt.Notifier != nil,
		"metrics", rt.Metrics != nil,
	)
	lambda.Start(handler.Handle)
}
