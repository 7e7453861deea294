// Package queue schedules future catch-up runs on SQS.
//
// SQS caps DelaySeconds at 15 minutes, so a run scheduled a day ahead is
// delivered as a chain of hops: every message carries its not_before time and
// a consumer that receives it early re-sends it with the remaining delay.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonboulle/clockwork"

	"reducer/internal/config"
	"reducer/internal/types"
)

// MaxDelay is the largest DelaySeconds SQS accepts.
const MaxDelay = 900 * time.Second

// Message attribute values for "reason".
const (
	ReasonRequeue  = "requeue"
	ReasonDeferred = "deferred"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RunMessage is the body of a requeue message.
type RunMessage struct {
	Today     string    `json:"today"`
	NotBefore time.Time `json:"not_before"`
}

// Requeuer sends RunMessages to the requeue queue.
type Requeuer struct {
	client   SQSSender
	queueURL string
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewRequeuer creates a Requeuer for the queue configured in awsCfg.
func NewRequeuer(client SQSSender, awsCfg config.AWSConfig, clock clockwork.Clock, logger *slog.Logger) *Requeuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requeuer{
		client:   client,
		queueURL: awsCfg.RequeueQueueURL,
		clock:    clock,
		logger:   logger,
	}
}

// Enqueue schedules a run of input at runAt.
func (r *Requeuer) Enqueue(ctx context.Context, input types.RunInput, runAt time.Time) error {
	return r.send(ctx, RunMessage{Today: input.Today, NotBefore: runAt.UTC()}, ReasonRequeue)
}

// Defer re-sends msg if its not_before time is still in the future and
// reports whether it did. A due message is left for the caller to run.
func (r *Requeuer) Defer(ctx context.Context, msg RunMessage) (bool, error) {
	if r.Due(msg) {
		return false, nil
	}
	if err := r.send(ctx, msg, ReasonDeferred); err != nil {
		return false, err
	}
	return true, nil
}

// Due reports whether msg may run now.
func (r *Requeuer) Due(msg RunMessage) bool {
	return !r.clock.Now().Before(msg.NotBefore)
}

// delay returns the DelaySeconds for a message due at notBefore.
func (r *Requeuer) delay(notBefore time.Time) int32 {
	d := notBefore.Sub(r.clock.Now())
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return int32(d.Round(time.Second) / time.Second)
}

func (r *Requeuer) send(ctx context.Context, msg RunMessage, reason string) error {
	if r.queueURL == "" {
		return types.NewAppError(types.ErrCodeConfigMissingField, "requeue queue url is not configured", nil)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RunMessage: %w", err)
	}

	delay := r.delay(msg.NotBefore)
	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(r.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delay,
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := r.client.SendMessage(ctx, input); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable, "failed to send requeue message", err,
			map[string]any{"queue_url": r.queueURL})
	}

	r.logger.InfoContext(ctx, "requeue message sent",
		"queue_url", r.queueURL,
		"today", msg.Today,
		"not_before", msg.NotBefore.Format(time.RFC3339),
		"delay_seconds", delay,
		"reason", reason,
	)
	return nil
}

// ParseRunMessage decodes a requeue message body. Unknown fields are
// rejected and today must be a YYYY-MM-DD date. A missing not_before means
// the message is due immediately.
func ParseRunMessage(body string) (RunMessage, error) {
	var msg RunMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return RunMessage{}, types.NewAppError(types.ErrCodeValidationInvalidBody, "malformed requeue message", err)
	}
	if msg.Today == "" {
		return RunMessage{}, types.NewAppError(types.ErrCodeValidationMissingField, "requeue message has no today", nil)
	}
	if _, err := types.ParseDate(msg.Today); err != nil {
		return RunMessage{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			"today must be a YYYY-MM-DD date", err, map[string]any{"today": msg.Today})
	}
	return msg, nil
}
