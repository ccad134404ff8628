// Package queue provides the SQS message producer that wakes the dispatch
// worker when new notification jobs are waiting.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"tenderwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DispatchTrigger publishes DispatchMessages to the dispatch queue. Workers
// consume these as a signal to claim and send a batch; the message carries no
// job IDs, claiming stays with the database.
type DispatchTrigger struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewDispatchTrigger creates a DispatchTrigger targeting the given queue URL.
func NewDispatchTrigger(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *DispatchTrigger {
	return &DispatchTrigger{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// TriggerDispatch enqueues a DispatchMessage asking a worker to process up to
// batchSize jobs. The reason attribute distinguishes enqueue-driven wakes
// from scheduled sweeps in queue metrics.
func (t *DispatchTrigger) TriggerDispatch(ctx context.Context, batchSize int, reason string) error {
	msg := types.DispatchMessage{
		TriggerID:   fmt.Sprintf("trig_%s", uuid.New().String()),
		BatchSize:   batchSize,
		Reason:      reason,
		RequestedAt: t.clock.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DispatchMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	_, err = t.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send DispatchMessage to %s: %w", t.queueURL, err)
	}

	t.logger.InfoContext(ctx, "dispatch message sent",
		"queue_url", t.queueURL,
		"trigger_id", msg.TriggerID,
		"batch_size", batchSize,
		"reason", reason,
	)

	return nil
}
