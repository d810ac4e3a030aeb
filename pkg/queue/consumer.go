package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elena-cav/stepflow/pkg/callback"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/elena-cav/stepflow/pkg/workflow"
)

// StepInvoker performs the external call carried by an envelope.
type StepInvoker interface {
	Invoke(ctx context.Context, resource string, parameters map[string]any, input any) (map[string]any, error)
}

// Resolver reports the step outcome for a callback token.
type Resolver interface {
	ResolveSuccess(ctx context.Context, token string, output map[string]any) (*models.Execution, error)
	Fail(ctx context.Context, token string, failure *models.StepFailure) (*models.Execution, error)
}

// Consumer pulls envelopes, performs each step once and resolves its token.
// A message is acknowledged only after the resolution was recorded.
type Consumer struct {
	queue     Queue
	invoker   StepInvoker
	resolver  Resolver
	logger    *slog.Logger
	batchSize int
	waitTime  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(queue Queue, invoker StepInvoker, resolver Resolver, config Config, logger *slog.Logger) *Consumer {
	config = config.withDefaults()

	return &Consumer{
		queue:     queue,
		invoker:   invoker,
		resolver:  resolver,
		logger:    logger.With("module", "queue_consumer"),
		batchSize: config.BatchSize,
		waitTime:  config.WaitTime,
	}
}

// Start consumes in the background until Stop is called or ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)

	go c.consume(ctx)
}

func (c *Consumer) Stop(ctx context.Context) {
	c.logger.InfoContext(ctx, "Stopping queue consumer")

	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	c.logger.InfoContext(ctx, "Starting queue consumer", "batch_size", c.batchSize, "wait", c.waitTime)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Queue consumer stopped")

			return
		default:
			_, err := c.Poll(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.ErrorContext(ctx, "Error receiving messages", "error", err)

				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// Poll receives one batch and processes it, returning how many messages were received.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	messages, err := c.queue.Receive(ctx, c.batchSize, c.waitTime)
	if err != nil {
		return 0, err
	}

	for _, message := range messages {
		c.Process(ctx, message)
	}

	return len(messages), nil
}

// Process handles one delivery. Any failure to record the outcome nacks the
// message; with a maximum receive count of one it is then dead-lettered.
func (c *Consumer) Process(ctx context.Context, message Message) {
	logger := c.logger.With("message_id", message.ID, "receive_count", message.ReceiveCount)

	err := c.handle(ctx, message)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to process message", "error", err)

		nackErr := c.queue.Nack(ctx, message.Receipt, err.Error())
		if nackErr != nil {
			logger.ErrorContext(ctx, "Failed to nack message", "error", nackErr)
		}

		return
	}

	err = c.queue.Ack(ctx, message.Receipt)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to ack message", "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, message Message) error {
	var envelope models.CallbackEnvelope

	err := models.DecodeJSON(message.Body, &envelope)
	if err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}

	if envelope.Token == "" || envelope.Resource == "" {
		return errors.New("malformed envelope: token and resource are required")
	}

	logger := c.logger.With("execution_id", envelope.ExecutionID, "state", envelope.State, "token", log.TokenPrefix(envelope.Token))

	stepCtx := protocol.WithStepMetadata(ctx, protocol.StepMetadata{
		ExecutionID:  envelope.ExecutionID,
		WorkflowName: envelope.Workflow,
		State:        envelope.State,
	})

	output, err := c.invoker.Invoke(stepCtx, envelope.Resource, envelope.Parameters, envelope.Input)
	if err != nil {
		failure, ok := models.AsStepFailure(err)
		if !ok {
			failure = models.NewStepFailure(0, models.ErrorTaskFailed, err.Error())
		}

		_, err = c.resolver.Fail(ctx, envelope.Token, failure)
	} else {
		_, err = c.resolver.ResolveSuccess(ctx, envelope.Token, output)
	}

	switch {
	case err == nil:
		logger.InfoContext(ctx, "Callback step completed")

		return nil
	case rejected(err):
		logger.WarnContext(ctx, "Callback resolution rejected", "error", err)

		return nil
	default:
		return fmt.Errorf("failed to resolve callback: %w", err)
	}
}

// rejected reports resolutions that will never succeed on redelivery.
func rejected(err error) bool {
	return errors.Is(err, callback.ErrUnknownToken) ||
		errors.Is(err, callback.ErrDuplicateResolution) ||
		workflow.IsStaleResume(err)
}
