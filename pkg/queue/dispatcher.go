package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
)

// Dispatcher enqueues InvokeWithCallback envelopes for the consumer.
type Dispatcher struct {
	queue  Queue
	logger *slog.Logger
}

func NewDispatcher(queue Queue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger.With("module", "queue_dispatcher")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, envelope models.CallbackEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	id, err := d.queue.Send(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to enqueue envelope: %w", err)
	}

	d.logger.DebugContext(ctx, "Enqueued callback step", "message_id", id, "execution_id", envelope.ExecutionID,
		"state", envelope.State, "token", log.TokenPrefix(envelope.Token))

	return nil
}
