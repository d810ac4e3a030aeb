package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elena-cav/stepflow/pkg/queue"
)

// NewQueue opens the callback queue: in memory when queueURL is empty or
// "memory", otherwise a Redis URL.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL, prefix string, config queue.Config) (queue.Queue, error) {
	if queueURL == "" || queueURL == "memory" {
		logger.InfoContext(ctx, "Using in-memory callback queue")

		return queue.NewMemoryQueue(config, nil), nil
	}

	if !strings.HasPrefix(queueURL, "redis://") && !strings.HasPrefix(queueURL, "rediss://") {
		return nil, fmt.Errorf("unsupported queue url %q", queueURL)
	}

	client, err := queue.Connect(ctx, queueURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Using Redis callback queue", "prefix", prefix)

	return queue.NewRedisQueue(client, prefix, config, nil), nil
}
