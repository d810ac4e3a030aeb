package cmd

import (
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// RuntimeFlags are the flags shared by every process that builds a Runtime.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (memory, postgres://..., sqlite://<path>)",
			Value:   "memory",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Callback queue URL (memory, redis://...)",
			Value:   "memory",
			Sources: cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-prefix",
			Usage:   "Key prefix of the Redis callback queue",
			Value:   queue.DefaultRedisPrefix,
			Sources: cli.EnvVars("QUEUE_PREFIX"),
		},
		&cli.DurationFlag{
			Name:    "queue-visibility-timeout",
			Usage:   "How long a received message stays hidden",
			Value:   queue.DefaultVisibilityTimeout,
			Sources: cli.EnvVars("QUEUE_VISIBILITY_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "queue-delivery-delay",
			Usage:   "Delay before a sent message becomes visible",
			Value:   queue.DefaultDeliveryDelay,
			Sources: cli.EnvVars("QUEUE_DELIVERY_DELAY"),
		},
		&cli.IntFlag{
			Name:    "queue-max-receive-count",
			Usage:   "Receives before a message is dead-lettered",
			Value:   queue.DefaultMaxReceiveCount,
			Sources: cli.EnvVars("QUEUE_MAX_RECEIVE_COUNT"),
		},
		&cli.IntFlag{
			Name:    "queue-batch-size",
			Usage:   "Messages received per poll",
			Value:   queue.DefaultBatchSize,
			Sources: cli.EnvVars("QUEUE_BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "queue-wait-time",
			Usage:   "Long-poll window of a receive",
			Value:   queue.DefaultWaitTime,
			Sources: cli.EnvVars("QUEUE_WAIT_TIME"),
		},
		&cli.StringFlag{
			Name:    "workflows-path",
			Usage:   "Directory of workflow definitions (*.json, *.yaml)",
			Value:   "./workflows",
			Sources: cli.EnvVars("WORKFLOWS_PATH"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing action plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "smtp-addr",
			Usage:   "SMTP relay host:port (empty logs emails instead of sending them)",
			Sources: cli.EnvVars("SMTP_ADDR"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address of notification emails",
			Value:   "stepflow@localhost",
			Sources: cli.EnvVars("SMTP_FROM"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Sources: cli.EnvVars("SMTP_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Sources: cli.EnvVars("SMTP_PASSWORD"),
		},
		&cli.IntFlag{
			Name:    "transition-limit",
			Usage:   "Maximum states entered in one drive",
			Value:   workflow.DefaultTransitionLimit,
			Sources: cli.EnvVars("TRANSITION_LIMIT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// RuntimeConfig reads RuntimeFlags from a parsed command.
func RuntimeConfig(command *cli.Command, serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		QueueURL:     command.String("queue-url"),
		QueuePrefix:  command.String("queue-prefix"),
		Queue: queue.Config{
			VisibilityTimeout: command.Duration("queue-visibility-timeout"),
			DeliveryDelay:     command.Duration("queue-delivery-delay"),
			MaxReceiveCount:   command.Int("queue-max-receive-count"),
			BatchSize:         command.Int("queue-batch-size"),
			WaitTime:          command.Duration("queue-wait-time"),
		},
		WorkflowsPath: command.String("workflows-path"),
		PluginsPath:   command.String("plugins-path"),
		SMTP: SMTPConfig{
			Addr:     command.String("smtp-addr"),
			From:     command.String("smtp-from"),
			Username: command.String("smtp-username"),
			Password: command.String("smtp-password"),
		},
		Tracing:         command.Bool("tracing"),
		TransitionLimit: command.Int("transition-limit"),
	}
}
