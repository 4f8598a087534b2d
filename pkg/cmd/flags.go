package cmd

import (
	"time"

	"github.com/dukex/nurture/pkg/engine"
	cli "github.com/urfave/cli/v3"
)

func LogLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func DatabaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Store URL: postgres://... or sqlite://<path>",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func EventBusFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "event-bus",
		Usage:   "Event bus type (kafka, gochannel, none)",
		Value:   EventBusNone,
		Sources: cli.EnvVars("EVENT_BUS_TYPE"),
	}
}

// EngineFlags configure step processing. They are shared by every binary that
// builds an engine.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		LogLevelFlag(),
		DatabaseURLFlag(),
		EventBusFlag(),
		&cli.StringFlag{
			Name:    "email-from",
			Usage:   "From address of workflow emails",
			Value:   "no-reply@localhost",
			Sources: cli.EnvVars("EMAIL_FROM"),
		},
		&cli.StringFlag{
			Name:    "email-sender",
			Usage:   "Email sender (log, eventbus)",
			Value:   EmailSenderLog,
			Sources: cli.EnvVars("EMAIL_SENDER"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL; enables email de-duplication when set",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.IntFlag{
			Name:    "max-step-attempts",
			Usage:   "Consecutive failures of one step before the execution is dead-lettered (0 retries forever)",
			Value:   0,
			Sources: cli.EnvVars("MAX_STEP_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "retry-backoff",
			Usage:   "Delay added to a failed step before it is retried",
			Value:   0,
			Sources: cli.EnvVars("RETRY_BACKOFF"),
		},
		&cli.DurationFlag{
			Name:    "claim-ttl",
			Usage:   "How long a claimed execution is hidden from other pollers",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("CLAIM_TTL"),
		},
		&cli.IntFlag{
			Name:    "poll-batch-size",
			Usage:   "Executions read per page of a pass",
			Value:   100,
			Sources: cli.EnvVars("POLL_BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "poll-concurrency",
			Usage:   "Executions processed in parallel within a pass",
			Value:   4,
			Sources: cli.EnvVars("POLL_CONCURRENCY"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// EngineConfig reads the engine flags of command.
func EngineConfig(command *cli.Command) engine.Config {
	return engine.Config{
		FromAddress:  command.String("email-from"),
		MaxAttempts:  command.Int("max-step-attempts"),
		RetryBackoff: command.Duration("retry-backoff"),
		ClaimTTL:     command.Duration("claim-ttl"),
		BatchSize:    command.Int("poll-batch-size"),
		Concurrency:  command.Int("poll-concurrency"),
	}
}
