// Package config collects the command line and environment settings shared by
// every kindred command.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kindred-org/kindred/pkg/engine"
	"github.com/kindred-org/kindred/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const (
	DefaultPort          = 9091
	DefaultDatabaseURL   = "file://./data"
	DefaultActionTimeout = 30 * time.Second
)

// Config is the resolved runtime configuration.
type Config struct {
	DatabaseURL string `validate:"required"`

	DelayBackend string `validate:"oneof=memory redis"`
	RedisURL     string `validate:"required_if=DelayBackend redis"`

	EventBus           string   `validate:"oneof=gochannel kafka"`
	KafkaBrokers       []string `validate:"required_if=EventBus kafka"`
	KafkaConsumerGroup string

	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`

	ActionTimeout        time.Duration `validate:"gt=0"`
	RunLease             time.Duration `validate:"gt=0"`
	ClaimWait            time.Duration `validate:"gte=0"`
	SchedulerCron        string        `validate:"required"`
	SchedulerConcurrency int           `validate:"gte=1"`

	CommunicationsURL string `validate:"omitempty,url"`
	RecordsURL        string `validate:"omitempty,url"`
	WorkflowsURL      string `validate:"omitempty,url"`
	IntegrationToken  string

	OnboardingPlan string

	OTelEnabled bool
	Port        int `validate:"gt=0,lte=65535"`
}

// Flags are the settings every command accepts. Each has an environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (file://dir, postgres://..., sqlite://path)",
			Value:   DefaultDatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "delay-backend",
			Usage:   "Delayed task backend (memory, redis)",
			Value:   "memory",
			Sources: cli.EnvVars("DELAY_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the redis delay backend",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "kafka-consumer-group",
			Usage:   "Kafka consumer group for domain events",
			Value:   "kindred",
			Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "Default timeout of a single action",
			Value:   DefaultActionTimeout,
			Sources: cli.EnvVars("ACTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "run-lease",
			Usage:   "How long a run holds its automation before another run may take over",
			Value:   engine.DefaultLease,
			Sources: cli.EnvVars("RUN_LEASE"),
		},
		&cli.DurationFlag{
			Name:    "claim-wait",
			Usage:   "How long an explicit run waits for a busy automation",
			Value:   engine.DefaultClaimWait,
			Sources: cli.EnvVars("CLAIM_WAIT"),
		},
		&cli.StringFlag{
			Name:    "scheduler-cron",
			Usage:   "Cron spec of the due-automation pass",
			Value:   scheduler.DefaultSpec,
			Sources: cli.EnvVars("SCHEDULER_CRON"),
		},
		&cli.IntFlag{
			Name:    "scheduler-concurrency",
			Usage:   "Due automations run in parallel per pass",
			Value:   1,
			Sources: cli.EnvVars("SCHEDULER_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "comms-url",
			Usage:   "Communications service base URL (empty logs messages instead)",
			Sources: cli.EnvVars("COMMS_URL"),
		},
		&cli.StringFlag{
			Name:    "records-url",
			Usage:   "Member records service base URL (empty logs updates instead)",
			Sources: cli.EnvVars("RECORDS_URL"),
		},
		&cli.StringFlag{
			Name:    "workflows-url",
			Usage:   "External workflow service base URL (empty completes workflows immediately)",
			Sources: cli.EnvVars("WORKFLOWS_URL"),
		},
		&cli.StringFlag{
			Name:    "integration-token",
			Usage:   "Bearer token sent to the integration services",
			Sources: cli.EnvVars("INTEGRATION_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "onboarding-plan",
			Usage:   "YAML onboarding plan (empty uses the built-in plan)",
			Sources: cli.EnvVars("ONBOARDING_PLAN"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   DefaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}
}

// FromCommand reads the flags of command and validates the result.
func FromCommand(command *cli.Command) (Config, error) {
	cfg := Config{
		DatabaseURL:          command.String("database-url"),
		DelayBackend:         strings.ToLower(command.String("delay-backend")),
		RedisURL:             command.String("redis-url"),
		EventBus:             strings.ToLower(command.String("event-bus")),
		KafkaBrokers:         splitList(command.StringSlice("kafka-brokers")),
		KafkaConsumerGroup:   command.String("kafka-consumer-group"),
		LogLevel:             strings.ToLower(command.String("log-level")),
		LogFormat:            strings.ToLower(command.String("log-format")),
		ActionTimeout:        command.Duration("action-timeout"),
		RunLease:             command.Duration("run-lease"),
		ClaimWait:            command.Duration("claim-wait"),
		SchedulerCron:        command.String("scheduler-cron"),
		SchedulerConcurrency: int(command.Int("scheduler-concurrency")),
		CommunicationsURL:    command.String("comms-url"),
		RecordsURL:           command.String("records-url"),
		WorkflowsURL:         command.String("workflows-url"),
		IntegrationToken:     command.String("integration-token"),
		OnboardingPlan:       command.String("onboarding-plan"),
		OTelEnabled:          command.Bool("otel-enabled"),
		Port:                 int(command.Int("port")),
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings against their struct tags.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// splitList accepts both repeated flags and comma separated values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))

	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}
