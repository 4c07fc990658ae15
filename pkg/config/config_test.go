package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()

	var (
		cfg    Config
		cfgErr error
	)

	command := &cli.Command{
		Name:  "kindred",
		Flags: Flags(),
		Action: func(_ context.Context, command *cli.Command) error {
			cfg, cfgErr = FromCommand(command)

			return nil
		},
	}

	require.NoError(t, command.Run(context.Background(), append([]string{"kindred"}, args...)))

	return cfg, cfgErr
}

func TestFromCommand_Defaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, "memory", cfg.DelayBackend)
	assert.Equal(t, "gochannel", cfg.EventBus)
	assert.Equal(t, DefaultActionTimeout, cfg.ActionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RunLease)
	assert.Equal(t, "@every 1m", cfg.SchedulerCron)
	assert.Equal(t, 1, cfg.SchedulerConcurrency)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.OTelEnabled)
}

func TestFromCommand_Flags(t *testing.T) {
	cfg, err := parse(t,
		"--database-url", "postgres://kindred@localhost/kindred",
		"--delay-backend", "REDIS",
		"--redis-url", "redis://localhost:6379/0",
		"--event-bus", "kafka",
		"--kafka-brokers", "k1:9092, k2:9092",
		"--action-timeout", "5s",
		"--scheduler-concurrency", "4",
		"--comms-url", "https://comms.example.org",
		"--otel-enabled",
		"--port", "8080",
	)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.DelayBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 4, cfg.SchedulerConcurrency)
	assert.Equal(t, "https://comms.example.org", cfg.CommunicationsURL)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 8080, cfg.Port)
}

func TestFromCommand_Env(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://kindred.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, "sqlite://kindred.db", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "redis backend needs a URL", args: []string{"--delay-backend", "redis"}},
		{name: "kafka needs brokers", args: []string{"--event-bus", "kafka"}},
		{name: "unknown delay backend", args: []string{"--delay-backend", "cron"}},
		{name: "unknown event bus", args: []string{"--event-bus", "rabbitmq"}},
		{name: "zero action timeout", args: []string{"--action-timeout", "0s"}},
		{name: "bad integration URL", args: []string{"--records-url", "not a url"}},
		{name: "port out of range", args: []string{"--port", "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}
