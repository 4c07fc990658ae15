package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActionFactory(t *testing.T) {
	factory := NewActionFactory()
	assert.NotNil(t, factory)
	assert.Equal(t, models.ActionLog, factory.ID())
}

func TestNewAction(t *testing.T) {
	tests := []struct {
		name          string
		config        map[string]any
		expectedMsg   string
		expectedLevel string
		wantErr       bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{name: "message only", config: map[string]any{"message": "test message"}, expectedMsg: "test message", expectedLevel: "info"},
		{name: "message and level", config: map[string]any{"message": "debug message", "level": "debug"}, expectedMsg: "debug message", expectedLevel: "debug"},
		{name: "rendered number", config: map[string]any{"message": 42.0}, expectedMsg: "42", expectedLevel: "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := NewAction(tt.config)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedMsg, action.Message)
			assert.Equal(t, tt.expectedLevel, action.Level)
		})
	}
}

func TestAction_Execute(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		level string
		want  string
	}{
		{level: "debug", want: "level=DEBUG"},
		{level: "info", want: "level=INFO"},
		{level: "warning", want: "level=WARN"},
		{level: "error", want: "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()

			action, err := NewAction(map[string]any{"message": "hello", "level": tt.level})
			require.NoError(t, err)

			result, err := action.Execute(context.Background(), &models.RunContext{MemberID: "m-1"}, logger)
			require.NoError(t, err)
			assert.Equal(t, "hello", result.Data["message"])
			assert.Equal(t, true, result.Data["logged"])
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "member_id=m-1")
		})
	}
}
