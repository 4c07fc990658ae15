package wait

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAction(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		want    time.Duration
		wantErr bool
	}{
		{name: "duration string", config: map[string]any{"duration": "72h"}, want: 72 * time.Hour},
		{name: "seconds", config: map[string]any{"duration": float64(90)}, want: 90 * time.Second},
		{name: "missing", config: map[string]any{}, wantErr: true},
		{name: "garbage", config: map[string]any{"duration": "later"}, wantErr: true},
		{name: "zero", config: map[string]any{"duration": "0s"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := NewAction(tt.config)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, action.duration)
		})
	}
}

func TestAction_ExecuteDoesNotBlock(t *testing.T) {
	action, err := NewAction(map[string]any{"duration": "24h"})
	require.NoError(t, err)

	start := time.Now()

	result, err := action.Execute(context.Background(), &models.RunContext{}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, result.SuspendFor)
	assert.Less(t, time.Since(start), time.Second)
}
