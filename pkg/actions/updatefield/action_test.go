package updatefield

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/kindred-org/kindred/pkg/mocks"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewAction(t *testing.T) {
	records := &mocks.MockRecordUpdater{}

	tests := []struct {
		name      string
		config    map[string]any
		wantPatch map[string]any
		wantErr   bool
	}{
		{
			name:      "single field",
			config:    map[string]any{"field": "status", "value": "onboarded"},
			wantPatch: map[string]any{"status": "onboarded"},
		},
		{
			name:      "fields and field merge",
			config:    map[string]any{"fields": map[string]any{"a": 1.0}, "field": "b", "value": true},
			wantPatch: map[string]any{"a": 1.0, "b": true},
		},
		{name: "field without value", config: map[string]any{"field": "status"}, wantErr: true},
		{name: "nothing to update", config: map[string]any{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := NewAction(records, tt.config)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPatch, action.patch)
			assert.Equal(t, "member", action.entityType)
		})
	}
}

func TestAction_ExecuteTargets(t *testing.T) {
	tests := []struct {
		name       string
		config     map[string]any
		rc         *models.RunContext
		wantType   string
		wantID     string
		wantNoCall bool
	}{
		{
			name:     "member from context",
			config:   map[string]any{"field": "tier", "value": "gold"},
			rc:       &models.RunContext{MemberID: "m-1"},
			wantType: "member",
			wantID:   "m-1",
		},
		{
			name:     "explicit entity",
			config:   map[string]any{"field": "tier", "value": "gold", "entity_id": "m-9"},
			rc:       &models.RunContext{MemberID: "m-1"},
			wantType: "member",
			wantID:   "m-9",
		},
		{
			name:     "donation entity from context",
			config:   map[string]any{"field": "thanked", "value": true, "entity_type": "donation"},
			rc:       &models.RunContext{MemberID: "m-1", EntityType: "donation", EntityID: "d-1"},
			wantType: "donation",
			wantID:   "d-1",
		},
		{
			name:       "no target",
			config:     map[string]any{"field": "thanked", "value": true, "entity_type": "donation"},
			rc:         &models.RunContext{MemberID: "m-1"},
			wantNoCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &mocks.MockRecordUpdater{}
			records.On("Update", mock.Anything, tt.wantType, tt.wantID, mock.Anything).Return(nil)

			action, err := NewAction(records, tt.config)
			require.NoError(t, err)

			result, err := action.Execute(context.Background(), tt.rc, slog.Default())
			if tt.wantNoCall {
				require.ErrorIs(t, err, ErrNoEntity)
				records.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, result.Data["entity_id"])
			records.AssertExpectations(t)
		})
	}
}

func TestAction_ExecuteFailure(t *testing.T) {
	records := &mocks.MockRecordUpdater{}
	records.On("Update", mock.Anything, "member", "m-1", mock.Anything).Return(errors.New("conflict"))

	action, err := NewAction(records, map[string]any{"field": "tier", "value": "gold"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), &models.RunContext{MemberID: "m-1"}, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}
