package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kindred-org/kindred/pkg/mocks"
	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/kindred-org/kindred/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type actionFunc func(ctx context.Context, rc *models.RunContext) (protocol.Result, error)

func (f actionFunc) Execute(ctx context.Context, rc *models.RunContext, _ *slog.Logger) (protocol.Result, error) {
	return f(ctx, rc)
}

type stubFactories struct {
	action    protocol.Action
	createErr error
	config    map[string]any
}

func (s *stubFactories) CreateAction(_ context.Context, _ models.ActionType, config map[string]any) (protocol.Action, error) {
	s.config = config

	if s.createErr != nil {
		return nil, s.createErr
	}

	return s.action, nil
}

func runContext() *models.RunContext {
	return &models.RunContext{
		TriggerType: models.TriggerMemberCreated,
		MemberID:    "m-1",
		Member:      map[string]any{"email": "ada@example.org", "first_name": "Ada"},
	}
}

func TestExecute_Success(t *testing.T) {
	factories := &stubFactories{
		action: actionFunc(func(_ context.Context, rc *models.RunContext) (protocol.Result, error) {
			rc.Member["first_name"] = "mutated"

			return protocol.Result{Data: map[string]any{"ok": true}}, nil
		}),
	}

	rc := runContext()
	e := New(slog.Default(), factories)

	result := e.Execute(context.Background(), models.Action{
		Type:   models.ActionLog,
		Config: map[string]any{"message": "Hello {{ .member.first_name }}"},
	}, rc)

	assert.True(t, result.OK)
	assert.Empty(t, result.Error)
	assert.Equal(t, map[string]any{"ok": true}, result.Output)
	assert.Equal(t, "Hello Ada", factories.config["message"])
	assert.Equal(t, "Ada", rc.Member["first_name"], "actions get a copy of the context")
	assert.Positive(t, result.Duration)
}

func TestExecute_UnknownType(t *testing.T) {
	e := New(slog.Default(), &stubFactories{})

	action := models.Action{Type: models.ActionUnknown, RawType: "send_fax"}
	result := e.Execute(context.Background(), action, runContext())

	assert.False(t, result.OK)
	assert.True(t, models.IsConfigurationError(result.Err))
	assert.Contains(t, result.Error, "send_fax")
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name      string
		action    models.Action
		factories *stubFactories
		wantIs    error
		wantText  string
	}{
		{
			name:      "template references missing field",
			action:    models.Action{Type: models.ActionLog, Config: map[string]any{"message": "{{ .member.nickname }}"}},
			factories: &stubFactories{},
			wantText:  "failed to render config",
		},
		{
			name:   "invalid config",
			action: models.Action{Type: models.ActionLog},
			factories: &stubFactories{
				createErr: &models.ValidationError{Field: "log config", Reason: "message is required"},
			},
			wantText: "message is required",
		},
		{
			name:   "action error",
			action: models.Action{Type: models.ActionSendEmail},
			factories: &stubFactories{action: actionFunc(func(context.Context, *models.RunContext) (protocol.Result, error) {
				return protocol.Result{}, errors.New("smtp down")
			})},
			wantText: "smtp down",
		},
		{
			name:   "panic",
			action: models.Action{Type: models.ActionSendEmail},
			factories: &stubFactories{action: actionFunc(func(context.Context, *models.RunContext) (protocol.Result, error) {
				panic("nil map")
			})},
			wantIs: ErrActionPanicked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(slog.Default(), tt.factories).ExecuteAt(context.Background(), 2, tt.action, runContext())

			assert.False(t, result.OK)
			assert.True(t, models.IsActionExecutionError(result.Err))

			var execErr *models.ActionExecutionError
			require.ErrorAs(t, result.Err, &execErr)
			assert.Equal(t, 2, execErr.Index)

			if tt.wantIs != nil {
				assert.ErrorIs(t, result.Err, tt.wantIs)
			}

			if tt.wantText != "" {
				assert.Contains(t, result.Error, tt.wantText)
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	factories := &stubFactories{action: actionFunc(func(context.Context, *models.RunContext) (protocol.Result, error) {
		<-block

		return protocol.Result{}, nil
	})}

	e := New(slog.Default(), factories, WithDefaultTimeout(time.Hour))

	started := time.Now()
	result := e.Execute(context.Background(), models.Action{
		Type:    models.ActionCallExternalWorkflow,
		Timeout: models.NewDuration(20 * time.Millisecond),
	}, runContext())

	assert.Less(t, time.Since(started), time.Second)
	assert.False(t, result.OK)
	assert.ErrorIs(t, result.Err, ErrActionTimeout)
}

func TestExecute_Suspend(t *testing.T) {
	factories := &stubFactories{action: actionFunc(func(context.Context, *models.RunContext) (protocol.Result, error) {
		return protocol.Result{SuspendFor: time.Hour}, nil
	})}

	result := New(slog.Default(), factories).Execute(context.Background(), models.Action{Type: models.ActionWait}, runContext())

	assert.True(t, result.OK)
	assert.Equal(t, time.Hour, result.SuspendFor)
}

func TestExecute_WithRegistry(t *testing.T) {
	sender := &mocks.MockCommunicationSender{}
	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg protocol.Message) bool {
		return msg.Template == "welcome" && msg.Recipient == "ada@example.org" && msg.Subject == "Welcome, Ada"
	})).Return("msg-1", nil)

	reg := registry.NewRegistry(slog.Default())
	require.NoError(t, reg.RegisterDefaultActions(protocol.Collaborators{Communications: sender}))

	e := New(slog.Default(), reg)

	result := e.Execute(context.Background(), models.Action{
		ID:     "welcome",
		Type:   models.ActionSendEmail,
		Config: map[string]any{"template": "welcome", "subject": "Welcome, {{ .member.first_name }}"},
	}, runContext())

	require.True(t, result.OK, result.Error)
	assert.Equal(t, "msg-1", result.Output["message_id"])
	sender.AssertExpectations(t)

	result = e.Execute(context.Background(), models.Action{Type: models.ActionWait, Config: map[string]any{}}, runContext())
	assert.False(t, result.OK)
	assert.True(t, models.IsValidationError(result.Err))
}
