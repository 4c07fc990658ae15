// Package log implements the log action, useful for dry runs and audit notes.
package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) (*Action, error) {
	message, ok := config["message"]
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := config["level"].(string); ok && lvl != "" {
		level = lvl
	}

	return &Action{Message: fmt.Sprint(message), Level: level}, nil
}

func (a *Action) Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	logger = logger.With("action_type", "log", "member_id", rc.MemberID)

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, a.Message)
	case "warn", "warning":
		logger.WarnContext(ctx, a.Message)
	case "error":
		logger.ErrorContext(ctx, a.Message)
	default:
		logger.InfoContext(ctx, a.Message)
	}

	return protocol.Result{Data: map[string]any{
		"message": a.Message,
		"level":   a.Level,
		"logged":  true,
	}}, nil
}
