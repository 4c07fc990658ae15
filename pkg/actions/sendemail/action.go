// Package sendemail implements the send_email action.
package sendemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

var ErrNoRecipient = errors.New("no recipient: set 'to' or provide a member email")

type Action struct {
	sender   protocol.CommunicationSender
	template string
	to       string
	subject  string
	data     map[string]any
}

func NewAction(sender protocol.CommunicationSender, config map[string]any) (*Action, error) {
	if sender == nil {
		return nil, errors.New("send_email requires a communication sender")
	}

	template, _ := config["template"].(string)
	if template == "" {
		return nil, errors.New("missing required field 'template'")
	}

	action := &Action{sender: sender, template: template}
	action.to, _ = config["to"].(string)
	action.subject, _ = config["subject"].(string)
	action.data, _ = config["data"].(map[string]any)

	return action, nil
}

func (a *Action) Execute(ctx context.Context, rc *models.RunContext, logger *slog.Logger) (protocol.Result, error) {
	recipient := a.to
	if recipient == "" {
		if email, ok := rc.Lookup("member.email"); ok {
			recipient, _ = email.(string)
		}
	}

	if recipient == "" {
		return protocol.Result{}, ErrNoRecipient
	}

	data := make(map[string]any, len(a.data)+1)
	for k, v := range a.data {
		data[k] = v
	}

	if rc.Member != nil {
		data["member"] = rc.Member
	}

	messageID, err := a.sender.Send(ctx, protocol.Message{
		Template:  a.template,
		Recipient: recipient,
		MemberID:  rc.MemberID,
		Subject:   a.subject,
		Data:      data,
	})
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to send %s: %w", a.template, err)
	}

	logger.InfoContext(ctx, "Sent communication", "template", a.template, "message_id", messageID)

	return protocol.Result{Data: map[string]any{
		"message_id": messageID,
		"recipient":  recipient,
		"template":   a.template,
	}}, nil
}
