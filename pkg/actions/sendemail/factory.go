package sendemail

import (
	"context"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/protocol"
)

// ActionFactory creates send_email actions bound to a communication sender.
type ActionFactory struct {
	sender protocol.CommunicationSender
}

func NewActionFactory(sender protocol.CommunicationSender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

func (*ActionFactory) ID() models.ActionType {
	return models.ActionSendEmail
}

func (*ActionFactory) Name() string {
	return "Send email"
}

func (*ActionFactory) Description() string {
	return "Sends a templated communication to a member. The recipient defaults to the member's email."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.sender, config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Communication template identifier",
				"examples":    []string{"welcome", "donation-thank-you"},
			},
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient address. Supports templating, e.g. {{.member.email}}",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Optional subject override",
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Extra template variables; string values support templating",
			},
		},
		"required": []string{"template"},
	}
}
