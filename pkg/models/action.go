package models

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

type ActionType string

const (
	ActionSendEmail            ActionType = "send_email"
	ActionCreateTask           ActionType = "create_task"
	ActionUpdateMemberField    ActionType = "update_member_field"
	ActionWait                 ActionType = "wait"
	ActionCallExternalWorkflow ActionType = "call_external_workflow"
	ActionLog                  ActionType = "log"

	// ActionUnknown is what any unrecognised type decodes to. It always fails at execution.
	ActionUnknown ActionType = "unknown"
)

var knownActionTypes = map[ActionType]bool{
	ActionSendEmail:            true,
	ActionCreateTask:           true,
	ActionUpdateMemberField:    true,
	ActionWait:                 true,
	ActionCallExternalWorkflow: true,
	ActionLog:                  true,
}

// ParseActionType maps a raw type name to a known ActionType or ActionUnknown.
func ParseActionType(raw string) ActionType {
	t := ActionType(raw)
	if knownActionTypes[t] {
		return t
	}

	return ActionUnknown
}

func (t ActionType) Known() bool {
	return knownActionTypes[t]
}

// Action is one step of an automation. Order within Automation.Actions is execution order.
type Action struct {
	ID              string         `json:"id,omitempty"                yaml:"id,omitempty"`
	Type            ActionType     `json:"type"                        yaml:"type"                        validate:"required"`
	Config          map[string]any `json:"config,omitempty"            yaml:"config,omitempty"`
	Delay           *Duration      `json:"delay,omitempty"             yaml:"delay,omitempty"`
	Timeout         *Duration      `json:"timeout,omitempty"           yaml:"timeout,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// RawType keeps the name an unknown action was defined with.
	RawType string `json:"-" yaml:"-"`
}

// Name is the raw type the action was defined with, for logs and errors.
func (a Action) Name() string {
	if a.Type == ActionUnknown && a.RawType != "" {
		return a.RawType
	}

	return string(a.Type)
}

// DelayDuration returns the pre-execution delay or zero.
func (a Action) DelayDuration() time.Duration {
	if a.Delay == nil {
		return 0
	}

	return a.Delay.Duration()
}

func (a Action) Clone() Action {
	c := a
	c.Config = cloneMap(a.Config)

	if a.Delay != nil {
		d := *a.Delay
		c.Delay = &d
	}

	if a.Timeout != nil {
		d := *a.Timeout
		c.Timeout = &d
	}

	return c
}

type actionAlias Action

func (a *Action) UnmarshalJSON(data []byte) error {
	var raw struct {
		actionAlias

		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = Action(raw.actionAlias)
	a.Type = ParseActionType(raw.Type)

	if a.Type == ActionUnknown {
		a.RawType = raw.Type
	}

	return nil
}

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var raw actionAlias
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*a = Action(raw)

	name := string(a.Type)
	a.Type = ParseActionType(name)

	if a.Type == ActionUnknown {
		a.RawType = name
	}

	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	out := struct {
		actionAlias

		Type string `json:"type"`
	}{
		actionAlias: actionAlias(a),
		Type:        a.Name(),
	}

	return json.Marshal(out)
}

// ActionResult is the outcome of executing one action. Failures are data, never panics.
type ActionResult struct {
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	SuspendFor time.Duration  `json:"suspend_for,omitempty"`
	Duration   time.Duration  `json:"duration"`

	Err error `json:"-"`
}

// Succeeded builds an OK result.
func Succeeded(output map[string]any) ActionResult {
	return ActionResult{OK: true, Output: output}
}

// Failed builds a failed result carrying err.
func Failed(err error) ActionResult {
	return ActionResult{OK: false, Error: err.Error(), Err: err}
}
