// Package onboarding drives the multi-step onboarding of new members: an
// immediate welcome, a staff task list and follow-ups at fixed offsets from
// the start.
package onboarding

import (
	"fmt"
	"os"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
	"gopkg.in/yaml.v3"
)

// StepConfig is one step of an onboarding plan. Offset is measured from the
// start of onboarding, never from the previous step.
type StepConfig struct {
	Name     string          `json:"name"               yaml:"name"               validate:"required"`
	Offset   models.Duration `json:"offset"             yaml:"offset"`
	Critical bool            `json:"critical,omitempty" yaml:"critical,omitempty"`
	Action   models.Action   `json:"action"             yaml:"action"`
}

// Config is an onboarding plan.
type Config struct {
	Steps []StepConfig `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// DefaultConfig is the plan used when none is supplied.
func DefaultConfig() Config {
	day := 24 * time.Hour

	followUp := func(name, template string, offset time.Duration) StepConfig {
		return StepConfig{
			Name:   name,
			Offset: models.Duration(offset),
			Action: models.Action{
				Type:   models.ActionSendEmail,
				Config: map[string]any{"template": template},
			},
		}
	}

	return Config{Steps: []StepConfig{
		{
			Name:     "welcome",
			Critical: true,
			Action: models.Action{
				Type:   models.ActionSendEmail,
				Config: map[string]any{"template": "onboarding-welcome", "subject": "Welcome, {{ .member.first_name }}!"},
			},
		},
		{
			Name: "task_list",
			Action: models.Action{
				Type: models.ActionCreateTask,
				Config: map[string]any{
					"title":       "Onboarding call with {{ .member.first_name }} {{ .member.last_name }}",
					"description": "Introduce programmes and volunteering options.",
					"priority":    "normal",
				},
			},
		},
		followUp("follow_up_first_week", "onboarding-first-week", 3*day),
		followUp("follow_up_second_week", "onboarding-second-week", 14*day),
		followUp("follow_up_first_month", "onboarding-first-month", 30*day),
	}}
}

// Validate checks the plan beyond its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &models.ValidationError{Field: "steps", Reason: err.Error()}
	}

	seen := make(map[string]bool, len(c.Steps))

	for i, step := range c.Steps {
		field := fmt.Sprintf("steps[%d]", i)

		if seen[step.Name] {
			return &models.ValidationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate step %q", step.Name)}
		}

		seen[step.Name] = true

		if step.Offset < 0 {
			return &models.ValidationError{Field: field + ".offset", Reason: "must not be negative"}
		}

		if !step.Action.Type.Known() {
			return &models.ValidationError{Field: field + ".action.type", Reason: fmt.Sprintf("unknown action type %q", step.Action.Name())}
		}

		if step.Action.Type == models.ActionWait {
			return &models.ValidationError{Field: field + ".action.type", Reason: "use the step offset instead of a wait action"}
		}
	}

	return nil
}

// ParseConfig decodes and validates a YAML plan.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse onboarding plan: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads a YAML plan from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read onboarding plan: %w", err)
	}

	return ParseConfig(data)
}
