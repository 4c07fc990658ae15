package services

import (
	"context"
	"fmt"
	"os"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of an automation seed file.
type SeedFile struct {
	Automations []*models.Automation `yaml:"automations"`
}

// ImportResult reports what an import did per definition.
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Import loads definitions from YAML. Definitions with an ID that already
// exists replace the stored definition but keep its run statistics.
func (a *Automation) Import(ctx context.Context, data []byte) (*ImportResult, error) {
	var seed SeedFile

	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	for i, automation := range seed.Automations {
		if automation == nil {
			return nil, fmt.Errorf("automations[%d]: %w", i, ErrAutomationNil)
		}
	}

	result := &ImportResult{Created: make([]string, 0), Updated: make([]string, 0)}

	for i, automation := range seed.Automations {
		if automation.ID != "" {
			_, err := a.persistence.AutomationRepository().GetByID(ctx, automation.ID)

			switch {
			case err == nil:
				if _, err := a.Update(ctx, automation.ID, replacement(automation)); err != nil {
					return result, fmt.Errorf("automations[%d] (%s): %w", i, automation.ID, err)
				}

				result.Updated = append(result.Updated, automation.ID)

				continue
			case !persistence.IsAutomationNotFound(err):
				return result, err
			}
		}

		created, err := a.Create(ctx, automation)
		if err != nil {
			return result, fmt.Errorf("automations[%d] (%s): %w", i, automation.Name, err)
		}

		result.Created = append(result.Created, created.ID)
	}

	return result, nil
}

// ImportFile reads a seed file from path.
func (a *Automation) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	return a.Import(ctx, data)
}

func replacement(automation *models.Automation) models.AutomationPatch {
	description := automation.Description
	name := automation.Name
	trigger := automation.TriggerType
	mode := automation.Mode

	patch := models.AutomationPatch{
		Name:              &name,
		Description:       &description,
		TriggerType:       &trigger,
		TriggerConditions: automation.TriggerConditions,
		Actions:           automation.Actions,
		Schedule:          automation.Schedule,
		NextRun:           automation.NextRun,
	}

	if mode != "" {
		patch.Mode = &mode
	}

	if automation.Status != "" {
		status := automation.Status
		patch.Status = &status
	}

	return patch
}
