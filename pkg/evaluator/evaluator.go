// Package evaluator decides whether an automation's trigger conditions hold for a run context.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/kindred-org/kindred/pkg/models"
)

// Evaluator matches automations against run contexts. It never panics and
// never returns an error: anything it cannot evaluate is a non-match.
type Evaluator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "evaluator")}
}

// Matches reports whether automation should run for rc.
// Scheduled automations always match; the due query already selected them.
func (e *Evaluator) Matches(ctx context.Context, automation *models.Automation, rc *models.RunContext) bool {
	if automation == nil {
		return false
	}

	if automation.IsScheduled() {
		return true
	}

	if len(automation.TriggerConditions) == 0 {
		return true
	}

	logger := e.logger.With("automation_id", automation.ID)

	for _, condition := range models.ParseConditions(automation.TriggerConditions) {
		if !e.holds(ctx, logger, condition, rc) {
			return false
		}
	}

	return true
}

// MatchConditions evaluates already parsed conditions. Every one must hold.
func (e *Evaluator) MatchConditions(ctx context.Context, conditions []models.Condition, rc *models.RunContext) bool {
	for _, condition := range conditions {
		if !e.holds(ctx, e.logger, condition, rc) {
			return false
		}
	}

	return true
}

func (e *Evaluator) holds(ctx context.Context, logger *slog.Logger, c models.Condition, rc *models.RunContext) bool {
	if c.Op == models.OpUnknown {
		err := &models.ConfigurationError{Subject: "trigger_conditions." + c.Field, Reason: c.Problem}
		logger.WarnContext(ctx, "Condition cannot be evaluated", "error", err)

		return false
	}

	actual, found := rc.Lookup(c.Field)

	if c.Op == models.OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}

		return (found && actual != nil) == want
	}

	if !found {
		err := &models.ConfigurationError{Subject: "trigger_conditions." + c.Field, Reason: "field is missing from the run context"}
		logger.WarnContext(ctx, "Condition field missing from context", "op", c.Op, "error", err)

		return false
	}

	switch c.Op {
	case models.OpEq:
		return equal(actual, c.Value)
	case models.OpNe:
		return !equal(actual, c.Value)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		cmp, ok := compare(actual, c.Value)
		if !ok {
			logger.WarnContext(ctx, "Condition values are not comparable",
				"field", c.Field, "op", c.Op,
				"actual_type", fmt.Sprintf("%T", actual),
				"expected_type", fmt.Sprintf("%T", c.Value),
			)

			return false
		}

		switch c.Op {
		case models.OpGt:
			return cmp > 0
		case models.OpGte:
			return cmp >= 0
		case models.OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case models.OpIn:
		list, _ := c.Value.([]any)
		for _, candidate := range list {
			if equal(actual, candidate) {
				return true
			}
		}

		return false
	case models.OpContains:
		return contains(actual, c.Value)
	default:
		return false
	}
}

func equal(actual, expected any) bool {
	if a, ok := actual.(string); ok {
		if b, ok := expected.(string); ok {
			return a == b
		}
	}

	if a, ok := toNumber(actual); ok {
		if b, ok := toNumber(expected); ok {
			return a == b
		}
	}

	if a, ok := toTime(actual); ok {
		if b, ok := toTime(expected); ok {
			return a.Equal(b)
		}
	}

	return reflect.DeepEqual(actual, expected)
}

// compare orders numbers numerically and times chronologically.
func compare(actual, expected any) (int, bool) {
	if a, ok := toNumber(actual); ok {
		if b, ok := toNumber(expected); ok {
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if a, ok := toTime(actual); ok {
		if b, ok := toTime(expected); ok {
			return a.Compare(b), true
		}
	}

	return 0, false
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		s, ok := expected.(string)

		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}

		return false
	case []string:
		s, ok := expected.(string)
		if !ok {
			return false
		}

		for _, item := range v {
			if item == s {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := expected.(string)
		if !ok {
			return false
		}

		_, found := v[key]

		return found
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}

		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed, true
		}

		parsed, err = time.Parse(time.DateOnly, t)
		if err == nil {
			return parsed, true
		}

		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
