package models

import (
	"fmt"
	"sort"
)

type ConditionOp string

const (
	OpEq       ConditionOp = "eq"
	OpNe       ConditionOp = "ne"
	OpGt       ConditionOp = "gt"
	OpGte      ConditionOp = "gte"
	OpLt       ConditionOp = "lt"
	OpLte      ConditionOp = "lte"
	OpIn       ConditionOp = "in"
	OpContains ConditionOp = "contains"
	OpExists   ConditionOp = "exists"

	// OpUnknown never matches.
	OpUnknown ConditionOp = "unknown"
)

func ParseConditionOp(raw string) ConditionOp {
	switch op := ConditionOp(raw); op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists:
		return op
	default:
		return OpUnknown
	}
}

// Condition is one parsed entry of an automation's trigger conditions.
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value,omitempty"`

	// Problem explains why Op is OpUnknown.
	Problem string `json:"problem,omitempty"`
}

// ParseConditions turns the stored condition mapping into typed conditions.
//
// A plain value is an equality check: {"tier": "gold"}.
// A map with an "op" key is a comparator: {"amount": {"op": "gte", "value": 100}}.
// Anything malformed becomes an OpUnknown condition so evaluation fails closed.
// Results are sorted by field for stable evaluation and logging.
func ParseConditions(raw map[string]any) []Condition {
	fields := make([]string, 0, len(raw))
	for field := range raw {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	conditions := make([]Condition, 0, len(fields))
	for _, field := range fields {
		conditions = append(conditions, parseCondition(field, raw[field]))
	}

	return conditions
}

func parseCondition(field string, raw any) Condition {
	comparator, ok := raw.(map[string]any)
	if !ok {
		return Condition{Field: field, Op: OpEq, Value: raw}
	}

	rawOp, hasOp := comparator["op"]
	if !hasOp {
		return Condition{Field: field, Op: OpUnknown, Problem: "comparator is missing \"op\""}
	}

	opName, ok := rawOp.(string)
	if !ok {
		return Condition{Field: field, Op: OpUnknown, Problem: fmt.Sprintf("operator must be a string, got %T", rawOp)}
	}

	op := ParseConditionOp(opName)
	if op == OpUnknown {
		return Condition{Field: field, Op: OpUnknown, Problem: fmt.Sprintf("unknown operator %q", opName)}
	}

	value, hasValue := comparator["value"]
	if !hasValue && op != OpExists {
		return Condition{Field: field, Op: OpUnknown, Problem: fmt.Sprintf("operator %q requires a value", opName)}
	}

	if op == OpIn {
		if _, ok := value.([]any); !ok {
			return Condition{Field: field, Op: OpUnknown, Problem: "operator \"in\" requires a list value"}
		}
	}

	return Condition{Field: field, Op: op, Value: value}
}

// ValidateConditions reports the first malformed condition as a ValidationError.
func ValidateConditions(raw map[string]any) error {
	for _, condition := range ParseConditions(raw) {
		if condition.Op == OpUnknown {
			return &ValidationError{
				Field:  "trigger_conditions." + condition.Field,
				Reason: condition.Problem,
			}
		}
	}

	return nil
}
