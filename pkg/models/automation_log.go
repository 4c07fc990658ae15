package models

import "time"

// ActionOutcome records one executed action inside a run.
type ActionOutcome struct {
	Index      int       `json:"index"`
	ActionID   string    `json:"action_id,omitempty"`
	Type       string    `json:"type"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Skipped    bool      `json:"skipped,omitempty"`
	At         time.Time `json:"at"`
}

// AutomationLog is the append-only audit record written once per run.
type AutomationLog struct {
	ID              string          `json:"id"`
	AutomationID    *string         `json:"automation_id,omitempty"`
	AutomationName  string          `json:"automation_name"`
	TriggerType     TriggerType     `json:"trigger_type"`
	MemberID        *string         `json:"member_id,omitempty"`
	Success         bool            `json:"success"`
	Suspended       bool            `json:"suspended,omitempty"`
	Error           *string         `json:"error,omitempty"`
	ActionsExecuted int             `json:"actions_executed"`
	Outcomes        []ActionOutcome `json:"outcomes,omitempty"`
	ContinuationOf  *string         `json:"continuation_of,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RunStats aggregates the log of one automation, or of all of them.
type RunStats struct {
	AutomationID *string    `json:"automation_id,omitempty"`
	TotalRuns    int64      `json:"total_runs"`
	Succeeded    int64      `json:"succeeded"`
	Failed       int64      `json:"failed"`
	SuccessRate  float64    `json:"success_rate"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}

// ComputeRate fills SuccessRate from the counters.
func (s *RunStats) ComputeRate() {
	if s.TotalRuns == 0 {
		s.SuccessRate = 0

		return
	}

	s.SuccessRate = float64(s.Succeeded) / float64(s.TotalRuns)
}

// RunOutcome is what a run returns to its caller.
type RunOutcome struct {
	AutomationID    string          `json:"automation_id"`
	LogID           string          `json:"log_id"`
	Success         bool            `json:"success"`
	Suspended       bool            `json:"suspended,omitempty"`
	ResumeAt        *time.Time      `json:"resume_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	FailedAction    *int            `json:"failed_action,omitempty"`
	ActionsExecuted int             `json:"actions_executed"`
	Outcomes        []ActionOutcome `json:"outcomes,omitempty"`
	RunCount        int64           `json:"run_count"`
	NextRun         *time.Time      `json:"next_run,omitempty"`
}
