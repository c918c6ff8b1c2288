package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowSnapshot is the copy of the external workflow template that the
// caller hands to Submit. Name and category are denormalized onto the
// inspection and never change afterwards.
type WorkflowSnapshot struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Category       string
	IsRoutine      bool // Routine inspections are candidates for auto-approval
	AutoApproval   AutoApprovalRuleSet
}

// FrequencyPeriod is the trailing window of a frequency limit.
type FrequencyPeriod string

const (
	FrequencyHour FrequencyPeriod = "hour"
	FrequencyDay  FrequencyPeriod = "day"
	FrequencyWeek FrequencyPeriod = "week"
)

// Duration returns the length of the period, or 0 for an unknown value.
func (p FrequencyPeriod) Duration() time.Duration {
	switch p {
	case FrequencyHour:
		return time.Hour
	case FrequencyDay:
		return 24 * time.Hour
	case FrequencyWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// AutoApprovalRuleSet is the declarative rule set attached to a workflow.
// Zero values mean "not configured".
type AutoApprovalRuleSet struct {
	Enabled bool

	// Local wall-clock bounds, "HH:MM", inclusive.
	TimeRangeStart string
	TimeRangeEnd   string

	MinValue   *float64
	MaxValue   *float64
	ValueField string // Step ID to read the value from when no meter reading is present

	RequirePhoto bool

	FrequencyLimit  int
	FrequencyPeriod FrequencyPeriod

	// BulkApprovalEnabled is independent of Enabled: it makes submissions
	// that were not auto-approved eligible for batching.
	BulkApprovalEnabled bool
}

// HasTimeWindow returns true if either time bound is configured.
func (r AutoApprovalRuleSet) HasTimeWindow() bool {
	return r.TimeRangeStart != "" || r.TimeRangeEnd != ""
}

// HasValueBounds returns true if either numeric bound is configured.
func (r AutoApprovalRuleSet) HasValueBounds() bool {
	return r.MinValue != nil || r.MaxValue != nil
}

// HasFrequencyLimit returns true if a frequency limit is configured.
func (r AutoApprovalRuleSet) HasFrequencyLimit() bool {
	return r.FrequencyLimit > 0
}

// Validate checks the rule set for malformed values.
func (r AutoApprovalRuleSet) Validate() error {
	const op = "workflow.validate_rules"

	var verr *ValidationError
	add := func(field, msg string) {
		if verr == nil {
			verr = NewValidationError(op, field, msg)
			return
		}
		verr.Fields[field] = msg
	}

	if r.TimeRangeStart != "" && !isClock(r.TimeRangeStart) {
		add("time_range_start", "must be HH:MM")
	}
	if r.TimeRangeEnd != "" && !isClock(r.TimeRangeEnd) {
		add("time_range_end", "must be HH:MM")
	}
	if r.MinValue != nil && r.MaxValue != nil && *r.MinValue > *r.MaxValue {
		add("min_value", "must not exceed max_value")
	}
	if r.FrequencyLimit < 0 {
		add("frequency_limit", "must not be negative")
	}
	if r.FrequencyLimit > 0 && r.FrequencyPeriod.Duration() == 0 {
		add("frequency_period", fmt.Sprintf("must be one of hour, day, week (got %q)", r.FrequencyPeriod))
	}

	if verr != nil {
		return verr
	}
	return nil
}

// isClock reports whether s is a zero-padded 24h "HH:MM" value.
func isClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}
