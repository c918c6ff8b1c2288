// Package rules evaluates an inspection against a workflow's auto-approval
// rule set.
//
// Evaluation is a pure function of its inputs: the caller supplies the
// clock and, when a frequency limit is configured, the number of recent
// auto-approvals. Predicates run in a fixed order and the first failure
// wins:
//
//  1. time window
//  2. media presence
//  3. numeric range
//  4. frequency limit
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/domain"
)

// ReasonAllCriteriaMet is returned when every configured predicate passes.
const ReasonAllCriteriaMet = "all criteria met"

// Result is the outcome of one evaluation.
type Result struct {
	Eligible bool
	Reason   string
}

// Env carries everything the evaluator needs besides the inspection and
// rule set.
type Env struct {
	// Now is the wall-clock time of the evaluation.
	Now time.Time

	// Location converts Now to local time for the time window. Nil means
	// the location already attached to Now.
	Location *time.Location

	// RecentAutoApprovals is the number of auto-approved submissions by
	// the same inspector within the rule set's frequency period.
	RecentAutoApprovals int
}

type predicate func(*domain.Inspection, domain.AutoApprovalRuleSet, Env) (bool, string)

var chain = []predicate{
	checkTimeWindow,
	checkMedia,
	checkValueRange,
	checkFrequency,
}

// Evaluate tests insp against rs. It never mutates insp.
func Evaluate(insp *domain.Inspection, rs domain.AutoApprovalRuleSet, env Env) Result {
	for _, p := range chain {
		if ok, reason := p(insp, rs, env); !ok {
			return Result{Eligible: false, Reason: reason}
		}
	}
	return Result{Eligible: true, Reason: ReasonAllCriteriaMet}
}

func checkTimeWindow(_ *domain.Inspection, rs domain.AutoApprovalRuleSet, env Env) (bool, string) {
	if !rs.HasTimeWindow() {
		return true, ""
	}
	start, end := rs.TimeRangeStart, rs.TimeRangeEnd
	if start == "" {
		start = "00:00"
	}
	if end == "" {
		end = "23:59"
	}

	now := env.Now
	if env.Location != nil {
		now = now.In(env.Location)
	}
	// HH:MM is fixed-width and zero-padded, so lexical order is time order.
	clock := now.Format("15:04")
	inside := clock >= start && clock <= end
	if start > end {
		// Overnight window, e.g. 22:00-06:00.
		inside = clock >= start || clock <= end
	}
	if !inside {
		return false, fmt.Sprintf("submitted at %s, outside auto-approval window %s-%s", clock, start, end)
	}
	return true, ""
}

func checkMedia(insp *domain.Inspection, rs domain.AutoApprovalRuleSet, _ Env) (bool, string) {
	if !rs.RequirePhoto {
		return true, ""
	}
	for i, step := range insp.FilledSteps {
		if !step.HasMedia() {
			label := step.StepID
			if label == "" {
				label = strconv.Itoa(i + 1)
			}
			return false, fmt.Sprintf("photo required but step %s has no media", label)
		}
	}
	return true, ""
}

func checkValueRange(insp *domain.Inspection, rs domain.AutoApprovalRuleSet, _ Env) (bool, string) {
	if !rs.HasValueBounds() {
		return true, ""
	}
	value, ok := ResolveValue(insp, rs.ValueField)
	if !ok {
		return false, "value unavailable"
	}
	if rs.MinValue != nil && value < *rs.MinValue {
		return false, fmt.Sprintf("value %s below minimum %s", formatFloat(value), formatFloat(*rs.MinValue))
	}
	if rs.MaxValue != nil && value > *rs.MaxValue {
		return false, fmt.Sprintf("value %s above maximum %s", formatFloat(value), formatFloat(*rs.MaxValue))
	}
	return true, ""
}

func checkFrequency(_ *domain.Inspection, rs domain.AutoApprovalRuleSet, env Env) (bool, string) {
	if !rs.HasFrequencyLimit() {
		return true, ""
	}
	if env.RecentAutoApprovals >= rs.FrequencyLimit {
		return false, fmt.Sprintf("frequency limit reached: %d auto-approvals in the last %s (limit %d)",
			env.RecentAutoApprovals, rs.FrequencyPeriod, rs.FrequencyLimit)
	}
	return true, ""
}

// ResolveValue returns the numeric value used by the range check. The
// dedicated meter reading wins; otherwise the response text of the step
// named by field, or of the first step when field is empty, is parsed.
func ResolveValue(insp *domain.Inspection, field string) (float64, bool) {
	if insp.MeterReading != nil {
		return *insp.MeterReading, true
	}
	if len(insp.FilledSteps) == 0 {
		return 0, false
	}

	step := insp.FilledSteps[0]
	if field != "" {
		found := false
		for _, s := range insp.FilledSteps {
			if s.StepID == field {
				step, found = s, true
				break
			}
		}
		if !found {
			return 0, false
		}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(step.ResponseText), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
