package metrics

import (
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

const (
	hoursPerDay         = 24.0
	staleUpdateDays     = 7
	dateDiscrepancyDays = 30
	accuracyFullBand    = 0.2
	accuracyHalfBand    = 0.7
)

// Config carries the tunable thresholds and mappings the computation uses.
type Config struct {
	WIPLimit        int
	WIPAgeLimitDays float64
	TeamDomains     map[string]string
	EngineerTeams   map[string][]string
}

func days(d time.Duration) float64 { return d.Hours() / hoursPerDay }

func ptr(v float64) *float64 { return &v }

// WIPAgeDays returns how long an issue has been (or was) in progress, in days.
// Only started and completed issues have a WIP age. A completed issue with no
// recorded start time has an undefined WIP age: falling back to creation time
// would conflate WIP age with lead time. A started issue without a start time
// falls back to creation time.
func WIPAgeDays(i domain.Issue, now time.Time) *float64 {
	switch i.StateType {
	case domain.StateStarted:
		start := i.CreatedAt
		if i.StartedAt != nil {
			start = *i.StartedAt
		}
		if now.Before(start) {
			return ptr(0)
		}
		return ptr(days(now.Sub(start)))
	case domain.StateCompleted:
		if i.StartedAt == nil || i.CompletedAt == nil {
			return nil
		}
		if i.CompletedAt.Before(*i.StartedAt) {
			return nil
		}
		return ptr(days(i.CompletedAt.Sub(*i.StartedAt)))
	default:
		return nil
	}
}

// CycleTimeDays is start→completion; undefined without both timestamps.
func CycleTimeDays(i domain.Issue) *float64 {
	if i.StartedAt == nil || i.CompletedAt == nil || i.CompletedAt.Before(*i.StartedAt) {
		return nil
	}
	return ptr(days(i.CompletedAt.Sub(*i.StartedAt)))
}

// LeadTimeDays is creation→completion; undefined without a completion time.
func LeadTimeDays(i domain.Issue) *float64 {
	if i.CompletedAt == nil || i.CompletedAt.Before(i.CreatedAt) {
		return nil
	}
	return ptr(days(i.CompletedAt.Sub(i.CreatedAt)))
}

// Velocity is completed issues per elapsed week since the project started.
// Zero when nothing completed; undefined without a start reference.
func Velocity(issues []domain.Issue, projectStart *time.Time, now time.Time) *float64 {
	if projectStart == nil {
		return nil
	}
	completed := 0
	for _, i := range issues {
		if i.StateType == domain.StateCompleted {
			completed++
		}
	}
	if completed == 0 {
		return ptr(0)
	}
	weeks := days(now.Sub(*projectStart)) / 7.0
	if weeks < 1 {
		weeks = 1
	}
	return ptr(float64(completed) / weeks)
}

// EstimateAccuracy calibrates a days-per-point factor from all completed,
// estimated issues with positive cycle time, then scores each such issue on a
// three-tier ratio band: within 20% of expected duration scores full credit,
// 20-70% half credit, beyond none. Undefined when no issue qualifies.
func EstimateAccuracy(issues []domain.Issue) *float64 {
	type sample struct {
		points float64
		actual float64
	}
	var samples []sample
	for _, i := range issues {
		if i.StateType != domain.StateCompleted || i.Estimate == nil || *i.Estimate <= 0 {
			continue
		}
		cycle := CycleTimeDays(i)
		if cycle == nil || *cycle <= 0 {
			continue
		}
		samples = append(samples, sample{points: *i.Estimate, actual: *cycle})
	}
	if len(samples) == 0 {
		return nil
	}
	var sumRate float64
	for _, s := range samples {
		sumRate += s.actual / s.points
	}
	daysPerPoint := sumRate / float64(len(samples))
	if daysPerPoint <= 0 {
		return nil
	}
	var score float64
	for _, s := range samples {
		expected := daysPerPoint * s.points
		ratio := (s.actual - expected) / expected
		if ratio < 0 {
			ratio = -ratio
		}
		switch {
		case ratio <= accuracyFullBand:
			score += 1.0
		case ratio <= accuracyHalfBand:
			score += 0.5
		}
	}
	return ptr(score / float64(len(samples)))
}

// LastBusinessDay returns the start of the most recent business day strictly
// before now's date. Weekends do not count toward comment staleness, so a
// Monday check reaches back to Friday.
func LastBusinessDay(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	d = d.AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// IsCommentStale reports whether a started issue has had no comment since the
// last business day. Only started issues are evaluated; canceled and
// duplicate-named states are suppressed. Issues created after the cutoff are
// never stale, so fresh work is not flagged before anyone could comment.
func IsCommentStale(i domain.Issue, now time.Time) bool {
	if i.StateType != domain.StateStarted {
		return false
	}
	if isSuppressedState(i.StateName) {
		return false
	}
	cutoff := LastBusinessDay(now)
	if i.CreatedAt.After(cutoff) {
		return false
	}
	return i.LastCommentAt == nil || i.LastCommentAt.Before(cutoff)
}

func isSuppressedState(name string) bool {
	switch name {
	case "Canceled", "Cancelled", "Duplicate":
		return true
	}
	return false
}

// MissingEstimate distinguishes nil from zero: an estimate of 0 is a real
// value, not a missing one. Subissues are excluded.
func MissingEstimate(i domain.Issue) bool {
	return !i.IsSubissue() && i.Estimate == nil
}

// MissingPriority treats priority 0 as "none". Subissues are excluded.
func MissingPriority(i domain.Issue) bool {
	return !i.IsSubissue() && i.Priority == 0
}

// activeProjectStates are the lifecycle categories under which in-flight
// issues are expected.
func projectStateActive(state string) bool {
	return state == "started"
}

// HasStatusMismatch reports disagreement between a project's declared
// lifecycle state and the actual state of its issues: a backlog-like or
// terminal project with work in progress, or an active project none of whose
// issues are in progress.
func HasStatusMismatch(p domain.Project, issues []domain.Issue) bool {
	anyStarted := false
	for _, i := range issues {
		if i.StateType == domain.StateStarted {
			anyStarted = true
			break
		}
	}
	if !projectStateActive(p.State) {
		return anyStarted
	}
	return len(issues) > 0 && !anyStarted
}

// HasStaleUpdate reports whether the project has gone without a status update
// for more than seven days.
func HasStaleUpdate(p domain.Project, now time.Time) bool {
	if p.LastUpdateAt == nil {
		return true
	}
	return now.Sub(*p.LastUpdateAt) > staleUpdateDays*hoursPerDay*time.Hour
}

// HasDateDiscrepancy reports whether the system-estimated end date and the
// externally supplied target date disagree by more than thirty days.
func HasDateDiscrepancy(p domain.Project) bool {
	if p.TargetDate == nil || p.EstimatedEndDate == nil {
		return false
	}
	diff := p.EstimatedEndDate.Sub(*p.TargetDate)
	if diff < 0 {
		diff = -diff
	}
	return days(diff) > dateDiscrepancyDays
}
