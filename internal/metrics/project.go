package metrics

import (
	"sort"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// ComputeProject fills a project's aggregates, violation counts, quality
// metrics and flags from its current issue set. Everything is recomputed from
// scratch: repeated passes over the same data converge to identical results
// even if a prior computation was interrupted. Returns the number of records
// skipped because an invariant did not hold (e.g. a completed issue with no
// completion timestamp).
func ComputeProject(p *domain.Project, issues []domain.Issue, now time.Time, cfg Config) int {
	p.TotalIssues = len(issues)
	p.CompletedIssues = 0
	p.InProgressIssues = 0
	p.TotalPoints = 0
	p.CompletedPoints = 0
	p.TeamIssueCounts = map[string]int{}
	p.MissingEstimateCount = 0
	p.MissingPriorityCount = 0
	p.StaleCommentCount = 0
	p.WIPAgeViolationCount = 0
	p.MissingDescriptionCount = 0

	skipped := 0
	engineerSet := map[string]bool{}
	var cycleSum, leadSum float64
	var cycleN, leadN int

	for _, i := range issues {
		if i.TeamKey != "" {
			p.TeamIssueCounts[i.TeamKey]++
		}
		if i.AssigneeName != "" {
			engineerSet[i.AssigneeName] = true
		}
		if i.Estimate != nil {
			p.TotalPoints += *i.Estimate
		}
		switch i.StateType {
		case domain.StateCompleted:
			if i.CompletedAt == nil {
				// Invariant violation: completed without a completion time.
				// Skip this record's time metrics, keep counting it.
				skipped++
				p.CompletedIssues++
				continue
			}
			p.CompletedIssues++
			if i.Estimate != nil {
				p.CompletedPoints += *i.Estimate
			}
			if ct := CycleTimeDays(i); ct != nil {
				cycleSum += *ct
				cycleN++
			}
			if lt := LeadTimeDays(i); lt != nil {
				leadSum += *lt
				leadN++
			}
		case domain.StateStarted:
			p.InProgressIssues++
			if age := WIPAgeDays(i, now); age != nil && *age > cfg.WIPAgeLimitDays {
				p.WIPAgeViolationCount++
			}
		}
		if MissingEstimate(i) {
			p.MissingEstimateCount++
		}
		if MissingPriority(i) {
			p.MissingPriorityCount++
		}
		if IsCommentStale(i, now) {
			p.StaleCommentCount++
		}
		if i.Description == "" && i.StateType != domain.StateCanceled {
			p.MissingDescriptionCount++
		}
	}

	p.Engineers = sortedKeys(engineerSet)

	p.AvgCycleTimeDays = nil
	if cycleN > 0 {
		p.AvgCycleTimeDays = ptr(cycleSum / float64(cycleN))
	}
	p.AvgLeadTimeDays = nil
	if leadN > 0 {
		p.AvgLeadTimeDays = ptr(leadSum / float64(leadN))
	}
	p.Velocity = Velocity(issues, p.StartedAt, now)
	p.EstimateAccuracy = EstimateAccuracy(issues)
	p.Progress = 0
	if p.TotalIssues > 0 {
		p.Progress = float64(p.CompletedIssues) / float64(p.TotalIssues)
	}

	p.HasStatusMismatch = HasStatusMismatch(*p, issues)
	p.HasStaleUpdate = HasStaleUpdate(*p, now)
	p.MissingLead = p.LeadID == ""
	p.MissingHealth = p.Health == domain.HealthUnset
	p.HasDateDiscrepancy = HasDateDiscrepancy(*p)
	p.HasViolations = p.MissingEstimateCount > 0 || p.MissingPriorityCount > 0 ||
		p.StaleCommentCount > 0 || p.WIPAgeViolationCount > 0 ||
		p.MissingDescriptionCount > 0 || p.HasStatusMismatch || p.HasStaleUpdate ||
		p.MissingLead || p.MissingHealth || p.HasDateDiscrepancy

	return skipped
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
