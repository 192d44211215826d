package metrics

import (
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// Aggregate is the payload captured in a metrics snapshot for one scope
// (org, domain or team).
type Aggregate struct {
	TotalIssues        int      `json:"total_issues"`
	StartedIssues      int      `json:"started_issues"`
	CompletedIssues    int      `json:"completed_issues"`
	TotalPoints        float64  `json:"total_points"`
	WIPPoints          float64  `json:"wip_points"`
	AvgWIPAgeDays      *float64 `json:"avg_wip_age_days,omitempty"`
	MissingEstimates   int      `json:"missing_estimates"`
	MissingPriorities  int      `json:"missing_priorities"`
	StaleComments      int      `json:"stale_comments"`
	WIPAgeViolations   int      `json:"wip_age_violations"`
	EngineersOverLimit int      `json:"engineers_over_limit"`
	ProjectsAtRisk     int      `json:"projects_at_risk"`
	ProjectsMismatched int      `json:"projects_mismatched"`
}

// Map renders the aggregate as the opaque snapshot payload.
func (a Aggregate) Map() map[string]any {
	out := map[string]any{
		"total_issues":        a.TotalIssues,
		"started_issues":      a.StartedIssues,
		"completed_issues":    a.CompletedIssues,
		"total_points":        a.TotalPoints,
		"wip_points":          a.WIPPoints,
		"missing_estimates":   a.MissingEstimates,
		"missing_priorities":  a.MissingPriorities,
		"stale_comments":      a.StaleComments,
		"wip_age_violations":  a.WIPAgeViolations,
		"engineers_over_limit": a.EngineersOverLimit,
		"projects_at_risk":    a.ProjectsAtRisk,
		"projects_mismatched": a.ProjectsMismatched,
	}
	if a.AvgWIPAgeDays != nil {
		out["avg_wip_age_days"] = *a.AvgWIPAgeDays
	}
	return out
}

func aggregateIssues(issues []domain.Issue, now time.Time, cfg Config) Aggregate {
	var a Aggregate
	var ageSum float64
	var ageN int
	for _, i := range issues {
		a.TotalIssues++
		if i.Estimate != nil {
			a.TotalPoints += *i.Estimate
		}
		switch i.StateType {
		case domain.StateStarted:
			a.StartedIssues++
			if i.Estimate != nil {
				a.WIPPoints += *i.Estimate
			}
			if age := WIPAgeDays(i, now); age != nil {
				ageSum += *age
				ageN++
				if *age > cfg.WIPAgeLimitDays {
					a.WIPAgeViolations++
				}
			}
		case domain.StateCompleted:
			a.CompletedIssues++
		}
		if MissingEstimate(i) {
			a.MissingEstimates++
		}
		if MissingPriority(i) {
			a.MissingPriorities++
		}
		if IsCommentStale(i, now) {
			a.StaleComments++
		}
	}
	if ageN > 0 {
		a.AvgWIPAgeDays = ptr(ageSum / float64(ageN))
	}
	return a
}

// ComputeAggregates produces the org-level aggregate plus one per team and one
// per domain (teams grouped by the configured team→domain mapping). Keys of
// the returned maps are team keys and domain names respectively.
func ComputeAggregates(issues []domain.Issue, projects []domain.Project, engineers []domain.Engineer, now time.Time, cfg Config) (org Aggregate, byTeam map[string]Aggregate, byDomain map[string]Aggregate) {
	org = aggregateIssues(issues, now, cfg)
	for _, e := range engineers {
		if e.WIPLimitExceeded {
			org.EngineersOverLimit++
		}
	}
	for _, p := range projects {
		if p.Health == domain.HealthAtRisk || p.Health == domain.HealthOffTrack {
			org.ProjectsAtRisk++
		}
		if p.HasStatusMismatch {
			org.ProjectsMismatched++
		}
	}

	teamIssues := map[string][]domain.Issue{}
	for _, i := range issues {
		if i.TeamKey != "" {
			teamIssues[i.TeamKey] = append(teamIssues[i.TeamKey], i)
		}
	}
	byTeam = map[string]Aggregate{}
	for team, list := range teamIssues {
		a := aggregateIssues(list, now, cfg)
		for _, e := range engineers {
			if e.WIPLimitExceeded && contains(e.Teams, team) {
				a.EngineersOverLimit++
			}
		}
		for _, p := range projects {
			if p.TeamIssueCounts[team] == 0 {
				continue
			}
			if p.Health == domain.HealthAtRisk || p.Health == domain.HealthOffTrack {
				a.ProjectsAtRisk++
			}
			if p.HasStatusMismatch {
				a.ProjectsMismatched++
			}
		}
		byTeam[team] = a
	}

	byDomain = map[string]Aggregate{}
	if len(cfg.TeamDomains) > 0 {
		domainIssues := map[string][]domain.Issue{}
		for team, list := range teamIssues {
			if d, ok := cfg.TeamDomains[team]; ok && d != "" {
				domainIssues[d] = append(domainIssues[d], list...)
			}
		}
		for d, list := range domainIssues {
			byDomain[d] = aggregateIssues(list, now, cfg)
		}
	}
	return org, byTeam, byDomain
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
