package metrics

import (
	"sort"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// ComputeEngineers derives the full engineer set from the current issue
// snapshot. Rows are rebuilt wholesale each pass: WIP counts, points, limit
// flags and violation counts all come from the issues as they stand now.
func ComputeEngineers(issues []domain.Issue, now time.Time, cfg Config) []domain.Engineer {
	byID := map[string]*domain.Engineer{}
	teams := map[string]map[string]bool{}

	get := func(i domain.Issue) *domain.Engineer {
		e, ok := byID[i.AssigneeID]
		if !ok {
			e = &domain.Engineer{ID: i.AssigneeID, Name: i.AssigneeName, AvatarURL: i.AvatarURL}
			byID[i.AssigneeID] = e
			teams[i.AssigneeID] = map[string]bool{}
		}
		return e
	}

	for _, i := range issues {
		if i.AssigneeID == "" || i.StateType.Terminal() {
			continue
		}
		e := get(i)
		if i.TeamKey != "" {
			teams[i.AssigneeID][i.TeamKey] = true
		}
		if MissingEstimate(i) {
			e.MissingEstimateCount++
		}
		if MissingPriority(i) {
			e.MissingPriorityCount++
		}
		if IsCommentStale(i, now) {
			e.StaleCommentCount++
		}
		if i.StateType != domain.StateStarted {
			continue
		}
		e.WIPCount++
		if i.Estimate != nil {
			e.WIPPoints += *i.Estimate
		}
		age := WIPAgeDays(i, now)
		e.ActiveIssues = append(e.ActiveIssues, domain.ActiveIssue{
			Key:     i.Key,
			Title:   i.Title,
			Points:  i.Estimate,
			AgeDays: age,
		})
		if age != nil && (e.OldestWIPAgeDays == nil || *age > *e.OldestWIPAgeDays) {
			e.OldestWIPAgeDays = age
		}
	}

	out := make([]domain.Engineer, 0, len(byID))
	for id, e := range byID {
		e.Teams = sortedKeys(teams[id])
		// Configured override wins over observed team membership.
		if override, ok := cfg.EngineerTeams[e.Name]; ok && len(override) > 0 {
			e.Teams = append([]string(nil), override...)
			sort.Strings(e.Teams)
		}
		e.WIPLimitExceeded = cfg.WIPLimit > 0 && e.WIPCount > cfg.WIPLimit
		out = append(out, *e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
