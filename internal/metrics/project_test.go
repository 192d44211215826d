package metrics

import (
	"reflect"
	"testing"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

func scenarioIssues() []domain.Issue {
	started := now.AddDate(0, 0, -4)
	completed := now.AddDate(0, 0, -1)
	return []domain.Issue{
		{
			ID: "i1", Key: "ENG-1", TeamKey: "ENG", StateType: domain.StateStarted,
			StateName: "In Progress", Estimate: fp(3), Priority: 2,
			AssigneeName: "Ada", Description: "set up ingestion",
			CreatedAt: now.AddDate(0, 0, -10), StartedAt: tp(started),
			LastCommentAt: tp(now.Add(-2 * time.Hour)),
		},
		{
			ID: "i2", Key: "ENG-2", TeamKey: "ENG", StateType: domain.StateBacklog,
			StateName: "Backlog", Priority: 3, // no estimate
			AssigneeName: "Ada", Description: "write docs",
			CreatedAt: now.AddDate(0, 0, -10),
		},
		{
			ID: "i3", Key: "ENG-3", TeamKey: "ENG", StateType: domain.StateCompleted,
			StateName: "Done", Estimate: fp(0), Priority: 1,
			AssigneeName: "Grace", Description: "fix login",
			CreatedAt: now.AddDate(0, 0, -10), StartedAt: tp(started), CompletedAt: tp(completed),
		},
	}
}

func TestComputeProjectAggregates(t *testing.T) {
	p := domain.Project{
		ID: "p1", Name: "Ingestion", State: "started", StartedAt: tp(now.AddDate(0, 0, -14)),
		LeadID: "lead-1", Health: domain.HealthOnTrack, LastUpdateAt: tp(now.AddDate(0, 0, -1)),
	}
	skipped := ComputeProject(&p, scenarioIssues(), now, Config{WIPAgeLimitDays: 14})
	if skipped != 0 {
		t.Fatalf("expected no skipped records, got %d", skipped)
	}
	if p.TotalIssues != 3 || p.CompletedIssues != 1 || p.InProgressIssues != 1 {
		t.Fatalf("counts: total=%d completed=%d inProgress=%d", p.TotalIssues, p.CompletedIssues, p.InProgressIssues)
	}
	// Only the backlog issue lacks an estimate; the 0-point issue does not.
	if p.MissingEstimateCount != 1 {
		t.Fatalf("missing_estimate_count = %d, want 1", p.MissingEstimateCount)
	}
	if p.TotalPoints != 3 {
		t.Fatalf("total_points = %v, want 3", p.TotalPoints)
	}
	if p.CompletedPoints != 0 {
		t.Fatalf("completed_points = %v, want 0", p.CompletedPoints)
	}
	if !reflect.DeepEqual(p.Engineers, []string{"Ada", "Grace"}) {
		t.Fatalf("engineers = %v", p.Engineers)
	}
	if p.TeamIssueCounts["ENG"] != 3 {
		t.Fatalf("team counts = %v", p.TeamIssueCounts)
	}
	if p.HasStatusMismatch {
		t.Fatal("active project with in-flight work must not mismatch")
	}
	if p.Progress < 0.33 || p.Progress > 0.34 {
		t.Fatalf("progress = %v", p.Progress)
	}
}

func TestComputeProjectMismatchFlag(t *testing.T) {
	p := domain.Project{ID: "p2", Name: "Dormant", State: "backlog", Status: "Backlog"}
	issues := []domain.Issue{{
		ID: "i1", StateType: domain.StateStarted, StateName: "In Progress",
		CreatedAt: now.AddDate(0, 0, -5),
	}}
	ComputeProject(&p, issues, now, Config{WIPAgeLimitDays: 14})
	if !p.HasStatusMismatch {
		t.Fatal("backlog project with an in-progress issue must be flagged")
	}
	if !p.HasViolations {
		t.Fatal("mismatch must roll up into the violations flag")
	}
}

func TestComputeProjectSkipsBrokenCompleted(t *testing.T) {
	p := domain.Project{ID: "p3", State: "started"}
	issues := []domain.Issue{{
		ID: "i1", StateType: domain.StateCompleted, Estimate: fp(5),
		CreatedAt: now.AddDate(0, 0, -5), // no CompletedAt
	}}
	skipped := ComputeProject(&p, issues, now, Config{WIPAgeLimitDays: 14})
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if p.CompletedIssues != 1 {
		t.Fatal("the issue still counts as completed")
	}
	if p.AvgCycleTimeDays != nil {
		t.Fatal("no cycle time should be derived from a broken record")
	}
}

func TestComputeProjectConverges(t *testing.T) {
	issues := scenarioIssues()
	a := domain.Project{ID: "p1", State: "started", StartedAt: tp(now.AddDate(0, 0, -14))}
	b := a
	ComputeProject(&a, issues, now, Config{WIPAgeLimitDays: 14})
	// Recomputing over a previously filled struct must yield the same result.
	ComputeProject(&b, issues, now, Config{WIPAgeLimitDays: 14})
	ComputeProject(&b, issues, now, Config{WIPAgeLimitDays: 14})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated computation diverged:\n%+v\n%+v", a, b)
	}
}
