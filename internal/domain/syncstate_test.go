package domain

import (
	"encoding/json"
	"testing"
)

func TestPartialSyncStateRoundTrip(t *testing.T) {
	st := &PartialSyncState{
		InitialIssuesDone: true,
		Projects: map[SyncPhase][]EntityProgress{
			PhaseActiveProjects: {{ID: "p1", Done: true}, {ID: "p2"}},
		},
	}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got PartialSyncState
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.InitialIssuesDone || got.RecentIssuesDone {
		t.Fatalf("booleans lost: %+v", got)
	}
	list := got.Projects[PhaseActiveProjects]
	if len(list) != 2 || !list[0].Done || list[1].Done {
		t.Fatalf("work list lost: %+v", list)
	}
}

func TestPhaseDone(t *testing.T) {
	var nilState *PartialSyncState
	if nilState.PhaseDone(PhaseInitialIssues) {
		t.Fatal("nil state has no completed phases")
	}
	st := &PartialSyncState{}
	if st.PhaseDone(PhaseActiveProjects) {
		t.Fatal("a project phase with no work list is not done")
	}
	st.SetWorkList(PhaseActiveProjects, []string{"p1", "p2"})
	if st.PhaseDone(PhaseActiveProjects) {
		t.Fatal("pending entries mean the phase is not done")
	}
	st.MarkDone(PhaseActiveProjects, "p1")
	st.MarkDone(PhaseActiveProjects, "p2")
	if !st.PhaseDone(PhaseActiveProjects) {
		t.Fatal("all entries done means the phase is done")
	}
	// An empty work list is a completed phase: nothing to do.
	st.SetWorkList(PhasePlannedProjects, nil)
	if !st.PhaseDone(PhasePlannedProjects) {
		t.Fatal("empty work list means done")
	}
}

func TestSetWorkListPreservesCompletion(t *testing.T) {
	st := &PartialSyncState{}
	st.SetWorkList(PhaseActiveProjects, []string{"p1", "p2"})
	st.MarkDone(PhaseActiveProjects, "p1")
	// Re-discovery adds p3 and keeps p1's completion mark.
	st.SetWorkList(PhaseActiveProjects, []string{"p1", "p2", "p3"})
	pending := st.Pending(PhaseActiveProjects)
	if len(pending) != 2 || pending[0] != "p2" || pending[1] != "p3" {
		t.Fatalf("pending = %v, want [p2 p3]", pending)
	}
}

func TestIsProjectPhase(t *testing.T) {
	for _, p := range ProjectPhases {
		if !p.IsProjectPhase() {
			t.Fatalf("%s must be a project phase", p)
		}
	}
	for _, p := range []SyncPhase{PhaseInitialIssues, PhaseInitiatives, PhaseComputingMetrics, PhaseComplete} {
		if p.IsProjectPhase() {
			t.Fatalf("%s must not be a project phase", p)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	if got := PhaseInitialIssues.ProgressPercent(); got != 0 {
		t.Fatalf("first phase percent = %d", got)
	}
	if got := PhaseComplete.ProgressPercent(); got != 100 {
		t.Fatalf("complete percent = %d", got)
	}
	prev := -1
	for _, p := range Phases {
		if got := p.ProgressPercent(); got <= prev {
			t.Fatalf("percent not monotonic at %s: %d <= %d", p, got, prev)
		} else {
			prev = got
		}
	}
}
