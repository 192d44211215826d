package domain

import "time"

// SyncPhase is one stage of the multi-stage sync state machine. Phases run
// strictly in the order of Phases but are individually resumable.
type SyncPhase string

const (
	PhaseInitialIssues      SyncPhase = "initial_issues"
	PhaseRecentIssues       SyncPhase = "recently_updated_issues"
	PhaseActiveProjects     SyncPhase = "active_projects"
	PhasePlannedProjects    SyncPhase = "planned_projects"
	PhaseCompletedProjects  SyncPhase = "completed_projects"
	PhaseInitiativeProjects SyncPhase = "initiative_projects"
	PhaseInitiatives        SyncPhase = "initiatives"
	PhaseComputingMetrics   SyncPhase = "computing_metrics"
	PhaseComplete           SyncPhase = "complete"
)

// Phases lists every phase in execution order.
var Phases = []SyncPhase{
	PhaseInitialIssues,
	PhaseRecentIssues,
	PhaseActiveProjects,
	PhasePlannedProjects,
	PhaseCompletedProjects,
	PhaseInitiativeProjects,
	PhaseInitiatives,
	PhaseComputingMetrics,
	PhaseComplete,
}

// ProjectPhases are the phases that iterate a per-project work list and
// persist per-project completion.
var ProjectPhases = []SyncPhase{
	PhaseActiveProjects,
	PhasePlannedProjects,
	PhaseCompletedProjects,
	PhaseInitiativeProjects,
}

// IsProjectPhase reports whether the phase tracks a per-project work list.
func (p SyncPhase) IsProjectPhase() bool {
	for _, ph := range ProjectPhases {
		if ph == p {
			return true
		}
	}
	return false
}

// ProgressPercent maps a phase onto a rough 0..100 scale for status output.
func (p SyncPhase) ProgressPercent() int {
	for i, ph := range Phases {
		if ph == p {
			return i * 100 / (len(Phases) - 1)
		}
	}
	return 0
}

type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
)

// EntityProgress records whether one resumable sub-unit within a phase has
// finished. Sub-units complete in discovery order but a run may resume from
// any point.
type EntityProgress struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
}

// PartialSyncState is the durable record of where an interrupted sync stopped.
// It is the only source of truth for resume: a phase is skipped on the next
// run iff it is marked done here. Cleared only on full success or explicit
// reset.
type PartialSyncState struct {
	InitialIssuesDone bool                          `json:"initial_issues_done"`
	RecentIssuesDone  bool                          `json:"recent_issues_done"`
	Projects          map[SyncPhase][]EntityProgress `json:"projects,omitempty"`
	InitiativesDone   bool                          `json:"initiatives_done"`
}

// PhaseDone reports whether a whole phase is complete. A project phase is
// complete once it has a work list and every entry is done.
func (s *PartialSyncState) PhaseDone(phase SyncPhase) bool {
	if s == nil {
		return false
	}
	switch phase {
	case PhaseInitialIssues:
		return s.InitialIssuesDone
	case PhaseRecentIssues:
		return s.RecentIssuesDone
	case PhaseInitiatives:
		return s.InitiativesDone
	}
	if !phase.IsProjectPhase() {
		return false
	}
	list, ok := s.Projects[phase]
	if !ok {
		return false
	}
	for _, e := range list {
		if !e.Done {
			return false
		}
	}
	return true
}

// SetWorkList installs the discovered per-entity work list for a phase,
// preserving completion marks for IDs already present.
func (s *PartialSyncState) SetWorkList(phase SyncPhase, ids []string) {
	if s.Projects == nil {
		s.Projects = map[SyncPhase][]EntityProgress{}
	}
	done := map[string]bool{}
	for _, e := range s.Projects[phase] {
		done[e.ID] = e.Done
	}
	list := make([]EntityProgress, 0, len(ids))
	for _, id := range ids {
		list = append(list, EntityProgress{ID: id, Done: done[id]})
	}
	s.Projects[phase] = list
}

// Pending returns the IDs in a phase's work list that are not yet done, in
// discovery order.
func (s *PartialSyncState) Pending(phase SyncPhase) []string {
	var out []string
	for _, e := range s.Projects[phase] {
		if !e.Done {
			out = append(out, e.ID)
		}
	}
	return out
}

// MarkDone flags one sub-unit of a phase complete.
func (s *PartialSyncState) MarkDone(phase SyncPhase, id string) {
	for i, e := range s.Projects[phase] {
		if e.ID == id {
			s.Projects[phase][i].Done = true
			return
		}
	}
}

// SyncState is the singleton sync-metadata row.
type SyncState struct {
	Phase           SyncPhase
	Status          SyncStatus
	LastSyncAt      *time.Time
	ErrorMessage    string
	ProgressPercent int
	QueryCounts     map[string]int
	Partial         *PartialSyncState
}
