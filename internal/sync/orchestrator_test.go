package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/adapters/linear"
	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/rs/zerolog"
)

// fakeFetcher serves canned single-page responses and can fail one project
// fetch once to simulate a mid-phase crash.
type fakeFetcher struct {
	issues        []domain.Issue
	updated       []domain.Issue
	projects      map[string]domain.Project
	projectIssues map[string][]domain.Issue
	byState       map[string][]domain.Project
	initiatives   []domain.Initiative

	failProjectOnce map[string]error

	issuesCalls  int
	updatedCalls int
	projectCalls map[string]int
	phase        string
	counts       map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		projects:        map[string]domain.Project{},
		projectIssues:   map[string][]domain.Issue{},
		byState:         map[string][]domain.Project{},
		failProjectOnce: map[string]error{},
		projectCalls:    map[string]int{},
		counts:          map[string]int{},
	}
}

func (f *fakeFetcher) SetPhase(name string) { f.phase = name }

func (f *fakeFetcher) QueryCounts() map[string]int { return f.counts }

func (f *fakeFetcher) count() { f.counts[f.phase]++ }

func (f *fakeFetcher) Issues(_ context.Context, _ string, _ int, _, _ []string) (linear.IssuePage, error) {
	f.count()
	f.issuesCalls++
	return linear.IssuePage{Issues: f.issues}, nil
}

func (f *fakeFetcher) UpdatedIssues(_ context.Context, _ string, _ int, _ []string, _ time.Time) (linear.IssuePage, error) {
	f.count()
	f.updatedCalls++
	return linear.IssuePage{Issues: f.updated}, nil
}

func (f *fakeFetcher) Project(_ context.Context, id string) (domain.Project, error) {
	f.count()
	f.projectCalls[id]++
	if err, ok := f.failProjectOnce[id]; ok {
		delete(f.failProjectOnce, id)
		return domain.Project{}, err
	}
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, &linear.FatalError{Status: 404, Message: "project not found: " + id}
	}
	return p, nil
}

func (f *fakeFetcher) Projects(_ context.Context, _ string, _ int, states []string) (linear.ProjectPage, error) {
	f.count()
	var out []domain.Project
	for _, s := range states {
		out = append(out, f.byState[s]...)
	}
	return linear.ProjectPage{Projects: out}, nil
}

func (f *fakeFetcher) ProjectIssues(_ context.Context, projectID, _ string, _ int) (linear.IssuePage, error) {
	f.count()
	return linear.IssuePage{Issues: f.projectIssues[projectID]}, nil
}

func (f *fakeFetcher) Initiatives(_ context.Context, _ string, _ int) (linear.InitiativePage, error) {
	f.count()
	return linear.InitiativePage{Initiatives: f.initiatives}, nil
}

// fakeStore keeps everything in maps and mimics the repository's sync-state
// semantics: MarkSyncComplete clears partial state, SetSyncStatus leaves it.
type fakeStore struct {
	issues      map[string]domain.Issue
	projects    map[string]domain.Project
	initiatives map[string]domain.Initiative
	engineers   []domain.Engineer
	state       domain.SyncState
	snapshots   []domain.MetricsSnapshot
	lockHeld    bool
	saves       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		issues:      map[string]domain.Issue{},
		projects:    map[string]domain.Project{},
		initiatives: map[string]domain.Initiative{},
		state:       domain.SyncState{Status: domain.StatusIdle},
	}
}

func (s *fakeStore) TryAdvisoryLock(context.Context, int64) (bool, error) {
	if s.lockHeld {
		return false, nil
	}
	s.lockHeld = true
	return true, nil
}

func (s *fakeStore) AdvisoryUnlock(context.Context, int64) error {
	s.lockHeld = false
	return nil
}

func (s *fakeStore) UpsertIssues(_ context.Context, issues []domain.Issue) error {
	for _, i := range issues {
		s.issues[i.ID] = i
	}
	return nil
}

func (s *fakeStore) UpsertProjects(_ context.Context, projects []domain.Project) error {
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return nil
}

func (s *fakeStore) UpsertInitiatives(_ context.Context, inis []domain.Initiative) error {
	for _, ini := range inis {
		s.initiatives[ini.ID] = ini
	}
	return nil
}

func (s *fakeStore) ReplaceEngineers(_ context.Context, engineers []domain.Engineer) error {
	s.engineers = engineers
	return nil
}

func (s *fakeStore) DeleteIssuesNotInTeams(_ context.Context, teamKeys []string) ([]string, error) {
	keep := map[string]bool{}
	for _, k := range teamKeys {
		keep[strings.ToUpper(k)] = true
	}
	var orphaned []string
	for id, i := range s.issues {
		if !keep[strings.ToUpper(i.TeamKey)] {
			if i.ProjectID != "" {
				orphaned = append(orphaned, i.ProjectID)
			}
			delete(s.issues, id)
		}
	}
	return orphaned, nil
}

func (s *fakeStore) DeleteIssuesByAssignees(_ context.Context, names []string) (int64, error) {
	var n int64
	for id, i := range s.issues {
		for _, name := range names {
			if i.AssigneeName == name {
				delete(s.issues, id)
				n++
			}
		}
	}
	return n, nil
}

func (s *fakeStore) DeleteEngineersByNames(context.Context, []string) error { return nil }

func (s *fakeStore) DeleteProjects(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(s.projects, id)
	}
	return nil
}

func (s *fakeStore) DeleteProjectsWithoutIssues(context.Context) (int64, error) {
	referenced := map[string]bool{}
	for _, i := range s.issues {
		referenced[i.ProjectID] = true
	}
	var n int64
	for id := range s.projects {
		if !referenced[id] {
			delete(s.projects, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListIssues(context.Context) ([]domain.Issue, error) {
	out := make([]domain.Issue, 0, len(s.issues))
	for _, i := range s.issues {
		out = append(out, i)
	}
	return out, nil
}

func (s *fakeStore) ListProjectIDs(context.Context) ([]string, error) {
	set := map[string]bool{}
	for _, i := range s.issues {
		if i.ProjectID != "" {
			set[i.ProjectID] = true
		}
	}
	out := make([]string, 0, len(set))
	// Deterministic order keeps failure injection predictable.
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		if set[id] {
			out = append(out, id)
			delete(set, id)
		}
	}
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (s *fakeStore) ListProjects(context.Context) ([]domain.Project, error) {
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) LoadSyncState(context.Context) (domain.SyncState, error) {
	return s.state, nil
}

func (s *fakeStore) ClearPartialState(context.Context) error {
	s.state.Partial = nil
	return nil
}

func (s *fakeStore) SaveSyncState(_ context.Context, st domain.SyncState) error {
	s.saves++
	s.state = st
	return nil
}

func (s *fakeStore) SetSyncStatus(_ context.Context, status domain.SyncStatus, errMsg string) error {
	s.state.Status = status
	s.state.ErrorMessage = errMsg
	return nil
}

func (s *fakeStore) MarkSyncComplete(_ context.Context, at time.Time, queryCounts map[string]int) error {
	s.state.Status = domain.StatusIdle
	s.state.Phase = domain.PhaseComplete
	s.state.LastSyncAt = &at
	s.state.QueryCounts = queryCounts
	s.state.ErrorMessage = ""
	s.state.Partial = nil
	return nil
}

func (s *fakeStore) InsertSnapshot(_ context.Context, level domain.SnapshotLevel, levelKey string, payload map[string]any, at time.Time) error {
	s.snapshots = append(s.snapshots, domain.MetricsSnapshot{
		CapturedAt: at, Level: level, LevelKey: levelKey, Payload: payload,
	})
	return nil
}

func testOrchestrator(store Store, fetcher Fetcher, cfg config.Config) *Orchestrator {
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.ProjectPageSize == 0 {
		cfg.ProjectPageSize = 50
	}
	o := New(cfg, zerolog.Nop(), store, fetcher)
	o.now = func() time.Time { return time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC) }
	return o
}

func issue(id, team, projectID string) domain.Issue {
	return domain.Issue{
		ID: id, Key: team + "-" + id, TeamKey: team, ProjectID: projectID,
		StateName: "Backlog", StateType: domain.StateBacklog, Priority: 2,
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunFullPassThroughAllPhases(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", "p1"), issue("i2", "ENG", "p1")}
	f.projects["p1"] = domain.Project{ID: "p1", Name: "One", State: "started"}
	f.projectIssues["p1"] = f.issues
	f.initiatives = []domain.Initiative{{ID: "n1", Name: "North Star", ProjectIDs: []string{"p1"}}}

	s := newFakeStore()
	o := testOrchestrator(s, f, config.Config{})

	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.state.Status != domain.StatusIdle || s.state.Phase != domain.PhaseComplete {
		t.Fatalf("final state: status=%s phase=%s", s.state.Status, s.state.Phase)
	}
	if s.state.LastSyncAt == nil {
		t.Fatal("LastSyncAt must be set on completion")
	}
	if s.state.Partial != nil {
		t.Fatal("partial state must be cleared on completion")
	}
	if len(s.issues) != 2 {
		t.Fatalf("stored issues = %d", len(s.issues))
	}
	p, ok := s.projects["p1"]
	if !ok {
		t.Fatal("project p1 not stored")
	}
	if p.TotalIssues != 2 {
		t.Fatalf("project aggregates not computed: total=%d", p.TotalIssues)
	}
	if _, ok := s.initiatives["n1"]; !ok {
		t.Fatal("initiative not stored")
	}
	if len(s.snapshots) == 0 {
		t.Fatal("no metric snapshots captured")
	}
	if s.lockHeld {
		t.Fatal("advisory lock must be released")
	}
}

func TestRunResumesAtFirstIncompleteProject(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{
		issue("i1", "ENG", "p1"),
		issue("i2", "ENG", "p2"),
		issue("i3", "ENG", "p3"),
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		f.projects[id] = domain.Project{ID: id, Name: id, State: "started"}
	}
	f.failProjectOnce["p2"] = errors.New("connection reset")

	s := newFakeStore()
	o := testOrchestrator(s, f, config.Config{})

	err := o.Run(context.Background(), false)
	if err == nil {
		t.Fatal("expected first run to fail on p2")
	}
	if s.state.Status != domain.StatusError {
		t.Fatalf("status after failure = %s, want error", s.state.Status)
	}
	if s.state.Partial == nil {
		t.Fatal("partial state must survive a failed run")
	}
	if !s.state.Partial.InitialIssuesDone {
		t.Fatal("completed issue phase must be recorded")
	}
	pending := s.state.Partial.Pending(domain.PhaseActiveProjects)
	if len(pending) != 2 || pending[0] != "p2" {
		t.Fatalf("pending after failure = %v, want [p2 p3]", pending)
	}

	// Second invocation resumes at p2; p1 and the issue walk are not redone.
	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if f.issuesCalls != 1 {
		t.Fatalf("issue walk ran %d times, want 1", f.issuesCalls)
	}
	if f.projectCalls["p1"] != 1 {
		t.Fatalf("p1 fetched %d times, want 1", f.projectCalls["p1"])
	}
	if f.projectCalls["p2"] != 2 {
		t.Fatalf("p2 fetched %d times, want 2 (failure + resume)", f.projectCalls["p2"])
	}
	if s.state.Status != domain.StatusIdle || s.state.Partial != nil {
		t.Fatalf("final state: status=%s partial=%v", s.state.Status, s.state.Partial)
	}
}

func TestFullSyncDiscardsResumeState(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", "p1")}
	f.projects["p1"] = domain.Project{ID: "p1", Name: "One", State: "started"}
	f.failProjectOnce["p1"] = errors.New("connection reset")

	s := newFakeStore()
	o := testOrchestrator(s, f, config.Config{})

	if err := o.Run(context.Background(), false); err == nil {
		t.Fatal("expected first run to fail")
	}
	if s.state.Partial == nil {
		t.Fatal("partial state must survive the failure")
	}

	// A full sync starts over: the issue walk reruns instead of resuming.
	if err := o.Run(context.Background(), true); err != nil {
		t.Fatalf("full run: %v", err)
	}
	if f.issuesCalls != 2 {
		t.Fatalf("issue walk ran %d times, want 2", f.issuesCalls)
	}
	if s.state.Partial != nil || s.state.Status != domain.StatusIdle {
		t.Fatalf("final state: %+v", s.state)
	}
}

func TestWhitelistDeletesOutOfScopeData(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", "p1")}
	f.projects["p1"] = domain.Project{ID: "p1", Name: "One", State: "started"}
	f.projectIssues["p1"] = f.issues

	s := newFakeStore()
	// Leftovers from a previous, wider sync.
	s.issues["i9"] = issue("i9", "OPS", "p9")
	s.projects["p9"] = domain.Project{ID: "p9", Name: "Ops Thing"}

	o := testOrchestrator(s, f, config.Config{TeamWhitelist: []string{"ENG"}})
	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := s.issues["i9"]; ok {
		t.Fatal("out-of-scope issue must be deleted")
	}
	if _, ok := s.projects["p9"]; ok {
		t.Fatal("project left without issues must be pruned")
	}
	if _, ok := s.projects["p1"]; !ok {
		t.Fatal("in-scope project must survive")
	}
}

func TestIgnoreListFiltersFetchedIssues(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", ""), issue("i2", "OPS", "")}

	s := newFakeStore()
	o := testOrchestrator(s, f, config.Config{TeamIgnore: []string{"OPS"}})
	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := s.issues["i2"]; ok {
		t.Fatal("ignored-team issue must not be stored")
	}
	if _, ok := s.issues["i1"]; !ok {
		t.Fatal("in-scope issue must be stored")
	}
}

// A process killed mid-sync leaves status=syncing behind with nobody holding
// the advisory lock. The next invocation must treat that as crash leftover and
// resume from the partial state, not reject itself forever.
func TestCrashedRunResumesOnRestart(t *testing.T) {
	f := newFakeFetcher()
	f.projects["p1"] = domain.Project{ID: "p1", Name: "p1", State: "started"}
	f.projects["p2"] = domain.Project{ID: "p2", Name: "p2", State: "started"}

	s := newFakeStore()
	s.state = domain.SyncState{
		Phase:  domain.PhaseActiveProjects,
		Status: domain.StatusSyncing,
		Partial: &domain.PartialSyncState{
			InitialIssuesDone: true,
			Projects: map[domain.SyncPhase][]domain.EntityProgress{
				domain.PhaseActiveProjects: {{ID: "p1", Done: true}, {ID: "p2"}},
			},
		},
	}
	o := testOrchestrator(s, f, config.Config{})

	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("restart after crash must resume, got %v", err)
	}
	if f.issuesCalls != 0 {
		t.Fatalf("issue walk ran %d times, want 0 (already recorded done)", f.issuesCalls)
	}
	if f.projectCalls["p1"] != 0 {
		t.Fatalf("p1 fetched %d times, want 0 (already recorded done)", f.projectCalls["p1"])
	}
	if f.projectCalls["p2"] != 1 {
		t.Fatalf("p2 fetched %d times, want 1", f.projectCalls["p2"])
	}
	if s.state.Status != domain.StatusIdle || s.state.Partial != nil {
		t.Fatalf("final state: status=%s partial=%v", s.state.Status, s.state.Partial)
	}
}

func TestCancelledContextHaltsRunResumably(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", "p1")}
	s := newFakeStore()
	o := testOrchestrator(s, f, config.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.state.Status != domain.StatusError {
		t.Fatalf("status = %s, want error", s.state.Status)
	}
	if s.lockHeld {
		t.Fatal("advisory lock must be released")
	}
}

func TestRunRejectedWhenLockHeld(t *testing.T) {
	s := newFakeStore()
	s.lockHeld = true
	o := testOrchestrator(s, newFakeFetcher(), config.Config{})
	if err := o.Run(context.Background(), false); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestVanishedProjectIsDeletedLocally(t *testing.T) {
	f := newFakeFetcher()
	f.issues = []domain.Issue{issue("i1", "ENG", "p1")}
	// p1 is referenced by a stored issue but gone remotely.

	s := newFakeStore()
	s.projects["p1"] = domain.Project{ID: "p1", Name: "Ghost"}

	o := testOrchestrator(s, f, config.Config{})
	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := s.projects["p1"]; ok {
		t.Fatal("vanished project must be deleted locally")
	}
}

func TestIncrementalRunUsesUpdatedIssues(t *testing.T) {
	f := newFakeFetcher()
	f.updated = []domain.Issue{issue("i1", "ENG", "")}

	s := newFakeStore()
	last := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	s.state.LastSyncAt = &last

	o := testOrchestrator(s, f, config.Config{})
	if err := o.Run(context.Background(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.issuesCalls != 0 {
		t.Fatalf("full issue walk ran on an incremental sync (%d calls)", f.issuesCalls)
	}
	if f.updatedCalls != 1 {
		t.Fatalf("updated-issues walk ran %d times, want 1", f.updatedCalls)
	}
	if _, ok := s.issues["i1"]; !ok {
		t.Fatal("updated issue must be stored")
	}
}

func TestTriggerFailsFastWhenRunning(t *testing.T) {
	s := newFakeStore()
	o := testOrchestrator(s, newFakeFetcher(), config.Config{})
	o.running.Store(true)
	if err := o.Trigger(context.Background(), false); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}
