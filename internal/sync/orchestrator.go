package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/adapters/linear"
	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/Latermedia/linearbot-sub003/internal/metrics"
	"github.com/rs/zerolog"
)

// lockKey is the advisory-lock key serializing sync runs against one store.
const lockKey int64 = 77141255

// ErrSyncInProgress is returned when a sync is requested while another one is
// running. Requests are rejected, never queued: the store assumes a single
// writer.
var ErrSyncInProgress = errors.New("sync already in progress")

// Orchestrator drives the phase state machine: it sequences fetches through
// the Linear client, persists records and resumable progress through the
// store, and publishes progress events. Execution is a single logical thread;
// every remote call completes before the next is issued.
type Orchestrator struct {
	cfg     config.Config
	log     zerolog.Logger
	store   Store
	client  Fetcher
	events  chan Event
	mcfg    metrics.Config
	running atomic.Bool
	now     func() time.Time
}

func New(cfg config.Config, log zerolog.Logger, store Store, client Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		log:    log,
		store:  store,
		client: client,
		events: make(chan Event, 64),
		mcfg: metrics.Config{
			WIPLimit:        cfg.WIPLimit,
			WIPAgeLimitDays: float64(cfg.WIPAgeLimitDays),
			TeamDomains:     cfg.TeamDomains,
			EngineerTeams:   cfg.EngineerTeams,
		},
		now: time.Now,
	}
}

// Trigger starts a sync in the background. It fails fast with
// ErrSyncInProgress instead of queueing.
func (o *Orchestrator) Trigger(ctx context.Context, full bool) error {
	if o.running.Load() {
		return ErrSyncInProgress
	}
	go func() {
		if err := o.Run(ctx, full); err != nil && !errors.Is(err, ErrSyncInProgress) {
			o.log.Error().Err(err).Msg("sync: run failed")
		}
	}()
	return nil
}

// run bundles the mutable state of one sync invocation.
type run struct {
	partial  *domain.PartialSyncState
	lastSync *time.Time
	full     bool
}

// Run executes one sync invocation end to end, resuming from the persisted
// partial state if the previous invocation stopped early. On a fatal error the
// partial state is left untouched and status is set to error; the next
// invocation resumes exactly where this one stopped.
func (o *Orchestrator) Run(ctx context.Context, full bool) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer o.running.Store(false)

	ok, err := o.store.TryAdvisoryLock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		return ErrSyncInProgress
	}
	defer func() { _ = o.store.AdvisoryUnlock(context.Background(), lockKey) }()

	st, err := o.store.LoadSyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if st.Status == domain.StatusSyncing {
		// The lock is session scoped, so holding it while the row still says
		// syncing means the previous process died mid-run. Resume from the
		// persisted partial state instead of rejecting forever.
		o.log.Warn().Str("phase", string(st.Phase)).Msg("sync: stale syncing status, previous run crashed; resuming")
	}

	r := &run{partial: st.Partial, lastSync: st.LastSyncAt, full: full}
	if r.partial == nil || full {
		r.partial = &domain.PartialSyncState{}
	}
	if full && st.Partial != nil {
		// A full sync abandons the persisted resume document up front.
		if err := o.store.ClearPartialState(ctx); err != nil {
			return fmt.Errorf("clear partial state: %w", err)
		}
	}

	o.log.Info().Bool("full", full).Bool("resuming", st.Partial != nil && !full).Msg("sync: start")
	if err := o.runPhases(ctx, r); err != nil {
		// Status carries the message; the partial state stays put for resume.
		_ = o.store.SetSyncStatus(context.Background(), domain.StatusError, err.Error())
		o.log.Error().Err(err).Msg("sync: halted")
		return err
	}
	o.log.Info().Msg("sync: complete")
	return nil
}

func (o *Orchestrator) runPhases(ctx context.Context, r *run) error {
	type phaseFn struct {
		phase domain.SyncPhase
		fn    func(context.Context, *run) error
	}
	seq := []phaseFn{
		{domain.PhaseInitialIssues, o.phaseInitialIssues},
		{domain.PhaseRecentIssues, o.phaseRecentIssues},
		{domain.PhaseActiveProjects, func(ctx context.Context, r *run) error {
			return o.phaseProjects(ctx, r, domain.PhaseActiveProjects, o.discoverActive)
		}},
		{domain.PhasePlannedProjects, func(ctx context.Context, r *run) error {
			return o.phaseProjects(ctx, r, domain.PhasePlannedProjects, o.discoverPlanned)
		}},
		{domain.PhaseCompletedProjects, func(ctx context.Context, r *run) error {
			return o.phaseProjects(ctx, r, domain.PhaseCompletedProjects, o.discoverCompleted)
		}},
		{domain.PhaseInitiativeProjects, func(ctx context.Context, r *run) error {
			return o.phaseProjects(ctx, r, domain.PhaseInitiativeProjects, o.discoverInitiativeProjects)
		}},
		{domain.PhaseInitiatives, o.phaseInitiatives},
		{domain.PhaseComputingMetrics, o.phaseComputeMetrics},
	}
	for _, p := range seq {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.partial.PhaseDone(p.phase) {
			continue
		}
		o.client.SetPhase(string(p.phase))
		o.publish(Event{Phase: p.phase, Message: "phase start", Percent: p.phase.ProgressPercent()})
		if err := o.checkpoint(ctx, r, p.phase); err != nil {
			return err
		}
		if err := p.fn(ctx, r); err != nil {
			return fmt.Errorf("%s: %w", p.phase, err)
		}
	}
	now := o.now()
	if err := o.store.MarkSyncComplete(ctx, now, o.client.QueryCounts()); err != nil {
		return err
	}
	o.publish(Event{Phase: domain.PhaseComplete, Message: "sync complete", Percent: 100})
	return nil
}

// checkpoint durably records the current phase and partial state. Called at
// every phase boundary and after every resumable sub-unit.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run, phase domain.SyncPhase) error {
	return o.store.SaveSyncState(ctx, domain.SyncState{
		Phase:           phase,
		Status:          domain.StatusSyncing,
		LastSyncAt:      r.lastSync,
		ProgressPercent: phase.ProgressPercent(),
		QueryCounts:     o.client.QueryCounts(),
		Partial:         r.partial,
	})
}

// scopeTeams returns the server-side team filter: the whitelist when one is
// configured, otherwise nothing (the ignore-list is subtracted client-side).
func (o *Orchestrator) scopeTeams() []string {
	return o.cfg.TeamWhitelist
}

// inScope applies the ignore-list to fetched issues.
func (o *Orchestrator) inScope(i domain.Issue) bool {
	for _, t := range o.cfg.TeamIgnore {
		if strings.EqualFold(i.TeamKey, t) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) filterScope(issues []domain.Issue) []domain.Issue {
	if len(o.cfg.TeamIgnore) == 0 {
		return issues
	}
	out := issues[:0]
	for _, i := range issues {
		if o.inScope(i) {
			out = append(out, i)
		}
	}
	return out
}

// phaseInitialIssues walks the full issue list. It runs on the first sync of
// an empty store and on an explicit full sync; afterwards the recently-updated
// phase carries the incremental load.
func (o *Orchestrator) phaseInitialIssues(ctx context.Context, r *run) error {
	if r.lastSync != nil && !r.full {
		r.partial.InitialIssuesDone = true
		return o.checkpoint(ctx, r, domain.PhaseInitialIssues)
	}
	cursor := ""
	total := 0
	for {
		page, err := o.client.Issues(ctx, cursor, o.cfg.PageSize, o.scopeTeams(), nil)
		if err != nil {
			return err
		}
		batch := o.filterScope(page.Issues)
		if err := o.store.UpsertIssues(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		o.publish(Event{Phase: domain.PhaseInitialIssues, Message: "issues fetched", Current: total})
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = page.PageInfo.EndCursor
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := o.applyTeamScopeDeletions(ctx); err != nil {
		return err
	}
	r.partial.InitialIssuesDone = true
	o.log.Info().Int("issues", total).Msg("sync: initial issues done")
	return o.checkpoint(ctx, r, domain.PhaseInitialIssues)
}

// phaseRecentIssues fetches issues updated since the last successful sync.
func (o *Orchestrator) phaseRecentIssues(ctx context.Context, r *run) error {
	if r.lastSync == nil {
		// Nothing to diff against; the initial walk just ran.
		r.partial.RecentIssuesDone = true
		return o.checkpoint(ctx, r, domain.PhaseRecentIssues)
	}
	cursor := ""
	total := 0
	for {
		page, err := o.client.UpdatedIssues(ctx, cursor, o.cfg.PageSize, o.scopeTeams(), *r.lastSync)
		if err != nil {
			return err
		}
		batch := o.filterScope(page.Issues)
		if err := o.store.UpsertIssues(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		o.publish(Event{Phase: domain.PhaseRecentIssues, Message: "issues updated", Current: total})
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = page.PageInfo.EndCursor
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := o.applyTeamScopeDeletions(ctx); err != nil {
		return err
	}
	r.partial.RecentIssuesDone = true
	o.log.Info().Int("issues", total).Msg("sync: recent issues done")
	return o.checkpoint(ctx, r, domain.PhaseRecentIssues)
}

// applyTeamScopeDeletions removes previously-stored data for teams outside the
// configured whitelist, pruning projects that vanish with their issues.
func (o *Orchestrator) applyTeamScopeDeletions(ctx context.Context) error {
	if len(o.cfg.TeamWhitelist) == 0 {
		return nil
	}
	orphaned, err := o.store.DeleteIssuesNotInTeams(ctx, o.cfg.TeamWhitelist)
	if err != nil {
		return err
	}
	pruned, err := o.store.DeleteProjectsWithoutIssues(ctx)
	if err != nil {
		return err
	}
	if len(orphaned) > 0 || pruned > 0 {
		o.log.Info().Int("issue_projects", len(orphaned)).Int64("projects_pruned", pruned).
			Msg("sync: out-of-scope data deleted")
	}
	return nil
}

// phaseProjects runs one project phase: install the discovered work list if
// absent, then process each pending project, persisting per-project completion
// so a crash resumes at the first incomplete project.
func (o *Orchestrator) phaseProjects(ctx context.Context, r *run, phase domain.SyncPhase, discover func(context.Context, *run) ([]string, error)) error {
	if r.partial.Projects == nil || r.partial.Projects[phase] == nil {
		ids, err := discover(ctx, r)
		if err != nil {
			return err
		}
		r.partial.SetWorkList(phase, ids)
		if err := o.checkpoint(ctx, r, phase); err != nil {
			return err
		}
	}
	pending := r.partial.Pending(phase)
	total := len(r.partial.Projects[phase])
	done := total - len(pending)
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.syncProject(ctx, id); err != nil {
			return fmt.Errorf("project %s: %w", id, err)
		}
		done++
		r.partial.MarkDone(phase, id)
		if err := o.checkpoint(ctx, r, phase); err != nil {
			return err
		}
		o.publish(Event{Phase: phase, Message: "project synced", Current: done, Total: total, Percent: phase.ProgressPercent()})
	}
	return nil
}

// discoverActive lists the projects referenced by stored issues.
func (o *Orchestrator) discoverActive(ctx context.Context, _ *run) ([]string, error) {
	return o.store.ListProjectIDs(ctx)
}

func (o *Orchestrator) discoverByStates(ctx context.Context, r *run, states []string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		page, err := o.client.Projects(ctx, cursor, o.cfg.ProjectPageSize, states)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Projects {
			if !o.alreadyListed(r, p.ID) {
				ids = append(ids, p.ID)
			}
		}
		if !page.PageInfo.HasNextPage {
			return ids, nil
		}
		cursor = page.PageInfo.EndCursor
	}
}

func (o *Orchestrator) discoverPlanned(ctx context.Context, r *run) ([]string, error) {
	return o.discoverByStates(ctx, r, []string{"planned", "backlog"})
}

// discoverCompleted walks completed/canceled projects only on a full sync:
// finished projects do not change, so incremental runs skip the refetch.
func (o *Orchestrator) discoverCompleted(ctx context.Context, r *run) ([]string, error) {
	if !r.full {
		return nil, nil
	}
	return o.discoverByStates(ctx, r, []string{"completed", "canceled"})
}

// discoverInitiativeProjects walks the initiative list for member projects not
// already covered by an earlier phase.
func (o *Orchestrator) discoverInitiativeProjects(ctx context.Context, r *run) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		page, err := o.client.Initiatives(ctx, cursor, o.cfg.ProjectPageSize)
		if err != nil {
			return nil, err
		}
		for _, ini := range page.Initiatives {
			for _, id := range ini.ProjectIDs {
				if !o.alreadyListed(r, id) && !contains(ids, id) {
					ids = append(ids, id)
				}
			}
		}
		if !page.PageInfo.HasNextPage {
			return ids, nil
		}
		cursor = page.PageInfo.EndCursor
	}
}

// alreadyListed reports whether a project belongs to any earlier phase's work
// list; it is processed there, not again here.
func (o *Orchestrator) alreadyListed(r *run, id string) bool {
	for _, list := range r.partial.Projects {
		for _, e := range list {
			if e.ID == id {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// syncProject fetches one project and its issue connection, recomputes its
// aggregates wholesale, and upserts everything. A project that has vanished
// remotely is deleted locally.
func (o *Orchestrator) syncProject(ctx context.Context, id string) error {
	p, err := o.client.Project(ctx, id)
	if err != nil {
		var fe *linear.FatalError
		if errors.As(err, &fe) && fe.Status == 404 {
			o.log.Warn().Str("project", id).Msg("sync: project vanished remotely, deleting")
			return o.store.DeleteProjects(ctx, []string{id})
		}
		return err
	}
	var issues []domain.Issue
	cursor := ""
	for {
		page, err := o.client.ProjectIssues(ctx, id, cursor, o.cfg.ProjectPageSize)
		if err != nil {
			return err
		}
		batch := o.filterScope(page.Issues)
		if err := o.store.UpsertIssues(ctx, batch); err != nil {
			return err
		}
		issues = append(issues, batch...)
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = page.PageInfo.EndCursor
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if skipped := metrics.ComputeProject(&p, issues, o.now(), o.mcfg); skipped > 0 {
		o.log.Warn().Str("project", p.Name).Int("skipped", skipped).
			Msg("metrics: records skipped during project computation")
	}
	return o.store.UpsertProjects(ctx, []domain.Project{p})
}

// phaseInitiatives upserts the initiative records themselves.
func (o *Orchestrator) phaseInitiatives(ctx context.Context, r *run) error {
	cursor := ""
	total := 0
	for {
		page, err := o.client.Initiatives(ctx, cursor, o.cfg.ProjectPageSize)
		if err != nil {
			return err
		}
		if err := o.store.UpsertInitiatives(ctx, page.Initiatives); err != nil {
			return err
		}
		total += len(page.Initiatives)
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = page.PageInfo.EndCursor
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	r.partial.InitiativesDone = true
	o.log.Info().Int("initiatives", total).Msg("sync: initiatives done")
	return o.checkpoint(ctx, r, domain.PhaseInitiatives)
}

// phaseComputeMetrics recomputes every derived value from the full current
// record set and captures aggregate snapshots. Not sub-resumable: a crash here
// restarts the computation, which is idempotent and touches no remote state.
func (o *Orchestrator) phaseComputeMetrics(ctx context.Context, r *run) error {
	if err := o.applyAssigneeDeletions(ctx); err != nil {
		return err
	}
	now := o.now()

	issues, err := o.store.ListIssues(ctx)
	if err != nil {
		return err
	}
	engineers := metrics.ComputeEngineers(issues, now, o.mcfg)
	if err := o.store.ReplaceEngineers(ctx, engineers); err != nil {
		return err
	}

	projects, err := o.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	byProject := map[string][]domain.Issue{}
	for _, i := range issues {
		if i.ProjectID != "" {
			byProject[i.ProjectID] = append(byProject[i.ProjectID], i)
		}
	}
	skipped := 0
	for idx := range projects {
		skipped += metrics.ComputeProject(&projects[idx], byProject[projects[idx].ID], now, o.mcfg)
	}
	if skipped > 0 {
		o.log.Warn().Int("skipped", skipped).Msg("metrics: records skipped during recomputation")
	}
	if err := o.store.UpsertProjects(ctx, projects); err != nil {
		return err
	}

	org, byTeam, byDomain := metrics.ComputeAggregates(issues, projects, engineers, now, o.mcfg)
	if err := o.store.InsertSnapshot(ctx, domain.LevelOrg, "", org.Map(), now); err != nil {
		return err
	}
	for team, agg := range byTeam {
		if err := o.store.InsertSnapshot(ctx, domain.LevelTeam, team, agg.Map(), now); err != nil {
			return err
		}
	}
	for d, agg := range byDomain {
		if err := o.store.InsertSnapshot(ctx, domain.LevelDomain, d, agg.Map(), now); err != nil {
			return err
		}
	}
	o.publish(Event{Phase: domain.PhaseComputingMetrics, Message: "metrics computed",
		Current: len(projects), Total: len(projects), Percent: domain.PhaseComputingMetrics.ProgressPercent()})
	return nil
}

// applyAssigneeDeletions drops issues and engineer rows for ignored
// assignees, regardless of team scope.
func (o *Orchestrator) applyAssigneeDeletions(ctx context.Context) error {
	if len(o.cfg.AssigneeIgnore) == 0 {
		return nil
	}
	n, err := o.store.DeleteIssuesByAssignees(ctx, o.cfg.AssigneeIgnore)
	if err != nil {
		return err
	}
	if err := o.store.DeleteEngineersByNames(ctx, o.cfg.AssigneeIgnore); err != nil {
		return err
	}
	if n > 0 {
		o.log.Info().Int64("issues", n).Msg("sync: ignored-assignee issues deleted")
	}
	return nil
}
