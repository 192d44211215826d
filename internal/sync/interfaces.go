package sync

import (
	"context"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/adapters/linear"
	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// Fetcher is the slice of the Linear client the orchestrator consumes.
type Fetcher interface {
	SetPhase(name string)
	QueryCounts() map[string]int
	Issues(ctx context.Context, after string, pageSize int, teamKeys, stateTypes []string) (linear.IssuePage, error)
	UpdatedIssues(ctx context.Context, after string, pageSize int, teamKeys []string, since time.Time) (linear.IssuePage, error)
	Project(ctx context.Context, id string) (domain.Project, error)
	Projects(ctx context.Context, after string, pageSize int, states []string) (linear.ProjectPage, error)
	ProjectIssues(ctx context.Context, projectID, after string, pageSize int) (linear.IssuePage, error)
	Initiatives(ctx context.Context, after string, pageSize int) (linear.InitiativePage, error)
}

// Store is the slice of the repository the orchestrator consumes. All
// mutation of the record store goes through this path; readers elsewhere only
// see committed rows.
type Store interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error

	UpsertIssues(ctx context.Context, issues []domain.Issue) error
	UpsertProjects(ctx context.Context, projects []domain.Project) error
	UpsertInitiatives(ctx context.Context, initiatives []domain.Initiative) error
	ReplaceEngineers(ctx context.Context, engineers []domain.Engineer) error

	DeleteIssuesNotInTeams(ctx context.Context, teamKeys []string) ([]string, error)
	DeleteIssuesByAssignees(ctx context.Context, names []string) (int64, error)
	DeleteEngineersByNames(ctx context.Context, names []string) error
	DeleteProjects(ctx context.Context, ids []string) error
	DeleteProjectsWithoutIssues(ctx context.Context) (int64, error)

	ListIssues(ctx context.Context) ([]domain.Issue, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)

	LoadSyncState(ctx context.Context) (domain.SyncState, error)
	SaveSyncState(ctx context.Context, st domain.SyncState) error
	ClearPartialState(ctx context.Context) error
	SetSyncStatus(ctx context.Context, status domain.SyncStatus, errMsg string) error
	MarkSyncComplete(ctx context.Context, at time.Time, queryCounts map[string]int) error

	InsertSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string, payload map[string]any, at time.Time) error
}
