package repo

import (
	"context"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
)

const issueUpsert = `
    INSERT INTO issues(id, key, title, description, team_key, state_name, state_type,
        assignee_id, assignee_name, avatar_url, estimate, priority,
        created_at, updated_at, started_at, completed_at, canceled_at,
        parent_id, last_comment_at, comment_count, project_id, labels)
    VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
    ON CONFLICT(id) DO UPDATE SET
        key=EXCLUDED.key,
        title=EXCLUDED.title,
        description=EXCLUDED.description,
        team_key=EXCLUDED.team_key,
        state_name=EXCLUDED.state_name,
        state_type=EXCLUDED.state_type,
        assignee_id=EXCLUDED.assignee_id,
        assignee_name=EXCLUDED.assignee_name,
        avatar_url=EXCLUDED.avatar_url,
        estimate=EXCLUDED.estimate,
        priority=EXCLUDED.priority,
        created_at=EXCLUDED.created_at,
        updated_at=EXCLUDED.updated_at,
        started_at=EXCLUDED.started_at,
        completed_at=EXCLUDED.completed_at,
        canceled_at=EXCLUDED.canceled_at,
        parent_id=EXCLUDED.parent_id,
        last_comment_at=EXCLUDED.last_comment_at,
        comment_count=EXCLUDED.comment_count,
        project_id=EXCLUDED.project_id,
        labels=EXCLUDED.labels`

// UpsertIssues writes one batch of issues in a single transaction. Every
// non-key column is overwritten by the incoming value: last-write-wins, no
// partial-field merge.
func (r *Repository) UpsertIssues(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, i := range issues {
			labels := i.Labels
			if labels == nil {
				labels = []string{}
			}
			batch.Queue(issueUpsert, i.ID, i.Key, i.Title, i.Description, i.TeamKey, i.StateName, string(i.StateType),
				i.AssigneeID, i.AssigneeName, i.AvatarURL, i.Estimate, i.Priority,
				i.CreatedAt, i.UpdatedAt, i.StartedAt, i.CompletedAt, i.CanceledAt,
				i.ParentID, i.LastCommentAt, i.CommentCount, i.ProjectID, labels)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range issues {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

const issueColumns = `id, key, title, description, team_key, state_name, state_type,
    assignee_id, assignee_name, avatar_url, estimate, priority,
    created_at, updated_at, started_at, completed_at, canceled_at,
    parent_id, last_comment_at, comment_count, project_id, labels`

func scanIssue(row pgx.Row) (domain.Issue, error) {
	var i domain.Issue
	var stateType string
	err := row.Scan(&i.ID, &i.Key, &i.Title, &i.Description, &i.TeamKey, &i.StateName, &stateType,
		&i.AssigneeID, &i.AssigneeName, &i.AvatarURL, &i.Estimate, &i.Priority,
		&i.CreatedAt, &i.UpdatedAt, &i.StartedAt, &i.CompletedAt, &i.CanceledAt,
		&i.ParentID, &i.LastCommentAt, &i.CommentCount, &i.ProjectID, &i.Labels)
	i.StateType = domain.StateType(stateType)
	return i, err
}

func (r *Repository) queryIssues(ctx context.Context, q string, args ...any) ([]domain.Issue, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ListIssues returns every stored issue.
func (r *Repository) ListIssues(ctx context.Context) ([]domain.Issue, error) {
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY key`)
}

// ListIssuesByProject returns the current issue set of one project.
func (r *Repository) ListIssuesByProject(ctx context.Context, projectID string) ([]domain.Issue, error) {
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE project_id=$1 ORDER BY key`, projectID)
}

// ListIssuesByStateTypes returns issues whose workflow-state type is in types.
func (r *Repository) ListIssuesByStateTypes(ctx context.Context, types []string) ([]domain.Issue, error) {
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE state_type = ANY($1) ORDER BY key`, types)
}

// ListProjectIDs returns the distinct non-empty project references among
// stored issues; this is the work list the project phases iterate.
func (r *Repository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT project_id FROM issues WHERE project_id <> '' ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListTeamKeys returns the distinct team keys among stored issues.
func (r *Repository) ListTeamKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT team_key FROM issues WHERE team_key <> '' ORDER BY team_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteIssuesNotInTeams removes issues outside the whitelisted team scope and
// returns the project IDs they referenced so callers can prune projects that
// vanish with them.
func (r *Repository) DeleteIssuesNotInTeams(ctx context.Context, teamKeys []string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`DELETE FROM issues WHERE NOT (upper(team_key) = ANY($1)) RETURNING project_id`, teamKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// DeleteIssuesByAssignees removes issues owned by ignored assignees,
// regardless of team scope.
func (r *Repository) DeleteIssuesByAssignees(ctx context.Context, names []string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM issues WHERE assignee_name = ANY($1)`, names)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
