package repo

import (
	"context"
	"encoding/json"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
)

const projectUpsert = `
    INSERT INTO projects(id, name, state, status, health, lead_id, lead_name,
        description, content, target_date, estimated_end_date, started_at, updated_at,
        total_issues, completed_issues, in_progress_issues, total_points, completed_points,
        engineers, team_issue_counts,
        missing_estimate_count, missing_priority_count, stale_comment_count,
        wip_age_violation_count, missing_description_count,
        velocity, avg_cycle_time_days, avg_lead_time_days, estimate_accuracy, progress,
        has_status_mismatch, has_stale_update, missing_lead, missing_health,
        has_date_discrepancy, has_violations, last_update_at, update_history)
    VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
        $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38)
    ON CONFLICT(id) DO UPDATE SET
        name=EXCLUDED.name,
        state=EXCLUDED.state,
        status=EXCLUDED.status,
        health=EXCLUDED.health,
        lead_id=EXCLUDED.lead_id,
        lead_name=EXCLUDED.lead_name,
        description=EXCLUDED.description,
        content=EXCLUDED.content,
        target_date=EXCLUDED.target_date,
        estimated_end_date=EXCLUDED.estimated_end_date,
        started_at=EXCLUDED.started_at,
        updated_at=EXCLUDED.updated_at,
        total_issues=EXCLUDED.total_issues,
        completed_issues=EXCLUDED.completed_issues,
        in_progress_issues=EXCLUDED.in_progress_issues,
        total_points=EXCLUDED.total_points,
        completed_points=EXCLUDED.completed_points,
        engineers=EXCLUDED.engineers,
        team_issue_counts=EXCLUDED.team_issue_counts,
        missing_estimate_count=EXCLUDED.missing_estimate_count,
        missing_priority_count=EXCLUDED.missing_priority_count,
        stale_comment_count=EXCLUDED.stale_comment_count,
        wip_age_violation_count=EXCLUDED.wip_age_violation_count,
        missing_description_count=EXCLUDED.missing_description_count,
        velocity=EXCLUDED.velocity,
        avg_cycle_time_days=EXCLUDED.avg_cycle_time_days,
        avg_lead_time_days=EXCLUDED.avg_lead_time_days,
        estimate_accuracy=EXCLUDED.estimate_accuracy,
        progress=EXCLUDED.progress,
        has_status_mismatch=EXCLUDED.has_status_mismatch,
        has_stale_update=EXCLUDED.has_stale_update,
        missing_lead=EXCLUDED.missing_lead,
        missing_health=EXCLUDED.missing_health,
        has_date_discrepancy=EXCLUDED.has_date_discrepancy,
        has_violations=EXCLUDED.has_violations,
        last_update_at=EXCLUDED.last_update_at,
        update_history=EXCLUDED.update_history`

// UpsertProjects writes one batch of projects in a single transaction with
// full-column overwrite. Aggregates arrive fully recomputed; nothing here is
// incrementally patched.
func (r *Repository) UpsertProjects(ctx context.Context, projects []domain.Project) error {
	if len(projects) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range projects {
			engineers := p.Engineers
			if engineers == nil {
				engineers = []string{}
			}
			counts, err := json.Marshal(orEmptyMap(p.TeamIssueCounts))
			if err != nil {
				return err
			}
			history, err := json.Marshal(orEmptyUpdates(p.UpdateHistory))
			if err != nil {
				return err
			}
			batch.Queue(projectUpsert, p.ID, p.Name, p.State, p.Status, string(p.Health), p.LeadID, p.LeadName,
				p.Description, p.Content, p.TargetDate, p.EstimatedEndDate, p.StartedAt, p.UpdatedAt,
				p.TotalIssues, p.CompletedIssues, p.InProgressIssues, p.TotalPoints, p.CompletedPoints,
				engineers, counts,
				p.MissingEstimateCount, p.MissingPriorityCount, p.StaleCommentCount,
				p.WIPAgeViolationCount, p.MissingDescriptionCount,
				p.Velocity, p.AvgCycleTimeDays, p.AvgLeadTimeDays, p.EstimateAccuracy, p.Progress,
				p.HasStatusMismatch, p.HasStaleUpdate, p.MissingLead, p.MissingHealth,
				p.HasDateDiscrepancy, p.HasViolations, p.LastUpdateAt, history)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range projects {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

func orEmptyMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func orEmptyUpdates(u []domain.ProjectUpdate) []domain.ProjectUpdate {
	if u == nil {
		return []domain.ProjectUpdate{}
	}
	return u
}

const projectColumns = `id, name, state, status, health, lead_id, lead_name,
    description, content, target_date, estimated_end_date, started_at, updated_at,
    total_issues, completed_issues, in_progress_issues, total_points, completed_points,
    engineers, team_issue_counts,
    missing_estimate_count, missing_priority_count, stale_comment_count,
    wip_age_violation_count, missing_description_count,
    velocity, avg_cycle_time_days, avg_lead_time_days, estimate_accuracy, progress,
    has_status_mismatch, has_stale_update, missing_lead, missing_health,
    has_date_discrepancy, has_violations, last_update_at, update_history`

func scanProject(row pgx.Row) (domain.Project, error) {
	var p domain.Project
	var health string
	var counts, history []byte
	err := row.Scan(&p.ID, &p.Name, &p.State, &p.Status, &health, &p.LeadID, &p.LeadName,
		&p.Description, &p.Content, &p.TargetDate, &p.EstimatedEndDate, &p.StartedAt, &p.UpdatedAt,
		&p.TotalIssues, &p.CompletedIssues, &p.InProgressIssues, &p.TotalPoints, &p.CompletedPoints,
		&p.Engineers, &counts,
		&p.MissingEstimateCount, &p.MissingPriorityCount, &p.StaleCommentCount,
		&p.WIPAgeViolationCount, &p.MissingDescriptionCount,
		&p.Velocity, &p.AvgCycleTimeDays, &p.AvgLeadTimeDays, &p.EstimateAccuracy, &p.Progress,
		&p.HasStatusMismatch, &p.HasStaleUpdate, &p.MissingLead, &p.MissingHealth,
		&p.HasDateDiscrepancy, &p.HasViolations, &p.LastUpdateAt, &history)
	if err != nil {
		return p, err
	}
	p.Health = domain.ProjectHealth(health)
	if err := json.Unmarshal(counts, &p.TeamIssueCounts); err != nil {
		return p, err
	}
	if err := json.Unmarshal(history, &p.UpdateHistory); err != nil {
		return p, err
	}
	return p, nil
}

// ListProjects returns every stored project.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns one project or pgx.ErrNoRows.
func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.db.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
}

// DeleteProjects hard-deletes projects by ID, used when a project leaves the
// synced scope or vanishes remotely.
func (r *Repository) DeleteProjects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM projects WHERE id = ANY($1)`, ids)
	return err
}

// DeleteProjectsWithoutIssues prunes projects that no longer have any stored
// issue referencing them; runs after team-scope deletions.
func (r *Repository) DeleteProjectsWithoutIssues(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM projects WHERE id NOT IN (SELECT DISTINCT project_id FROM issues WHERE project_id <> '')`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
