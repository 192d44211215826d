package repo

import (
	"context"
	"encoding/json"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
)

const engineerUpsert = `
    INSERT INTO engineers(id, name, avatar_url, teams, active_issues,
        wip_count, wip_points, wip_limit_exceeded, oldest_wip_age_days,
        missing_estimate_count, missing_priority_count, stale_comment_count)
    VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT(id) DO UPDATE SET
        name=EXCLUDED.name,
        avatar_url=EXCLUDED.avatar_url,
        teams=EXCLUDED.teams,
        active_issues=EXCLUDED.active_issues,
        wip_count=EXCLUDED.wip_count,
        wip_points=EXCLUDED.wip_points,
        wip_limit_exceeded=EXCLUDED.wip_limit_exceeded,
        oldest_wip_age_days=EXCLUDED.oldest_wip_age_days,
        missing_estimate_count=EXCLUDED.missing_estimate_count,
        missing_priority_count=EXCLUDED.missing_priority_count,
        stale_comment_count=EXCLUDED.stale_comment_count`

// ReplaceEngineers swaps the whole engineer table for the freshly recomputed
// set in one transaction. Engineer rows are derived wholesale from the current
// started-issue set, so stale rows are dropped rather than patched.
func (r *Repository) ReplaceEngineers(ctx context.Context, engineers []domain.Engineer) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM engineers`); err != nil {
			return err
		}
		if len(engineers) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range engineers {
			teams := e.Teams
			if teams == nil {
				teams = []string{}
			}
			active, err := json.Marshal(orEmptyActive(e.ActiveIssues))
			if err != nil {
				return err
			}
			batch.Queue(engineerUpsert, e.ID, e.Name, e.AvatarURL, teams, active,
				e.WIPCount, e.WIPPoints, e.WIPLimitExceeded, e.OldestWIPAgeDays,
				e.MissingEstimateCount, e.MissingPriorityCount, e.StaleCommentCount)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range engineers {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

func orEmptyActive(a []domain.ActiveIssue) []domain.ActiveIssue {
	if a == nil {
		return []domain.ActiveIssue{}
	}
	return a
}

// ListEngineers returns every stored engineer row.
func (r *Repository) ListEngineers(ctx context.Context) ([]domain.Engineer, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, avatar_url, teams, active_issues,
        wip_count, wip_points, wip_limit_exceeded, oldest_wip_age_days,
        missing_estimate_count, missing_priority_count, stale_comment_count
        FROM engineers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Engineer
	for rows.Next() {
		var e domain.Engineer
		var active []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.AvatarURL, &e.Teams, &active,
			&e.WIPCount, &e.WIPPoints, &e.WIPLimitExceeded, &e.OldestWIPAgeDays,
			&e.MissingEstimateCount, &e.MissingPriorityCount, &e.StaleCommentCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(active, &e.ActiveIssues); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEngineersByNames removes ignored assignees' engineer rows.
func (r *Repository) DeleteEngineersByNames(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM engineers WHERE name = ANY($1)`, names)
	return err
}
