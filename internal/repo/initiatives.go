package repo

import (
	"context"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/jackc/pgx/v5"
)

const initiativeUpsert = `
    INSERT INTO initiatives(id, name, description, content, status,
        target_date, started_at, completed_at, archived_at,
        health, health_updated_at, owner_name, project_ids, updated_at)
    VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
    ON CONFLICT(id) DO UPDATE SET
        name=EXCLUDED.name,
        description=EXCLUDED.description,
        content=EXCLUDED.content,
        status=EXCLUDED.status,
        target_date=EXCLUDED.target_date,
        started_at=EXCLUDED.started_at,
        completed_at=EXCLUDED.completed_at,
        archived_at=EXCLUDED.archived_at,
        health=EXCLUDED.health,
        health_updated_at=EXCLUDED.health_updated_at,
        owner_name=EXCLUDED.owner_name,
        project_ids=EXCLUDED.project_ids,
        updated_at=EXCLUDED.updated_at`

// UpsertInitiatives writes one batch of initiatives in a single transaction
// with full-column overwrite.
func (r *Repository) UpsertInitiatives(ctx context.Context, initiatives []domain.Initiative) error {
	if len(initiatives) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, n := range initiatives {
			ids := n.ProjectIDs
			if ids == nil {
				ids = []string{}
			}
			batch.Queue(initiativeUpsert, n.ID, n.Name, n.Description, n.Content, n.Status,
				n.TargetDate, n.StartedAt, n.CompletedAt, n.ArchivedAt,
				n.Health, n.HealthUpdatedAt, n.OwnerName, ids, n.UpdatedAt)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range initiatives {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListInitiatives returns every stored initiative.
func (r *Repository) ListInitiatives(ctx context.Context) ([]domain.Initiative, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, description, content, status,
        target_date, started_at, completed_at, archived_at,
        health, health_updated_at, owner_name, project_ids, updated_at
        FROM initiatives ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Initiative
	for rows.Next() {
		var n domain.Initiative
		if err := rows.Scan(&n.ID, &n.Name, &n.Description, &n.Content, &n.Status,
			&n.TargetDate, &n.StartedAt, &n.CompletedAt, &n.ArchivedAt,
			&n.Health, &n.HealthUpdatedAt, &n.OwnerName, &n.ProjectIDs, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
