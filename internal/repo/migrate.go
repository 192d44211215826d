package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// migrations is the ordered, idempotent migration list. Versions are applied
// once and recorded in schema_migrations, so a failed migration is detectable
// rather than silently swallowed.
var migrations = []struct {
	Version int
	SQL     string
}{
	{1, `
CREATE TABLE IF NOT EXISTS issues (
    id              TEXT PRIMARY KEY,
    key             TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    team_key        TEXT NOT NULL DEFAULT '',
    state_name      TEXT NOT NULL DEFAULT '',
    state_type      TEXT NOT NULL DEFAULT '',
    assignee_id     TEXT NOT NULL DEFAULT '',
    assignee_name   TEXT NOT NULL DEFAULT '',
    avatar_url      TEXT NOT NULL DEFAULT '',
    estimate        DOUBLE PRECISION,
    priority        INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ,
    canceled_at     TIMESTAMPTZ,
    parent_id       TEXT NOT NULL DEFAULT '',
    last_comment_at TIMESTAMPTZ,
    comment_count   INT NOT NULL DEFAULT 0,
    project_id      TEXT NOT NULL DEFAULT '',
    labels          TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_issues_team ON issues(team_key);
CREATE INDEX IF NOT EXISTS idx_issues_state_type ON issues(state_type);
CREATE INDEX IF NOT EXISTS idx_issues_assignee ON issues(assignee_id);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id);
`},
	{2, `
CREATE TABLE IF NOT EXISTS projects (
    id                        TEXT PRIMARY KEY,
    name                      TEXT NOT NULL DEFAULT '',
    state                     TEXT NOT NULL DEFAULT '',
    status                    TEXT NOT NULL DEFAULT '',
    health                    TEXT NOT NULL DEFAULT '',
    lead_id                   TEXT NOT NULL DEFAULT '',
    lead_name                 TEXT NOT NULL DEFAULT '',
    description               TEXT NOT NULL DEFAULT '',
    content                   TEXT NOT NULL DEFAULT '',
    target_date               TIMESTAMPTZ,
    estimated_end_date        TIMESTAMPTZ,
    started_at                TIMESTAMPTZ,
    updated_at                TIMESTAMPTZ NOT NULL,
    total_issues              INT NOT NULL DEFAULT 0,
    completed_issues          INT NOT NULL DEFAULT 0,
    in_progress_issues        INT NOT NULL DEFAULT 0,
    total_points              DOUBLE PRECISION NOT NULL DEFAULT 0,
    completed_points          DOUBLE PRECISION NOT NULL DEFAULT 0,
    engineers                 TEXT[] NOT NULL DEFAULT '{}',
    team_issue_counts         JSONB NOT NULL DEFAULT '{}',
    missing_estimate_count    INT NOT NULL DEFAULT 0,
    missing_priority_count    INT NOT NULL DEFAULT 0,
    stale_comment_count       INT NOT NULL DEFAULT 0,
    wip_age_violation_count   INT NOT NULL DEFAULT 0,
    missing_description_count INT NOT NULL DEFAULT 0,
    velocity                  DOUBLE PRECISION,
    avg_cycle_time_days       DOUBLE PRECISION,
    avg_lead_time_days        DOUBLE PRECISION,
    estimate_accuracy         DOUBLE PRECISION,
    progress                  DOUBLE PRECISION NOT NULL DEFAULT 0,
    has_status_mismatch       BOOLEAN NOT NULL DEFAULT FALSE,
    has_stale_update          BOOLEAN NOT NULL DEFAULT FALSE,
    missing_lead              BOOLEAN NOT NULL DEFAULT FALSE,
    missing_health            BOOLEAN NOT NULL DEFAULT FALSE,
    has_date_discrepancy      BOOLEAN NOT NULL DEFAULT FALSE,
    has_violations            BOOLEAN NOT NULL DEFAULT FALSE,
    last_update_at            TIMESTAMPTZ,
    update_history            JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_projects_state ON projects(state);
`},
	{3, `
CREATE TABLE IF NOT EXISTS engineers (
    id                     TEXT PRIMARY KEY,
    name                   TEXT NOT NULL DEFAULT '',
    avatar_url             TEXT NOT NULL DEFAULT '',
    teams                  TEXT[] NOT NULL DEFAULT '{}',
    active_issues          JSONB NOT NULL DEFAULT '[]',
    wip_count              INT NOT NULL DEFAULT 0,
    wip_points             DOUBLE PRECISION NOT NULL DEFAULT 0,
    wip_limit_exceeded     BOOLEAN NOT NULL DEFAULT FALSE,
    oldest_wip_age_days    DOUBLE PRECISION,
    missing_estimate_count INT NOT NULL DEFAULT 0,
    missing_priority_count INT NOT NULL DEFAULT 0,
    stale_comment_count    INT NOT NULL DEFAULT 0
);
`},
	{4, `
CREATE TABLE IF NOT EXISTS initiatives (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    content           TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT '',
    target_date       TIMESTAMPTZ,
    started_at        TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ,
    archived_at       TIMESTAMPTZ,
    health            TEXT NOT NULL DEFAULT '',
    health_updated_at TIMESTAMPTZ,
    owner_name        TEXT NOT NULL DEFAULT '',
    project_ids       TEXT[] NOT NULL DEFAULT '{}',
    updated_at        TIMESTAMPTZ NOT NULL
);
`},
	{5, `
CREATE TABLE IF NOT EXISTS sync_state (
    id               INT PRIMARY KEY CHECK (id = 1),
    phase            TEXT NOT NULL DEFAULT 'initial_issues',
    status           TEXT NOT NULL DEFAULT 'idle',
    last_sync_at     TIMESTAMPTZ,
    error_message    TEXT NOT NULL DEFAULT '',
    progress_percent INT NOT NULL DEFAULT 0,
    query_counts     JSONB NOT NULL DEFAULT '{}',
    partial_state    JSONB
);
INSERT INTO sync_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`},
	{6, `
CREATE TABLE IF NOT EXISTS metrics_snapshots (
    id             BIGSERIAL PRIMARY KEY,
    captured_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    schema_version INT NOT NULL DEFAULT 1,
    level          TEXT NOT NULL,
    level_key      TEXT NOT NULL DEFAULT '',
    payload        JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_snapshots_scope ON metrics_snapshots(level, level_key, captured_at);
`},
}

// expectedColumns is the live-schema contract ValidateSchema checks against.
var expectedColumns = map[string][]string{
	"issues": {
		"id", "key", "title", "description", "team_key", "state_name", "state_type",
		"assignee_id", "assignee_name", "avatar_url", "estimate", "priority",
		"created_at", "updated_at", "started_at", "completed_at", "canceled_at",
		"parent_id", "last_comment_at", "comment_count", "project_id", "labels",
	},
	"projects": {
		"id", "name", "state", "status", "health", "lead_id", "lead_name",
		"description", "content", "target_date", "estimated_end_date", "started_at",
		"updated_at", "total_issues", "completed_issues", "in_progress_issues",
		"total_points", "completed_points", "engineers", "team_issue_counts",
		"missing_estimate_count", "missing_priority_count", "stale_comment_count",
		"wip_age_violation_count", "missing_description_count", "velocity",
		"avg_cycle_time_days", "avg_lead_time_days", "estimate_accuracy", "progress",
		"has_status_mismatch", "has_stale_update", "missing_lead", "missing_health",
		"has_date_discrepancy", "has_violations", "last_update_at", "update_history",
	},
	"engineers": {
		"id", "name", "avatar_url", "teams", "active_issues", "wip_count",
		"wip_points", "wip_limit_exceeded", "oldest_wip_age_days",
		"missing_estimate_count", "missing_priority_count", "stale_comment_count",
	},
	"initiatives": {
		"id", "name", "description", "content", "status", "target_date",
		"started_at", "completed_at", "archived_at", "health", "health_updated_at",
		"owner_name", "project_ids", "updated_at",
	},
	"sync_state": {
		"id", "phase", "status", "last_sync_at", "error_message",
		"progress_percent", "query_counts", "partial_state",
	},
	"metrics_snapshots": {
		"id", "captured_at", "schema_version", "level", "level_key", "payload",
	},
}

// SchemaMismatchError reports a divergence between the live schema and the
// expected one. The store never auto-repairs; the operator resolves it with an
// explicit reset.
type SchemaMismatchError struct {
	Table   string
	Missing []string
	Extra   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: missing=[%s] unexpected=[%s]; run an explicit reset to rebuild",
		e.Table, strings.Join(e.Missing, ","), strings.Join(e.Extra, ","))
}

// Migrate applies pending migrations in order, recording each version.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version INT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied := map[int]bool{}
	rows, err := r.db.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
	}
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := r.db.Pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if _, err := r.db.Pool.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		r.log.Info().Int("version", m.Version).Msg("migration applied")
	}
	return nil
}

// ValidateSchema compares the live column set of every table against the
// expected set and returns a SchemaMismatchError on the first divergence.
func (r *Repository) ValidateSchema(ctx context.Context) error {
	tables := make([]string, 0, len(expectedColumns))
	for t := range expectedColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, table := range tables {
		rows, err := r.db.Pool.Query(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_schema='public' AND table_name=$1`, table)
		if err != nil {
			return err
		}
		live := map[string]bool{}
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return err
			}
			live[c] = true
		}
		rows.Close()
		want := map[string]bool{}
		for _, c := range expectedColumns[table] {
			want[c] = true
		}
		var missing, extra []string
		for c := range want {
			if !live[c] {
				missing = append(missing, c)
			}
		}
		for c := range live {
			if !want[c] {
				extra = append(extra, c)
			}
		}
		if len(missing) > 0 || len(extra) > 0 {
			sort.Strings(missing)
			sort.Strings(extra)
			return &SchemaMismatchError{Table: table, Missing: missing, Extra: extra}
		}
	}
	return nil
}

// Reset drops and recreates every table. Destructive; only ever invoked by an
// explicit operator action.
func (r *Repository) Reset(ctx context.Context) error {
	const drop = `DROP TABLE IF EXISTS issues, projects, engineers, initiatives, sync_state, metrics_snapshots, schema_migrations CASCADE`
	if _, err := r.db.Pool.Exec(ctx, drop); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	r.log.Warn().Msg("store reset: all tables dropped")
	return r.Migrate(ctx)
}
