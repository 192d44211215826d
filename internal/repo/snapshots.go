package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// SnapshotSchemaVersion is stamped on every captured snapshot so trend readers
// can detect payload-shape changes.
const SnapshotSchemaVersion = 1

// InsertSnapshot appends one immutable metrics snapshot row.
func (r *Repository) InsertSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string, payload map[string]any, at time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO metrics_snapshots(captured_at, schema_version, level, level_key, payload) VALUES($1,$2,$3,$4,$5)`,
		at, SnapshotSchemaVersion, string(level), levelKey, body)
	return err
}

// NearestSnapshot returns the snapshot whose capture time is closest to
// target. When no row is near the target window the oldest available row is
// returned instead, so callers can still draw a trend; the actual span is the
// caller's to derive from CapturedAt.
func (r *Repository) NearestSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string, target time.Time) (*domain.MetricsSnapshot, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT id, captured_at, schema_version, level, level_key, payload
        FROM metrics_snapshots WHERE level=$1 AND level_key=$2
        ORDER BY abs(extract(epoch FROM captured_at - $3::timestamptz)) ASC, id ASC LIMIT 1`,
		string(level), levelKey, target)
	return scanSnapshot(row)
}

// LatestSnapshot returns the most recent snapshot for a scope, or nil.
func (r *Repository) LatestSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string) (*domain.MetricsSnapshot, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT id, captured_at, schema_version, level, level_key, payload
        FROM metrics_snapshots WHERE level=$1 AND level_key=$2
        ORDER BY captured_at DESC, id DESC LIMIT 1`, string(level), levelKey)
	return scanSnapshot(row)
}

type snapRow interface{ Scan(dest ...any) error }

func scanSnapshot(row snapRow) (*domain.MetricsSnapshot, error) {
	var s domain.MetricsSnapshot
	var level string
	var payload []byte
	if err := row.Scan(&s.ID, &s.CapturedAt, &s.SchemaVersion, &level, &s.LevelKey, &payload); err != nil {
		return nil, err
	}
	s.Level = domain.SnapshotLevel(level)
	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, err
	}
	return &s, nil
}
