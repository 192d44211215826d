package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/domain"
)

// LoadSyncState reads the singleton sync-metadata row, including the partial
// resume state if one is pending.
func (r *Repository) LoadSyncState(ctx context.Context) (domain.SyncState, error) {
	var st domain.SyncState
	var phase, status string
	var counts, partial []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT phase, status, last_sync_at, error_message,
        progress_percent, query_counts, partial_state FROM sync_state WHERE id=1`).
		Scan(&phase, &status, &st.LastSyncAt, &st.ErrorMessage, &st.ProgressPercent, &counts, &partial)
	if err != nil {
		return st, err
	}
	st.Phase = domain.SyncPhase(phase)
	st.Status = domain.SyncStatus(status)
	if err := json.Unmarshal(counts, &st.QueryCounts); err != nil {
		return st, err
	}
	if len(partial) > 0 {
		st.Partial = &domain.PartialSyncState{}
		if err := json.Unmarshal(partial, st.Partial); err != nil {
			return st, err
		}
	}
	return st, nil
}

// SaveSyncState overwrites the singleton row. Written synchronously after every
// phase boundary and every resumable sub-unit, so a restart resumes from here.
func (r *Repository) SaveSyncState(ctx context.Context, st domain.SyncState) error {
	counts, err := json.Marshal(orEmptyCounts(st.QueryCounts))
	if err != nil {
		return err
	}
	var partial []byte
	if st.Partial != nil {
		if partial, err = json.Marshal(st.Partial); err != nil {
			return err
		}
	}
	_, err = r.db.Pool.Exec(ctx, `UPDATE sync_state SET phase=$1, status=$2, last_sync_at=$3,
        error_message=$4, progress_percent=$5, query_counts=$6, partial_state=$7 WHERE id=1`,
		string(st.Phase), string(st.Status), st.LastSyncAt, st.ErrorMessage, st.ProgressPercent, counts, partial)
	return err
}

func orEmptyCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// SetSyncStatus updates only the status and error message, leaving the partial
// state untouched so the next invocation resumes exactly where this one
// stopped.
func (r *Repository) SetSyncStatus(ctx context.Context, status domain.SyncStatus, errMsg string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE sync_state SET status=$1, error_message=$2 WHERE id=1`, string(status), errMsg)
	return err
}

// ClearPartialState drops the resume document; a full sync starts from one
// that is empty.
func (r *Repository) ClearPartialState(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE sync_state SET partial_state=NULL WHERE id=1`)
	return err
}

// MarkSyncComplete records a successful pass: idle status, cleared partial
// state, fresh last-sync time.
func (r *Repository) MarkSyncComplete(ctx context.Context, at time.Time, queryCounts map[string]int) error {
	counts, err := json.Marshal(orEmptyCounts(queryCounts))
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `UPDATE sync_state SET phase=$1, status=$2, last_sync_at=$3,
        error_message='', progress_percent=100, query_counts=$4, partial_state=NULL WHERE id=1`,
		string(domain.PhaseComplete), string(domain.StatusIdle), at, counts)
	return err
}
