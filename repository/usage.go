package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IncrementUsage atomically increments the counter for (key, kind,
// windowStart), conditioned on the current count being below limit. The
// whole check-and-increment is a single conditional upsert so concurrent
// requests against the same key are linearized by the store; a plain
// read-then-write would let two requests both observe "under limit" and
// jointly overshoot it.
//
// Returns the count after the increment, or false when the window is
// exhausted (no row matched the condition, nothing was written).
func (r *Repository) IncrementUsage(ctx context.Context, keyID uuid.UUID, kind models.WindowKind, windowStart time.Time, limit int, expiresAt time.Time) (int, bool, error) {
	if err := r.checkDB(); err != nil {
		return 0, false, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "usage_windows")

	query := `
		INSERT INTO usage_windows (api_key_id, window_kind, window_start, count, expires_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (api_key_id, window_kind, window_start)
		DO UPDATE SET count = usage_windows.count + 1
		WHERE usage_windows.count < $5
		RETURNING count
	`

	var count int
	err := r.db.QueryRow(ctx, query, keyID, string(kind), windowStart, expiresAt, limit).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update matched nothing: the window is full.
		return 0, false, nil
	}
	if err != nil {
		metrics.RecordDBError("upsert", "usage_windows")
		return 0, false, fmt.Errorf("failed to increment usage window: %w", err)
	}
	if count > limit {
		// The insert arm is unconditional, so the very first increment of a
		// window with limit 0 can land over the line. Treat it as exhausted.
		return count, false, nil
	}
	return count, true, nil
}

// GetUsage returns the current count for a window, zero if no row exists.
func (r *Repository) GetUsage(ctx context.Context, keyID uuid.UUID, kind models.WindowKind, windowStart time.Time) (int, error) {
	if err := r.checkDB(); err != nil {
		return 0, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "usage_windows")

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count FROM usage_windows WHERE api_key_id = $1 AND window_kind = $2 AND window_start = $3`,
		keyID, string(kind), windowStart).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage window: %w", err)
	}
	return count, nil
}

// DeleteExpiredUsageWindows reclaims counter rows whose expiry has passed.
// Every row expires well after its window's natural end, so the sweep never
// races an in-flight increment.
func (r *Repository) DeleteExpiredUsageWindows(ctx context.Context, now time.Time) (int64, error) {
	if err := r.checkDB(); err != nil {
		return 0, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("delete", "usage_windows")

	tag, err := r.db.Exec(ctx, `DELETE FROM usage_windows WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired usage windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
