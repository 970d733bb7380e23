package auth

import (
	"context"
	"fmt"
	"time"

	"tmai-server/apperr"
	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
)

// UsageStore is the slice of the store quota enforcement needs. The
// increment must be a single atomic conditional operation in the store;
// the enforcer never reads a count and writes it back.
type UsageStore interface {
	IncrementUsage(ctx context.Context, keyID uuid.UUID, kind models.WindowKind, windowStart time.Time, limit int, expiresAt time.Time) (int, bool, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Enforcer applies fixed-window quotas to authenticated keys.
type Enforcer struct {
	store UsageStore
	now   func() time.Time
}

// NewEnforcer creates an Enforcer using wall-clock time.
func NewEnforcer(store UsageStore) *Enforcer {
	return &Enforcer{store: store, now: time.Now}
}

// NewEnforcerAt creates an Enforcer with an injected clock, for tests.
func NewEnforcerAt(store UsageStore, now func() time.Time) *Enforcer {
	return &Enforcer{store: store, now: now}
}

// windowStart truncates an instant to the start of its window, in UTC.
func windowStart(kind models.WindowKind, t time.Time) time.Time {
	t = t.UTC()
	switch kind {
	case models.WindowMinute:
		return t.Truncate(time.Minute)
	case models.WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// windowExpiry places a counter row's GC expiry two window lengths past its
// start, comfortably beyond any in-flight increment.
func windowExpiry(kind models.WindowKind, start time.Time) time.Time {
	switch kind {
	case models.WindowMinute:
		return start.Add(2 * time.Minute)
	case models.WindowMonth:
		return start.AddDate(0, 2, 0)
	default:
		return start.Add(2 * time.Hour)
	}
}

// Allow checks and consumes one request of the key's configured windows:
// minute first, then month. Each window is a single conditional increment in
// the store; the first exhausted window rejects the request and later
// windows are left untouched, so a minute rejection never consumes monthly
// budget. A key without a limit on an axis is unlimited along it.
//
// On grant, the key's last-used stamp is updated best-effort: a failure
// there is logged and ignored, it never fails the request.
func (e *Enforcer) Allow(ctx context.Context, key *models.ScopedKey) error {
	checks := []struct {
		kind  models.WindowKind
		limit *int
	}{
		{models.WindowMinute, key.RatePerMinute},
		{models.WindowMonth, key.MonthlyLimit},
	}

	metrics := observability.GetMetrics()
	now := e.now()

	for _, check := range checks {
		if check.limit == nil {
			continue
		}
		metrics.RecordQuotaCheck(string(check.kind))

		limit := *check.limit
		if limit <= 0 {
			metrics.RecordQuotaRejection(string(check.kind))
			return fmt.Errorf("%w: %s window closed", apperr.ErrRateLimited, check.kind)
		}

		start := windowStart(check.kind, now)
		_, granted, err := e.store.IncrementUsage(ctx, key.ID, check.kind, start, limit, windowExpiry(check.kind, start))
		if err != nil {
			return fmt.Errorf("quota check failed for %s window: %w", check.kind, err)
		}
		if !granted {
			metrics.RecordQuotaRejection(string(check.kind))
			return fmt.Errorf("%w: %s limit of %d reached", apperr.ErrRateLimited, check.kind, limit)
		}
	}

	if err := e.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		observability.WithKey(key.ID.String()).Warn("failed to stamp key last use", "error", err)
	}

	return nil
}
