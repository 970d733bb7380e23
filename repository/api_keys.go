package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tmai-server/apperr"
	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const apiKeyColumns = `id, owner_id, service_id, name, key_hash, key_prefix, last4,
	       rate_per_minute, monthly_limit, last_used_at, revoked_at, created_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.OwnerID,
		&key.ServiceID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Last4,
		&key.RatePerMinute,
		&key.MonthlyLimit,
		&key.LastUsedAt,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// CreateAPIKey persists a newly issued key record. The key_hash column has a
// unique index; a collision surfaces as Conflict so the issuer can retry
// with a fresh secret.
func (r *Repository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "api_keys")

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	query := `
		INSERT INTO api_keys (id, owner_id, service_id, name, key_hash, key_prefix, last4,
		                      rate_per_minute, monthly_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		key.ID,
		key.OwnerID,
		key.ServiceID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.Last4,
		key.RatePerMinute,
		key.MonthlyLimit,
	).Scan(&key.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			metrics.RecordDBError("insert", "api_keys")
			return fmt.Errorf("%w: api key hash already exists", apperr.ErrConflict)
		}
		metrics.RecordDBError("insert", "api_keys")
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// GetAPIKeyByHash retrieves a key record by the hash of its secret. This is
// the only lookup the authenticator uses; keys are never resolved by prefix.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "api_keys")

	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)

	key, err := scanAPIKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key by hash: %w", err)
	}
	return key, nil
}

// GetAPIKey retrieves a key record by id.
func (r *Repository) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "api_keys")

	row := r.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)

	key, err := scanAPIKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns all key records for a service, newest first. Records
// only; secrets are unrecoverable after issuance.
func (r *Repository) ListAPIKeys(ctx context.Context, serviceID uuid.UUID) ([]models.APIKey, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "api_keys")

	rows, err := r.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE service_id = $1 ORDER BY created_at DESC`,
		serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}

	return keys, nil
}

// RevokeAPIKey sets the revocation timestamp. Revoking an already revoked
// key is a no-op success, so the operation is idempotent.
func (r *Repository) RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("update", "api_keys")

	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteAPIKey hard-deletes a key and its usage counters. Deletion is only
// permitted once the key has been revoked.
func (r *Repository) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("delete", "api_keys")

	key, err := r.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if !key.Revoked() {
		return fmt.Errorf("%w: api key must be revoked before deletion", apperr.ErrConflict)
	}

	tx, txRepo, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := txRepo.db.Exec(ctx,
		`DELETE FROM usage_windows WHERE api_key_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete usage windows: %w", err)
	}
	if _, err := txRepo.db.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit api key deletion: %w", err)
	}
	return nil
}

// TouchAPIKey stamps the key's last-used time. Best effort: callers treat a
// failure here as observability loss, never as a request failure.
func (r *Repository) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := r.checkDB(); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to stamp api key last use: %w", err)
	}
	return nil
}
