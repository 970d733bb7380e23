package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tmai-server/apperr"
	"tmai-server/models"
	"tmai-server/observability"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetService retrieves a tenant service by id. The ownership check against a
// session's tenant and the prompt configuration both come from this record.
func (r *Repository) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("select", "services")

	var (
		svc          models.Service
		promptConfig []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, name, slug, COALESCE(system_prompt, ''), prompt_config, created_at
		FROM services
		WHERE id = $1
	`, id).Scan(
		&svc.ID,
		&svc.OwnerID,
		&svc.Name,
		&svc.Slug,
		&svc.SystemPrompt,
		&promptConfig,
		&svc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	if len(promptConfig) > 0 {
		var cfg models.PromptConfig
		if err := json.Unmarshal(promptConfig, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode prompt config for service %s: %w", id, err)
		}
		svc.PromptConfig = &cfg
	}

	return &svc, nil
}

// CreateService persists a new tenant service. Slugs are unique; a duplicate
// surfaces as Conflict.
func (r *Repository) CreateService(ctx context.Context, svc *models.Service) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveDB("insert", "services")

	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}

	var promptConfig []byte
	if svc.PromptConfig != nil {
		var err error
		promptConfig, err = json.Marshal(svc.PromptConfig)
		if err != nil {
			return fmt.Errorf("failed to encode prompt config: %w", err)
		}
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO services (id, owner_id, name, slug, system_prompt, prompt_config, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NOW())
		ON CONFLICT (slug) DO NOTHING
		RETURNING created_at
	`, svc.ID, svc.OwnerID, svc.Name, svc.Slug, svc.SystemPrompt, promptConfig).Scan(&svc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: slug %q is taken", apperr.ErrConflict, svc.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}
