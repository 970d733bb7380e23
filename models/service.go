package models

import (
	"time"

	"github.com/google/uuid"
)

// Service is a tenant-configured assistant. Keys, documents and chunks are
// all scoped to exactly one service; no cross-tenant references exist at the
// data level.
type Service struct {
	ID           uuid.UUID     `json:"id"`
	OwnerID      uuid.UUID     `json:"owner_id"`
	Name         string        `json:"name"`
	Slug         string        `json:"slug"`
	SystemPrompt string        `json:"system_prompt,omitempty"` // legacy single-string prompt
	PromptConfig *PromptConfig `json:"prompt_config,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// OwnedBy reports whether the service belongs to the given tenant.
func (s *Service) OwnedBy(ownerID uuid.UUID) bool {
	return s.OwnerID == ownerID
}
