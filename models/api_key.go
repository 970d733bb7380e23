package models

import (
	"time"

	"github.com/google/uuid"
)

// SecretPrefix is the fixed recognizable prefix of every issued key secret.
const SecretPrefix = "tmai_"

// APIKey represents an issued API key. The plaintext secret is never stored;
// only its hash (the lookup key), the display prefix and the last four
// characters survive issuance.
type APIKey struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       uuid.UUID  `json:"owner_id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	Name          string     `json:"name"`
	KeyHash       string     `json:"-"` // never expose the hash in JSON
	KeyPrefix     string     `json:"key_prefix"`
	Last4         string     `json:"last4"`
	RatePerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	MonthlyLimit  *int       `json:"monthly_request_limit,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// ScopedKey is the authenticated view of a key: the scope a presented secret
// resolves to, plus the limits quota enforcement needs. It carries no secret
// material.
type ScopedKey struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	ServiceID     uuid.UUID
	RatePerMinute *int
	MonthlyLimit  *int
}

// WindowKind identifies a fixed-window granularity for usage metering.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowMonth  WindowKind = "month"
)

// UsageWindow is one fixed-window counter row for a key. At most one row
// exists per (key, kind, window start); the count is advanced only by the
// store's conditional increment and never exceeds the key's limit.
type UsageWindow struct {
	APIKeyID    uuid.UUID  `json:"api_key_id"`
	Kind        WindowKind `json:"kind"`
	WindowStart time.Time  `json:"window_start"`
	Count       int        `json:"count"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
