// Package auth implements API key issuance, authentication and fixed-window
// quota enforcement for the public chat API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"tmai-server/apperr"
	"tmai-server/config"
	"tmai-server/models"

	"github.com/google/uuid"
)

const (
	// secretBytes is the entropy of a key secret before encoding.
	secretBytes = 32

	// displayPrefixLen is how much of the secret the dashboard may show.
	displayPrefixLen = 12

	// maxKeyNameLen bounds the human label on a key.
	maxKeyNameLen = 80
)

// KeyWriter is the slice of the store the issuer needs.
type KeyWriter interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// Issuer mints API key secrets and persists their derived records.
type Issuer struct {
	store KeyWriter
	cfg   config.KeyConfig
}

// NewIssuer creates an Issuer applying the server-controlled default limits.
func NewIssuer(store KeyWriter, cfg config.KeyConfig) *Issuer {
	return &Issuer{store: store, cfg: cfg}
}

// IssuedKey is the one-time response to key issuance. Secret is observable
// here and never again.
type IssuedKey struct {
	Secret string
	Record *models.APIKey
}

// Issue generates a fresh secret for (owner, service), derives its stored
// fields and persists the record. Limits are taken from server config, never
// from the caller. A hash collision surfaces as Conflict; the caller should
// simply retry for a new secret.
func (i *Issuer) Issue(ctx context.Context, ownerID, serviceID uuid.UUID, name string) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidInputf("key name is required")
	}
	if len(name) > maxKeyNameLen {
		return nil, apperr.InvalidInputf("key name exceeds %d characters", maxKeyNameLen)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key secret: %w", err)
	}

	ratePerMinute := i.cfg.DefaultRatePerMinute
	monthlyLimit := i.cfg.DefaultMonthlyLimit

	record := &models.APIKey{
		OwnerID:       ownerID,
		ServiceID:     serviceID,
		Name:          name,
		KeyHash:       HashSecret(secret),
		KeyPrefix:     secret[:displayPrefixLen],
		Last4:         secret[len(secret)-4:],
		RatePerMinute: &ratePerMinute,
		MonthlyLimit:  &monthlyLimit,
	}

	if err := i.store.CreateAPIKey(ctx, record); err != nil {
		return nil, err
	}

	return &IssuedKey{Secret: secret, Record: record}, nil
}

// GenerateSecret returns a new key secret: the fixed recognizable prefix
// followed by 32 bytes of base64url randomness without padding.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return models.SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret derives the irreversible lookup hash of a secret. The plaintext
// is never persisted; this hash is the only stored form.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
