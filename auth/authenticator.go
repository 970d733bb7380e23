package auth

import (
	"context"
	"fmt"
	"strings"

	"tmai-server/apperr"
	"tmai-server/models"
	"tmai-server/observability"
)

// minSecretLen is the shortest well-formed secret: the prefix plus the
// base64url encoding of 32 bytes (43 characters, no padding).
var minSecretLen = len(models.SecretPrefix) + 43

// KeyReader is the slice of the store the authenticator needs.
type KeyReader interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// Authenticator resolves presented secrets to their scope.
type Authenticator struct {
	store KeyReader
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store KeyReader) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate resolves a presented secret to its ScopedKey. Malformed
// secrets are rejected before any storage access; well-formed ones are
// looked up by hash only, so an attacker learns nothing from the prefix.
// Revoked keys fail exactly like unknown ones. Granting use is not implied:
// quota enforcement is a separate step.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*models.ScopedKey, error) {
	metrics := observability.GetMetrics()

	presented = strings.TrimSpace(presented)
	if !strings.HasPrefix(presented, models.SecretPrefix) || len(presented) < minSecretLen {
		metrics.RecordAuthFailure("malformed")
		metrics.RecordAuthAttempt("rejected")
		return nil, fmt.Errorf("%w: malformed api key", apperr.ErrUnauthenticated)
	}

	key, err := a.store.GetAPIKeyByHash(ctx, HashSecret(presented))
	if err != nil {
		// Unknown hash and storage errors look identical to the caller;
		// details stay in the wrapped error for the logs.
		metrics.RecordAuthFailure("unknown")
		metrics.RecordAuthAttempt("rejected")
		return nil, fmt.Errorf("%w: invalid api key", apperr.ErrUnauthenticated)
	}

	if key.Revoked() {
		metrics.RecordAuthFailure("revoked")
		metrics.RecordAuthAttempt("rejected")
		return nil, fmt.Errorf("%w: api key revoked", apperr.ErrUnauthenticated)
	}

	metrics.RecordAuthAttempt("granted")
	return &models.ScopedKey{
		ID:            key.ID,
		OwnerID:       key.OwnerID,
		ServiceID:     key.ServiceID,
		RatePerMinute: key.RatePerMinute,
		MonthlyLimit:  key.MonthlyLimit,
	}, nil
}
