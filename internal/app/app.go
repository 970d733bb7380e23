// Package app orchestrates the chat, ingestion and key-management flows,
// holding all dependencies behind interfaces for testability.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tmai-server/apperr"
	"tmai-server/auth"
	"tmai-server/config"
	"tmai-server/models"
	"tmai-server/observability"
	"tmai-server/rag"
	"tmai-server/services"

	"github.com/google/uuid"
)

// MeterAcceptedRequests documents the quota policy: the metered resource is
// accepted requests, not successful generations, so quota is consumed before
// the upstream call. A generation failure after a granted increment does not
// refund the counter.
const MeterAcceptedRequests = true

// RepositoryInterface defines the repository operations needed by App
type RepositoryInterface interface {
	Close()
	Health(ctx context.Context) error
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, serviceID uuid.UUID) ([]models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// KeyIssuer mints new API keys
type KeyIssuer interface {
	Issue(ctx context.Context, ownerID, serviceID uuid.UUID, name string) (*auth.IssuedKey, error)
}

// QuotaEnforcer checks and consumes one request of a key's windows
type QuotaEnforcer interface {
	Allow(ctx context.Context, key *models.ScopedKey) error
}

// ChunkRetriever finds stored chunks relevant to a query
type ChunkRetriever interface {
	Retrieve(ctx context.Context, serviceID uuid.UUID, query string, k int) ([]models.RetrievedChunk, error)
}

// DocumentIngestor turns raw text into retrievable chunks
type DocumentIngestor interface {
	Ingest(ctx context.Context, serviceID uuid.UUID, title, source, text string) (*rag.IngestResult, error)
}

// PromptAssembler renders the generation prompts for one request
type PromptAssembler interface {
	EffectiveConfig(svc *models.Service) models.PromptConfig
	Assemble(cfg models.PromptConfig, chunks []models.RetrievedChunk, history []models.ChatMessage, userMessage string) (system, user string)
}

// App struct holds application dependencies using interfaces for testability
type App struct {
	cfg       *config.Config
	repo      RepositoryInterface
	issuer    KeyIssuer
	quota     QuotaEnforcer
	retriever ChunkRetriever
	ingestor  DocumentIngestor
	assembler PromptAssembler
	invoker   services.Invoker
}

// New creates a new App application struct
func New(cfg *config.Config, repo RepositoryInterface, issuer KeyIssuer, quota QuotaEnforcer,
	retriever ChunkRetriever, ingestor DocumentIngestor, assembler PromptAssembler, invoker services.Invoker) *App {
	return &App{
		cfg:       cfg,
		repo:      repo,
		issuer:    issuer,
		quota:     quota,
		retriever: retriever,
		ingestor:  ingestor,
		assembler: assembler,
		invoker:   invoker,
	}
}

// Repo exposes the repository for the health endpoint
func (a *App) Repo() RepositoryInterface {
	return a.repo
}

// ChatInput is a normalized chat request: exactly one of Key or SessionOwner
// identifies the caller. ServiceID may be zero on the key path, where the
// key's own scope decides.
type ChatInput struct {
	Key          *models.ScopedKey
	SessionOwner *uuid.UUID
	ServiceID    uuid.UUID
	Message      string
	History      []models.ChatMessage
}

// Chat runs one grounded chat request: resolve scope, enforce quota on the
// key path, retrieve context, assemble the prompt and call the model. The
// generation call runs under a bounded timeout; its failure surfaces as an
// upstream error and is never retried here.
func (a *App) Chat(ctx context.Context, in ChatInput) (string, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	if strings.TrimSpace(in.Message) == "" {
		return "", apperr.InvalidInputf("message is required")
	}

	serviceID, authPath, err := a.resolveScope(in)
	if err != nil {
		metrics.RecordChatRequest(authPath, "rejected")
		return "", err
	}

	if in.Key != nil {
		// Quota is consumed before the upstream call; see MeterAcceptedRequests.
		if err := a.quota.Allow(ctx, in.Key); err != nil {
			metrics.RecordChatRequest(authPath, "rate_limited")
			return "", err
		}
	}

	svc, err := a.repo.GetService(ctx, serviceID)
	if err != nil {
		metrics.RecordChatRequest(authPath, "error")
		return "", fmt.Errorf("failed to load service: %w", err)
	}
	if in.Key == nil {
		if err := a.checkOwnership(svc, *in.SessionOwner); err != nil {
			metrics.RecordChatRequest(authPath, "rejected")
			return "", err
		}
	}

	chunks, err := a.retriever.Retrieve(ctx, serviceID, in.Message, 0)
	if err != nil {
		metrics.RecordChatRequest(authPath, "error")
		return "", fmt.Errorf("%w: retrieval failed: %v", apperr.ErrUpstream, err)
	}

	promptCfg := a.assembler.EffectiveConfig(svc)
	system, user := a.assembler.Assemble(promptCfg, chunks, in.History, in.Message)

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.RAG.UpstreamTimeoutSec)*time.Second)
	defer cancel()

	answer, err := a.invoker.InvokeWithPrompt(callCtx, system, user)
	if err != nil {
		metrics.RecordChatRequest(authPath, "upstream_error")
		timer.ObserveChat("upstream_error")
		return "", fmt.Errorf("%w: generation failed: %v", apperr.ErrUpstream, err)
	}

	metrics.RecordChatRequest(authPath, "ok")
	timer.ObserveChat("ok")
	return answer, nil
}

// resolveScope decides which service the request runs against. The two
// credential paths are mutually exclusive: an API key carries its own scope
// and any explicitly requested service must match it exactly; a session
// needs an explicit service id plus an ownership check.
func (a *App) resolveScope(in ChatInput) (uuid.UUID, string, error) {
	switch {
	case in.Key != nil:
		if in.ServiceID != uuid.Nil && in.ServiceID != in.Key.ServiceID {
			return uuid.Nil, "api_key", fmt.Errorf("%w: key is not scoped to the requested service", apperr.ErrForbidden)
		}
		return in.Key.ServiceID, "api_key", nil

	case in.SessionOwner != nil:
		if in.ServiceID == uuid.Nil {
			return uuid.Nil, "session", apperr.InvalidInputf("serviceId is required")
		}
		return in.ServiceID, "session", nil

	default:
		return uuid.Nil, "none", fmt.Errorf("%w: no credential presented", apperr.ErrUnauthenticated)
	}
}

// Chat on the session path still has to prove the caller owns the service;
// the check needs the loaded service row, so it lives here rather than in
// resolveScope.
func (a *App) checkOwnership(svc *models.Service, owner uuid.UUID) error {
	if !svc.OwnedBy(owner) {
		return fmt.Errorf("%w: service belongs to another tenant", apperr.ErrForbidden)
	}
	return nil
}

// ownedService loads a service and verifies the session owner controls it.
func (a *App) ownedService(ctx context.Context, owner, serviceID uuid.UUID) (*models.Service, error) {
	svc, err := a.repo.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	if err := a.checkOwnership(svc, owner); err != nil {
		return nil, err
	}
	return svc, nil
}

// IssueKey mints a new API key for one of the owner's services. The secret
// appears in the result once and is never retrievable again.
func (a *App) IssueKey(ctx context.Context, owner, serviceID uuid.UUID, name string) (*auth.IssuedKey, error) {
	if _, err := a.ownedService(ctx, owner, serviceID); err != nil {
		return nil, err
	}
	return a.issuer.Issue(ctx, owner, serviceID, name)
}

// ListKeys returns the key records of one of the owner's services. Records
// only: hashes are never serialized and secrets are long gone.
func (a *App) ListKeys(ctx context.Context, owner, serviceID uuid.UUID) ([]models.APIKey, error) {
	if _, err := a.ownedService(ctx, owner, serviceID); err != nil {
		return nil, err
	}
	return a.repo.ListAPIKeys(ctx, serviceID)
}

// RevokeKey revokes one of the owner's keys. Revoking an already-revoked
// key succeeds and keeps the original revocation timestamp.
func (a *App) RevokeKey(ctx context.Context, owner, keyID uuid.UUID) error {
	key, err := a.repo.GetAPIKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}
	if key.OwnerID != owner {
		return fmt.Errorf("%w: key belongs to another tenant", apperr.ErrForbidden)
	}
	return a.repo.RevokeAPIKey(ctx, keyID, time.Now().UTC())
}

// DeleteKey hard-deletes one of the owner's keys along with its usage
// counters. Deletion requires prior revocation; the store enforces that.
func (a *App) DeleteKey(ctx context.Context, owner, keyID uuid.UUID) error {
	key, err := a.repo.GetAPIKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}
	if key.OwnerID != owner {
		return fmt.Errorf("%w: key belongs to another tenant", apperr.ErrForbidden)
	}
	return a.repo.DeleteAPIKey(ctx, keyID)
}

// Ingest adds a document to one of the owner's services.
func (a *App) Ingest(ctx context.Context, owner, serviceID uuid.UUID, title, source, text string) (*rag.IngestResult, error) {
	if _, err := a.ownedService(ctx, owner, serviceID); err != nil {
		return nil, err
	}
	return a.ingestor.Ingest(ctx, serviceID, title, source, text)
}

// DeleteDocument removes one of the owner's documents and all its chunks.
func (a *App) DeleteDocument(ctx context.Context, owner, documentID uuid.UUID) error {
	doc, err := a.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if _, err := a.ownedService(ctx, owner, doc.ServiceID); err != nil {
		return err
	}
	return a.repo.DeleteDocument(ctx, documentID)
}
