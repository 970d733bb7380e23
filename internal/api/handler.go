package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"tmai-server/apperr"
	"tmai-server/config"
	"tmai-server/internal/app"
	"tmai-server/models"
	"tmai-server/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// KeyAuthenticator resolves a presented API key secret to its scope
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, presented string) (*models.ScopedKey, error)
}

// SessionAuth identifies the tenant behind a first-party session. The
// session mechanism itself lives outside this service; anything that can
// map a request to an owner id satisfies it.
type SessionAuth interface {
	OwnerID(r *http.Request) (uuid.UUID, bool)
}

// Handler handles HTTP API requests
type Handler struct {
	app      *app.App
	cfg      *config.Config
	authn    KeyAuthenticator
	sessions SessionAuth
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config, authn KeyAuthenticator, sessions SessionAuth) *Handler {
	return &Handler{app: application, cfg: cfg, authn: authn, sessions: sessions}
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"services": map[string]string{
			"database": "unknown",
		},
	}

	if h.app.Repo() != nil {
		if err := h.app.Repo().Health(r.Context()); err == nil {
			status["services"].(map[string]string)["database"] = "connected"
		} else {
			status["services"].(map[string]string)["database"] = "disconnected"
			status["status"] = "degraded"
		}
	} else {
		status["services"].(map[string]string)["database"] = "not_configured"
	}

	cbStatus := services.Breakers().Status()
	status["circuit_breakers"] = cbStatus
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, status)
}

// chatRequest is the union of the two accepted chat request forms: the
// legacy single message plus history, or a full messages array whose last
// entry is the current user turn.
type chatRequest struct {
	Message   string               `json:"message"`
	ServiceID string               `json:"serviceId"`
	History   []models.ChatMessage `json:"history"`
	Messages  []models.ChatMessage `json:"messages"`
}

// HandleChat answers a chat request authenticated by API key or session
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	message, history, err := normalizeChat(&req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	input := app.ChatInput{Message: message, History: history}

	if req.ServiceID != "" {
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			h.jsonError(w, "invalid serviceId", http.StatusBadRequest)
			return
		}
		input.ServiceID = serviceID
	}

	if secret := presentedSecret(r); secret != "" {
		key, err := h.authn.Authenticate(r.Context(), secret)
		if err != nil {
			h.writeError(w, err)
			return
		}
		input.Key = key
	} else if owner, ok := h.sessions.OwnerID(r); ok {
		input.SessionOwner = &owner
	}

	answer, err := h.app.Chat(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.jsonResponse(w, map[string]string{"response": answer})
}

// normalizeChat reduces both request forms to (current message, history).
// In the messages form the last entry must be the user's turn.
func normalizeChat(req *chatRequest) (string, []models.ChatMessage, error) {
	if len(req.Messages) == 0 {
		return req.Message, req.History, nil
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return "", nil, apperr.InvalidInputf("last message must have role user")
	}
	return last.Content, req.Messages[:len(req.Messages)-1], nil
}

// HandleIssueKey mints a new API key for a service the session owner controls
func (h *Handler) HandleIssueKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	serviceID, ok := h.pathID(w, r, "serviceID")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	issued, err := h.app.IssueKey(r.Context(), owner, serviceID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec := issued.Record
	h.jsonStatus(w, http.StatusCreated, map[string]interface{}{
		"secret":              issued.Secret,
		"id":                  rec.ID,
		"serviceId":           rec.ServiceID,
		"name":                rec.Name,
		"prefix":              rec.KeyPrefix,
		"last4":               rec.Last4,
		"rateLimitPerMinute":  rec.RatePerMinute,
		"monthlyRequestLimit": rec.MonthlyLimit,
		"createdAt":           rec.CreatedAt,
	})
}

// HandleListKeys returns the key records of a service, never secrets
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	serviceID, ok := h.pathID(w, r, "serviceID")
	if !ok {
		return
	}

	keys, err := h.app.ListKeys(r.Context(), owner, serviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}

	h.jsonResponse(w, keys)
}

// HandleRevokeKey revokes a key, idempotently
func (h *Handler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	keyID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.app.RevokeKey(r.Context(), owner, keyID); err != nil {
		h.writeError(w, err)
		return
	}

	h.jsonResponse(w, map[string]string{"status": "revoked"})
}

// HandleDeleteKey hard-deletes a revoked key
func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	keyID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.app.DeleteKey(r.Context(), owner, keyID); err != nil {
		h.writeError(w, err)
		return
	}

	h.jsonResponse(w, map[string]string{"status": "deleted"})
}

// HandleIngest adds a document to a service's knowledge base
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	var req struct {
		ServiceID string `json:"serviceId"`
		Title     string `json:"title"`
		Source    string `json:"source"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		h.jsonError(w, "invalid serviceId", http.StatusBadRequest)
		return
	}

	result, err := h.app.Ingest(r.Context(), owner, serviceID, req.Title, req.Source, req.Text)
	if err != nil {
		if result != nil {
			// Partial chunk insert: the document exists, report what landed.
			h.jsonStatus(w, http.StatusAccepted, result)
			return
		}
		h.writeError(w, err)
		return
	}

	h.jsonStatus(w, http.StatusCreated, result)
}

// HandleDeleteDocument removes a document and its chunks
func (h *Handler) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.app.DeleteDocument(r.Context(), owner, docID); err != nil {
		h.writeError(w, err)
		return
	}

	h.jsonResponse(w, map[string]string{"status": "deleted"})
}

// presentedSecret extracts an API key secret from the request headers:
// x-api-key first, then a bearer token.
func presentedSecret(r *http.Request) string {
	if secret := r.Header.Get("x-api-key"); secret != "" {
		return secret
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

// requireSession resolves the session owner or writes a 401
func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, ok := h.sessions.OwnerID(r)
	if !ok {
		h.jsonError(w, "authentication required", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return owner, true
}

// pathID parses a UUID path parameter or writes a 400
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.jsonError(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps a taxonomy error to its HTTP status
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.jsonError(w, err.Error(), apperr.Status(err))
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
