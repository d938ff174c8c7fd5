package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/services"
	"social-inbox/internal/core/store"
)

// maxRequestBody caps JSON request bodies on the API
const maxRequestBody = 64 << 10

// InboxHandler serves the unified inbox API: conversations, sending,
// connections and on-demand sync
type InboxHandler struct {
	store       *store.Store
	registry    *store.Registry
	sync        *services.SyncOrchestrator
	outbound    *services.Outbound
	credentials *services.CredentialManager
}

// NewInboxHandler creates a new inbox handler instance
func NewInboxHandler(
	s *store.Store,
	registry *store.Registry,
	sync *services.SyncOrchestrator,
	outbound *services.Outbound,
	credentials *services.CredentialManager,
) *InboxHandler {
	return &InboxHandler{
		store:       s,
		registry:    registry,
		sync:        sync,
		outbound:    outbound,
		credentials: credentials,
	}
}

// RegisterRoutes mounts the inbox endpoints under /api
func (h *InboxHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/conversations", h.ListConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/{id}/messages", h.SendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id}/media", h.SendMedia).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id}/read", h.MarkRead).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id}/client", h.LinkClient).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id}/draft", h.ClientDraft).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{platform}/{id}/reply", h.Reply).Methods(http.MethodPost)

	r.HandleFunc("/api/sync/pause", h.PauseSync).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/pause", h.ResumeSync).Methods(http.MethodDelete)
	r.HandleFunc("/api/sync", h.SyncAll).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/{platform}", h.SyncPlatform).Methods(http.MethodPost)

	r.HandleFunc("/api/connections", h.ListConnections).Methods(http.MethodGet)
	r.HandleFunc("/api/connections", h.AddConnection).Methods(http.MethodPost)
	r.HandleFunc("/api/connections/{id}", h.RemoveConnection).Methods(http.MethodDelete)
	r.HandleFunc("/api/connections/{id}/credential", h.UpdateCredential).Methods(http.MethodPut)
	r.HandleFunc("/api/connections/{id}/connected", h.SetConnected).Methods(http.MethodPut)
}

// ============================================================================
// Conversations
// ============================================================================

// ListConversations returns conversations, most recent first
// GET /api/conversations?platform=facebook
func (h *InboxHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(r.URL.Query().Get("platform"))
	if platform != "" && !platform.Valid() {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse(fmt.Sprintf("unknown platform %q", platform)))
		return
	}
	writeOK(w, h.store.Conversations(platform))
}

// ListMessages returns a conversation's messages in append order
// GET /api/conversations/{id}/messages
func (h *InboxHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.store.FindConversation(mux.Vars(r)["id"])
	if !ok {
		writeError(w, domain.ErrConversationNotFound)
		return
	}
	writeOK(w, h.store.Messages(conv.Platform, conv.ID))
}

type sendRequest struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SendMessage sends a text message into a conversation
// POST /api/conversations/{id}/messages
func (h *InboxHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("text is required"))
		return
	}

	msg, err := h.outbound.SendMessage(r.Context(), mux.Vars(r)["id"], req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, msg)
}

// SendMedia sends an image by URL into a conversation
// POST /api/conversations/{id}/media
func (h *InboxHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("url is required"))
		return
	}

	msg, err := h.outbound.SendMedia(r.Context(), mux.Vars(r)["id"], req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, msg)
}

// MarkRead marks every message of a conversation read
// POST /api/conversations/{id}/read
func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkConversationRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// LinkClient tags a conversation and its messages with an external client id
// POST /api/conversations/{id}/client
func (h *InboxHandler) LinkClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("client_id is required"))
		return
	}

	if err := h.store.LinkConversationToClient(r.Context(), mux.Vars(r)["id"], req.ClientID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// ClientDraft guesses client details from the conversation
// GET /api/conversations/{id}/draft
func (h *InboxHandler) ClientDraft(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.store.FindConversation(mux.Vars(r)["id"])
	if !ok {
		writeError(w, domain.ErrConversationNotFound)
		return
	}
	writeOK(w, services.ExtractClientDraft(conv, h.store.Messages(conv.Platform, conv.ID)))
}

// Reply answers a specific message and records the reply on it
// POST /api/messages/{platform}/{id}/reply
func (h *InboxHandler) Reply(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	platform := domain.Platform(vars["platform"])
	if !platform.Valid() {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse(fmt.Sprintf("unknown platform %q", platform)))
		return
	}

	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("text is required"))
		return
	}

	msg, err := h.outbound.ReplyToMessage(r.Context(), platform, vars["id"], req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, msg)
}

// ============================================================================
// Sync
// ============================================================================

// SyncPlatform pulls every connected account of a platform now
// POST /api/sync/{platform}
func (h *InboxHandler) SyncPlatform(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(mux.Vars(r)["platform"])
	if !platform.Valid() {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse(fmt.Sprintf("unknown platform %q", platform)))
		return
	}
	writeOK(w, map[string]bool{"synced": h.sync.SyncPlatform(r.Context(), platform)})
}

// SyncAll pulls both platforms concurrently
// POST /api/sync
func (h *InboxHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.sync.SyncAll(r.Context()))
}

// PauseSync halts background sync ticks
// POST /api/sync/pause
func (h *InboxHandler) PauseSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason   string `json:"reason"`
		PausedBy string `json:"paused_by"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	pause := h.sync.Pause()
	pause.Enable(req.Reason, req.PausedBy)
	writeOK(w, pause.Status())
}

// ResumeSync lifts a pause
// DELETE /api/sync/pause
func (h *InboxHandler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	pause := h.sync.Pause()
	pause.Disable(r.URL.Query().Get("resumed_by"))
	writeOK(w, pause.Status())
}

// ============================================================================
// Connections
// ============================================================================

// ListConnections returns every registered connection without credentials
// GET /api/connections?platform=instagram
func (h *InboxHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	f := store.Filter{Platform: domain.Platform(r.URL.Query().Get("platform"))}
	writeOK(w, h.registry.List(f))
}

type connectionRequest struct {
	Platform          domain.Platform `json:"platform"`
	AccountID         string          `json:"account_id"`
	DisplayName       string          `json:"display_name"`
	Credential        string          `json:"credential"`
	BroaderCredential string          `json:"broader_credential"`
}

// AddConnection registers an account
// POST /api/connections
func (h *InboxHandler) AddConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Platform.Valid() {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse(fmt.Sprintf("unknown platform %q", req.Platform)))
		return
	}
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("account_id is required"))
		return
	}

	conn, err := h.registry.Add(r.Context(), domain.Connection{
		Platform:          req.Platform,
		AccountID:         req.AccountID,
		DisplayName:       req.DisplayName,
		Credential:        req.Credential,
		BroaderCredential: req.BroaderCredential,
		Connected:         req.Credential != "" || req.BroaderCredential != "",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Code: http.StatusCreated, Message: "Created", Data: conn})
}

// RemoveConnection deletes a connection; its conversations stay
// DELETE /api/connections/{id}
func (h *InboxHandler) RemoveConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.credentials.Invalidate(id)
	writeOK(w, nil)
}

// UpdateCredential replaces a connection's credential and reconnects it
// PUT /api/connections/{id}/credential
func (h *InboxHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential        string  `json:"credential"`
		BroaderCredential *string `json:"broader_credential"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Credential == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("credential is required"))
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if err := h.registry.UpdateCredential(ctx, id, req.Credential); err != nil {
		writeError(w, err)
		return
	}
	if req.BroaderCredential != nil {
		if err := h.registry.SetBroaderCredential(ctx, id, *req.BroaderCredential); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := h.registry.SetConnected(ctx, id, true); err != nil {
		writeError(w, err)
		return
	}
	h.credentials.Invalidate(id)

	slog.Info("Connection credential replaced",
		"connection_id", id,
		"credential", domain.MaskSecret(req.Credential),
	)
	conn, _ := h.registry.Get(id)
	writeOK(w, conn)
}

// SetConnected toggles whether a connection takes part in sync and send
// PUT /api/connections/{id}/connected
func (h *InboxHandler) SetConnected(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connected *bool `json:"connected"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Connected == nil {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("connected is required"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.registry.SetConnected(r.Context(), id, *req.Connected); err != nil {
		writeError(w, err)
		return
	}
	conn, _ := h.registry.Get(id)
	writeOK(w, conn)
}

// decodeJSON reads a bounded JSON body, answering 400 itself on failure.
// An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("invalid JSON body"))
		return false
	}
	return true
}
