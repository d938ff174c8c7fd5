package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"social-inbox/internal/adapters/gateway"
	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/services"
)

// maxWebhookBody caps a single delivery
const maxWebhookBody = 1 << 20

// WebhookHandler handles platform webhook verification and events
type WebhookHandler struct {
	ingestor     *services.Ingestor
	verifyTokens map[domain.Platform]string // For the subscription handshake
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingestor *services.Ingestor, verifyTokens map[domain.Platform]string) *WebhookHandler {
	return &WebhookHandler{
		ingestor:     ingestor,
		verifyTokens: verifyTokens,
	}
}

// RegisterRoutes mounts GET/POST /webhook/{platform}
func (h *WebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhook/{platform}", h.HandleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook/{platform}", h.HandleEvent).Methods(http.MethodPost)
}

// ============================================================================
// GET /webhook/{platform} - Webhook Verification
// ============================================================================

// HandleVerify answers the subscription handshake by echoing hub.challenge
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks#verification
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(mux.Vars(r)["platform"])
	expected, ok := h.verifyTokens[platform]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && expected != "" && token == expected {
		slog.Info("Webhook verification successful", "platform", platform)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	slog.Warn("Webhook verification failed",
		"platform", platform,
		"mode", mode,
		"token_matches", token == expected,
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ============================================================================
// POST /webhook/{platform} - Webhook Events
// ============================================================================

// HandleEvent verifies, parses and merges a delivery before acknowledging it
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(mux.Vars(r)["platform"])
	if !platform.Valid() {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Webhook body too large", "platform", platform, "limit", tooLarge.Limit)
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), platform, body, r.Header.Get(gateway.SignatureHeader))
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		http.Error(w, "Unauthorized - Invalid signature", http.StatusUnauthorized)
		return
	case errors.Is(err, domain.ErrMalformedResponse):
		http.Error(w, "Bad Request - Malformed payload", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrUnsupported):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Webhook processing failed", "platform", platform, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slog.Debug("Webhook acknowledged",
		"platform", platform,
		"content_length", len(body),
		"appended", result.Appended,
	)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}
