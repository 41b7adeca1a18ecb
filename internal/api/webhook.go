package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/screening-bot/internal/transport/telegram"
)

// SecretTokenHeader carries the secret configured with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives Bot API updates pushed by Telegram.
type WebhookHandler struct {
	secret     string
	dispatcher telegram.Dispatcher
}

// NewWebhookHandler creates the webhook endpoint.
func NewWebhookHandler(secret string, dispatcher telegram.Dispatcher) *WebhookHandler {
	return &WebhookHandler{secret: secret, dispatcher: dispatcher}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/telegram/webhook", h.ServeHTTP)
}

// ServeHTTP accepts one update. Updates that are not interview events are
// acknowledged and dropped so Telegram does not redeliver them.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		slog.Warn("Webhook request with bad secret", "remote", r.RemoteAddr)
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	update, err := telegram.DecodeUpdate(r.Body)
	if err != nil {
		slog.Warn("Failed to decode webhook update", "error", err)
		Error(w, http.StatusBadRequest, "invalid update")
		return
	}

	if ev, ok := telegram.ToEvent(update); ok {
		// Dispatch does not block; handling outlives the request.
		h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), ev)
	} else {
		slog.Debug("Skipping webhook update", "update_id", update.UpdateID)
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
