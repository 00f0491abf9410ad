package messaging

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/relaymesh/callbridge/internal/bus"
)

// inboundPayload is the provider's webhook body for a received message.
type inboundPayload struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

// WebhookHandler turns provider webhook deliveries into bus inbound messages.
// It acknowledges immediately; processing happens on the consumer side so a
// slow agent turn never forces the provider into redelivery.
type WebhookHandler struct {
	router bus.MessageRouter
	secret string
}

// NewWebhookHandler creates the handler. secret, when non-empty, must match
// the X-Webhook-Secret header on every delivery.
func NewWebhookHandler(router bus.MessageRouter, secret string) *WebhookHandler {
	return &WebhookHandler{router: router, secret: secret}
}

// Routes registers the webhook endpoints on mux.
func (h *WebhookHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/messages", h.handleInbound)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (h *WebhookHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.Header.Get("X-Webhook-Secret") != h.secret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.From == "" || payload.Text == "" {
		http.Error(w, "missing from or text", http.StatusBadRequest)
		return
	}

	h.router.PublishInbound(bus.InboundMessage{
		From:       payload.From,
		Content:    payload.Text,
		ExternalID: payload.MessageID,
	})

	slog.Debug("inbound message queued", "from", payload.From, "external_id", payload.MessageID)
	w.WriteHeader(http.StatusAccepted)
}
