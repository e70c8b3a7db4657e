package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kudos/internal/webhook"
)

type WebhookHandler struct {
	ingestor *webhook.Ingestor
	logger   *slog.Logger
}

func NewWebhookHandler(i *webhook.Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: i, logger: logger}
}

// Receive accepts one signed platform notification. A delivery that was
// already processed answers 200 with the stored result, so the platform's
// own retries are harmless.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	out, err := h.ingestor.Ingest(r.Context(),
		r.Header.Get(webhook.SignatureHeader), r.Header.Get(webhook.TimestampHeader), body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
