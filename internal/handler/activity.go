package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/model"
)

type ActivityHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewActivityHandler(l *ledger.Ledger, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{ledger: l, logger: logger}
}

type activityRequest struct {
	EventID      string             `json:"event_id"`
	UserID       string             `json:"user_id"`
	Username     string             `json:"username"`
	CommunityID  string             `json:"community_id"`
	ActivityType model.ActivityType `json:"activity_type"`
	Points       *int64             `json:"points"`
	Metadata     model.Metadata     `json:"metadata"`
}

// Record scores and appends one activity. A replayed event_id answers 200
// with the original outcome; a new event answers 201.
func (h *ActivityHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.ledger.RecordEvent(r.Context(), ledger.Record{
		EventID:     req.EventID,
		UserID:      req.UserID,
		Username:    req.Username,
		CommunityID: req.CommunityID,
		Type:        req.ActivityType,
		Points:      req.Points,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
