package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/reward"
	"github.com/dukerupert/kudos/internal/tier"
)

type AccountHandler struct {
	ledger  *ledger.Ledger
	rewards *reward.Engine
	logger  *slog.Logger
}

func NewAccountHandler(l *ledger.Ledger, rewards *reward.Engine, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{ledger: l, rewards: rewards, logger: logger}
}

type accountResponse struct {
	*model.Account
	Progress tier.Progress `json:"progress"`
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.GetAccount(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: a, Progress: tier.ProgressFor(a.TotalPoints)})
}

func (h *AccountHandler) Progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Progress(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AccountHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", ledger.DefaultEventPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	events, err := h.ledger.ListEvents(r.Context(), r.PathValue("user_id"), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (h *AccountHandler) TierChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.ledger.ListTierChanges(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(changes))
}

func (h *AccountHandler) Unlocks(w http.ResponseWriter, r *http.Request) {
	unlocks, err := h.rewards.ListUnlocks(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(unlocks))
}

func (h *AccountHandler) UseReward(w http.ResponseWriter, r *http.Request) {
	configID, err := parseIDParam(r, "config_id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	u, err := h.rewards.UseReward(r.Context(), r.PathValue("user_id"), configID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Tiers lists the tier table.
func Tiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tier.All())
}
