package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kudos/internal/archive"
	"github.com/dukerupert/kudos/internal/auth"
	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/model"
	"github.com/dukerupert/kudos/internal/reward"
	"github.com/dukerupert/kudos/internal/store"
	"github.com/dukerupert/kudos/internal/tier"
	"github.com/dukerupert/kudos/internal/webhook"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// AdminHandler serves operator endpoints. Every mutating call records the
// token subject as the actor.
type AdminHandler struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	rewards  *reward.Engine
	ingestor *webhook.Ingestor
	archives *archive.Manager
	logger   *slog.Logger
}

func NewAdminHandler(db *sql.DB, l *ledger.Ledger, rewards *reward.Engine, ingestor *webhook.Ingestor, archives *archive.Manager, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, ledger: l, rewards: rewards, ingestor: ingestor, archives: archives, logger: logger}
}

type adjustRequest struct {
	EventID string               `json:"event_id"`
	Mode    model.AdjustmentMode `json:"mode"`
	Points  int64                `json:"points"`
	Reason  string               `json:"reason"`
}

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.ledger.Adjust(r.Context(), ledger.Adjustment{
		EventID: req.EventID,
		UserID:  r.PathValue("user_id"),
		Mode:    req.Mode,
		Points:  req.Points,
		Reason:  req.Reason,
		Actor:   auth.Subject(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.Reconcile(r.Context(), r.PathValue("user_id"), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	unlocked, err := h.rewards.Backfill(r.Context(), r.PathValue("user_id"), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": nonNil(unlocked)})
}

type resetRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) ResetLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	summary, err := h.ledger.ResetAll(r.Context(), req.Reason, auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type rewardConfigRequest struct {
	CommunityID string           `json:"community_id"`
	TierName    tier.Name        `json:"tier_name"`
	RewardType  model.RewardType `json:"reward_type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Value       *float64         `json:"value"`
	Data        model.RewardData `json:"data"`
	Active      *bool            `json:"is_active"`
}

func (req rewardConfigRequest) config() *model.RewardConfiguration {
	c := &model.RewardConfiguration{
		CommunityID: req.CommunityID,
		TierName:    req.TierName,
		RewardType:  req.RewardType,
		Title:       req.Title,
		Description: req.Description,
		Value:       req.Value,
		Data:        req.Data,
		Active:      true,
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	return c
}

func (h *AdminHandler) ListRewardConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.rewards.ListConfigs(r.Context(), r.URL.Query().Get("community_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(configs))
}

func (h *AdminHandler) CreateRewardConfig(w http.ResponseWriter, r *http.Request) {
	var req rewardConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.rewards.CreateConfig(r.Context(), req.config(), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *AdminHandler) UpdateRewardConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req rewardConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg := req.config()
	cfg.ID = id
	c, err := h.rewards.UpdateConfig(r.Context(), cfg, auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) DeactivateRewardConfig(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.rewards.DeactivateConfig(r.Context(), id, auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) FailedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", webhook.DefaultFailedPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	events, err := h.ingestor.ListFailed(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (h *AdminHandler) RetryWebhook(w http.ResponseWriter, r *http.Request) {
	out, err := h.ingestor.Retry(r.Context(), r.PathValue("id"), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) CreateArchive(w http.ResponseWriter, r *http.Request) {
	a, err := h.archives.RunNow(r.Context(), auth.Subject(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to archive"})
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	archives, err := h.archives.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   h.archives.Status(),
		"archives": nonNil(archives),
	})
}

func (h *AdminHandler) VerifyArchive(w http.ResponseWriter, r *http.Request) {
	report, err := h.archives.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAuditPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if limit <= 0 || limit > maxAuditPage {
		limit = defaultAuditPage
	}
	entries, err := store.NewAuditStore(h.db).List(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}
