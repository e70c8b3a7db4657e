package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/kudos/internal/leaderboard"
)

type LeaderboardHandler struct {
	view   *leaderboard.View
	logger *slog.Logger
}

func NewLeaderboardHandler(v *leaderboard.View, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{view: v, logger: logger}
}

func (h *LeaderboardHandler) Page(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", leaderboard.DefaultLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := h.view.Page(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *LeaderboardHandler) Rank(w http.ResponseWriter, r *http.Request) {
	e, err := h.view.RankOf(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Export streams the whole leaderboard as an xlsx workbook. The workbook is
// built in memory first so a failure can still answer with a JSON error.
func (h *LeaderboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	rows, err := h.view.Export(r.Context(), &buf)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	name := fmt.Sprintf("leaderboard-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Row-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
