package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket returns an HTTP handler that upgrades connections and runs
// them as Hub clients. Query parameters narrow the feed: user_id to one
// account, types to a comma-separated list of message types.
// originPatterns is passed to the upgrader; empty means same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ParseFilter(q.Get("user_id"), q.Get("types"))

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err, "remote", r.RemoteAddr)
			return
		}
		conn.SetReadLimit(512)

		logger.Debug("live feed client connected", "user_filter", filter.UserID, "types", len(filter.Types))
		NewClient(hub, conn, filter).Run(r.Context())
	}
}
