package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kudos/internal/archive"
	"github.com/dukerupert/kudos/internal/auth"
	"github.com/dukerupert/kudos/internal/config"
	"github.com/dukerupert/kudos/internal/database"
	"github.com/dukerupert/kudos/internal/handler"
	"github.com/dukerupert/kudos/internal/keylock"
	"github.com/dukerupert/kudos/internal/leaderboard"
	"github.com/dukerupert/kudos/internal/ledger"
	"github.com/dukerupert/kudos/internal/middleware"
	"github.com/dukerupert/kudos/internal/reward"
	"github.com/dukerupert/kudos/internal/webhook"
	ws "github.com/dukerupert/kudos/internal/websocket"
)

type Server struct {
	db  *sql.DB
	cfg *config.Config
	hub *ws.Hub

	ledger   *ledger.Ledger
	rewards  *reward.Engine
	ingestor *webhook.Ingestor
	archives *archive.Manager

	activityH    *handler.ActivityHandler
	accountH     *handler.AccountHandler
	leaderboardH *handler.LeaderboardHandler
	webhookH     *handler.WebhookHandler
	adminH       *handler.AdminHandler

	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	locks := keylock.New()
	retry := cfg.Retry()

	rewards := reward.New(db, locks, logger.With("component", "reward"),
		reward.WithBroadcaster(hub),
		reward.WithRetry(retry),
	)
	l := ledger.New(db, locks, logger.With("component", "ledger"),
		ledger.WithRewards(rewards),
		ledger.WithBroadcaster(hub),
		ledger.WithRetry(retry),
		ledger.WithDefaultCommunity(cfg.DefaultCommunity),
	)
	board := leaderboard.New(db, logger.With("component", "leaderboard"), retry)
	ingestor := webhook.New(db, l, rewards, locks, []byte(cfg.WebhookSecret), logger.With("component", "webhook"),
		webhook.WithRetry(retry),
	)
	archives := archive.NewManager(cfg.Archive, db, logger.With("component", "archive"))

	return &Server{
		db:           db,
		cfg:          cfg,
		hub:          hub,
		ledger:       l,
		rewards:      rewards,
		ingestor:     ingestor,
		archives:     archives,
		activityH:    handler.NewActivityHandler(l, logger.With("component", "activity")),
		accountH:     handler.NewAccountHandler(l, rewards, logger.With("component", "account")),
		leaderboardH: handler.NewLeaderboardHandler(board, logger.With("component", "leaderboard")),
		webhookH:     handler.NewWebhookHandler(ingestor, logger.With("component", "webhook")),
		adminH:       handler.NewAdminHandler(db, l, rewards, ingestor, archives, logger.With("component", "admin")),
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// ArchiveManager returns the archive manager so main can start and stop its
// schedule.
func (s *Server) ArchiveManager() *archive.Manager {
	return s.archives
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /api/tiers", handler.Tiers)
	outerMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins, s.logger.With("component", "websocket")))

	// Signed by the platform instead of a bearer token.
	webhookLimit := middleware.RateLimit(s.rateLimiter, middleware.ByIP, s.cfg.WebhookRateLimit, s.cfg.WebhookRateWindow)
	outerMux.Handle("POST /webhooks/membership", webhookLimit(http.HandlerFunc(s.webhookH.Receive)))

	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)
	outerMux.Handle("/api/", middleware.RequireToken(s.cfg.JWTSecret, auth.RoleService, auth.RoleAdmin)(apiMux))

	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	outerMux.Handle("/api/admin/", middleware.RequireToken(s.cfg.JWTSecret, auth.RoleAdmin)(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/activities", s.activityH.Record)

	mux.HandleFunc("GET /api/accounts/{user_id}", s.accountH.Get)
	mux.HandleFunc("GET /api/accounts/{user_id}/progress", s.accountH.Progress)
	mux.HandleFunc("GET /api/accounts/{user_id}/events", s.accountH.Events)
	mux.HandleFunc("GET /api/accounts/{user_id}/tier-changes", s.accountH.TierChanges)
	mux.HandleFunc("GET /api/accounts/{user_id}/unlocks", s.accountH.Unlocks)
	mux.HandleFunc("POST /api/accounts/{user_id}/rewards/{config_id}/use", s.accountH.UseReward)

	mux.HandleFunc("GET /api/leaderboard", s.leaderboardH.Page)
	mux.HandleFunc("GET /api/leaderboard/rank/{user_id}", s.leaderboardH.Rank)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/accounts/{user_id}/adjust", s.adminH.Adjust)
	mux.HandleFunc("POST /api/admin/accounts/{user_id}/reconcile", s.adminH.Reconcile)
	mux.HandleFunc("POST /api/admin/accounts/{user_id}/backfill", s.adminH.Backfill)

	mux.HandleFunc("POST /api/admin/leaderboard/reset", s.adminH.ResetLeaderboard)
	mux.HandleFunc("GET /api/admin/leaderboard/export", s.leaderboardH.Export)

	mux.HandleFunc("GET /api/admin/reward-configs", s.adminH.ListRewardConfigs)
	mux.HandleFunc("POST /api/admin/reward-configs", s.adminH.CreateRewardConfig)
	mux.HandleFunc("PUT /api/admin/reward-configs/{id}", s.adminH.UpdateRewardConfig)
	mux.HandleFunc("POST /api/admin/reward-configs/{id}/deactivate", s.adminH.DeactivateRewardConfig)

	mux.HandleFunc("GET /api/admin/webhooks/failed", s.adminH.FailedWebhooks)
	mux.HandleFunc("POST /api/admin/webhooks/{id}/retry", s.adminH.RetryWebhook)

	mux.HandleFunc("POST /api/admin/archives", s.adminH.CreateArchive)
	mux.HandleFunc("GET /api/admin/archives", s.adminH.ListArchives)
	mux.HandleFunc("POST /api/admin/archives/{id}/verify", s.adminH.VerifyArchive)

	mux.HandleFunc("GET /api/admin/audit", s.adminH.Audit)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	version, err := database.SchemaVersion(ctx, s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"schema_version": version,
		"feed_clients":   s.hub.ClientCount(),
		"archive_state":  s.archives.Status().State,
	})
}
