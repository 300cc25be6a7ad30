/**
 * @description
 * HTTP router setup for the rewards service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/finboost/rewards-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries the cross-cutting dependencies of the router.
type RouterConfig struct {
	Tokens         TokenParser
	InternalAPIKey string
	AllowedOrigins []string
	Limiter        app.RateLimiter
	AuthPerMinute  int
	AdminPerMinute int
	Log            logrus.FieldLogger
}

// NewRouter creates a new Chi router and registers the rewards routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Rewards service is healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, "auth", cfg.AuthPerMinute, cfg.Log))
			r.Post("/signup", h.handleSignup)
			r.Get("/auth/verify", h.handleVerifyEmail)
			r.Post("/auth/login", h.handleLogin)
		})

		r.Post("/webhooks/postmark", h.handlePostmarkWebhook)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Tokens))
			r.Get("/rewards/history", h.handleRewardsHistory)
			// Legacy path kept for older clients.
			r.Get("/cycles/rewards/history", h.handleRewardsHistory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware(cfg.Tokens, cfg.InternalAPIKey))
			r.Use(RateLimitMiddleware(cfg.Limiter, "admin", cfg.AdminPerMinute, cfg.Log))

			r.Post("/cycles", h.handleCreateCycle)
			r.Get("/cycles", h.handleListCycles)
			r.Get("/cycles/active", h.handleActiveCycle)
			r.Get("/cycles/{cycleId}/selections", h.handleListSelections)
			r.Post("/cycles/{cycleId}/activate", h.handleActivateCycle)
			r.Post("/cycles/{cycleId}/winners", h.handleRecordWinners)
			r.Post("/cycles/{cycleId}/seal", h.handleSealCycle)
			r.Post("/cycles/{cycleId}/disburse", h.handleDisburseCycle)

			r.Patch("/selections/{selectionId}/reward", h.handleUpdateReward)
			r.Post("/selections/{selectionId}/transition", h.handleTransition)
			r.Post("/selections/{selectionId}/retry", h.handleRetrySelection)

			r.Post("/payout-batches/{batchId}/reconcile", h.handleReconcileBatch)
			r.Get("/payout-batches/{batchId}/items.csv", h.handleExportBatchCSV)

			r.Post("/suppressions", h.handleSuppress)
			r.Delete("/suppressions/{email}", h.handleUnsuppress)
		})
	})

	return r
}
