package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/services"
)

type RouterConfig struct {
	Auth         *services.AuthService
	Sessions     *services.Sessions
	IDTokens     middleware.IDTokenVerifier
	LoginLimiter *middleware.RateLimiter
	Health       *HealthHandler
	CORS         cors.Options
	Log          zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Auth, cfg.Sessions, cfg.Log)
	dashboardHandler := NewDashboardHandler(cfg.Sessions, cfg.Log)
	userHandler := NewUserHandler(cfg.Sessions, cfg.Log)
	reportHandler := NewFraudReportHandler(cfg.Sessions, cfg.Log)
	spotHandler := NewParkingSpotHandler(cfg.Sessions, cfg.Log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer(cfg.Log))
	r.Use(cors.Handler(cfg.CORS))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.LoginLimiter != nil {
				r.Use(cfg.LoginLimiter.Handler)
			}
			r.Post("/auth/login", authHandler.Login)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(cfg.Auth, cfg.IDTokens, cfg.Log))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Get("/dashboard/stats", dashboardHandler.Stats)
			r.Post("/dashboard/refresh", dashboardHandler.Refresh)
			r.Get("/analytics", dashboardHandler.Analytics)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.ListUsers)
				r.Post("/samples", userHandler.CreateSampleUsers)
				r.Get("/detail", userHandler.OpenDetail)
				r.Delete("/detail", userHandler.CloseDetail)
				r.Get("/{userId}/reports", userHandler.UserReports)
				r.Post("/{userId}/toggle-status", userHandler.ToggleStatus)
			})

			r.Post("/fraud-reports/{reportId}/resolve", reportHandler.Resolve)

			r.Route("/parking-spots", func(r chi.Router) {
				r.Get("/", spotHandler.ListParkingSpots)
				r.Get("/stream", spotHandler.Stream)

				r.Route("/{spotId}", func(r chi.Router) {
					r.Get("/", spotHandler.GetParkingSpot)
					r.Patch("/", spotHandler.UpdateParkingSpot)
					r.Delete("/", spotHandler.DeleteParkingSpot)
				})
			})
		})
	})

	return r
}
