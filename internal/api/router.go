package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/merakihealth/hospital-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/practitioners/{practitionerID}", func(r chi.Router) {
		r.Get("/availability", availabilityHandler(cfg.Service))
		r.Get("/windows", listWindowsHandler(cfg.Service))
		r.Post("/windows", declareWindowsHandler(cfg.Service))
		r.Delete("/windows", deleteWindowHandler(cfg.Service))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Patch("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Patch("/{id}/complete", completeAppointmentHandler(cfg.Service))
	})

	return r
}
