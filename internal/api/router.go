package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Service BookingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(ActorMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/providers/{providerID}", func(r chi.Router) {
		r.Put("/availability", setTemplateHandler(cfg.Service))
		r.Get("/availability", getTemplateHandler(cfg.Service))
		r.Get("/slots", getSlotsHandler(cfg.Service))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Get("/{id}/invoice", getInvoiceHandler(cfg.Service))
		r.Post("/{id}/confirm", transitionHandler(cfg.Service.Confirm))
		r.Post("/{id}/reject", transitionHandler(cfg.Service.Reject))
		r.Post("/{id}/cancel", transitionHandler(cfg.Service.Cancel))
		r.Post("/{id}/complete", transitionHandler(cfg.Service.Complete))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Patch("/{id}/status", updateStatusHandler(cfg.Service))
	})

	return r
}
