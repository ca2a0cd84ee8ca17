package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/payments-core/api/controllers"
	"github.com/angelmondragon/payments-core/api/middleware"
	"github.com/angelmondragon/payments-core/internal/payments"
	"github.com/angelmondragon/payments-core/pkg/config"
	"github.com/angelmondragon/payments-core/pkg/logger"
)

// NewRouter wires the public HTTP surface. gatherer may be nil, in which case
// /metrics is not mounted.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	paymentService payments.Service,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/payments", controllers.PaymentsCreate(paymentService, logg))
		r.Get("/accounts/{accountID}/payments", controllers.PaymentsList(paymentService, logg))
		r.Get("/accounts/{accountID}/payments/{paymentID}", controllers.PaymentsGet(paymentService, logg))
	})

	return r
}
