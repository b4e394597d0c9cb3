package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalamart/marketplace-backend/api/controllers"
	webhookcontrollers "github.com/kalamart/marketplace-backend/api/controllers/webhooks"
	"github.com/kalamart/marketplace-backend/api/middleware"
	"github.com/kalamart/marketplace-backend/internal/gateway"
	"github.com/kalamart/marketplace-backend/internal/settlement"
	"github.com/kalamart/marketplace-backend/pkg/config"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	"github.com/kalamart/marketplace-backend/pkg/logger"
	pkgredis "github.com/kalamart/marketplace-backend/pkg/redis"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              controllers.Pinger
	Redis           *pkgredis.Client
	Checkout        controllers.OrderCreator
	Settlement      *settlement.Service
	WebhookGuard    *settlement.IdempotencyGuard
	Gateway         gateway.Gateway
	MetricsGatherer prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}))
	})

	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(deps.Settlement, deps.Gateway, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Post("/create-order", controllers.CheckoutCreateOrder(deps.Checkout, logg))
		r.Post("/verify", controllers.CheckoutVerify(deps.Settlement, logg))
		r.Post("/orders/{orderId}/cancel", controllers.OrderCancel(deps.Settlement, logg))
	})

	r.Route("/api/admin/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Post("/{orderId}/refund", controllers.AdminOrderRefund(deps.Settlement, logg))
		r.Post("/{orderId}/advance", controllers.AdminOrderAdvance(deps.Settlement, logg))
	})

	return r
}
