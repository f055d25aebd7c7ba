package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/storefront-backend/api/controllers/admin"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	checkoutcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/checkout"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	middleware.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

type inventoryLedger interface {
	Set(ctx context.Context, item inventory.Item, qty int) error
	Available(ctx context.Context, item inventory.Item) (int, error)
}

type signingSecretProvider interface {
	SigningSecret() string
}

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	DB        controllers.Pinger
	Redis     RedisStore
	Carts     cart.Service
	Checkout  checkoutsvc.Service
	Orders    orders.Service
	Inventory inventoryLedger

	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeEvents  webhookcontrollers.DeliveryLedger
	StripeClient  signingSecretProvider

	WebhookMetrics *metrics.WebhookMetrics
	Gatherer       prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.HTTP.RateLimitWindow,
		cfg.HTTP.CheckoutIPLimit,
		cfg.HTTP.CheckoutShopperLimit,
	)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, deps.StripeEvents, deps.WebhookMetrics, logg))
	})

	idem := func(policy middleware.IdempotencyPolicy) func(http.Handler) http.Handler {
		return middleware.Idempotency(deps.Redis, policy, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.Fetch(deps.Carts, logg))
			r.Delete("/", cartcontrollers.Clear(deps.Carts, logg))
			r.Post("/items", cartcontrollers.AddItem(deps.Carts, logg))
			r.Patch("/items/{itemId}", cartcontrollers.UpdateItem(deps.Carts, logg))
			r.Delete("/items/{itemId}", cartcontrollers.RemoveItem(deps.Carts, logg))
			r.Post("/merge", cartcontrollers.Merge(deps.Carts, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/validate", checkoutcontrollers.Validate(deps.Checkout, logg))
			r.With(
				idem(middleware.CriticalIdempotency("checkout").Require()),
				middleware.RateLimit(checkoutPolicy, deps.Redis, logg),
			).Post("/", checkoutcontrollers.Submit(deps.Checkout, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.With(idem(middleware.CriticalIdempotency("order-cancel"))).
				Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Checkout, logg))
			r.With(idem(middleware.CriticalIdempotency("order-return"))).
				Post("/{orderId}/return", ordercontrollers.RequestReturn(deps.Orders, logg))
			r.With(idem(middleware.StandardIdempotency("payment-intent"))).
				Post("/{orderId}/payment-intent", ordercontrollers.PaymentIntent(deps.Checkout, logg))
			r.Get("/{orderId}/payment", ordercontrollers.Payment(deps.Checkout, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, string(enums.UserRoleAdmin)))

		r.With(idem(middleware.StandardIdempotency("admin-order-status"))).
			Post("/orders/{orderId}/status", admincontrollers.UpdateOrderStatus(deps.Orders, deps.Checkout, logg))
		r.With(idem(middleware.CriticalIdempotency("admin-refund"))).
			Post("/orders/{orderId}/refund", admincontrollers.RefundOrder(deps.Checkout, logg))
		r.With(idem(middleware.StandardIdempotency("admin-inventory"))).
			Put("/inventory/{productId}", admincontrollers.SetInventory(deps.Inventory, logg))
	})

	return r
}
