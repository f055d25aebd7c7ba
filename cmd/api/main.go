package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/checkout/reservation"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/promotions"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const (
	serviceName     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	instance := os.Getenv("DYNO")
	if instance == "" {
		instance = "local"
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance,
	})

	if err := run(ctx, cfg, logg, addr); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, addr string) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(dbClient))

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(redisClient))

	deps, err := buildDependencies(ctx, cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "starting api server")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logg.Info(ctx, "api server shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildDependencies wires the domain services behind the router.
func buildDependencies(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	var deps routes.Dependencies

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return deps, fmt.Errorf("bootstrap stripe: %w", err)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	cartService, err := cart.NewService(cart.NewRepository(dbClient.DB()), dbClient, catalogRepo, cfg.Checkout.AnonymousCartTTL)
	if err != nil {
		return deps, fmt.Errorf("cart service: %w", err)
	}

	validator, err := checkout.NewValidator(catalogRepo)
	if err != nil {
		return deps, fmt.Errorf("cart validator: %w", err)
	}

	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	ledger := inventory.NewLedger(dbClient.DB())
	coordinator, err := reservation.NewCoordinator(ledger, logg, checkoutMetrics)
	if err != nil {
		return deps, fmt.Errorf("reservation coordinator: %w", err)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:   orders.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Pricing: orders.Pricing{
			TaxRate:         cfg.Checkout.TaxRateDecimal(),
			ShippingMethods: cfg.Checkout.ShippingMethods,
			Currency:        cfg.Checkout.Currency,
			ReturnWindow:    cfg.Checkout.ReturnWindow,
		},
		Logger: logg,
	})
	if err != nil {
		return deps, fmt.Errorf("orders service: %w", err)
	}

	gateway, err := payments.NewStripeGateway(payments.NewStripeAPI(stripeClient), logg)
	if err != nil {
		return deps, fmt.Errorf("payment gateway: %w", err)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Carts:      cartService,
		Validator:  validator,
		Promotions: promotions.NewService(promotions.NewRepository(dbClient.DB())),
		Reserver:   coordinator,
		Orders:     orderService,
		Gateway:    gateway,
		Metrics:    checkoutMetrics,
		Logger:     logg,
		Timeout:    cfg.Checkout.RequestTimeout,
	})
	if err != nil {
		return deps, fmt.Errorf("checkout service: %w", err)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:   orderService,
		Restorer: coordinator,
		Refunder: gateway,
		Metrics:  webhookMetrics,
		Logger:   logg,
	})
	if err != nil {
		return deps, fmt.Errorf("stripe webhook service: %w", err)
	}

	stripeDeliveries, err := stripewebhook.NewDeliveryLedger(redisClient, cfg.Stripe.WebhookDedupTTL, "stripe-webhook")
	if err != nil {
		return deps, fmt.Errorf("stripe delivery ledger: %w", err)
	}

	return routes.Dependencies{
		DB:             dbClient,
		Redis:          redisClient,
		Carts:          cartService,
		Checkout:       checkoutService,
		Orders:         orderService,
		Inventory:      ledger,
		StripeWebhook:  webhookService,
		StripeEvents:   stripeDeliveries,
		StripeClient:   stripeClient,
		WebhookMetrics: webhookMetrics,
		Gatherer:       prometheus.DefaultGatherer,
	}, nil
}
