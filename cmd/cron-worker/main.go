package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/checkout/reservation"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/promotions"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const serviceName = "cron-worker"

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
	cfg.Service.Kind = serviceName

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service_kind": serviceName})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
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

	checkoutService, cartService, err := buildCheckout(ctx, cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("wire checkout: %w", err)
	}

	service, err := buildScheduler(cfg, logg, dbClient, redisClient, checkoutService, cartService)
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.ServeWorker(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "worker metrics server failed", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildScheduler registers the sweeps behind a single redis lock so only one
// worker replica runs a cycle at a time.
func buildScheduler(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	checkoutService checkout.Service,
	cartService cart.Service,
) (*cron.Service, error) {
	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	cartJob, err := cron.NewCartExpiryJob(cron.CartExpiryJobParams{
		Logger:    logg,
		Carts:     cartService,
		Metrics:   jobMetrics,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cart expiry job: %w", err)
	}

	paymentJob, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:    logg,
		Checkout:  checkoutService,
		Metrics:   jobMetrics,
		TTL:       cfg.Checkout.PendingPaymentTTL,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("payment expiry job: %w", err)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Metrics:     jobMetrics,
		Retention:   cfg.Cron.OutboxRetention,
		MinAttempts: cfg.Outbox.MaxAttempts,
		BatchSize:   cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}

	jobs, err := cron.NewRegistry(cartJob, paymentJob, retentionJob)
	if err != nil {
		return nil, fmt.Errorf("register cron jobs: %w", err)
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
}

// buildCheckout wires the checkout service the payment expiry sweep cancels
// through, plus the cart service the cart sweep purges with.
func buildCheckout(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (checkout.Service, cart.Service, error) {
	catalogRepo := catalog.NewRepository(dbClient.DB())
	carts, err := cart.NewService(cart.NewRepository(dbClient.DB()), dbClient, catalogRepo, cfg.Checkout.AnonymousCartTTL)
	if err != nil {
		return nil, nil, err
	}
	validator, err := checkout.NewValidator(catalogRepo)
	if err != nil {
		return nil, nil, err
	}
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)
	coordinator, err := reservation.NewCoordinator(inventory.NewLedger(dbClient.DB()), logg, checkoutMetrics)
	if err != nil {
		return nil, nil, err
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
		return nil, nil, err
	}
	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, nil, err
	}
	gateway, err := payments.NewStripeGateway(payments.NewStripeAPI(stripeClient), logg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := checkout.NewService(checkout.ServiceParams{
		Carts:      carts,
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
		return nil, nil, err
	}
	return svc, carts, nil
}
