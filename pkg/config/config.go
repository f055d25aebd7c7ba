package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Checkout     CheckoutConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
}

// ConsoleLogs reports whether logs should use the human-readable writer.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Blank disables it.
	MetricsAddr string `envconfig:"STOREFRONT_WORKER_METRICS_ADDR" default:":9464"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
	TxMaxAttempts      int           `envconfig:"STOREFRONT_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify identity tokens issued upstream.
type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic   string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
	PaymentsTopic string `envconfig:"STOREFRONT_PUBSUB_PAYMENTS_TOPIC" default:"storefront-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STOREFRONT_STRIPE_SECRET"`
	Env    string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
	// WebhookDedupTTL bounds how long delivered event ids are remembered.
	WebhookDedupTTL   time.Duration `envconfig:"STOREFRONT_STRIPE_WEBHOOK_DEDUP_TTL" default:"72h"`
	MaxNetworkRetries int64         `envconfig:"STOREFRONT_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
	Timeout           time.Duration `envconfig:"STOREFRONT_STRIPE_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CheckoutConfig carries the pre-computed pricing inputs and lifecycle windows.
type CheckoutConfig struct {
	Currency          string           `envconfig:"STOREFRONT_CHECKOUT_CURRENCY" default:"usd"`
	TaxRate           string           `envconfig:"STOREFRONT_CHECKOUT_TAX_RATE" default:"0.08"`
	ShippingMethods   map[string]int64 `envconfig:"STOREFRONT_CHECKOUT_SHIPPING_METHODS" default:"standard:599,express:1499,overnight:2999"`
	AnonymousCartTTL  time.Duration    `envconfig:"STOREFRONT_CHECKOUT_ANON_CART_TTL" default:"168h"`
	PendingPaymentTTL time.Duration    `envconfig:"STOREFRONT_CHECKOUT_PENDING_PAYMENT_TTL" default:"24h"`
	ReturnWindow      time.Duration    `envconfig:"STOREFRONT_CHECKOUT_RETURN_WINDOW" default:"720h"`
	RequestTimeout    time.Duration    `envconfig:"STOREFRONT_CHECKOUT_REQUEST_TIMEOUT" default:"30s"`
}

// TaxRateDecimal parses the configured rate. Load has already validated it.
func (c CheckoutConfig) TaxRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// ShippingMethodNames lists configured methods in a stable order.
func (c CheckoutConfig) ShippingMethodNames() []string {
	names := make([]string, 0, len(c.ShippingMethods))
	for name := range c.ShippingMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c CheckoutConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return fmt.Errorf("%s must be a decimal: %w", EnvCheckoutTaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1), got %s", EnvCheckoutTaxRate, rate.String())
	}
	if len(c.ShippingMethods) == 0 {
		return fmt.Errorf("%s must list at least one method", EnvCheckoutShipping)
	}
	for name, price := range c.ShippingMethods {
		if price < 0 {
			return fmt.Errorf("shipping method %q has a negative price", name)
		}
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("%s is required", EnvCheckoutCurrency)
	}
	return nil
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"15m"`
	LockTTL   time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"14m"`
	BatchSize int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"200"`
	// OutboxRetention is how long published or parked outbox rows are kept.
	OutboxRetention time.Duration `envconfig:"STOREFRONT_CRON_OUTBOX_RETENTION" default:"720h"`
}

// HTTPConfig covers the public API surface: allowed origins and the checkout
// throttle.
type HTTPConfig struct {
	CORSOrigins          []string      `envconfig:"STOREFRONT_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow      time.Duration `envconfig:"STOREFRONT_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	CheckoutIPLimit      int           `envconfig:"STOREFRONT_HTTP_CHECKOUT_IP_LIMIT" default:"30"`
	CheckoutShopperLimit int           `envconfig:"STOREFRONT_HTTP_CHECKOUT_SHOPPER_LIMIT" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
