package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultTimeout = 20 * time.Second

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	errNoAPIKey        = errors.New("stripe api key is required")
	errNoSigningSecret = errors.New("stripe webhook secret is required")
)

// Client owns a Stripe backend bound to one API key. Nothing is installed on
// the SDK's package-level state.
type Client struct {
	mode          Mode
	apiKey        string
	signingSecret string
	backend       stripe.Backend
}

// NewClient checks that the key matches the configured mode and builds a
// backend with bounded retries, a request timeout and SDK logs routed
// through logg.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	c := &Client{
		mode:          mode,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		signingSecret: strings.TrimSpace(cfg.Secret),
	}
	switch {
	case c.apiKey == "":
		return nil, errNoAPIKey
	case c.signingSecret == "":
		return nil, errNoSigningSecret
	case !mode.owns(c.apiKey):
		return nil, fmt.Errorf("stripe %s mode requires a %s secret key (sk_%s/rk_%s)", mode, mode, mode, mode)
	}
	c.backend = stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig(cfg, logg))

	logg.Info(logg.WithFields(ctx, map[string]any{
		"stripe_mode":    string(mode),
		"stripe_retries": cfg.MaxNetworkRetries,
	}), "stripe client initialized")
	return c, nil
}

func backendConfig(cfg config.StripeConfig, logg *logger.Logger) *stripe.BackendConfig {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(max(cfg.MaxNetworkRetries, 0)),
	}
	if logg != nil {
		bc.LeveledLogger = leveledLogger{logg: logg}
	}
	return bc
}

// PaymentIntents returns a payment intent client on this backend.
func (c *Client) PaymentIntents() paymentintent.Client {
	return paymentintent.Client{B: c.backend, Key: c.apiKey}
}

func (c *Client) Refunds() refund.Client {
	return refund.Client{B: c.backend, Key: c.apiKey}
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret is the secret webhook signatures are checked against.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func (c *Client) IsLive() bool {
	return c.Mode() == ModeLive
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("stripe environment must be %q or %q, got %q", ModeTest, ModeLive, raw)
	}
}

// owns reports whether key is a secret or restricted key for m.
func (m Mode) owns(key string) bool {
	return strings.HasPrefix(key, "sk_"+string(m)+"_") || strings.HasPrefix(key, "rk_"+string(m)+"_")
}
