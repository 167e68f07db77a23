// Package stripe owns the Stripe API credentials for one process. Nothing
// here touches the stripe-go package globals.
package stripe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/logger"
)

const defaultRequestTimeout = 15 * time.Second

var errAPIKeyRequired = errors.New("stripe: PAYFLOW_STRIPE_API_KEY is empty")

// keyPrefixes lists the secret and restricted key prefixes each mode accepts.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

type Client struct {
	api           *stripe.Client
	mode          string
	signingSecret string
	currency      string
	timeout       time.Duration
}

// NewClient checks the key against the configured mode and builds an API
// client with its own HTTP timeout. An empty webhook secret leaves webhook
// payloads unverified.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := cfg.Environment()
	prefixes, ok := keyPrefixes[mode]
	if !ok {
		return nil, fmt.Errorf("stripe: unknown mode %q, want test or live", mode)
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	if !hasAnyPrefix(key, prefixes) {
		return nil, fmt.Errorf("stripe: %s mode needs a %s key", mode, strings.Join(prefixes, " or "))
	}

	c := &Client{
		mode:          mode,
		signingSecret: strings.TrimSpace(cfg.WebhookSecret),
		currency:      cmp.Or(strings.ToLower(strings.TrimSpace(cfg.Currency)), "inr"),
		timeout:       cmp.Or(max(cfg.RequestTimeout, 0), defaultRequestTimeout),
	}
	c.api = stripe.NewClient(key, stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: c.timeout},
	})))

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"stripe_mode": mode, "currency": c.currency})
		logg.Info(ctx, "stripe client ready")
		if c.signingSecret == "" {
			logg.Warn(ctx, "no stripe webhook secret; accepting unsigned webhook payloads")
		}
	}
	return c, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret is the webhook secret the api verifies deliveries with.
// Empty means unverified mode.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

func (c *Client) RequestTimeout() time.Duration {
	if c == nil || c.timeout <= 0 {
		return defaultRequestTimeout
	}
	return c.timeout
}
