package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultCurrency = stripe.Currency("usd")
)

var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client is the process-wide Stripe setup: the API backend used by the
// stripe-go resource packages, the webhook signing secret and the escrow currency.
type Client struct {
	environment   string
	signingSecret string
	currency      stripe.Currency
}

// NewClient refuses a live key in test mode and the reverse, then installs
// the key and a retrying backend that logs through logg.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	if env == "" {
		env = testEnv
	}
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if !hasAnyPrefix(apiKey, prefixes) {
		return nil, fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	stripe.Key = apiKey
	retries := cfg.MaxNetworkRetries
	if retries < 0 {
		retries = 0
	}
	backendCfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(retries)}
	if logg != nil {
		backendCfg.LeveledLogger = &leveledLogger{ctx: ctx, logg: logg}
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg))

	currency := stripe.Currency(strings.ToLower(strings.TrimSpace(cfg.Currency)))
	if currency == "" {
		currency = defaultCurrency
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":      env,
			"currency":        currency,
			"network_retries": retries,
		}), "stripe client initialized")
	}
	return &Client{environment: env, signingSecret: secret, currency: currency}, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func (c *Client) Currency() stripe.Currency {
	if c == nil || c.currency == "" {
		return defaultCurrency
	}
	return c.currency
}

// leveledLogger routes stripe-go's request logging into the service logger.
// Per-request info lines are demoted to debug.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l *leveledLogger) Debugf(format string, v ...any) {
	l.logg.Debug(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Infof(format string, v ...any) {
	l.logg.Debug(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Warnf(format string, v ...any) {
	l.logg.Warn(l.ctx, fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...any) {
	l.logg.Error(l.ctx, fmt.Sprintf(format, v...), nil)
}
