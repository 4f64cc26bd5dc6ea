package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
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
	Fees         FeeConfig
	Escrow       EscrowConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESCROWHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROWHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESCROWHUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"ESCROWHUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"ESCROWHUB_LOG_WARN_STACK" default:"false"`

	// Comma separated browser origins allowed by CORS.
	CORSOrigins []string `envconfig:"ESCROWHUB_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROWHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROWHUB_DB_DSN"`
	Driver string `envconfig:"ESCROWHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESCROWHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"ESCROWHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESCROWHUB_DB_USER"`
	LegacyPassword string `envconfig:"ESCROWHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESCROWHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESCROWHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROWHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROWHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROWHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROWHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ESCROWHUB_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROWHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROWHUB_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROWHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROWHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROWHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROWHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROWHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROWHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROWHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers bearer token verification. Tokens are issued by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"ESCROWHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROWHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROWHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ESCROWHUB_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ESCROWHUB_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ESCROWHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ESCROWHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic       string `envconfig:"ESCROWHUB_PUBSUB_ESCROW_TOPIC" default:"escrow-lifecycle-events"`
	NotificationTopic string `envconfig:"ESCROWHUB_PUBSUB_NOTIFICATION_TOPIC" default:"escrow-notification-events"`
	// Events for one aggregate share an ordering key so subscribers see a
	// contract's lifecycle in commit order.
	OrderByAggregate bool          `envconfig:"ESCROWHUB_PUBSUB_ORDER_BY_AGGREGATE" default:"true"`
	BatchDelay       time.Duration `envconfig:"ESCROWHUB_PUBSUB_BATCH_DELAY" default:"10ms"`
}

type StripeConfig struct {
	APIKey string `envconfig:"ESCROWHUB_STRIPE_API_KEY"`
	Secret string `envconfig:"ESCROWHUB_STRIPE_SECRET"`
	Env    string `envconfig:"ESCROWHUB_STRIPE_ENV" default:"test"`
	// Currency applied to every intent, transfer and refund.
	Currency string `envconfig:"ESCROWHUB_STRIPE_CURRENCY" default:"usd"`
	// MaxNetworkRetries is handed to stripe-go, which reuses the request's
	// idempotency key on every retry.
	MaxNetworkRetries int64 `envconfig:"ESCROWHUB_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
}

// FeeConfig holds the platform fee schedule as decimal percentages, e.g. "10" or "7.5".
type FeeConfig struct {
	ServicesPercent string `envconfig:"ESCROWHUB_FEE_SERVICES_PERCENT" default:"10"`
	ProductsPercent string `envconfig:"ESCROWHUB_FEE_PRODUCTS_PERCENT" default:"5"`
}

type EscrowConfig struct {
	ContractLockTTL       time.Duration `envconfig:"ESCROWHUB_ESCROW_CONTRACT_LOCK_TTL" default:"30s"`
	WebhookIdempotencyTTL time.Duration `envconfig:"ESCROWHUB_ESCROW_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	ExternalIDPrefix      string        `envconfig:"ESCROWHUB_ESCROW_EXTERNAL_ID_PREFIX" default:"ESC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROWHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROWHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROWHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr exposes /metrics for the relay; empty disables the listener.
	MetricsAddr string `envconfig:"ESCROWHUB_OUTBOX_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
