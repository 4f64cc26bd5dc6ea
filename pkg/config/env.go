package config

const (
	EnvPrefix = "ESCROWHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ESCROWHUB_APP_ENV"
	EnvPort     = "ESCROWHUB_APP_PORT"
	EnvLogLevel = "ESCROWHUB_LOG_LEVEL"

	EnvDBDSN  = "ESCROWHUB_DB_DSN"
	EnvDBHost = "ESCROWHUB_DB_HOST"
	EnvDBUser = "ESCROWHUB_DB_USER"
	EnvDBName = "ESCROWHUB_DB_NAME"

	EnvRedisURL = "ESCROWHUB_REDIS_URL"

	EnvJWTSecret = "ESCROWHUB_JWT_SECRET"
	EnvJWTIssuer = "ESCROWHUB_JWT_ISSUER"

	EnvStripeAPIKey = "ESCROWHUB_STRIPE_API_KEY"
	EnvStripeSecret = "ESCROWHUB_STRIPE_SECRET"

	EnvFeeServicesPercent = "ESCROWHUB_FEE_SERVICES_PERCENT"
	EnvFeeProductsPercent = "ESCROWHUB_FEE_PRODUCTS_PERCENT"

	EnvEscrowLockTTL = "ESCROWHUB_ESCROW_CONTRACT_LOCK_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
