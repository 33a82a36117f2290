package config

const (
	EnvPrefix = "CAPSULE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "CAPSULE_APP_ENV"
	EnvPort         = "CAPSULE_APP_PORT"
	EnvLogLevel     = "CAPSULE_LOG_LEVEL"
	EnvDBDSN        = "CAPSULE_DB_DSN"
	EnvDBHost       = "CAPSULE_DB_HOST"
	EnvDBUser       = "CAPSULE_DB_USER"
	EnvDBName       = "CAPSULE_DB_NAME"
	EnvRedisURL     = "CAPSULE_REDIS_URL"
	EnvJWTSecret    = "CAPSULE_JWT_SECRET"
	EnvJWTIssuer    = "CAPSULE_JWT_ISSUER"
	EnvJWTLifetime  = "CAPSULE_TOKEN_LIFETIME_HOURS"
	EnvMinPassword  = "CAPSULE_MIN_PASSWORD_LENGTH"
	EnvStartCredits = "CAPSULE_STARTING_CREDITS"
	EnvPricePer     = "CAPSULE_PRICE_PER_CREDIT"
	EnvUseSQLite    = "CAPSULE_USE_SQLITE"
	EnvAutoMigrate  = "CAPSULE_AUTO_MIGRATE"

	EnvCryptomusMerchantID = "CAPSULE_CRYPTOMUS_MERCHANT_ID"
	EnvCryptomusAPIKey     = "CAPSULE_CRYPTOMUS_API_KEY"
	EnvCryptomusTestMode   = "CAPSULE_CRYPTOMUS_TEST_MODE"
	EnvStripeAPIKey        = "CAPSULE_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "CAPSULE_STRIPE_WEBHOOK_SECRET"
	EnvAdminAPIKey         = "CAPSULE_ADMIN_API_KEY"

	CryptomusBaseURL        = "https://api.cryptomus.com"
	CryptomusSandboxBaseURL = "https://api-sandbox.cryptomus.com"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
