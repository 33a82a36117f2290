package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Credits       CreditsConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Cryptomus     CryptomusConfig
	Stripe        StripeConfig
	Webhooks      WebhooksConfig
	Admin         AdminConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Credits.Price(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAPSULE_APP_ENV" default:"dev"`
	Port         string `envconfig:"CAPSULE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CAPSULE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAPSULE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CAPSULE_LOG_FORMAT" default:"json"`
	CORSOrigins  string `envconfig:"CAPSULE_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type DBConfig struct {
	DSN        string `envconfig:"CAPSULE_DB_DSN"`
	Driver     string `envconfig:"CAPSULE_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"CAPSULE_DB_SQLITE_PATH" default:"capsule_users.db"`

	LegacyHost     string `envconfig:"CAPSULE_DB_HOST"`
	LegacyPort     int    `envconfig:"CAPSULE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CAPSULE_DB_USER"`
	LegacyPassword string `envconfig:"CAPSULE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CAPSULE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CAPSULE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAPSULE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAPSULE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAPSULE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAPSULE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CAPSULE_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAPSULE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAPSULE_REDIS_ADDR"`
	Password     string        `envconfig:"CAPSULE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAPSULE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAPSULE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAPSULE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAPSULE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAPSULE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAPSULE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig leaves Secret optional; cmd/api generates a per-process secret
// when it is empty, which invalidates every token on restart.
type JWTConfig struct {
	Secret        string `envconfig:"CAPSULE_JWT_SECRET"`
	Issuer        string `envconfig:"CAPSULE_JWT_ISSUER" default:"capsule-ai"`
	LifetimeHours int    `envconfig:"CAPSULE_TOKEN_LIFETIME_HOURS" default:"24"`
}

// Lifetime returns the access token lifetime.
func (j JWTConfig) Lifetime() time.Duration {
	if j.LifetimeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(j.LifetimeHours) * time.Hour
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CAPSULE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CAPSULE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CAPSULE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CAPSULE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CAPSULE_ARGON_KEY_LEN" default:"32"`
	MinLength        int `envconfig:"CAPSULE_MIN_PASSWORD_LENGTH" default:"8"`
}

type CreditsConfig struct {
	StartingCredits int    `envconfig:"CAPSULE_STARTING_CREDITS" default:"50"`
	UsageWindowDays int    `envconfig:"CAPSULE_USAGE_WINDOW_DAYS" default:"30"`
	PricePerCredit  string `envconfig:"CAPSULE_PRICE_PER_CREDIT" default:"0.10"`
	Currency        string `envconfig:"CAPSULE_CREDITS_CURRENCY" default:"USD"`
}

// Price parses the configured per-credit price used for manual grants.
func (c CreditsConfig) Price() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.PricePerCredit)
	if raw == "" {
		return decimal.NewFromFloat(0.10), nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvPricePer, raw, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvPricePer)
	}
	return price, nil
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"CAPSULE_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"CAPSULE_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"CAPSULE_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"CAPSULE_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"CAPSULE_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"CAPSULE_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CAPSULE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CAPSULE_AUTO_MIGRATE" default:"false"`
}

type CryptomusConfig struct {
	MerchantID  string        `envconfig:"CAPSULE_CRYPTOMUS_MERCHANT_ID"`
	APIKey      string        `envconfig:"CAPSULE_CRYPTOMUS_API_KEY"`
	TestMode    bool          `envconfig:"CAPSULE_CRYPTOMUS_TEST_MODE" default:"true"`
	BaseURL     string        `envconfig:"CAPSULE_CRYPTOMUS_BASE_URL"`
	Timeout     time.Duration `envconfig:"CAPSULE_CRYPTOMUS_TIMEOUT" default:"15s"`
	ReturnURL   string        `envconfig:"CAPSULE_CRYPTOMUS_RETURN_URL"`
	CallbackURL string        `envconfig:"CAPSULE_CRYPTOMUS_CALLBACK_URL"`
	Lifetime    int           `envconfig:"CAPSULE_CRYPTOMUS_INVOICE_LIFETIME_SECONDS" default:"3600"`
}

// Enabled reports whether both merchant credentials are present.
func (c CryptomusConfig) Enabled() bool {
	return strings.TrimSpace(c.MerchantID) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Endpoint resolves the API base URL, honouring test mode.
func (c CryptomusConfig) Endpoint() string {
	if base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); base != "" {
		return base
	}
	if c.TestMode {
		return CryptomusSandboxBaseURL
	}
	return CryptomusBaseURL
}

type StripeConfig struct {
	APIKey         string        `envconfig:"CAPSULE_STRIPE_API_KEY"`
	WebhookSecret  string        `envconfig:"CAPSULE_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"CAPSULE_STRIPE_ENV" default:"test"`
	Tolerance      time.Duration `envconfig:"CAPSULE_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	Timeout        time.Duration `envconfig:"CAPSULE_STRIPE_TIMEOUT" default:"15s"`
	ProductLabel   string        `envconfig:"CAPSULE_STRIPE_PRODUCT_LABEL" default:"capsule_ai_credits"`
	StatementTitle string        `envconfig:"CAPSULE_STRIPE_DESCRIPTION" default:"Capsule AI credits"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether an API key is configured.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"CAPSULE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type AdminConfig struct {
	APIKey string `envconfig:"CAPSULE_ADMIN_API_KEY"`
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
