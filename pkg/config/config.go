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
	Gateway      GatewayConfig
	Pricing      PricingConfig
	Fees         FeeConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	Env          string `envconfig:"KALAMART_APP_ENV" required:"true"`
	Port         string `envconfig:"KALAMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KALAMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KALAMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KALAMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KALAMART_DB_DSN"`
	Driver string `envconfig:"KALAMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KALAMART_DB_HOST"`
	LegacyPort     int    `envconfig:"KALAMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KALAMART_DB_USER"`
	LegacyPassword string `envconfig:"KALAMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"KALAMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"KALAMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KALAMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KALAMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KALAMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KALAMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KALAMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KALAMART_REDIS_ADDR"`
	Password     string        `envconfig:"KALAMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"KALAMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KALAMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KALAMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KALAMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KALAMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KALAMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KALAMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KALAMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KALAMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

// GatewayConfig holds payment gateway credentials and call limits.
type GatewayConfig struct {
	KeyID         string        `envconfig:"KALAMART_GATEWAY_KEY_ID" required:"true"`
	KeySecret     string        `envconfig:"KALAMART_GATEWAY_KEY_SECRET" required:"true"`
	WebhookSecret string        `envconfig:"KALAMART_GATEWAY_WEBHOOK_SECRET" required:"true"`
	Currency      string        `envconfig:"KALAMART_GATEWAY_CURRENCY" default:"INR"`
	CallTimeout   time.Duration `envconfig:"KALAMART_GATEWAY_CALL_TIMEOUT" default:"10s"`
}

// PricingConfig injects the knobs the pricing engine needs; nothing in the
// engine is hard-coded so environments (and tests) can vary them.
type PricingConfig struct {
	TaxRateBps            int `envconfig:"KALAMART_PRICING_TAX_RATE_BPS" default:"1800"`
	FreeShippingThreshold int `envconfig:"KALAMART_PRICING_FREE_SHIPPING_THRESHOLD" default:"500"`
	FlatShippingFee       int `envconfig:"KALAMART_PRICING_FLAT_SHIPPING_FEE" default:"50"`
}

// FeeConfig drives payout derivation per seller split.
type FeeConfig struct {
	PlatformFeeBps   int `envconfig:"KALAMART_FEES_PLATFORM_BPS" default:"1000"`
	ProcessingFee    int `envconfig:"KALAMART_FEES_PROCESSING_FLAT" default:"0"`
	SettlementDays   int `envconfig:"KALAMART_FEES_SETTLEMENT_DAYS" default:"7"`
	MinimumNetPayout int `envconfig:"KALAMART_FEES_MINIMUM_NET" default:"0"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KALAMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KALAMART_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"KALAMART_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KALAMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KALAMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KALAMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"KALAMART_PUBSUB_ORDERS_TOPIC" default:"km-order-events"`
	OrdersSubscription string `envconfig:"KALAMART_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KALAMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KALAMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KALAMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
