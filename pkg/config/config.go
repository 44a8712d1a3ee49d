package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	LeadDB       LeadDBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Sendgrid     SendgridConfig
	Rates        RatesConfig
	Retry        RetryConfig
	Cron         CronConfig
	Webhook      WebhookConfig
	Checkout     CheckoutConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REGPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"REGPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REGPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REGPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// DBConfig points at the primary datastore (payments, buyer profiles).
type DBConfig struct {
	DSN             string        `envconfig:"REGPAY_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"REGPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REGPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REGPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REGPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// LeadDBConfig points at the course-enrollment lead datastore. It is a separate
// database with its own credentials; nothing joins across the two stores.
type LeadDBConfig struct {
	DSN             string        `envconfig:"REGPAY_LEAD_DB_DSN" required:"true"`
	MaxConns        int           `envconfig:"REGPAY_LEAD_DB_MAX_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REGPAY_LEAD_DB_CONN_MAX_LIFETIME" default:"1h"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REGPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REGPAY_REDIS_ADDR"`
	Password     string        `envconfig:"REGPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"REGPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REGPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REGPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REGPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REGPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REGPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"REGPAY_STRIPE_API_KEY"`
	Secret        string        `envconfig:"REGPAY_STRIPE_SECRET"`
	Env           string        `envconfig:"REGPAY_STRIPE_ENV" default:"test"`
	CallTimeout   time.Duration `envconfig:"REGPAY_STRIPE_CALL_TIMEOUT" default:"10s"`
	SuccessURL    string        `envconfig:"REGPAY_STRIPE_SUCCESS_URL"`
	CancelURL     string        `envconfig:"REGPAY_STRIPE_CANCEL_URL"`
	EventGuardTTL time.Duration `envconfig:"REGPAY_STRIPE_EVENT_GUARD_TTL" default:"720h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"REGPAY_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"REGPAY_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"REGPAY_SENDGRID_FROM_NAME" default:"RegPay"`
}

// RatesConfig drives the TTL-cached USD to local-currency multiplier.
type RatesConfig struct {
	URL            string        `envconfig:"REGPAY_RATES_URL" default:"https://open.er-api.com/v6/latest/USD"`
	TargetCurrency string        `envconfig:"REGPAY_RATES_TARGET_CURRENCY" default:"INR"`
	TTL            time.Duration `envconfig:"REGPAY_RATES_TTL" default:"1h"`
	FetchTimeout   time.Duration `envconfig:"REGPAY_RATES_FETCH_TIMEOUT" default:"3s"`
	DefaultRate    float64       `envconfig:"REGPAY_RATES_DEFAULT" default:"84.0"`
}

// RetryConfig bounds retried datastore calls.
type RetryConfig struct {
	MaxAttempts    int           `envconfig:"REGPAY_RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay      time.Duration `envconfig:"REGPAY_RETRY_BASE_DELAY" default:"1s"`
	AttemptTimeout time.Duration `envconfig:"REGPAY_RETRY_ATTEMPT_TIMEOUT" default:"8s"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"REGPAY_CRON_INTERVAL" default:"15m"`
	SweepLookback  time.Duration `envconfig:"REGPAY_CRON_SWEEP_LOOKBACK" default:"24h"`
	SweepMinAge    time.Duration `envconfig:"REGPAY_CRON_SWEEP_MIN_AGE" default:"10m"`
	SweepBatchSize int           `envconfig:"REGPAY_CRON_SWEEP_BATCH_SIZE" default:"50"`
}

type WebhookConfig struct {
	SideEffectRetryDelay time.Duration `envconfig:"REGPAY_WEBHOOK_SIDE_EFFECT_RETRY_DELAY" default:"30s"`
	SideEffectQueueSize  int           `envconfig:"REGPAY_WEBHOOK_SIDE_EFFECT_QUEUE_SIZE" default:"256"`
}

type CheckoutConfig struct {
	WebinarTitle      string `envconfig:"REGPAY_CHECKOUT_WEBINAR_TITLE" default:"Live Webinar"`
	WebinarPriceCents int64  `envconfig:"REGPAY_CHECKOUT_WEBINAR_PRICE_CENTS" default:"450"`
	CoursePriceCents  int64  `envconfig:"REGPAY_CHECKOUT_COURSE_PRICE_CENTS" default:"4900"`
	MeetingLink       string `envconfig:"REGPAY_CHECKOUT_MEETING_LINK"`
	DefaultCurrency   string `envconfig:"REGPAY_CHECKOUT_DEFAULT_CURRENCY" default:"usd"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"REGPAY_AUTO_MIGRATE" default:"false"`
}
