package config

// EnvPrefix namespaces every environment variable consumed by the service.
const EnvPrefix = "REGPAY"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags (tests, error text).
const (
	EnvAppEnv    = "REGPAY_APP_ENV"
	EnvPort      = "REGPAY_APP_PORT"
	EnvDBDSN     = "REGPAY_DB_DSN"
	EnvLeadDBDSN = "REGPAY_LEAD_DB_DSN"
	EnvRedisURL  = "REGPAY_REDIS_URL"
)
