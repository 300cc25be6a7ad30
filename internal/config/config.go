/**
 * @description
 * Configuration management for the rewards service. Values come from the
 * environment, optionally seeded from a .env file in the given directory.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding, defaults and .env parsing.
 * - github.com/sirupsen/logrus: warnings about coerced values.
 */
package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the rewards service.
type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	RunMigrations bool   `mapstructure:"RUN_MIGRATIONS"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RateLimitAuthPerMin  int    `mapstructure:"RATE_LIMIT_AUTH_PER_MINUTE"`
	RateLimitAdminPerMin int    `mapstructure:"RATE_LIMIT_ADMIN_PER_MINUTE"`

	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	PayoutExchange          string `mapstructure:"PAYOUT_EXCHANGE"`
	PayoutNotifierQueue     string `mapstructure:"PAYOUT_NOTIFIER_QUEUE"`
	NotifierMaxRedeliveries int    `mapstructure:"NOTIFIER_MAX_REDELIVERIES"`
	OutboxPollSeconds       int    `mapstructure:"OUTBOX_POLL_INTERVAL_SECONDS"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	JWTTTLMinutes      int    `mapstructure:"JWT_TTL_MINUTES"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	EmailProvider          string `mapstructure:"EMAIL_PROVIDER"`
	PostmarkServerToken    string `mapstructure:"POSTMARK_SERVER_TOKEN"`
	PostmarkWebhookSecret  string `mapstructure:"POSTMARK_WEBHOOK_SECRET"`
	SendgridAPIKey         string `mapstructure:"SENDGRID_API_KEY"`
	EmailFrom              string `mapstructure:"EMAIL_FROM"`
	EmailFromName          string `mapstructure:"EMAIL_FROM_NAME"`
	AppBaseURL             string `mapstructure:"APP_BASE_URL"`
	DisposableEmailDomains string `mapstructure:"DISPOSABLE_EMAIL_DOMAINS"`
	VerificationTTLHours   int    `mapstructure:"VERIFICATION_TOKEN_TTL_HOURS"`

	PayoutProviderBaseURL      string `mapstructure:"PAYOUT_PROVIDER_BASE_URL"`
	PayoutProviderClientID     string `mapstructure:"PAYOUT_PROVIDER_CLIENT_ID"`
	PayoutProviderClientSecret string `mapstructure:"PAYOUT_PROVIDER_CLIENT_SECRET"`
	PayoutCurrency             string `mapstructure:"PAYOUT_CURRENCY"`
	PayoutMaxAttempts          int    `mapstructure:"PAYOUT_MAX_ATTEMPTS"`
	TierShares                 string `mapstructure:"TIER_SHARES"`

	ReconcileSchedule    string `mapstructure:"RECONCILE_SCHEDULE"`
	TokenCleanupSchedule string `mapstructure:"TOKEN_CLEANUP_SCHEDULE"`

	ExportArchiveBucket    string `mapstructure:"EXPORT_ARCHIVE_BUCKET"`
	ExportArchiveRegion    string `mapstructure:"EXPORT_ARCHIVE_REGION"`
	ExportArchiveEndpoint  string `mapstructure:"EXPORT_ARCHIVE_ENDPOINT"`
	ExportArchiveAccessKey string `mapstructure:"EXPORT_ARCHIVE_ACCESS_KEY_ID"`
	ExportArchiveSecretKey string `mapstructure:"EXPORT_ARCHIVE_SECRET_ACCESS_KEY"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var plainKeys = []string{
	"SERVER_PORT",
	"PORT",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"RUN_MIGRATIONS",
	"REDIS_RATE_LIMIT_PREFIX",
	"RATE_LIMIT_AUTH_PER_MINUTE",
	"RATE_LIMIT_ADMIN_PER_MINUTE",
	"RABBITMQ_URL",
	"PAYOUT_EXCHANGE",
	"PAYOUT_NOTIFIER_QUEUE",
	"NOTIFIER_MAX_REDELIVERIES",
	"OUTBOX_POLL_INTERVAL_SECONDS",
	"JWT_ISSUER",
	"JWT_TTL_MINUTES",
	"CORS_ALLOWED_ORIGINS",
	"EMAIL_PROVIDER",
	"POSTMARK_WEBHOOK_SECRET",
	"SENDGRID_API_KEY",
	"EMAIL_FROM_NAME",
	"DISPOSABLE_EMAIL_DOMAINS",
	"VERIFICATION_TOKEN_TTL_HOURS",
	"PAYOUT_CURRENCY",
	"PAYOUT_MAX_ATTEMPTS",
	"TIER_SHARES",
	"RECONCILE_SCHEDULE",
	"TOKEN_CLEANUP_SCHEDULE",
	"EXPORT_ARCHIVE_BUCKET",
	"EXPORT_ARCHIVE_REGION",
	"EXPORT_ARCHIVE_ENDPOINT",
	"EXPORT_ARCHIVE_ACCESS_KEY_ID",
	"EXPORT_ARCHIVE_SECRET_ACCESS_KEY",
	"LOG_LEVEL",
	"LOG_FORMAT",
}

// LoadConfig reads configuration from the environment and an optional .env
// file located in path.
func LoadConfig(path string) (config Config, err error) {
	log := logrus.WithField("component", "config")

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 1)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "finboost:rate_limit")
	viper.SetDefault("RATE_LIMIT_AUTH_PER_MINUTE", 20)
	viper.SetDefault("RATE_LIMIT_ADMIN_PER_MINUTE", 120)
	viper.SetDefault("PAYOUT_EXCHANGE", "payout_events")
	viper.SetDefault("PAYOUT_NOTIFIER_QUEUE", "rewards_service.payout_notifications")
	viper.SetDefault("NOTIFIER_MAX_REDELIVERIES", 5)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_SECONDS", 2)
	viper.SetDefault("JWT_ISSUER", "finboost")
	viper.SetDefault("JWT_TTL_MINUTES", 1440)
	viper.SetDefault("EMAIL_FROM", "rewards@finboost.local")
	viper.SetDefault("EMAIL_FROM_NAME", "FinBoost")
	viper.SetDefault("APP_BASE_URL", "http://localhost:8080")
	viper.SetDefault("VERIFICATION_TOKEN_TTL_HOURS", 24)
	viper.SetDefault("PAYOUT_CURRENCY", "USD")
	viper.SetDefault("PAYOUT_MAX_ATTEMPTS", 3)
	viper.SetDefault("TIER_SHARES", "tier1:50,tier2:35,tier3:15")
	viper.SetDefault("RECONCILE_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("TOKEN_CLEANUP_SCHEDULE", "0 3 * * *")
	viper.SetDefault("EXPORT_ARCHIVE_REGION", "us-east-1")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	for _, key := range plainKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "REWARDS_REDIS_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "SESSION_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ADMIN_API_KEY")
	_ = viper.BindEnv("POSTMARK_SERVER_TOKEN", "POSTMARK_SERVER_TOKEN", "POSTMARK_API_TOKEN")
	_ = viper.BindEnv("EMAIL_FROM", "EMAIL_FROM", "FROM_EMAIL")
	_ = viper.BindEnv("APP_BASE_URL", "APP_BASE_URL", "FRONTEND_URL")
	_ = viper.BindEnv("PAYOUT_PROVIDER_BASE_URL", "PAYOUT_PROVIDER_BASE_URL", "PAYPAL_BASE_URL")
	_ = viper.BindEnv("PAYOUT_PROVIDER_CLIENT_ID", "PAYOUT_PROVIDER_CLIENT_ID", "PAYPAL_CLIENT_ID")
	_ = viper.BindEnv("PAYOUT_PROVIDER_CLIENT_SECRET", "PAYOUT_PROVIDER_CLIENT_SECRET", "PAYPAL_CLIENT_SECRET")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	normalize(&config, log)
	return config, nil
}

func normalize(config *Config, log logrus.FieldLogger) {
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.AppBaseURL = strings.TrimRight(strings.TrimSpace(config.AppBaseURL), "/")
	config.PayoutProviderBaseURL = strings.TrimRight(strings.TrimSpace(config.PayoutProviderBaseURL), "/")
	config.PayoutCurrency = strings.ToUpper(strings.TrimSpace(config.PayoutCurrency))
	if config.PayoutCurrency == "" {
		config.PayoutCurrency = "USD"
	}

	config.EmailProvider = strings.ToLower(strings.TrimSpace(config.EmailProvider))
	switch config.EmailProvider {
	case "postmark", "sendgrid", "log":
	case "":
		switch {
		case config.PostmarkServerToken != "":
			config.EmailProvider = "postmark"
		case config.SendgridAPIKey != "":
			config.EmailProvider = "sendgrid"
		default:
			config.EmailProvider = "log"
		}
	default:
		log.WithField("value", config.EmailProvider).Warn("unknown EMAIL_PROVIDER; falling back to log")
		config.EmailProvider = "log"
	}

	if config.PayoutMaxAttempts < 1 {
		log.WithField("value", config.PayoutMaxAttempts).Warn("PAYOUT_MAX_ATTEMPTS must be positive; using 3")
		config.PayoutMaxAttempts = 3
	}
	if config.VerificationTTLHours < 1 {
		config.VerificationTTLHours = 24
	}
	if config.JWTTTLMinutes < 1 {
		config.JWTTTLMinutes = 1440
	}
	if config.OutboxPollSeconds < 1 {
		config.OutboxPollSeconds = 2
	}
	if config.NotifierMaxRedeliveries < 1 {
		config.NotifierMaxRedeliveries = 5
	}
	if config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = config.DBMaxConns
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS; empty means any origin.
func (c Config) AllowedOrigins() []string {
	origins := splitList(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// DisposableDomains returns the configured extra disposable domains.
func (c Config) DisposableDomains() []string {
	return splitList(strings.ToLower(c.DisposableEmailDomains))
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
