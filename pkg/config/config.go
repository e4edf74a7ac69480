package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pss-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	STT       STTConfig       `json:"stt"`
	Planner   PlannerConfig   `json:"planner"`
	Storage   StorageConfig   `json:"storage"`
	Messaging MessagingConfig `json:"messaging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Port            int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"10m"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	EnableMetrics   bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" default:"524288000"`
	AllowedOrigins  []string      `json:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS"`

	TLSEnabled  bool   `json:"tls_enabled" env:"HTTP_TLS_ENABLED" default:"false"`
	TLSCertFile string `json:"tls_cert_file" env:"HTTP_TLS_CERT_FILE"`
	TLSKeyFile  string `json:"tls_key_file" env:"HTTP_TLS_KEY_FILE"`
}

// DatabaseConfig holds relational store configuration
type DatabaseConfig struct {
	Driver          string        `json:"driver" env:"DB_DRIVER" default:"postgres"`
	DSN             string        `json:"-" env:"DB_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"5m"`
	QueryTimeout    time.Duration `json:"query_timeout" env:"DB_QUERY_TIMEOUT" default:"10s"`
	MigrateOnStart  bool          `json:"migrate_on_start" env:"DB_MIGRATE_ON_START" default:"true"`
}

// AuthConfig holds bearer token validation settings. Tokens are issued by the
// external identity provider; this service only verifies them.
type AuthConfig struct {
	Enabled          bool     `json:"enabled" env:"AUTH_ENABLED" default:"true"`
	JWTSecret        string   `json:"-" env:"AUTH_JWT_SECRET"`
	JWTPublicKeyFile string   `json:"jwt_public_key_file" env:"AUTH_JWT_PUBLIC_KEY_FILE"`
	Issuer           string   `json:"issuer" env:"AUTH_ISSUER"`
	Audience         string   `json:"audience" env:"AUTH_AUDIENCE"`
	OrgClaim         string   `json:"org_claim" env:"AUTH_ORG_CLAIM" default:"org_id"`
	ExemptPaths      []string `json:"exempt_paths" env:"AUTH_EXEMPT_PATHS"`
}

// STTConfig holds the diarizing speech-to-text service configuration
type STTConfig struct {
	Enabled      bool          `json:"enabled" env:"STT_ENABLED" default:"true"`
	BaseURL      string        `json:"base_url" env:"STT_BASE_URL" default:"https://api.assemblyai.com"`
	APIKey       string        `json:"-" env:"STT_API_KEY"`
	LanguageCode string        `json:"language_code" env:"STT_LANGUAGE_CODE" default:"en_us"`
	PollInterval time.Duration `json:"poll_interval" env:"STT_POLL_INTERVAL" default:"3s"`
	Timeout      time.Duration `json:"timeout" env:"STT_TIMEOUT" default:"10m"`
}

// PlannerConfig holds the text-generation service used to draft phased plans
type PlannerConfig struct {
	Enabled     bool          `json:"enabled" env:"PLANNER_ENABLED" default:"true"`
	BaseURL     string        `json:"base_url" env:"PLANNER_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey      string        `json:"-" env:"PLANNER_API_KEY"`
	Model       string        `json:"model" env:"PLANNER_MODEL" default:"gpt-4o-mini"`
	Temperature float64       `json:"temperature" env:"PLANNER_TEMPERATURE" default:"0.4"`
	Timeout     time.Duration `json:"timeout" env:"PLANNER_TIMEOUT" default:"60s"`
}

// StorageConfig holds object storage settings for session recordings
type StorageConfig struct {
	Enabled      bool          `json:"enabled" env:"STORAGE_ENABLED" default:"true"`
	Bucket       string        `json:"bucket" env:"STORAGE_BUCKET"`
	Region       string        `json:"region" env:"STORAGE_REGION" default:"us-east-1"`
	Endpoint     string        `json:"endpoint" env:"STORAGE_ENDPOINT"`
	UsePathStyle bool          `json:"use_path_style" env:"STORAGE_PATH_STYLE" default:"false"`
	PresignTTL   time.Duration `json:"presign_ttl" env:"STORAGE_PRESIGN_TTL" default:"1h"`
}

// MessagingConfig holds AMQP event publishing settings
type MessagingConfig struct {
	Enabled      bool   `json:"enabled" env:"AMQP_ENABLED" default:"false"`
	URL          string `json:"-" env:"AMQP_URL"`
	Exchange     string `json:"exchange" env:"AMQP_EXCHANGE" default:"pss.events"`
	ExchangeType string `json:"exchange_type" env:"AMQP_EXCHANGE_TYPE" default:"topic"`
}

// RateLimitConfig holds per-client HTTP rate limiting settings
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerSecond float64       `json:"requests_per_second" env:"RATE_LIMIT_RPS" default:"20"`
	BurstSize         int           `json:"burst_size" env:"RATE_LIMIT_BURST" default:"40"`
	BlockDuration     time.Duration `json:"block_duration" env:"RATE_LIMIT_BLOCK_DURATION" default:"1m"`
	WhitelistedPaths  []string      `json:"whitelisted_paths" env:"RATE_LIMIT_WHITELIST_PATHS"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// Load loads the configuration from a .env file, when present, and the environment
func Load(logger *logrus.Logger) (*Config, error) {
	loadEnvFile(logger)

	config := &Config{}
	loadHTTPConfig(&config.HTTP)
	loadDatabaseConfig(&config.Database)
	loadAuthConfig(&config.Auth)
	loadSTTConfig(&config.STT)
	loadPlannerConfig(&config.Planner)
	loadStorageConfig(&config.Storage)
	loadMessagingConfig(&config.Messaging)
	loadRateLimitConfig(&config.RateLimit)
	loadLoggingConfig(logger, &config.Logging)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"http_port":     config.HTTP.Port,
		"db_driver":     config.Database.Driver,
		"auth_enabled":  config.Auth.Enabled,
		"stt_enabled":   config.STT.Enabled,
		"planner":       config.Planner.Enabled,
		"storage":       config.Storage.Enabled,
		"amqp_enabled":  config.Messaging.Enabled,
		"rate_limiting": config.RateLimit.Enabled,
	}).Info("Configuration loaded")

	return config, nil
}

// LoadDatabase loads only the database section, for tooling that does not
// serve requests
func LoadDatabase(logger *logrus.Logger) (*DatabaseConfig, error) {
	loadEnvFile(logger)

	config := &DatabaseConfig{}
	loadDatabaseConfig(config)

	switch {
	case config.Driver != "postgres" && config.Driver != "sqlite":
		return nil, errors.NewInvalidInput(fmt.Sprintf("unsupported DB_DRIVER %q (postgres, sqlite)", config.Driver))
	case config.DSN == "":
		return nil, errors.NewInvalidInput("DB_DSN is required")
	}
	return config, nil
}

func loadEnvFile(logger *logrus.Logger) {
	envFile := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err != nil {
		logger.WithField("path", envFile).Debug("No .env file found, using environment variables only")
		return
	}

	absPath, _ := filepath.Abs(envFile)
	if err := godotenv.Load(envFile); err != nil {
		logger.WithError(err).WithField("path", absPath).Warn("Failed to load .env file")
		return
	}
	logger.WithField("path", absPath).Info("Loaded .env file")
}

func loadHTTPConfig(config *HTTPConfig) {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Minute)
	config.IdleTimeout = getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)
	config.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.MaxUploadBytes = int64(getEnvInt("HTTP_MAX_UPLOAD_BYTES", 500<<20))
	config.AllowedOrigins = getEnvList("HTTP_ALLOWED_ORIGINS", nil)
	config.TLSEnabled = getEnvBool("HTTP_TLS_ENABLED", false)
	config.TLSCertFile = getEnv("HTTP_TLS_CERT_FILE", "")
	config.TLSKeyFile = getEnv("HTTP_TLS_KEY_FILE", "")
}

func loadDatabaseConfig(config *DatabaseConfig) {
	config.Driver = strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	config.DSN = getEnv("DB_DSN", "")
	config.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	config.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	config.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	config.QueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 10*time.Second)
	config.MigrateOnStart = getEnvBool("DB_MIGRATE_ON_START", true)
}

func loadAuthConfig(config *AuthConfig) {
	config.Enabled = getEnvBool("AUTH_ENABLED", true)
	config.JWTSecret = getEnv("AUTH_JWT_SECRET", "")
	config.JWTPublicKeyFile = getEnv("AUTH_JWT_PUBLIC_KEY_FILE", "")
	config.Issuer = getEnv("AUTH_ISSUER", "")
	config.Audience = getEnv("AUTH_AUDIENCE", "")
	config.OrgClaim = getEnv("AUTH_ORG_CLAIM", "org_id")
	config.ExemptPaths = getEnvList("AUTH_EXEMPT_PATHS", []string{"/health", "/health/live", "/health/ready", "/metrics"})
}

func loadSTTConfig(config *STTConfig) {
	config.Enabled = getEnvBool("STT_ENABLED", true)
	config.BaseURL = getEnv("STT_BASE_URL", "https://api.assemblyai.com")
	config.APIKey = getEnv("STT_API_KEY", "")
	config.LanguageCode = getEnv("STT_LANGUAGE_CODE", "en_us")
	config.PollInterval = getEnvDuration("STT_POLL_INTERVAL", 3*time.Second)
	config.Timeout = getEnvDuration("STT_TIMEOUT", 10*time.Minute)
}

func loadPlannerConfig(config *PlannerConfig) {
	config.Enabled = getEnvBool("PLANNER_ENABLED", true)
	config.BaseURL = getEnv("PLANNER_BASE_URL", "https://api.openai.com/v1")
	config.APIKey = getEnv("PLANNER_API_KEY", "")
	config.Model = getEnv("PLANNER_MODEL", "gpt-4o-mini")
	config.Temperature = getEnvFloat("PLANNER_TEMPERATURE", 0.4)
	config.Timeout = getEnvDuration("PLANNER_TIMEOUT", 60*time.Second)
}

func loadStorageConfig(config *StorageConfig) {
	config.Enabled = getEnvBool("STORAGE_ENABLED", true)
	config.Bucket = getEnv("STORAGE_BUCKET", "")
	config.Region = getEnv("STORAGE_REGION", "us-east-1")
	config.Endpoint = getEnv("STORAGE_ENDPOINT", "")
	config.UsePathStyle = getEnvBool("STORAGE_PATH_STYLE", false)
	config.PresignTTL = getEnvDuration("STORAGE_PRESIGN_TTL", time.Hour)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.Enabled = getEnvBool("AMQP_ENABLED", false)
	config.URL = getEnv("AMQP_URL", "")
	config.Exchange = getEnv("AMQP_EXCHANGE", "pss.events")
	config.ExchangeType = getEnv("AMQP_EXCHANGE_TYPE", "topic")
}

func loadRateLimitConfig(config *RateLimitConfig) {
	config.Enabled = getEnvBool("RATE_LIMIT_ENABLED", true)
	config.RequestsPerSecond = getEnvFloat("RATE_LIMIT_RPS", 20)
	config.BurstSize = getEnvInt("RATE_LIMIT_BURST", 40)
	config.BlockDuration = getEnvDuration("RATE_LIMIT_BLOCK_DURATION", time.Minute)
	config.WhitelistedPaths = getEnvList("RATE_LIMIT_WHITELIST_PATHS", []string{"/health", "/health/live", "/health/ready"})
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}
}

// Validate checks the loaded configuration for inconsistent settings
func (c *Config) Validate() error {
	var problems []string

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid HTTP_PORT: %d", c.HTTP.Port))
	}
	if c.HTTP.TLSEnabled && (c.HTTP.TLSCertFile == "" || c.HTTP.TLSKeyFile == "") {
		problems = append(problems, "HTTP_TLS_CERT_FILE and HTTP_TLS_KEY_FILE are required when TLS is enabled")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		problems = append(problems, "HTTP_MAX_UPLOAD_BYTES must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unsupported DB_DRIVER %q (postgres, sqlite)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		problems = append(problems, "DB_DSN is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		problems = append(problems, "DB_MAX_OPEN_CONNS must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		problems = append(problems, "DB_MAX_IDLE_CONNS cannot exceed DB_MAX_OPEN_CONNS")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.JWTPublicKeyFile == "" {
		problems = append(problems, "AUTH_JWT_SECRET or AUTH_JWT_PUBLIC_KEY_FILE is required when auth is enabled")
	}

	if c.STT.Enabled {
		if c.STT.APIKey == "" {
			problems = append(problems, "STT_API_KEY is required when STT is enabled")
		}
		if c.STT.PollInterval <= 0 {
			problems = append(problems, "STT_POLL_INTERVAL must be positive")
		}
	}

	if c.Planner.Enabled && c.Planner.APIKey == "" {
		problems = append(problems, "PLANNER_API_KEY is required when the planner is enabled")
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		problems = append(problems, "STORAGE_BUCKET is required when storage is enabled")
	}

	if c.Messaging.Enabled && c.Messaging.URL == "" {
		problems = append(problems, "AMQP_URL is required when AMQP is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize <= 0) {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if len(problems) > 0 {
		return errors.NewInvalidInput(strings.Join(problems, "; "))
	}
	return nil
}

// ConfigureLogger applies the logging section to logger
func ConfigureLogger(logger *logrus.Logger, config LoggingConfig) {
	if level, err := logrus.ParseLevel(config.Level); err == nil {
		logger.SetLevel(level)
	}

	if config.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
