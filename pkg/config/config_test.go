package config

import (
	"testing"
	"time"

	"pss-server/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// setRequired sets the minimum environment for a valid configuration.
func setRequired(t *testing.T) {
	t.Setenv("ENV_FILE", "testdata-does-not-exist.env")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file::memory:?cache=shared")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("STT_API_KEY", "stt-key")
	t.Setenv("PLANNER_API_KEY", "planner-key")
	t.Setenv("STORAGE_BUCKET", "recordings")
}

func TestConfigLoading(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_READ_TIMEOUT", "15s")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://app.example.org, ,https://admin.example.org")
	t.Setenv("DB_MAX_OPEN_CONNS", "10")
	t.Setenv("DB_MAX_IDLE_CONNS", "2")
	t.Setenv("STT_POLL_INTERVAL", "500ms")
	t.Setenv("PLANNER_MODEL", "gpt-4.1")
	t.Setenv("PLANNER_TEMPERATURE", "0.1")
	t.Setenv("STORAGE_PATH_STYLE", "yes")
	t.Setenv("RATE_LIMIT_ENABLED", "off")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, []string{"https://app.example.org", "https://admin.example.org"}, cfg.HTTP.AllowedOrigins)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Database.MaxIdleConns)

	assert.Equal(t, 500*time.Millisecond, cfg.STT.PollInterval)
	assert.Equal(t, "gpt-4.1", cfg.Planner.Model)
	assert.Equal(t, 0.1, cfg.Planner.Temperature)
	assert.True(t, cfg.Storage.UsePathStyle)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, int64(500<<20), cfg.HTTP.MaxUploadBytes)
	assert.Equal(t, "org_id", cfg.Auth.OrgClaim)
	assert.Contains(t, cfg.Auth.ExemptPaths, "/health")
	assert.Equal(t, "https://api.assemblyai.com", cfg.STT.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.STT.PollInterval)
	assert.Equal(t, time.Hour, cfg.Storage.PresignTTL)
	assert.False(t, cfg.Messaging.Enabled)
	assert.Equal(t, "pss.events", cfg.Messaging.Exchange)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestInvalidLoggingFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "chatty")
	t.Setenv("LOG_FORMAT", "xml")

	cfg, err := Load(testLogger())
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP_PORT"},
		{"tls without files", func(c *Config) { c.HTTP.TLSEnabled = true }, "HTTP_TLS_CERT_FILE"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "DB_DSN"},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 50 }, "DB_MAX_IDLE_CONNS"},
		{"auth without key", func(c *Config) { c.Auth.JWTSecret = "" }, "AUTH_JWT_SECRET"},
		{"stt without key", func(c *Config) { c.STT.APIKey = "" }, "STT_API_KEY"},
		{"planner without key", func(c *Config) { c.Planner.APIKey = "" }, "PLANNER_API_KEY"},
		{"storage without bucket", func(c *Config) { c.Storage.Bucket = "" }, "STORAGE_BUCKET"},
		{"amqp without url", func(c *Config) { c.Messaging.Enabled = true }, "AMQP_URL"},
		{"zero burst", func(c *Config) { c.RateLimit.BurstSize = 0 }, "RATE_LIMIT_BURST"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			cfg, err := Load(testLogger())
			require.NoError(t, err)

			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidate_DisabledIntegrationsNeedNoCredentials(t *testing.T) {
	setRequired(t)
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = ""
	cfg.STT.Enabled = false
	cfg.STT.APIKey = ""
	cfg.Planner.Enabled = false
	cfg.Planner.APIKey = ""
	cfg.Storage.Enabled = false
	cfg.Storage.Bucket = ""

	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DSN", "")

	_, err := Load(testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadDatabase(t *testing.T) {
	t.Setenv("ENV_FILE", "testdata-does-not-exist.env")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_DSN", "file:pss.db")
	t.Setenv("STT_API_KEY", "")

	cfg, err := LoadDatabase(testLogger())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "file:pss.db", cfg.DSN)

	t.Setenv("DB_DRIVER", "mysql")
	_, err = LoadDatabase(testLogger())
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestConfigureLogger(t *testing.T) {
	logger := logrus.New()

	ConfigureLogger(logger, LoggingConfig{Level: "warn", Format: "text"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	ConfigureLogger(logger, LoggingConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
