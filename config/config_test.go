package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/config"
)

// noEnvFile points ENV_FILE at a file that does not exist.
func noEnvFile(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	noEnvFile(t)

	cfg, err := config.Load(nil)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "stock.db", cfg.DBPath)
	assert.Equal(t, time.Minute, cfg.CatchUpInterval)
	assert.True(t, cfg.SyncCatchUp)
	assert.Zero(t, cfg.Retention())
	assert.Equal(t, "local_stock", cfg.Services.DefaultService)
	assert.Equal(t, config.PolicyFirst, cfg.Services.TransactionLocationPolicy)
	assert.Nil(t, cfg.Services.Remote)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	// GIVEN: environment values for port, db and origins
	noEnvFile(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", "env.db")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")

	// WHEN: only -db is passed on the command line
	cfg, err := config.Load([]string{"-db", "flag.db", "-catchup-interval", "30s"})

	// THEN: the flag wins for db, the environment for the rest
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "flag.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.CatchUpInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "CATCHUP_BATCH=77\nRETENTION_DAYS=30\n")
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		os.Unsetenv("CATCHUP_BATCH")
		os.Unsetenv("RETENTION_DAYS")
	})

	cfg, err := config.Load(nil)

	require.NoError(t, err)
	assert.Equal(t, 77, cfg.CatchUpBatch)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention())
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	noEnvFile(t)
	t.Setenv("PORT", "eighty")

	_, err := config.Load(nil)

	assert.Error(t, err)
}

func TestLoad_ServicesFile(t *testing.T) {
	noEnvFile(t)
	path := writeFile(t, "services.yaml", `
default_service: remote_stock
allow_first_registered_fallback: true
transaction_location_policy: highest_stock
always_in_stock_level: 50
overrides:
  gift_card: always_in_stock
  "product_variation:dropship": local_stock
remote:
  base_url: http://central.test:8080
  timeout: 5s
  retries: 2
`)

	cfg, err := config.Load([]string{"-services", path})

	require.NoError(t, err)
	s := cfg.Services
	assert.Equal(t, config.PolicyHighestStock, s.TransactionLocationPolicy)
	assert.Equal(t, int64(50), s.AlwaysInStockLevel)
	require.NotNil(t, s.Remote)
	assert.Equal(t, 5*time.Second, s.Remote.Timeout)
	assert.Equal(t, 2, s.Remote.Retries)

	res := s.Resolution()
	assert.Equal(t, "remote_stock", res.DefaultService)
	assert.True(t, res.AllowFirstRegisteredFallback)
	assert.Equal(t, "local_stock", res.Overrides["product_variation:dropship"])
	assert.Equal(t, "always_in_stock", res.Overrides["gift_card"])
}

func TestParseServices(t *testing.T) {
	t.Run("empty file keeps defaults", func(t *testing.T) {
		s, err := config.ParseServices(nil)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultServices(), s)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := config.ParseServices([]byte("default_servce: local_stock\n"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Port:            8080,
			DBPath:          ":memory:",
			LogFormat:       "json",
			CatchUpInterval: time.Minute,
			Services:        config.DefaultServices(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port out of range", func(c *config.Config) { c.Port = 70000 }},
		{"no db path", func(c *config.Config) { c.DBPath = "" }},
		{"zero interval", func(c *config.Config) { c.CatchUpInterval = 0 }},
		{"negative retention", func(c *config.Config) { c.RetentionDays = -1 }},
		{"unknown log format", func(c *config.Config) { c.LogFormat = "xml" }},
		{"unknown policy", func(c *config.Config) { c.Services.TransactionLocationPolicy = "random" }},
		{"empty override target", func(c *config.Config) { c.Services.Overrides = map[string]string{"gift_card": ""} }},
		{"remote without url", func(c *config.Config) { c.Services.Remote = &config.Remote{} }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
