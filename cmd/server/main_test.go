package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/config"
)

func testConfig() *config.Config {
	return &config.Config{
		DBPath:          ":memory:",
		LogLevel:        "info",
		LogFormat:       "json",
		CatchUpInterval: time.Minute,
		CatchUpBatch:    100,
		SyncCatchUp:     true,
		LockTTL:         10 * time.Second,
		Services:        config.DefaultServices(),
	}
}

func TestNewApp_ServesHealthAndStock(t *testing.T) {
	// GIVEN an app on an in-memory database
	a, err := newApp(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	// WHEN health is requested
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	// THEN the store answers
	assert.Equal(t, http.StatusOK, rec.Code)

	// AND both built-in backends are registered
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "local_stock")
	assert.Contains(t, rec.Body.String(), "always_in_stock")
}

func TestNewApp_ScenariosOnlyWhenEnabled(t *testing.T) {
	cfg := testConfig()
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg = testConfig()
	cfg.EnableScenarios = true
	b, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	rec = httptest.NewRecorder()
	b.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewApp_RegistersRemote(t *testing.T) {
	// GIVEN a remote backend in the services file
	cfg := testConfig()
	cfg.Services.TransactionLocationPolicy = config.PolicyHighestStock
	cfg.Services.Remote = &config.Remote{ID: "warehouse_b", BaseURL: "http://stock.internal:8080"}
	cfg.Services.Overrides = map[string]string{"product_variation:b2b": "warehouse_b"}

	// WHEN the app is built
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	// THEN the remote is resolvable by id
	svc, err := a.registry.Get("warehouse_b")
	require.NoError(t, err)
	assert.Equal(t, "warehouse_b", svc.ID())
}

func TestNewApp_RejectsUnknownServiceReferences(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Services)
		want   string
	}{
		{
			name:   "default",
			modify: func(s *config.Services) { s.DefaultService = "erp" },
			want:   "default service",
		},
		{
			name:   "override",
			modify: func(s *config.Services) { s.Overrides = map[string]string{"gift_card": "erp"} },
			want:   "override",
		},
		{
			name:   "remote url",
			modify: func(s *config.Services) { s.Remote = &config.Remote{BaseURL: "not a url"} },
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg.Services)

			_, err := newApp(cfg, zerolog.Nop())

			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
