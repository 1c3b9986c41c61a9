package service_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/service/alwaysinstock"
	"github.com/warp/stock-engine/stock"
)

// named is an always-in-stock backend registered under another id.
type named struct {
	*alwaysinstock.Service
	id string
}

func (n named) ID() string { return n.id }

func newNamed(id string, level int64) named {
	return named{Service: alwaysinstock.New(decimal.NewFromInt(level)), id: id}
}

var shirt = stock.Entity{ID: "sku-1", Type: "product_variation", Bundle: "shirt"}

func newTestRegistry(t *testing.T, cfg service.ResolutionConfig, logger zerolog.Logger) *service.Registry {
	t.Helper()
	r := service.NewRegistry(cfg, logger)
	require.NoError(t, r.Register(newNamed("first", 1)))
	require.NoError(t, r.Register(newNamed("warehouse", 2)))
	require.NoError(t, r.Register(newNamed("digital", 3)))
	return r
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestRegistry_Resolve_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		cfg    service.ResolutionConfig
		entity stock.Entity
		want   string
	}{
		{
			name:   "bundle override wins",
			cfg:    service.ResolutionConfig{DefaultService: "warehouse", Overrides: map[string]string{"product_variation:shirt": "digital", "product_variation": "first"}},
			entity: shirt,
			want:   "digital",
		},
		{
			name:   "type override when bundle has none",
			cfg:    service.ResolutionConfig{DefaultService: "warehouse", Overrides: map[string]string{"product_variation": "first"}},
			entity: shirt,
			want:   "first",
		},
		{
			name:   "default without overrides",
			cfg:    service.ResolutionConfig{DefaultService: "warehouse"},
			entity: shirt,
			want:   "warehouse",
		},
		{
			name:   "override for another type is ignored",
			cfg:    service.ResolutionConfig{DefaultService: "warehouse", Overrides: map[string]string{"gift_card": "digital"}},
			entity: shirt,
			want:   "warehouse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t, tt.cfg, zerolog.Nop())
			svc, err := r.Resolve(tt.entity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.ID())
		})
	}
}

func TestRegistry_Resolve_NoDefaultIsConfigurationError(t *testing.T) {
	r := newTestRegistry(t, service.ResolutionConfig{}, zerolog.Nop())

	_, err := r.Resolve(shirt)

	var cfgErr *stock.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, shirt, cfgErr.Entity)
}

func TestRegistry_Resolve_UnknownDefaultIsConfigurationError(t *testing.T) {
	r := newTestRegistry(t, service.ResolutionConfig{DefaultService: "gone"}, zerolog.Nop())

	_, err := r.Resolve(shirt)
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

func TestRegistry_Resolve_UnknownOverrideIsConfigurationError(t *testing.T) {
	r := newTestRegistry(t, service.ResolutionConfig{
		DefaultService: "warehouse",
		Overrides:      map[string]string{"product_variation": "gone"},
	}, zerolog.Nop())

	_, err := r.Resolve(shirt)
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

func TestRegistry_Resolve_FirstRegisteredFallbackIsExplicitAndLogged(t *testing.T) {
	// GIVEN: a missing default with the first-registered fallback enabled
	// WHEN: resolving
	// THEN: the first registered service answers and a warning is logged

	var buf bytes.Buffer
	r := newTestRegistry(t, service.ResolutionConfig{
		DefaultService:               "gone",
		AllowFirstRegisteredFallback: true,
	}, zerolog.New(&buf))

	svc, err := r.Resolve(shirt)
	require.NoError(t, err)
	assert.Equal(t, "first", svc.ID())
	assert.Contains(t, buf.String(), "falling back to first registered")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestRegistry_Resolve_EmptyRegistry(t *testing.T) {
	r := service.NewRegistry(service.ResolutionConfig{AllowFirstRegisteredFallback: true}, zerolog.Nop())

	_, err := r.Resolve(shirt)
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t, service.ResolutionConfig{}, zerolog.Nop())

	err := r.Register(newNamed("first", 9))
	assert.ErrorIs(t, err, stock.ErrInvalidInput)
}

func TestRegistry_ListAndGet(t *testing.T) {
	r := newTestRegistry(t, service.ResolutionConfig{DefaultService: "warehouse"}, zerolog.Nop())

	var ids []string
	for _, s := range r.List() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"first", "warehouse", "digital"}, ids)

	infos := r.Infos()
	require.Len(t, infos, 3)
	assert.True(t, infos[1].Default)
	assert.False(t, infos[0].Default)

	svc, err := r.Get("digital")
	require.NoError(t, err)
	assert.Equal(t, "digital", svc.ID())

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, stock.ErrServiceNotFound)
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestRegistry_Availability_DelegatesToResolvedService(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, service.ResolutionConfig{DefaultService: "digital"}, zerolog.Nop())

	av, err := r.Availability(ctx, shirt, stock.Context{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "digital", av.ServiceID)
	assert.True(t, av.Level.Equal(decimal.NewFromInt(3)))
	assert.True(t, av.InStock)
	assert.True(t, av.AlwaysInStock)
}

func TestRegistry_TransactionLocation_NoneIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, service.ResolutionConfig{DefaultService: "digital"}, zerolog.Nop())

	_, err := r.TransactionLocation(ctx, shirt, stock.Context{}, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}
