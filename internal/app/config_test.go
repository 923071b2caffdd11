package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoad() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "PRICING",
		SkipFlags: true,
		SkipFiles: true,
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PRICING_DATABASE_URL", "postgres://pricing@localhost/pricing")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, 15*time.Minute, cfg.Ledger.CheckoutTTL)
	assert.Equal(t, 30*time.Second, cfg.Ledger.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.OfferCache.TTL)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.Equal(t, 3*time.Second, cfg.Graceful.ReadinessDelay)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PRICING_STORAGE", "memory")
	t.Setenv("PRICING_CATALOG", "offers.yaml,seasonal.yaml.gz")
	t.Setenv("PRICING_LEDGER_CHECKOUT_TTL", "5m")
	t.Setenv("PRICING_OFFER_CACHE_TTL", "0s")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, []string{"offers.yaml", "seasonal.yaml.gz"}, cfg.Catalog)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.CheckoutTTL)
	assert.Zero(t, cfg.OfferCache.TTL)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg, err := testLoad()
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "NoDatabase", want: "database URL is required"},
		{name: "MemoryWithoutCatalog", env: map[string]string{"PRICING_STORAGE": "memory"}, want: "catalog"},
		{name: "UnknownStorage", env: map[string]string{"PRICING_STORAGE": "redis"}, want: `unknown storage "redis"`},
		{
			name: "ZeroTTL",
			env:  map[string]string{"PRICING_DATABASE_URL": "postgres://x", "PRICING_LEDGER_CHECKOUT_TTL": "0s"},
			want: "checkout TTL",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := testLoad()
			require.ErrorContains(t, err, tt.want)
		})
	}
}
