package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
api:
  base_url: "https://testnet.bitmex.com/api/v1"
trading:
  symbol: "XBTUSD"
  dry_run: true
  order_pairs: 6
  order_start_size: 100
  order_step_size: 100
  interval: "0.005"
  relist_interval: "0.01"
logging:
  level: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "XBTUSD", cfg.Trading.Symbol)
	assert.True(t, cfg.Trading.Interval.Equal(decimal.NewFromFloat(0.005)))

	// Defaults fill the gaps.
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Trading.LoopInterval)
	assert.Equal(t, "mm_liqbot_", cfg.Trading.OrderIDPrefix)
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("LIQUIDBOT_API_KEY", "env-key")
	t.Setenv("LIQUIDBOT_API_SECRET", "env-secret")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, "env-secret", cfg.API.Secret)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "https://testnet.bitmex.com/api/v1"
	cfg.Trading.Symbol = "XBTUSD"
	cfg.Trading.DryRun = true
	cfg.Trading.OrderIDPrefix = "mm_liqbot_"
	cfg.Trading.OrderPairs = 6
	cfg.Trading.OrderStartSize = 100
	cfg.Trading.Interval = decimal.NewFromFloat(0.005)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfig_ValidatePrefixLength(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.OrderIDPrefix = "mm_liqbot_toolong"

	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateLiveNeedsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.DryRun = false

	assert.Error(t, cfg.Validate())

	cfg.API.Key = "key"
	assert.NoError(t, cfg.Validate())

	cfg.API.Key = ""
	cfg.API.Email = "bot@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidatePositionLimits(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.CheckPositionLimits = true
	cfg.Trading.MinPosition = 100
	cfg.Trading.MaxPosition = 100

	assert.Error(t, cfg.Validate())

	cfg.Trading.MinPosition = -100
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.OrderPairs = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Trading.Interval = decimal.Zero
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.API.BaseURL = "testnet.bitmex.com"
	assert.Error(t, cfg.Validate())
}
