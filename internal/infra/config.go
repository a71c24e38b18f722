package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// maxOrderIDPrefixLen is the exchange's limit on the clOrdID prefix.
const maxOrderIDPrefixLen = 13

// Config holds the complete process configuration. It is constructed once at
// startup, validated, and passed by reference into each component; nothing
// mutates it afterwards. Changing configuration means restarting the agent.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		BaseURL string `yaml:"base_url"`
		Key     string `yaml:"key"`
		Secret  string `yaml:"secret"`

		// Session-token auth, superseded by API keys but still supported.
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		OTPToken string `yaml:"otp_token"`

		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		RequestBurst      int           `yaml:"request_burst"`
	} `yaml:"api"`

	Trading struct {
		Symbol        string `yaml:"symbol"`
		OrderIDPrefix string `yaml:"orderid_prefix"`
		DryRun        bool   `yaml:"dry_run"`

		LoopInterval time.Duration `yaml:"loop_interval"`

		OrderPairs     int   `yaml:"order_pairs"`
		OrderStartSize int64 `yaml:"order_start_size"`
		OrderStepSize  int64 `yaml:"order_step_size"`

		// Interval is the spacing between successive rungs, as a fraction
		// (0.005 = 0.5%). MinSpread is the minimum bid/ask spread to
		// maintain; RelistInterval is the price drift that triggers an amend.
		Interval        decimal.Decimal `yaml:"interval"`
		MinSpread       decimal.Decimal `yaml:"min_spread"`
		RelistInterval  decimal.Decimal `yaml:"relist_interval"`
		MaintainSpreads bool            `yaml:"maintain_spreads"`

		CheckPositionLimits bool  `yaml:"check_position_limits"`
		MinPosition         int64 `yaml:"min_position"`
		MaxPosition         int64 `yaml:"max_position"`
	} `yaml:"trading"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 10 * time.Second
	}
	if cfg.API.RequestsPerSecond <= 0 {
		cfg.API.RequestsPerSecond = 2
	}
	if cfg.API.RequestBurst <= 0 {
		cfg.API.RequestBurst = 5
	}
	if cfg.Trading.LoopInterval <= 0 {
		cfg.Trading.LoopInterval = 5 * time.Second
	}
	if cfg.Trading.OrderIDPrefix == "" {
		cfg.Trading.OrderIDPrefix = "mm_liqbot_"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("invalid API base URL: %s", c.API.BaseURL)
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("a trading symbol is required")
	}
	if len(c.Trading.OrderIDPrefix) > maxOrderIDPrefixLen {
		return fmt.Errorf("orderid_prefix must be at most %d characters long", maxOrderIDPrefixLen)
	}
	if c.Trading.OrderPairs <= 0 {
		return fmt.Errorf("order_pairs must be positive")
	}
	if c.Trading.OrderStartSize <= 0 {
		return fmt.Errorf("order_start_size must be positive")
	}
	if c.Trading.Interval.Sign() <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Trading.RelistInterval.Sign() < 0 {
		return fmt.Errorf("relist_interval must not be negative")
	}
	if c.Trading.CheckPositionLimits && c.Trading.MinPosition >= c.Trading.MaxPosition {
		return fmt.Errorf("min_position must be below max_position")
	}
	if !c.Trading.DryRun && c.API.Key == "" && c.API.Email == "" {
		return fmt.Errorf("live trading requires an API key or login credentials")
	}
	return nil
}

// overrideWithEnv lets secrets come from the environment instead of disk.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("LIQUIDBOT_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("LIQUIDBOT_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("LIQUIDBOT_PASSWORD"); pass != "" {
		cfg.API.Password = pass
	}
}
