package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/edisonibujes/CriptoIQ/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Onchain   OnchainConfig   `mapstructure:"onchain"`
	Alarms    AlarmsConfig    `mapstructure:"alarms"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Charts    ChartsConfig    `mapstructure:"charts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects and tunes the alarm store backend.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Jitter         time.Duration `mapstructure:"jitter"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	RunImmediately bool          `mapstructure:"run_immediately"`
}

// FetcherConfig tunes upstream market-data access.
type FetcherConfig struct {
	KlineEndpoints []string      `mapstructure:"kline_endpoints"`
	ChartEndpoints []string      `mapstructure:"chart_endpoints"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SeriesTTL      time.Duration `mapstructure:"series_ttl"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"`
	UserAgents     []string      `mapstructure:"user_agents"`
	Cache          CacheConfig   `mapstructure:"cache"`
}

// CacheConfig selects the fetch cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Retention     time.Duration `mapstructure:"retention"`
}

// ExchangeConfig covers exchange metadata.
type ExchangeConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	QuoteAsset  string            `mapstructure:"quote_asset"`
	DefaultTick float64           `mapstructure:"default_tick"`
	Aliases     map[string]string `mapstructure:"aliases"`
}

// OnchainConfig covers price feed access over Ethereum RPC.
type OnchainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAnswerAge   time.Duration `mapstructure:"max_answer_age"`
}

// AlarmsConfig holds evaluation constants.
type AlarmsConfig struct {
	EmaCooldown         time.Duration `mapstructure:"ema_cooldown"`
	VolumeInterval      string        `mapstructure:"volume_interval"`
	VolumeWindow        int           `mapstructure:"volume_window"`
	DefaultGreenVolume  float64       `mapstructure:"default_green_volume"`
	DefaultRedVolume    float64       `mapstructure:"default_red_volume"`
	RSIPeriod           int           `mapstructure:"rsi_period"`
	SwingWindow         int           `mapstructure:"swing_window"`
	DivergenceTolerance int           `mapstructure:"divergence_tolerance"`
	DefaultLookback     int           `mapstructure:"default_lookback"`
}

// TelegramConfig describes the chat transport.
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BotToken     string        `mapstructure:"bot_token"`
	APIEndpoint  string        `mapstructure:"api_endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  int           `mapstructure:"poll_timeout"`
}

// ChartsConfig sets PNG rendering behaviour.
type ChartsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Width   int  `mapstructure:"width"`
	Height  int  `mapstructure:"height"`
	Candles int  `mapstructure:"candles"`
}

// MetricsConfig sets the Prometheus listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRIPTOIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "criptoiq")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "alarmas.json")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 5)
	v.SetDefault("store.max_idle_conns", 1)
	v.SetDefault("store.conn_max_lifetime", "30m")
	v.SetDefault("store.advisory_lock_key", int64(0x43524951))

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.jitter", "10s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", true)

	v.SetDefault("fetcher.kline_endpoints", []string{
		"https://api.binance.com", "https://api1.binance.com", "https://api2.binance.com", "https://api3.binance.com",
	})
	v.SetDefault("fetcher.chart_endpoints", []string{
		"https://query1.finance.yahoo.com", "https://query2.finance.yahoo.com",
	})
	v.SetDefault("fetcher.max_attempts", 5)
	v.SetDefault("fetcher.base_delay", "1s")
	v.SetDefault("fetcher.rate_limit_delay", "4s")
	v.SetDefault("fetcher.max_delay", "1m")
	v.SetDefault("fetcher.request_timeout", "15s")
	v.SetDefault("fetcher.series_ttl", "15m")
	v.SetDefault("fetcher.quote_ttl", "15s")
	v.SetDefault("fetcher.user_agents", []string{})
	v.SetDefault("fetcher.cache.backend", "disk")
	v.SetDefault("fetcher.cache.dir", ".cache/series")
	v.SetDefault("fetcher.cache.retention", "24h")

	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("exchange.default_tick", 0.01)

	v.SetDefault("onchain.request_timeout", "10s")
	v.SetDefault("onchain.max_answer_age", "26h")

	v.SetDefault("alarms.ema_cooldown", "30s")
	v.SetDefault("alarms.volume_interval", "1h")
	v.SetDefault("alarms.volume_window", 10)
	v.SetDefault("alarms.default_green_volume", 30000.0)
	v.SetDefault("alarms.default_red_volume", 60000.0)
	v.SetDefault("alarms.rsi_period", 14)
	v.SetDefault("alarms.swing_window", 3)
	v.SetDefault("alarms.divergence_tolerance", 2)
	v.SetDefault("alarms.default_lookback", 60)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.poll_interval", "15s")
	v.SetDefault("telegram.poll_timeout", 0)

	v.SetDefault("charts.enabled", true)
	v.SetDefault("charts.width", 1280)
	v.SetDefault("charts.height", 720)
	v.SetDefault("charts.candles", 300)

	v.SetDefault("metrics.listen", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be file, sqlite or postgres")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Jitter < 0 {
		return fmt.Errorf("scheduler.jitter cannot be negative")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be greater than zero")
	}
	if c.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be greater than zero")
	}
	if len(c.Fetcher.KlineEndpoints) == 0 || len(c.Fetcher.ChartEndpoints) == 0 {
		return fmt.Errorf("fetcher endpoints cannot be empty")
	}
	switch c.Fetcher.Cache.Backend {
	case "disk":
		if c.Fetcher.Cache.Dir == "" {
			return fmt.Errorf("fetcher.cache.dir is required for the disk cache")
		}
	case "redis":
		if c.Fetcher.Cache.RedisAddr == "" {
			return fmt.Errorf("fetcher.cache.redis_addr is required for the redis cache")
		}
	case "none":
	default:
		return fmt.Errorf("fetcher.cache.backend must be disk, redis or none")
	}
	if c.Exchange.DefaultTick <= 0 {
		return fmt.Errorf("exchange.default_tick must be greater than zero")
	}
	if c.Alarms.VolumeWindow <= 0 {
		return fmt.Errorf("alarms.volume_window must be greater than zero")
	}
	if c.Alarms.RSIPeriod < 2 {
		return fmt.Errorf("alarms.rsi_period must be at least 2")
	}
	if c.Alarms.SwingWindow < 1 {
		return fmt.Errorf("alarms.swing_window must be at least 1")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	return nil
}
