package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Symbols   []string        `mapstructure:"symbols" validate:"required,min=1,dive,required,uppercase,max=10"`
	Store     StoreConfig     `mapstructure:"store"`
	GEX       GEXConfig       `mapstructure:"gex"`
	Greeks    GreeksConfig    `mapstructure:"greeks"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type StoreConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=postgres file memory"`
	DSN       string `mapstructure:"dsn"`
	Directory string `mapstructure:"directory"`
	Date      string `mapstructure:"date"`
	Migrate   bool   `mapstructure:"migrate"`
}

type GEXConfig struct {
	ContractMultiplier   float64       `mapstructure:"contract_multiplier" validate:"gt=0"`
	MaxStaleness         time.Duration `mapstructure:"max_staleness" validate:"gte=0"`
	TimestampGranularity time.Duration `mapstructure:"timestamp_granularity" validate:"gt=0"`
	// Expiration is "today" or a YYYY-MM-DD date.
	Expiration         string  `mapstructure:"expiration"`
	Timezone           string  `mapstructure:"timezone" validate:"required"`
	NearMoneyBand      float64 `mapstructure:"near_money_band" validate:"gt=0,lt=1"`
	HorizonDays        float64 `mapstructure:"horizon_days" validate:"gt=0"`
	KeyLevelThresholdM float64 `mapstructure:"key_level_threshold_millions" validate:"gte=0"`
	Confidence         float64 `mapstructure:"confidence" validate:"gt=0,lt=1"`
}

type GreeksConfig struct {
	RiskFreeRate  float64 `mapstructure:"risk_free_rate"`
	DividendYield float64 `mapstructure:"dividend_yield"`
}

type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	MarketHoursOnly bool          `mapstructure:"market_hours_only"`
	OpenTime        string        `mapstructure:"open_time" validate:"datetime=15:04"`
	CloseTime       string        `mapstructure:"close_time" validate:"datetime=15:04"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Workers         int           `mapstructure:"workers" validate:"gte=1,lte=32"`
	StatsEvery      int           `mapstructure:"stats_every" validate:"gte=1"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port" validate:"required,numeric"`
	WSEnabled    bool          `mapstructure:"ws_enabled"`
	SSEEnabled   bool          `mapstructure:"sse_enabled"`
	SSEHeartbeat time.Duration `mapstructure:"sse_heartbeat" validate:"gte=0"`
}

type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("symbols", DefaultSymbols)
	v.SetDefault("store.backend", string(BackendPostgres))
	v.SetDefault("store.directory", "data")
	v.SetDefault("store.date", "latest")
	v.SetDefault("store.migrate", true)
	v.SetDefault("gex.contract_multiplier", 100)
	v.SetDefault("gex.max_staleness", "1h")
	v.SetDefault("gex.timestamp_granularity", "1m")
	v.SetDefault("gex.expiration", ExpirationToday)
	v.SetDefault("gex.timezone", "America/New_York")
	v.SetDefault("gex.near_money_band", 0.02)
	v.SetDefault("gex.horizon_days", 1)
	v.SetDefault("gex.key_level_threshold_millions", 50)
	v.SetDefault("gex.confidence", 0.68)
	v.SetDefault("greeks.risk_free_rate", 0.045)
	v.SetDefault("greeks.dividend_yield", 0.013)
	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.market_hours_only", true)
	v.SetDefault("scheduler.open_time", "09:30")
	v.SetDefault("scheduler.close_time", "16:00")
	v.SetDefault("scheduler.rate_per_second", 5)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.stats_every", 10)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.sse_enabled", true)
	v.SetDefault("server.sse_heartbeat", "15s")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	// Environment variable support
	v.SetEnvPrefix("ZEROGEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("store.dsn", "ZEROGEX_STORE_DSN", "DATABASE_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// ZEROGEX_SYMBOLS=SPY,QQQ arrives as one element
	if len(cfg.Symbols) == 1 && strings.Contains(cfg.Symbols[0], ",") {
		cfg.Symbols = strings.Split(cfg.Symbols[0], ",")
	}
	for i := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(cfg.Symbols[i]))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Location returns the configured market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.GEX.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExpirationDate resolves gex.expiration. The zero time means "today".
func (c *Config) ExpirationDate() (time.Time, error) {
	if c.GEX.Expiration == "" || c.GEX.Expiration == ExpirationToday {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.GEX.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid gex.expiration %q: %w", c.GEX.Expiration, err)
	}
	return t, nil
}
