package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the vela backtesting platform.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Logging Logging      `yaml:"logging"`
	Engine  EngineConfig `yaml:"engine"`
}

// Storage holds paths for datasets, the price cache, and run persistence.
type Storage struct {
	DatasetDir   string `yaml:"dataset_dir"`   // bundled OHLCV CSVs
	SentimentDir string `yaml:"sentiment_dir"` // cached sentiment CSVs
	CacheDir     string `yaml:"cache_dir"`     // compressed price cache
	SQLitePath   string `yaml:"sqlite_path"`   // run store database
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials for the remote market-data tier. Leave empty to
// run with bundled datasets and cache only.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig defines simulation defaults applied when a run request does
// not override them.
type EngineConfig struct {
	InitialCapital   float64 `yaml:"initial_capital"`
	SlippageBPS      float64 `yaml:"slippage_bps"`
	Commission       float64 `yaml:"commission"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	BuyThreshold     float64 `yaml:"buy_threshold"`
	SellThreshold    float64 `yaml:"sell_threshold"`
	BenchmarkTicker  string  `yaml:"benchmark_ticker"`
	RiskFreeRate     float64 `yaml:"risk_free_rate"`
	FetchWorkers     int     `yaml:"fetch_workers"`      // concurrent ticker prefetches
	FetchMaxAttempts int     `yaml:"fetch_max_attempts"` // remote retry budget
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns a Config with all defaults applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DatasetDir == "" {
		cfg.Storage.DatasetDir = "datasets/prices"
	}
	if cfg.Storage.SentimentDir == "" {
		cfg.Storage.SentimentDir = "datasets/sentiment"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = "data/cache"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/vela.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Engine.InitialCapital == 0 {
		cfg.Engine.InitialCapital = 100000
	}
	if cfg.Engine.SlippageBPS == 0 {
		cfg.Engine.SlippageBPS = 5
	}
	if cfg.Engine.MaxOpenPositions == 0 {
		cfg.Engine.MaxOpenPositions = 20
	}
	if cfg.Engine.BuyThreshold == 0 {
		cfg.Engine.BuyThreshold = 0.10
	}
	if cfg.Engine.SellThreshold == 0 {
		cfg.Engine.SellThreshold = 0.10
	}
	if cfg.Engine.BenchmarkTicker == "" {
		cfg.Engine.BenchmarkTicker = "SPY"
	}
	if cfg.Engine.FetchWorkers == 0 {
		cfg.Engine.FetchWorkers = 8
	}
	if cfg.Engine.FetchMaxAttempts == 0 {
		cfg.Engine.FetchMaxAttempts = 3
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VELA_DATASET_DIR"); v != "" {
		cfg.Storage.DatasetDir = v
	}
	if v := os.Getenv("VELA_SENTIMENT_DIR"); v != "" {
		cfg.Storage.SentimentDir = v
	}
	if v := os.Getenv("VELA_CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	if v := os.Getenv("VELA_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("VELA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
