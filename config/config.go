package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stocklive StockliveConfig `yaml:"stocklive"`
	KIS       KISConfig       `yaml:"kis"`
	Naver     NaverConfig     `yaml:"naver"`
	Trend     TrendConfig     `yaml:"trend"`
	Cache     CacheConfig     `yaml:"cache"`
	Universe  UniverseConfig  `yaml:"universe"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StockliveConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// KISConfig holds credentials and endpoints for the KIS open API. AppKey and
// AppSecret are normally injected through KIS_APP_KEY / KIS_APP_SECRET rather
// than written into the file.
type KISConfig struct {
	BaseURL        string        `yaml:"base_url"`
	AppKey         string        `yaml:"app_key"`
	AppSecret      string        `yaml:"app_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type NaverConfig struct {
	PollingURL     string        `yaml:"polling_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type TrendConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type CacheConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	OpTimeout   time.Duration `yaml:"op_timeout"`
}

type UniverseConfig struct {
	StocksPath string `yaml:"stocks_path"`
	ThemesPath string `yaml:"themes_path"`
}

type RefreshConfig struct {
	ChunkSize          int           `yaml:"chunk_size"`
	ChunkDelay         time.Duration `yaml:"chunk_delay"`
	TopN               int           `yaml:"top_n"`
	RankingsInterval   time.Duration `yaml:"rankings_interval"`
	ThemeInterval      time.Duration `yaml:"theme_interval"`
	IndicatorsInterval time.Duration `yaml:"indicators_interval"`
	TrendInterval      time.Duration `yaml:"trend_interval"`
	TrendMinEntries    int           `yaml:"trend_min_entries"`
	MarketOpen         string        `yaml:"market_open"`
	MarketClose        string        `yaml:"market_close"`
	Timezone           string        `yaml:"timezone"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ResourceHistory int           `yaml:"resource_history"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	path = ResolveConfigPath(path)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		KIS: KISConfig{
			BaseURL:        "https://openapi.koreainvestment.com:9443",
			RequestTimeout: 10 * time.Second,
		},
		Naver: NaverConfig{
			PollingURL:     "https://polling.finance.naver.com/api/realtime",
			RequestTimeout: 5 * time.Second,
		},
		Trend: TrendConfig{
			RequestTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			DialTimeout: 5 * time.Second,
			OpTimeout:   2 * time.Second,
		},
		Refresh: RefreshConfig{
			ChunkSize:          10,
			ChunkDelay:         250 * time.Millisecond,
			TopN:               50,
			RankingsInterval:   10 * time.Minute,
			ThemeInterval:      5 * time.Minute,
			IndicatorsInterval: 10 * time.Minute,
			TrendInterval:      5 * time.Minute,
			TrendMinEntries:    50,
			MarketOpen:         "08:50",
			MarketClose:        "16:00",
			Timezone:           "Asia/Seoul",
		},
		Server: ServerConfig{
			Enabled:         true,
			Address:         ":4000",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override secrets from environment variables if available
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		config.KIS.AppKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		config.KIS.AppSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("KIS_BASE_URL"); v != "" {
		config.KIS.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Cache.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Cache.Password = strings.TrimSpace(v)
	}

	config.KIS.BaseURL = strings.TrimRight(strings.TrimSpace(config.KIS.BaseURL), "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Stocklive.Name == "" {
		return fmt.Errorf("stocklive.name is required")
	}
	if cfg.KIS.BaseURL == "" {
		return fmt.Errorf("kis.base_url is required")
	}
	if cfg.KIS.RequestTimeout <= 0 {
		return fmt.Errorf("kis.request_timeout must be positive")
	}
	if cfg.Universe.StocksPath == "" {
		return fmt.Errorf("universe.stocks_path is required")
	}
	if cfg.Refresh.ChunkSize <= 0 {
		return fmt.Errorf("refresh.chunk_size must be positive")
	}
	if cfg.Refresh.ChunkDelay < 0 {
		return fmt.Errorf("refresh.chunk_delay cannot be negative")
	}
	if cfg.Refresh.TopN <= 0 {
		return fmt.Errorf("refresh.top_n must be positive")
	}
	if cfg.Refresh.TrendMinEntries < 0 {
		return fmt.Errorf("refresh.trend_min_entries cannot be negative")
	}
	if _, err := time.LoadLocation(cfg.Refresh.Timezone); err != nil {
		return fmt.Errorf("refresh.timezone is invalid: %w", err)
	}
	if err := validateClock(cfg.Refresh.MarketOpen); err != nil {
		return fmt.Errorf("refresh.market_open: %w", err)
	}
	if err := validateClock(cfg.Refresh.MarketClose); err != nil {
		return fmt.Errorf("refresh.market_close: %w", err)
	}
	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required when the server is enabled")
	}
	return nil
}

func validateClock(v string) error {
	if _, err := time.Parse("15:04", v); err != nil {
		return fmt.Errorf("expected HH:MM, got %q", v)
	}
	return nil
}

// HasKISCredentials reports whether the brokerage credentials are present.
// Missing credentials disable the KIS-backed lanes instead of failing startup.
func (c *KISConfig) HasKISCredentials() bool {
	return c.AppKey != "" && c.AppSecret != ""
}
