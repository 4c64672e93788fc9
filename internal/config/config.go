package config

import (
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is the flat service configuration. Every key can be set in an
// optional config file and overridden by the upper-cased environment variable
// of the same name (cache_ttl_ms → CACHE_TTL_MS).
type Config struct {
    Port              string `mapstructure:"port"`
    RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
    LogLevel          string `mapstructure:"log_level"`

    CoinAPIBaseURL      string `mapstructure:"coin_api_base_url"`
    CoinAPIKey          string `mapstructure:"coin_api_key"`
    CoinAPIMaxPerMinute int    `mapstructure:"coin_api_max_per_minute"`
    CoinAPIBurst        int    `mapstructure:"coin_api_burst"`
    CacheTTLMs          int    `mapstructure:"cache_ttl_ms"`
    PollIntervalMs      int    `mapstructure:"poll_interval_ms"`

    MongoURI      string `mapstructure:"mongodb_uri"`
    MongoDatabase string `mapstructure:"mongodb_database"`

    TelegramBotToken     string  `mapstructure:"telegram_bot_token"`
    TelegramAPIBaseURL   string  `mapstructure:"telegram_api_base_url"`
    TelegramMaxPerSecond float64 `mapstructure:"telegram_max_per_second"`
    TelegramBurst        int     `mapstructure:"telegram_burst"`
}

func Default() Config {
    return Config{
        Port:                 "8080",
        RequestTimeoutSec:    10,
        LogLevel:             "info",
        CoinAPIBaseURL:       "https://api.coingecko.com/api/v3",
        CoinAPIMaxPerMinute:  30,
        CoinAPIBurst:         5,
        CacheTTLMs:           30_000,
        PollIntervalMs:       45_000,
        TelegramAPIBaseURL:   "https://api.telegram.org",
        TelegramMaxPerSecond: 25,
        TelegramBurst:        5,
    }
}

func defaults(v *viper.Viper) {
    d := Default()
    v.SetDefault("port", d.Port)
    v.SetDefault("request_timeout_sec", d.RequestTimeoutSec)
    v.SetDefault("log_level", d.LogLevel)
    v.SetDefault("coin_api_base_url", d.CoinAPIBaseURL)
    v.SetDefault("coin_api_key", "")
    v.SetDefault("coin_api_max_per_minute", d.CoinAPIMaxPerMinute)
    v.SetDefault("coin_api_burst", d.CoinAPIBurst)
    v.SetDefault("cache_ttl_ms", d.CacheTTLMs)
    v.SetDefault("poll_interval_ms", d.PollIntervalMs)
    v.SetDefault("mongodb_uri", "")
    v.SetDefault("mongodb_database", "")
    v.SetDefault("telegram_bot_token", "")
    v.SetDefault("telegram_api_base_url", d.TelegramAPIBaseURL)
    v.SetDefault("telegram_max_per_second", d.TelegramMaxPerSecond)
    v.SetDefault("telegram_burst", d.TelegramBurst)
}

// Load reads configuration from path (or CONFIG_FILE when path is empty),
// then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
    v := viper.New()
    defaults(v)
    v.AutomaticEnv()
    for _, k := range v.AllKeys() {
        _ = v.BindEnv(k, strings.ToUpper(k))
    }

    if path == "" { path = os.Getenv("CONFIG_FILE") }
    if path != "" {
        v.SetConfigFile(path)
        if err := v.ReadInConfig(); err != nil {
            if !errors.Is(err, os.ErrNotExist) {
                return Default(), fmt.Errorf("read config: %w", err)
            }
        }
    }

    var cfg Config
    if err := v.Unmarshal(&cfg); err != nil {
        return Default(), fmt.Errorf("parse config: %w", err)
    }
    cfg.normalize()
    return cfg, nil
}

// normalize replaces unusable values with defaults.
func (c *Config) normalize() {
    d := Default()
    if c.CacheTTLMs <= 0 { c.CacheTTLMs = d.CacheTTLMs }
    if c.PollIntervalMs <= 0 { c.PollIntervalMs = d.PollIntervalMs }
    if c.RequestTimeoutSec <= 0 { c.RequestTimeoutSec = d.RequestTimeoutSec }
    if strings.TrimSpace(c.Port) == "" { c.Port = d.Port }
    if strings.TrimSpace(c.CoinAPIBaseURL) == "" { c.CoinAPIBaseURL = d.CoinAPIBaseURL }
    if strings.TrimSpace(c.TelegramAPIBaseURL) == "" { c.TelegramAPIBaseURL = d.TelegramAPIBaseURL }
    if c.TelegramBurst <= 0 { c.TelegramBurst = d.TelegramBurst }
    c.MongoURI = strings.TrimSpace(c.MongoURI)
    c.TelegramBotToken = strings.TrimSpace(c.TelegramBotToken)
}

func (c Config) CacheTTL() time.Duration       { return time.Duration(c.CacheTTLMs) * time.Millisecond }
func (c Config) PollInterval() time.Duration   { return time.Duration(c.PollIntervalMs) * time.Millisecond }
func (c Config) RequestTimeout() time.Duration { return time.Duration(c.RequestTimeoutSec) * time.Second }
