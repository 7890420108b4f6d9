package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the killwatch service.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Engine struct {
		// Workers is the number of concurrent match workers.
		Workers int `mapstructure:"workers"`
		// ResyncInterval re-reads the profile store into the engine; zero
		// disables polling and relies on the API push path only.
		ResyncInterval time.Duration `mapstructure:"resync_interval"`
	} `mapstructure:"engine"`

	Cache struct {
		Enabled bool          `mapstructure:"enabled"`
		Size    int           `mapstructure:"size"`
		TTL     time.Duration `mapstructure:"ttl"`
		Redis   struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Ingest struct {
		RedisQ struct {
			Enabled        bool    `mapstructure:"enabled"`
			URL            string  `mapstructure:"url"`
			QueueID        string  `mapstructure:"queue_id"`
			RequestsPerSec float64 `mapstructure:"requests_per_sec"`
			Burst          int     `mapstructure:"burst"`
		} `mapstructure:"redisq"`
		Websocket struct {
			Enabled bool   `mapstructure:"enabled"`
			URL     string `mapstructure:"url"`
			Channel string `mapstructure:"channel"`
		} `mapstructure:"websocket"`
		Buffer int `mapstructure:"buffer"`
	} `mapstructure:"ingest"`

	Notify struct {
		QueueSize int           `mapstructure:"queue_size"`
		Workers   int           `mapstructure:"workers"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notify"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"api"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig reads configuration from the given file (optional) plus
// KILLWATCH_-prefixed environment variables, applies defaults, and validates.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KILLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("sqlite.path", "") // derived from data_dir when empty

	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.resync_interval", 5*time.Minute)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)

	v.SetDefault("ingest.redisq.enabled", true)
	v.SetDefault("ingest.redisq.url", "https://zkillredisq.stream/listen.php")
	v.SetDefault("ingest.redisq.requests_per_sec", 1.0)
	v.SetDefault("ingest.redisq.burst", 1)
	v.SetDefault("ingest.websocket.enabled", false)
	v.SetDefault("ingest.websocket.url", "wss://zkillboard.com/websocket/")
	v.SetDefault("ingest.websocket.channel", "killstream")
	v.SetDefault("ingest.buffer", 1024)

	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled, got %v", c.Cache.TTL)
	}
	if c.Cache.TTL > time.Hour {
		// Match correctness must track near-current profile state; an
		// hours-long TTL would serve matches computed against long-dead
		// profile versions.
		return fmt.Errorf("cache.ttl must be at most 1h, got %v", c.Cache.TTL)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be in (0, 65535], got %d", c.API.Port)
	}
	if c.Ingest.RedisQ.Enabled && c.Ingest.RedisQ.URL == "" {
		return fmt.Errorf("ingest.redisq.url cannot be empty when redisq is enabled")
	}
	if c.Ingest.Websocket.Enabled && c.Ingest.Websocket.URL == "" {
		return fmt.Errorf("ingest.websocket.url cannot be empty when websocket is enabled")
	}
	return nil
}

// SQLitePath returns the configured SQLite path, defaulting under DataDir.
func (c *Config) SQLitePath() string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return c.DataDir + "/killwatch.db"
}
