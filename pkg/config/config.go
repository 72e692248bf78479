package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Ingest struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"ingest"`

	Components struct {
		ChatAutoDJ     bool `yaml:"chat_auto_dj"`
		VIPAudio       bool `yaml:"vip_audio"`
		CommandParser  bool `yaml:"command_parser"`
		CustomActions  bool `yaml:"custom_actions"`
		OBSIntegration bool `yaml:"obs_integration"`
	} `yaml:"components"`

	Commands struct {
		Symbol string `yaml:"symbol"`
		File   string `yaml:"file"`
	} `yaml:"commands"`

	Costs struct {
		Song int `yaml:"song"`
		Skip int `yaml:"skip"`
	} `yaml:"costs"`

	Cooldowns struct {
		VIPAudio     time.Duration `yaml:"vip_audio"`
		Command      time.Duration `yaml:"command"`
		CustomAction time.Duration `yaml:"custom_action"`
	} `yaml:"cooldowns"`

	Dispatch struct {
		Workers          int           `yaml:"workers"`
		CallTimeout      time.Duration `yaml:"call_timeout"`
		PendingQueueMax  int           `yaml:"pending_queue_max"` // 0 = unbounded
		UserRefresh      time.Duration `yaml:"user_refresh"`
		SongCacheTTL     time.Duration `yaml:"song_cache_ttl"`
	} `yaml:"dispatch"`

	Music struct {
		Market            string        `yaml:"market"`
		BaseURL           string        `yaml:"base_url"`
		APIToken          string        `yaml:"api_token"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"music"`

	OBS struct {
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"obs"`

	Audio struct {
		Directory string `yaml:"directory"`
		Player    string `yaml:"player"`
	} `yaml:"audio"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Ingest
	if c.Ingest.Address == "" {
		return fmt.Errorf("ingest.address must not be empty")
	}
	if c.Ingest.PingInterval <= 0 {
		return fmt.Errorf("ingest.ping_interval must be > 0")
	}
	if c.Ingest.PongTimeout <= 0 {
		return fmt.Errorf("ingest.pong_timeout must be > 0")
	}

	// Commands
	if c.Components.CommandParser && c.Commands.Symbol == "" {
		return fmt.Errorf("commands.symbol must not be empty when command_parser is enabled")
	}

	// Costs
	if c.Components.ChatAutoDJ {
		if c.Costs.Song <= 0 {
			return fmt.Errorf("costs.song must be > 0 when chat_auto_dj is enabled")
		}
		if c.Costs.Skip <= 0 {
			return fmt.Errorf("costs.skip must be > 0 when chat_auto_dj is enabled")
		}
		if c.Music.Market == "" {
			return fmt.Errorf("music.market must not be empty when chat_auto_dj is enabled")
		}
		if c.Music.BaseURL == "" {
			return fmt.Errorf("music.base_url must not be empty when chat_auto_dj is enabled")
		}
		if c.Music.Timeout <= 0 {
			return fmt.Errorf("music.timeout must be > 0 when chat_auto_dj is enabled")
		}
	}

	// OBS
	if c.Components.OBSIntegration && c.OBS.Address == "" {
		return fmt.Errorf("obs.address must not be empty when obs_integration is enabled")
	}

	// Cooldowns
	if c.Components.VIPAudio && c.Cooldowns.VIPAudio <= 0 {
		return fmt.Errorf("cooldowns.vip_audio must be > 0 when vip_audio is enabled")
	}

	// Dispatch
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be > 0")
	}
	if c.Dispatch.CallTimeout <= 0 {
		return fmt.Errorf("dispatch.call_timeout must be > 0")
	}
	if c.Dispatch.PendingQueueMax < 0 {
		return fmt.Errorf("dispatch.pending_queue_max must be >= 0")
	}
	if c.Dispatch.UserRefresh <= 0 {
		return fmt.Errorf("dispatch.user_refresh must be > 0")
	}
	if c.Dispatch.SongCacheTTL <= 0 {
		return fmt.Errorf("dispatch.song_cache_ttl must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Ingest.Address = ":8081"
	cfg.Ingest.PingInterval = 30 * time.Second
	cfg.Ingest.PongTimeout = 60 * time.Second
	cfg.Ingest.ShutdownTimeout = 30 * time.Second

	cfg.Components.ChatAutoDJ = true
	cfg.Components.VIPAudio = true
	cfg.Components.CommandParser = true
	cfg.Components.CustomActions = false
	cfg.Components.OBSIntegration = false

	cfg.Commands.Symbol = "!"
	cfg.Commands.File = "commands.yaml"

	cfg.Costs.Song = 100
	cfg.Costs.Skip = 250

	cfg.Cooldowns.VIPAudio = time.Hour
	cfg.Cooldowns.Command = 5 * time.Second
	cfg.Cooldowns.CustomAction = time.Minute

	cfg.Dispatch.Workers = 8
	cfg.Dispatch.CallTimeout = 10 * time.Second
	cfg.Dispatch.PendingQueueMax = 0
	cfg.Dispatch.UserRefresh = 300 * time.Second
	cfg.Dispatch.SongCacheTTL = 24 * time.Hour

	cfg.Music.Market = "US"
	cfg.Music.BaseURL = "http://localhost:8123"
	cfg.Music.Timeout = 10 * time.Second
	cfg.Music.RequestsPerSecond = 5
	cfg.Music.Burst = 10

	cfg.OBS.Address = "ws://localhost:4455"
	cfg.OBS.Timeout = 5 * time.Second

	cfg.Audio.Directory = "audio"
	cfg.Audio.Player = "mpv"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "tipwire:events"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if addr := os.Getenv("TIPWIRE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("TIPWIRE_INGEST_ADDRESS"); addr != "" {
		c.Ingest.Address = addr
	}
	if level := os.Getenv("TIPWIRE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TIPWIRE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("TIPWIRE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if token := os.Getenv("TIPWIRE_MUSIC_API_TOKEN"); token != "" {
		c.Music.APIToken = token
	}
	if pass := os.Getenv("TIPWIRE_OBS_PASSWORD"); pass != "" {
		c.OBS.Password = pass
	}
}
