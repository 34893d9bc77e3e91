package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Sync       SyncConfig       `yaml:"sync"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	Admin      AdminConfig      `yaml:"admin"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ProxyConfig struct {
	Port int `yaml:"port"`
}

type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	TokenName      string `yaml:"token_name"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig holds the static strategy routing table. Each list entry is a
// URL path prefix; resolution picks the longest matching prefix across all
// four sets.
type CacheConfig struct {
	CacheFirst           []string `yaml:"cache_first"`
	NetworkFirst         []string `yaml:"network_first"`
	NetworkOnly          []string `yaml:"network_only"`
	StaleWhileRevalidate []string `yaml:"stale_while_revalidate"`

	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

type SyncConfig struct {
	BatchSize         int     `yaml:"batch_size"`
	IntervalSeconds   int     `yaml:"interval_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	SlowDownlinkMbps  float64 `yaml:"slow_downlink_mbps"`
	SettleDelayMillis int     `yaml:"settle_delay_millis"`
}

type ConflictConfig struct {
	// Strategy is one of client-wins, server-wins, merge, manual.
	Strategy string `yaml:"strategy"`
}

type AdminConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	RateLimit    RateLimit      `yaml:"rate_limit"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; ignore absence.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream base_url is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Conflict.Strategy {
	case "client-wins", "server-wins", "merge", "manual":
	default:
		return fmt.Errorf("unknown conflict strategy: %s", c.Conflict.Strategy)
	}

	return ValidateRoutes(c.Cache)
}

// ValidateRoutes rejects duplicate prefixes across the four strategy sets.
func ValidateRoutes(cache CacheConfig) error {
	seen := make(map[string]string)
	sets := map[string][]string{
		"cache_first":            cache.CacheFirst,
		"network_first":          cache.NetworkFirst,
		"network_only":           cache.NetworkOnly,
		"stale_while_revalidate": cache.StaleWhileRevalidate,
	}

	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, prefix := range sets[name] {
			if prefix == "" {
				return fmt.Errorf("%s contains an empty route prefix", name)
			}
			if prior, ok := seen[prefix]; ok {
				return fmt.Errorf("route prefix %q assigned to both %s and %s", prefix, prior, name)
			}
			seen[prefix] = name
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 8090
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.TokenName == "" {
		c.Upstream.TokenName = "default"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 10
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 30
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.SlowDownlinkMbps == 0 {
		c.Sync.SlowDownlinkMbps = 1.5
	}
	if c.Sync.SettleDelayMillis == 0 {
		c.Sync.SettleDelayMillis = 2000
	}

	if c.Conflict.Strategy == "" {
		c.Conflict.Strategy = "merge"
	}

	if c.Cache.SweepIntervalMinutes == 0 {
		c.Cache.SweepIntervalMinutes = 10
	}
	if len(c.Cache.NetworkOnly) == 0 {
		c.Cache.NetworkOnly = []string{"/api/auth/"}
	}

	if c.Admin.HeaderAPIKey == "" {
		c.Admin.HeaderAPIKey = "x-api-key"
	}
	if c.Admin.RateLimit.RPS == 0 {
		c.Admin.RateLimit.RPS = 10
	}
	if c.Admin.RateLimit.Burst == 0 {
		c.Admin.RateLimit.Burst = 20
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
}

// SyncInterval returns the periodic trigger interval as a duration.
func (c *SyncConfig) SyncInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SettleDelay returns the post-reconnect stabilization delay.
func (c *SyncConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}
