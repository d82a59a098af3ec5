// Package config loads client settings from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config describes how to reach the store and how the client behaves.
type Config struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Protocol int      `yaml:"protocol"`
	PoolSize int      `yaml:"pool_size"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ScriptDir holds the scripts to register; empty selects the bundled
	// ones.
	ScriptDir string `yaml:"script_dir"`
	// NativeZPop forces the sorted-set pop strategy; nil detects it.
	NativeZPop *bool     `yaml:"native_zpop"`
	TypeCache  TypeCache `yaml:"type_cache"`
	LogLevel   string    `yaml:"log_level"`
}

// TypeCache configures the key type hint cache. Size 0 disables it.
type TypeCache struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// Default returns a single local node configuration. Reads never time out
// on their own so blocking commands end only with the caller's context.
func Default() Config {
	return Config{
		Addrs:        []string{"localhost:6379"},
		Protocol:     2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  -1,
		WriteTimeout: 3 * time.Second,
		TypeCache:    TypeCache{TTL: time.Minute},
		LogLevel:     "info",
	}
}

// Load reads and validates a YAML file on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Addrs) == 0 {
		return errs.Invalidf("config: at least one address is required")
	}
	for _, a := range c.Addrs {
		if strings.TrimSpace(a) == "" {
			return errs.Invalidf("config: empty address")
		}
	}
	if c.Protocol != 2 && c.Protocol != 3 {
		return errs.Invalidf("config: protocol must be 2 or 3, got %d", c.Protocol)
	}
	if c.DB < 0 {
		return errs.Invalidf("config: negative db %d", c.DB)
	}
	if c.PoolSize < 0 {
		return errs.Invalidf("config: negative pool_size %d", c.PoolSize)
	}
	if c.TypeCache.Size < 0 {
		return errs.Invalidf("config: negative type_cache.size %d", c.TypeCache.Size)
	}
	if c.TypeCache.Size > 0 && c.TypeCache.TTL <= 0 {
		return errs.Invalidf("config: type_cache.ttl must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// UniversalOptions maps the configuration onto go-redis options. Failed
// commands are never re-sent.
func (c Config) UniversalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:                 append([]string(nil), c.Addrs...),
		Username:              c.Username,
		Password:              c.Password,
		DB:                    c.DB,
		Protocol:              c.Protocol,
		PoolSize:              c.PoolSize,
		DialTimeout:           c.DialTimeout,
		ReadTimeout:           c.ReadTimeout,
		WriteTimeout:          c.WriteTimeout,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
		DisableIdentity:       true,
	}
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, errs.Invalidf("config: log_level %q", s)
	}
	return l, nil
}
