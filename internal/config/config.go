// Package config loads runtime settings from defaults, an optional YAML file,
// ARMORY_* environment variables and command-line flags, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"armory-planner/internal/archive"
)

// EnvPrefix prefixes every environment override, e.g. ARMORY_SERVER_ADDR.
const EnvPrefix = "ARMORY"

// Config is the full runtime configuration.
type Config struct {
	// Catalog is a cost catalog file; empty uses the built-in tables.
	Catalog  string           `mapstructure:"catalog"`
	Log      Log              `mapstructure:"log"`
	Server   Server           `mapstructure:"server"`
	History  History          `mapstructure:"history"`
	Defaults archive.Defaults `mapstructure:"defaults"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Server struct {
	Addr         string        `mapstructure:"addr"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	Burst        int           `mapstructure:"burst"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"` // 0 disables the result cache
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type History struct {
	// Path of the SQLite run archive; empty disables recording.
	Path string `mapstructure:"path"`
}

// flagKeys maps flag names to config keys. Only flags present in the set
// passed to Load are bound.
var flagKeys = map[string]string{
	"catalog":         "catalog",
	"log-level":       "log.level",
	"log-development": "log.development",
	"addr":            "server.addr",
	"rate-limit":      "server.rate_limit",
	"burst":           "server.burst",
	"cache-ttl":       "server.cache_ttl",
	"history":         "history.path",
	"weapon-lead":     "defaults.weapon_lead",
	"jade-lead":       "defaults.jade_lead",
	"jade-percent":    "defaults.jade_percent",
	"enforce-ratio":   "defaults.enforce_ratio",
}

func setDefaults(v *viper.Viper) {
	d := archive.StandardDefaults()
	v.SetDefault("catalog", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.cache_ttl", 10*time.Minute)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("history.path", "")
	v.SetDefault("defaults.weapon_lead", d.WeaponLead)
	v.SetDefault("defaults.jade_lead", d.JadeLead)
	v.SetDefault("defaults.jade_percent", d.JadePercent)
	v.SetDefault("defaults.enforce_ratio", d.EnforceRatio)
}

// Load resolves the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.burst must be at least 1 when rate limiting"))
	}
	if c.Server.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("server.cache_ttl must not be negative"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive"))
	}
	if c.Defaults.WeaponLead < 0 || c.Defaults.JadeLead < 0 {
		errs = append(errs, fmt.Errorf("defaults leads must not be negative"))
	}
	if c.Defaults.JadePercent < 0 {
		errs = append(errs, fmt.Errorf("defaults.jade_percent must not be negative"))
	}
	return errors.Join(errs...)
}
