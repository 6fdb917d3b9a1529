// Package config loads server settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// GUESTSYNC_REDIS_ADDR for redis.addr.
const EnvPrefix = "GUESTSYNC"

// Persistence backends.
const (
	PersistenceHTTP   = "http"
	PersistenceSQLite = "sqlite"
)

// Claim registry backends.
const (
	ClaimsMemory = "memory"
	ClaimsRedis  = "redis"
)

// Config holds all server settings.
type Config struct {
	Port        int               `mapstructure:"port"`
	Log         LogConfig         `mapstructure:"log"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Claims      ClaimsConfig      `mapstructure:"claims"`
	Redis       RedisConfig       `mapstructure:"redis"`
	CORS        CORSConfig        `mapstructure:"cors"`
	WS          WSConfig          `mapstructure:"ws"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PersistenceConfig selects where accepted guest updates are stored.
type PersistenceConfig struct {
	Backend    string        `mapstructure:"backend"`
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SQLitePath string        `mapstructure:"sqlite_path"`
}

// ClaimsConfig selects the claim registry.
type ClaimsConfig struct {
	Backend string `mapstructure:"backend"`
	// ReleaseOnFailure rolls a claim back when its store call fails.
	ReleaseOnFailure bool `mapstructure:"release_on_failure"`
}

// RedisConfig is used when claims.backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CORSConfig lists the browser origins allowed to call the server.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	MaxConns    int           `mapstructure:"max_conns"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: 3000,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Persistence: PersistenceConfig{
			Backend:    PersistenceHTTP,
			Endpoint:   "https://app-friends.quisqui.com/api/user/group/guests/updateGuest",
			SQLitePath: "data/guests.db",
		},
		Claims: ClaimsConfig{
			Backend:          ClaimsMemory,
			ReleaseOnFailure: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"https://app-friend.netlify.app", "http://localhost:3000"},
		},
		WS: WSConfig{
			RateLimit:  30,
			RateWindow: 10 * time.Second,
		},
	}
}

// SetDefaults registers default values and environment bindings with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("port", d.Port)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("persistence.backend", d.Persistence.Backend)
	v.SetDefault("persistence.endpoint", d.Persistence.Endpoint)
	v.SetDefault("persistence.timeout", d.Persistence.Timeout)
	v.SetDefault("persistence.sqlite_path", d.Persistence.SQLitePath)

	v.SetDefault("claims.backend", d.Claims.Backend)
	v.SetDefault("claims.release_on_failure", d.Claims.ReleaseOnFailure)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)

	v.SetDefault("ws.max_conns", d.WS.MaxConns)
	v.SetDefault("ws.idle_timeout", d.WS.IdleTimeout)
	v.SetDefault("ws.rate_limit", d.WS.RateLimit)
	v.SetDefault("ws.rate_window", d.WS.RateWindow)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Hosting platforms set a bare PORT.
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
}

// Load reads the configuration from v into a Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// splitList flattens comma-separated entries, which is how a list arrives
// from an environment variable.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ReadFile loads path into v. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("guestsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/guestsync")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
