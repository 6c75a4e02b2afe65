package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSyncIntervalSeconds = 300
	DefaultPresenceTTLSeconds  = 900
)

type Config struct {
	Port                  string `yaml:"port"`
	AllowedOrigin         string `yaml:"allowed_origin"`
	DatabasePath          string `yaml:"database_path"`
	DBMaxOpenConns        int    `yaml:"db_max_open_conns"`
	DBMaxIdleConns        int    `yaml:"db_max_idle_conns"`
	AuthSecret            string `yaml:"auth_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	ManagerPIN            string `yaml:"manager_pin"`
	SyncIntervalSeconds   int    `yaml:"sync_interval_seconds"`
	SyncAutostart         bool   `yaml:"sync_autostart"`
	DeviceID              string `yaml:"device_id"`
	DeviceName            string `yaml:"device_name"`
	LogLevel              string `yaml:"log_level"`
	LogFormat             string `yaml:"log_format"`

	RelayPort          string `yaml:"relay_port"`
	RelayDatabaseURL   string `yaml:"relay_database_url"`
	RedisAddr          string `yaml:"redis_addr"`
	RedisPassword      string `yaml:"redis_password"`
	RedisDB            int    `yaml:"redis_db"`
	PresenceTTLSeconds int    `yaml:"presence_ttl_seconds"`
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "http://127.0.0.1:3000",
		DBMaxOpenConns:        4,
		DBMaxIdleConns:        2,
		AccessTokenTTLMinutes: 480,
		SyncIntervalSeconds:   DefaultSyncIntervalSeconds,
		LogLevel:              "info",
		LogFormat:             "console",
		RelayPort:             "8090",
		PresenceTTLSeconds:    DefaultPresenceTTLSeconds,
	}
}

// Load reads the configuration from the environment only.
func Load() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads a YAML file and then applies environment overrides. An
// empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns)
	cfg.AuthSecret = strings.TrimSpace(getEnv("AUTH_SECRET", cfg.AuthSecret))
	cfg.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes)
	cfg.ManagerPIN = strings.TrimSpace(getEnv("MANAGER_PIN", cfg.ManagerPIN))
	cfg.SyncIntervalSeconds = getEnvInt("SYNC_INTERVAL_SECONDS", cfg.SyncIntervalSeconds)
	cfg.SyncAutostart = getEnvBool("SYNC_AUTOSTART", cfg.SyncAutostart)
	cfg.DeviceID = getEnv("DEVICE_ID", cfg.DeviceID)
	cfg.DeviceName = getEnv("DEVICE_NAME", cfg.DeviceName)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.RelayPort = getEnv("RELAY_PORT", cfg.RelayPort)
	cfg.RelayDatabaseURL = getEnv("RELAY_DATABASE_URL", cfg.RelayDatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.PresenceTTLSeconds = getEnvInt("PRESENCE_TTL_SECONDS", cfg.PresenceTTLSeconds)
	cfg.normalize()
}

// normalize restores defaults for numeric values that are out of range.
func (c *Config) normalize() {
	d := defaults()
	if c.AccessTokenTTLMinutes < 1 {
		c.AccessTokenTTLMinutes = d.AccessTokenTTLMinutes
	}
	if c.SyncIntervalSeconds < 1 {
		c.SyncIntervalSeconds = d.SyncIntervalSeconds
	}
	if c.PresenceTTLSeconds < 1 {
		c.PresenceTTLSeconds = d.PresenceTTLSeconds
	}
	if c.DBMaxOpenConns < 1 {
		c.DBMaxOpenConns = d.DBMaxOpenConns
	}
	if c.DBMaxIdleConns < 1 {
		c.DBMaxIdleConns = d.DBMaxIdleConns
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) RelayAddress() string {
	return fmt.Sprintf(":%s", c.RelayPort)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c Config) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func getEnvBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
