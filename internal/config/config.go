// Package config provides configuration management for the LacyLights outputs server.
//
// Values are resolved in three layers: built-in defaults, an optional TOML
// file named by CONFIG_FILE, and finally environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration values for the server.
type Config struct {
	// Server configuration
	Port     string `toml:"port"`
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`

	// Database configuration
	DatabaseURL string `toml:"database_url"`

	// Show folder holding networks.yaml
	ShowDir string `toml:"show_dir"`

	// DMX configuration
	DMXRefreshRate int `toml:"dmx_refresh_rate"` // Hz

	// Art-Net configuration
	ArtNetEnabled   bool   `toml:"artnet_enabled"`
	ArtNetPort      int    `toml:"artnet_port"`
	ArtNetBroadcast string `toml:"artnet_broadcast"`

	// Discovery configuration
	DiscoveryTimeout   time.Duration `toml:"-"`
	DiscoveryInterface string        `toml:"discovery_interface"`
	MDNSService        string        `toml:"mdns_service"`

	// Health monitoring
	PingInterval time.Duration `toml:"-"`
	PingTimeout  time.Duration `toml:"-"`

	// Redis ping snapshot store; empty address disables it
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"redis_password"`
	RedisDB        int    `toml:"redis_db"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`

	// Snapshots expire unless refreshed within this window; zero keeps them
	RedisSnapshotTTL time.Duration `toml:"-"`

	// MQTT ping event publisher; empty broker disables it
	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTTopic    string `toml:"mqtt_topic"`

	// Non-interactive mode (for Docker/CI)
	NonInteractive bool `toml:"non_interactive"`

	// CORS configuration
	CORSOrigin string `toml:"cors_origin"`
}

// fileDurations carries duration settings as strings in the TOML file.
type fileDurations struct {
	DiscoveryTimeout string `toml:"discovery_timeout"`
	PingInterval     string `toml:"ping_interval"`
	PingTimeout      string `toml:"ping_timeout"`
	RedisSnapshotTTL string `toml:"redis_snapshot_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:     "4000",
		Env:      "development",
		LogLevel: "info",

		DatabaseURL: "file:./dev.db",
		ShowDir:     ".",

		DMXRefreshRate: 40,

		ArtNetEnabled: true,
		ArtNetPort:    6454,

		DiscoveryTimeout: 3 * time.Second,
		MDNSService:      "_fppd._udp",

		PingInterval: 10 * time.Second,
		PingTimeout:  2 * time.Second,

		RedisKeyPrefix:   "lacylights:ping:",
		RedisSnapshotTTL: time.Minute,

		MQTTClientID: "lacylights-outputs",
		MQTTTopic:    "lacylights/controllers",

		CORSOrigin: "http://localhost:3000",
	}
}

// Load loads configuration from defaults, the CONFIG_FILE TOML file if set,
// and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var durations fileDurations
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &durations); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{durations.DiscoveryTimeout, &c.DiscoveryTimeout},
		{durations.PingInterval, &c.PingInterval},
		{durations.PingTimeout, &c.PingTimeout},
		{durations.RedisSnapshotTTL, &c.RedisSnapshotTTL},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Database
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.ShowDir = getEnv("SHOW_DIR", c.ShowDir)

	// DMX
	c.DMXRefreshRate = getEnvInt("DMX_REFRESH_RATE", c.DMXRefreshRate)

	// Art-Net
	c.ArtNetEnabled = getEnvBool("ARTNET_ENABLED", c.ArtNetEnabled)
	c.ArtNetPort = getEnvInt("ARTNET_PORT", c.ArtNetPort)
	c.ArtNetBroadcast = getEnv("ARTNET_BROADCAST", c.ArtNetBroadcast)

	// Discovery
	c.DiscoveryTimeout = getEnvDuration("DISCOVERY_TIMEOUT", c.DiscoveryTimeout)
	c.DiscoveryInterface = getEnv("DISCOVERY_INTERFACE", c.DiscoveryInterface)
	c.MDNSService = getEnv("MDNS_SERVICE", c.MDNSService)

	// Health
	c.PingInterval = getEnvDuration("PING_INTERVAL", c.PingInterval)
	c.PingTimeout = getEnvDuration("PING_TIMEOUT", c.PingTimeout)

	// Redis
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", c.RedisKeyPrefix)
	c.RedisSnapshotTTL = getEnvDuration("REDIS_SNAPSHOT_TTL", c.RedisSnapshotTTL)

	// MQTT
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTTopic = getEnv("MQTT_TOPIC", c.MQTTTopic)

	// Non-interactive
	c.NonInteractive = getEnvBool("NON_INTERACTIVE", c.NonInteractive)

	// CORS
	c.CORSOrigin = getEnv("CORS_ORIGIN", c.CORSOrigin)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1500ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
