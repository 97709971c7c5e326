package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		old, had := os.LookupEnv(key)
		_ = os.Unsetenv(key)
		if had {
			t.Cleanup(func() { _ = os.Setenv(key, old) })
		}
	}
}

var allKeys = []string{
	"CONFIG_FILE", "PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "SHOW_DIR",
	"DMX_REFRESH_RATE", "ARTNET_ENABLED", "ARTNET_PORT", "ARTNET_BROADCAST",
	"DISCOVERY_TIMEOUT", "DISCOVERY_INTERFACE", "MDNS_SERVICE",
	"PING_INTERVAL", "PING_TIMEOUT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX", "REDIS_SNAPSHOT_TTL",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC",
	"NON_INTERACTIVE", "CORS_ORIGIN",
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, allKeys...)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "4000" {
		t.Errorf("Expected Port to be '4000', got '%s'", cfg.Port)
	}
	if cfg.ArtNetPort != 6454 {
		t.Errorf("Expected ArtNetPort to be 6454, got %d", cfg.ArtNetPort)
	}
	if cfg.MDNSService != "_fppd._udp" {
		t.Errorf("Expected MDNSService to be '_fppd._udp', got '%s'", cfg.MDNSService)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("Expected PingInterval to be 10s, got %v", cfg.PingInterval)
	}
	if cfg.RedisSnapshotTTL != time.Minute {
		t.Errorf("Expected RedisSnapshotTTL to be 1m, got %v", cfg.RedisSnapshotTTL)
	}
	if cfg.RedisAddr != "" || cfg.MQTTBroker != "" {
		t.Error("Expected redis and MQTT to be disabled by default")
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode by default")
	}
}

func TestLoad_CustomEnvironment(t *testing.T) {
	unsetEnv(t, allKeys...)
	t.Setenv("PORT", "8080")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "file:./prod.db")
	t.Setenv("SHOW_DIR", "/shows/xmas")
	t.Setenv("ARTNET_ENABLED", "false")
	t.Setenv("ARTNET_PORT", "6455")
	t.Setenv("DISCOVERY_TIMEOUT", "1500")
	t.Setenv("PING_INTERVAL", "30s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_SNAPSHOT_TTL", "90s")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("NON_INTERACTIVE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Port", cfg.Port, "8080"},
		{"DatabaseURL", cfg.DatabaseURL, "file:./prod.db"},
		{"ShowDir", cfg.ShowDir, "/shows/xmas"},
		{"ArtNetEnabled", cfg.ArtNetEnabled, false},
		{"ArtNetPort", cfg.ArtNetPort, 6455},
		{"DiscoveryTimeout", cfg.DiscoveryTimeout, 1500 * time.Millisecond},
		{"PingInterval", cfg.PingInterval, 30 * time.Second},
		{"RedisAddr", cfg.RedisAddr, "localhost:6379"},
		{"RedisDB", cfg.RedisDB, 3},
		{"RedisSnapshotTTL", cfg.RedisSnapshotTTL, 90 * time.Second},
		{"MQTTBroker", cfg.MQTTBroker, "tcp://broker:1883"},
		{"NonInteractive", cfg.NonInteractive, true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if !cfg.IsProduction() {
		t.Error("Expected production mode")
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	unsetEnv(t, allKeys...)

	path := filepath.Join(t.TempDir(), "outputs.toml")
	content := `
port = "5000"
show_dir = "/shows/halloween"
mqtt_broker = "tcp://10.0.0.2:1883"
ping_interval = "45s"
discovery_timeout = "5s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "6000" {
		t.Errorf("environment should override the file, got Port %q", cfg.Port)
	}
	if cfg.ShowDir != "/shows/halloween" {
		t.Errorf("ShowDir = %q", cfg.ShowDir)
	}
	if cfg.MQTTBroker != "tcp://10.0.0.2:1883" {
		t.Errorf("MQTTBroker = %q", cfg.MQTTBroker)
	}
	if cfg.PingInterval != 45*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	if cfg.DiscoveryTimeout != 5*time.Second {
		t.Errorf("DiscoveryTimeout = %v", cfg.DiscoveryTimeout)
	}
	if cfg.ArtNetPort != 6454 {
		t.Errorf("unset keys should keep defaults, got ArtNetPort %d", cfg.ArtNetPort)
	}
}

func TestLoad_BadFile(t *testing.T) {
	unsetEnv(t, allKeys...)

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte(`ping_interval = "soon"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid duration")
	}

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "notanumber")
	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d, want 7", got)
	}

	t.Setenv("TEST_BOOL", "maybe")
	if got := getEnvBool("TEST_BOOL", true); !got {
		t.Error("getEnvBool should fall back on invalid input")
	}

	t.Setenv("TEST_DURATION", "250ms")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("getEnvDuration = %v, want 250ms", got)
	}

	t.Setenv("TEST_DURATION", "later")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration fallback = %v, want 1s", got)
	}
}
