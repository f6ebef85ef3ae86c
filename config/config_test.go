package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// clearEnv unsets keys for the duration of a test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestConfigDefaultValues(t *testing.T) {
	clearEnv(t,
		"PORT", "SONGS_DIR", "CATALOG_WATCH", "SONG_CACHE_TTL_IN_SECONDS",
		"TICK_INTERVAL_MS", "LINE_HEIGHT", "CONTEXT_LINES",
		"RATE_LIMIT_PER_SECOND", "RATE_LIMIT_BURST_LIMIT",
		"SESSION_RATE_LIMIT_PER_SECOND", "SESSION_RATE_LIMIT_BURST_LIMIT",
		"ALLOWED_ORIGINS", "API_KEY", "FF_CATALOG_COMPRESSION", "LOG_LEVEL",
	)

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{name: "Port default", got: cfg.Configuration.Port, expected: "8080"},
		{name: "SongsDir default", got: cfg.Configuration.SongsDir, expected: "./songs"},
		{name: "CatalogWatch default", got: cfg.Configuration.CatalogWatch, expected: true},
		{name: "SongCacheTTLInSeconds default", got: cfg.Configuration.SongCacheTTLInSeconds, expected: 3600},
		{name: "TickIntervalMs default", got: cfg.Configuration.TickIntervalMs, expected: 100},
		{name: "LineHeight default", got: cfg.Configuration.LineHeight, expected: 38},
		{name: "ContextLines default", got: cfg.Configuration.ContextLines, expected: 5},
		{name: "RateLimitPerSecond default", got: cfg.Configuration.RateLimitPerSecond, expected: 10},
		{name: "RateLimitBurstLimit default", got: cfg.Configuration.RateLimitBurstLimit, expected: 20},
		{name: "SessionRateLimitPerSecond default", got: cfg.Configuration.SessionRateLimitPerSecond, expected: 1},
		{name: "SessionRateLimitBurstLimit default", got: cfg.Configuration.SessionRateLimitBurstLimit, expected: 5},
		{name: "APIKey default", got: cfg.Configuration.APIKey, expected: ""},
		{name: "CatalogCompression default", got: cfg.FeatureFlags.CatalogCompression, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SONGS_DIR", "/srv/songs")
	t.Setenv("TICK_INTERVAL_MS", "50")
	t.Setenv("LINE_HEIGHT", "24")
	t.Setenv("CONTEXT_LINES", "3")
	t.Setenv("SESSION_RATE_LIMIT_BURST_LIMIT", "2")
	t.Setenv("API_KEY", "secret")
	t.Setenv("FF_CATALOG_COMPRESSION", "false")

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{name: "Port override", got: cfg.Configuration.Port, expected: "9000"},
		{name: "SongsDir override", got: cfg.Configuration.SongsDir, expected: "/srv/songs"},
		{name: "TickIntervalMs override", got: cfg.Configuration.TickIntervalMs, expected: 50},
		{name: "LineHeight override", got: cfg.Configuration.LineHeight, expected: 24},
		{name: "ContextLines override", got: cfg.Configuration.ContextLines, expected: 3},
		{name: "SessionRateLimitBurstLimit override", got: cfg.Configuration.SessionRateLimitBurstLimit, expected: 2},
		{name: "APIKey override", got: cfg.Configuration.APIKey, expected: "secret"},
		{name: "CatalogCompression override", got: cfg.FeatureFlags.CatalogCompression, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("SONG_CACHE_TTL_IN_SECONDS", "60")
	t.Setenv("CATALOG_WATCH_DEBOUNCE_MS", "100")
	t.Setenv("STATS_SAVE_INTERVAL_IN_SECONDS", "30")

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.TickInterval(); got != 250*time.Millisecond {
		t.Errorf("TickInterval = %v", got)
	}
	if got := cfg.SongCacheTTL(); got != time.Minute {
		t.Errorf("SongCacheTTL = %v", got)
	}
	if got := cfg.WatchDebounce(); got != 100*time.Millisecond {
		t.Errorf("WatchDebounce = %v", got)
	}
	if got := cfg.StatsSaveInterval(); got != 30*time.Second {
		t.Errorf("StatsSaveInterval = %v", got)
	}
}

func TestGetAllowedOrigins(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected []string
	}{
		{name: "wildcard", value: "*", expected: []string{"*"}},
		{name: "list with spaces", value: "https://a.example, https://b.example", expected: []string{"https://a.example", "https://b.example"}},
		{name: "empty entries dropped", value: "https://a.example,,", expected: []string{"https://a.example"}},
		{name: "empty", value: "", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.Configuration.AllowedOrigins = tt.value
			if got := cfg.GetAllowedOrigins(); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value    string
		expected log.Level
	}{
		{"debug", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"", log.InfoLevel},
		{"loud", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			var cfg Config
			cfg.Configuration.LogLevel = tt.value
			if got := cfg.ParseLogLevel(); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGet(t *testing.T) {
	cfg := Get()
	if cfg.Configuration.Port == "" {
		t.Error("Expected Get to return a loaded configuration")
	}
}

func TestFeatureFlagCatalogCompression(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{name: "enabled", envValue: "true", expected: true},
		{name: "disabled", envValue: "false", expected: false},
		{name: "numeric enabled", envValue: "1", expected: true},
		{name: "numeric disabled", envValue: "0", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FF_CATALOG_COMPRESSION", tt.envValue)
			cfg, err := load()
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if cfg.FeatureFlags.CatalogCompression != tt.expected {
				t.Errorf("Expected CatalogCompression %v, got %v", tt.expected, cfg.FeatureFlags.CatalogCompression)
			}
		})
	}
}
