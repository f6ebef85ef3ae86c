package config

import (
	"strings"
	"time"

	"lyrics-sync-go/logcolors"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port                       string `envconfig:"PORT" default:"8080"`
		SongsDir                   string `envconfig:"SONGS_DIR" default:"./songs"`
		CatalogDBPath              string `envconfig:"CATALOG_DB_PATH" default:"./data/catalog.db"`
		CatalogBackupPath          string `envconfig:"CATALOG_BACKUP_PATH" default:"./data/backups"`
		CatalogWatch               bool   `envconfig:"CATALOG_WATCH" default:"true"`
		CatalogWatchDebounceMs     int    `envconfig:"CATALOG_WATCH_DEBOUNCE_MS" default:"500"`
		SongCacheTTLInSeconds      int    `envconfig:"SONG_CACHE_TTL_IN_SECONDS" default:"3600"`
		StatsDBPath                string `envconfig:"STATS_DB_PATH" default:"./data/stats.db"`
		StatsSaveIntervalInSeconds int    `envconfig:"STATS_SAVE_INTERVAL_IN_SECONDS" default:"300"`
		LogLevel                   string `envconfig:"LOG_LEVEL" default:"info"`

		// Sync session tunables
		TickIntervalMs int `envconfig:"TICK_INTERVAL_MS" default:"100"`
		LineHeight     int `envconfig:"LINE_HEIGHT" default:"38"`
		ContextLines   int `envconfig:"CONTEXT_LINES" default:"5"`

		RateLimitPerSecond         int    `envconfig:"RATE_LIMIT_PER_SECOND" default:"10"`
		RateLimitBurstLimit        int    `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"20"`
		SessionRateLimitPerSecond  int    `envconfig:"SESSION_RATE_LIMIT_PER_SECOND" default:"1"`
		SessionRateLimitBurstLimit int    `envconfig:"SESSION_RATE_LIMIT_BURST_LIMIT" default:"5"`
		AllowedOrigins             string `envconfig:"ALLOWED_ORIGINS" default:"*"` // comma separated
		APIKey                     string `envconfig:"API_KEY" default:""`

		MPVSocketPath string `envconfig:"MPV_SOCKET_PATH" default:"/tmp/lyrics-play-mpv.sock"`
	}

	FeatureFlags struct {
		CatalogCompression bool `envconfig:"FF_CATALOG_COMPRESSION" default:"true"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("%s Error loading env config: %v", logcolors.LogConfig, err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("%s Unable to load configuration", logcolors.LogConfig)
	}

	return c
}

func Get() Config {
	return conf
}

// TickInterval returns the playback tick period, which is also the resync tolerance.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Configuration.TickIntervalMs) * time.Millisecond
}

func (c Config) SongCacheTTL() time.Duration {
	return time.Duration(c.Configuration.SongCacheTTLInSeconds) * time.Second
}

func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.Configuration.CatalogWatchDebounceMs) * time.Millisecond
}

func (c Config) StatsSaveInterval() time.Duration {
	return time.Duration(c.Configuration.StatsSaveIntervalInSeconds) * time.Second
}

// GetAllowedOrigins splits ALLOWED_ORIGINS, dropping empty entries.
// An empty result means every origin is allowed.
func (c Config) GetAllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.Configuration.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// ParseLogLevel maps LOG_LEVEL onto a logrus level, falling back to info.
func (c Config) ParseLogLevel() log.Level {
	level, err := log.ParseLevel(c.Configuration.LogLevel)
	if err != nil {
		log.Warnf("%s Unknown LOG_LEVEL %q, using info", logcolors.LogConfig, c.Configuration.LogLevel)
		return log.InfoLevel
	}
	return level
}
