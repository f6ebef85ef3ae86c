package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/middleware"
	"lyrics-sync-go/stats"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// setupCatalog opens the store, loads the songs directory and wires the song
// cache to reloads. A songs directory that cannot be read leaves the
// persisted catalog in place.
func setupCatalog() (*catalog.Catalog, error) {
	store, err := catalog.OpenStore(
		conf.Configuration.CatalogDBPath,
		conf.Configuration.CatalogBackupPath,
		conf.FeatureFlags.CatalogCompression,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog store: %w", err)
	}

	c := catalog.New(store, conf.Configuration.SongsDir)
	c.OnReload(func() {
		songCache.Flush()
		stats.Get().RecordCatalogReload()
		log.Infof("%s Song cache flushed after catalog reload", logcolors.LogSongCache)
	})

	if _, err := c.Reload(); err != nil {
		numSongs, _ := store.Stats()
		log.Warnf("%s Could not load %s, serving %d persisted songs: %v",
			logcolors.LogCatalogInit, conf.Configuration.SongsDir, numSongs, err)
	}
	return c, nil
}

// startWatcher hot-reloads the catalog until ctx ends.
func startWatcher(ctx context.Context, c *catalog.Catalog) {
	if !conf.Configuration.CatalogWatch {
		log.Infof("%s Catalog watching disabled", logcolors.LogWatcher)
		return
	}

	watcher, err := catalog.NewWatcher(c, conf.WatchDebounce())
	if err != nil {
		log.Warnf("%s Could not watch %s: %v", logcolors.LogWatcher, c.Dir(), err)
		return
	}
	go func() {
		defer watcher.Close()
		watcher.Run(ctx)
	}()
}

// setupStats restores persisted counters and starts saving them periodically.
func setupStats() *stats.Store {
	store, err := stats.NewStore(conf.Configuration.StatsDBPath)
	if err != nil {
		log.Warnf("%s Stats persistence disabled: %v", logcolors.LogStats, err)
		return nil
	}
	if err := store.Load(); err != nil {
		log.Warnf("%s Failed to load persisted stats: %v", logcolors.LogStats, err)
	}
	store.StartAutoSave(conf.StatsSaveInterval())
	return store
}

func newSongCache() *gocache.Cache {
	ttl := conf.SongCacheTTL()
	return gocache.New(ttl, 2*ttl)
}

// clientIP strips the port so every connection from one host shares limiters.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func limitMiddleware(next http.Handler, limiter *middleware.IPRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a valid API key skips both tiers
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" && conf.Configuration.APIKey != "" &&
			subtle.ConstantTimeCompare([]byte(apiKey), []byte(conf.Configuration.APIKey)) == 1 {
			w.Header().Set("X-RateLimit-Bypass", "true")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rateLimitTypeKey, "bypass")))
			return
		}

		// opening a sync session spends the session tier only
		tier := middleware.TierNormal
		if r.URL.Path == "/ws" {
			tier = middleware.TierSession
		}

		ip := clientIP(r)
		decision := limiter.Take(ip, tier)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			stats.Get().RecordRateLimit("exceeded")
			log.Warnf("%s IP %s exceeded the %s rate limit", logcolors.LogRateLimit, ip, tier)
			w.Header().Set("X-RateLimit-Type", "exceeded")
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		stats.Get().RecordRateLimit(string(tier))
		w.Header().Set("X-RateLimit-Type", string(tier))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rateLimitTypeKey, string(tier))))
	})
}

// pruneLimiter drops idle clients from limiter until ctx ends.
func pruneLimiter(ctx context.Context, limiter *middleware.IPRateLimiter, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(idle); n > 0 {
				log.Debugf("%s Forgot %d idle clients", logcolors.LogRateLimit, n)
			}
		}
	}
}
