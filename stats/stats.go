package stats

import (
	"strings"
	"sync/atomic"
	"time"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters
	TotalRequests   atomic.Int64
	SongAPIRequests atomic.Int64
	PageRequests    atomic.Int64
	SocketRequests  atomic.Int64
	StatsRequests   atomic.Int64
	HealthRequests  atomic.Int64
	AdminRequests   atomic.Int64
	OtherRequests   atomic.Int64

	// Song cache performance
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	// Rate limiting
	RateLimitNormal   atomic.Int64 // Requests served under the request tier
	RateLimitSession  atomic.Int64 // Websocket sessions admitted under the session tier
	RateLimitExceeded atomic.Int64 // Requests rejected (429)

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Sync sessions
	SessionsOpened    atomic.Int64
	SessionsActive    atomic.Int64
	SongsSelected     atomic.Int64
	SongFetchFailures atomic.Int64
	AudioLoadFailures atomic.Int64
	Resyncs           atomic.Int64
	Patches           atomic.Int64
	CatalogReloads    atomic.Int64

	// Finished session lifetimes, milliseconds
	sessionTime       atomic.Int64
	sessionsCompleted atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Song API response times (microseconds)
	songResponseTime  atomic.Int64
	songResponseCount atomic.Int64
}

// Global stats instance
var global = &Stats{
	StartTime: time.Now(),
}

func init() {
	// Initialize min to a high value
	global.minResponseTime.Store(int64(^uint64(0) >> 1)) // Max int64
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// Endpoint groups accepted by RecordRequest.
const (
	EndpointSongAPI = "song_api"
	EndpointPage    = "page"
	EndpointSocket  = "ws"
	EndpointStats   = "stats"
	EndpointHealth  = "health"
	EndpointAdmin   = "admin"
)

// EndpointFor maps a request path onto its endpoint group
func EndpointFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/"):
		return EndpointSongAPI
	case path == "/ws":
		return EndpointSocket
	case path == "/stats":
		return EndpointStats
	case path == "/health":
		return EndpointHealth
	case strings.HasPrefix(path, "/admin/"):
		return EndpointAdmin
	case path == "/", strings.HasPrefix(path, "/songs"), strings.HasPrefix(path, "/groups"):
		return EndpointPage
	default:
		return "other"
	}
}

// RecordRequest records a request to an endpoint group
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch endpoint {
	case EndpointSongAPI:
		s.SongAPIRequests.Add(1)
	case EndpointPage:
		s.PageRequests.Add(1)
	case EndpointSocket:
		s.SocketRequests.Add(1)
	case EndpointStats:
		s.StatsRequests.Add(1)
	case EndpointHealth:
		s.HealthRequests.Add(1)
	case EndpointAdmin:
		s.AdminRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

// RecordCacheHit records a song cache hit
func (s *Stats) RecordCacheHit() {
	s.CacheHits.Add(1)
}

// RecordCacheMiss records a song cache miss
func (s *Stats) RecordCacheMiss() {
	s.CacheMisses.Add(1)
}

// RecordRateLimit records rate limit tier usage
func (s *Stats) RecordRateLimit(tier string) {
	switch tier {
	case "normal":
		s.RateLimitNormal.Add(1)
	case "session":
		s.RateLimitSession.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	}
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordSessionOpened counts a new sync session.
func (s *Stats) RecordSessionOpened() {
	s.SessionsOpened.Add(1)
	s.SessionsActive.Add(1)
}

// RecordSessionClosed counts a finished sync session and its lifetime.
func (s *Stats) RecordSessionClosed(lifetime time.Duration) {
	s.SessionsActive.Add(-1)
	s.sessionsCompleted.Add(1)
	s.sessionTime.Add(lifetime.Milliseconds())
}

func (s *Stats) RecordSongSelected()     { s.SongsSelected.Add(1) }
func (s *Stats) RecordSongFetchFailure() { s.SongFetchFailures.Add(1) }
func (s *Stats) RecordAudioLoadFailure() { s.AudioLoadFailures.Add(1) }
func (s *Stats) RecordResync()           { s.Resyncs.Add(1) }
func (s *Stats) RecordPatch()            { s.Patches.Add(1) }
func (s *Stats) RecordCatalogReload()    { s.CatalogReloads.Add(1) }

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration, endpoint string) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	// Update min/max atomically
	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}

	if endpoint == EndpointSongAPI {
		s.songResponseTime.Add(us)
		s.songResponseCount.Add(1)
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the cache hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	misses := s.CacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == int64(^uint64(0)>>1) {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgSongResponseTime returns the average response time of the song API
func (s *Stats) AvgSongResponseTime() time.Duration {
	count := s.songResponseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.songResponseTime.Load()/count) * time.Microsecond
}

// AvgSessionLength returns the mean lifetime of finished sessions
func (s *Stats) AvgSessionLength() time.Duration {
	count := s.sessionsCompleted.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.sessionTime.Load()/count) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":    s.TotalRequests.Load(),
			"song_api": s.SongAPIRequests.Load(),
			"pages":    s.PageRequests.Load(),
			"ws":       s.SocketRequests.Load(),
			"stats":    s.StatsRequests.Load(),
			"health":   s.HealthRequests.Load(),
			"admin":    s.AdminRequests.Load(),
			"other":    s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":     s.CacheHits.Load(),
			"misses":   s.CacheMisses.Load(),
			"hit_rate": s.CacheHitRate(),
		},
		"rate_limiting": map[string]interface{}{
			"normal_tier":  s.RateLimitNormal.Load(),
			"session_tier": s.RateLimitSession.Load(),
			"exceeded":     s.RateLimitExceeded.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"sessions": map[string]interface{}{
			"opened":              s.SessionsOpened.Load(),
			"active":              s.SessionsActive.Load(),
			"songs_selected":      s.SongsSelected.Load(),
			"song_fetch_failures": s.SongFetchFailures.Load(),
			"audio_load_failures": s.AudioLoadFailures.Load(),
			"resyncs":             s.Resyncs.Load(),
			"patches":             s.Patches.Load(),
			"avg_length":          s.AvgSessionLength().String(),
		},
		"catalog": map[string]interface{}{
			"reloads": s.CatalogReloads.Load(),
		},
		"response_times": map[string]interface{}{
			"avg":      s.AvgResponseTime().String(),
			"min":      s.MinResponseTime().String(),
			"max":      s.MaxResponseTime().String(),
			"avg_song": s.AvgSongResponseTime().String(),
		},
	}
}
